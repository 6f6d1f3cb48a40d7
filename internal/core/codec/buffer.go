package codec

import "bytes"

// FromText returns the UTF-8 bytes of s.
func FromText(s string) []byte {
	return []byte(s)
}

// FromBytes returns an owned copy of b, so later writes by the caller do not
// leak into queued or emitted frames.
func FromBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return bytes.Clone(b)
}

// Concat joins parts into one contiguous buffer.
// Zero parts yield an empty buffer and a single part is returned as is.
func Concat(parts [][]byte) []byte {
	switch len(parts) {
	case 0:
		return []byte{}
	case 1:
		return parts[0]
	}

	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
