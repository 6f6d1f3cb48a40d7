package core

import (
	"errors"
	"fmt"
	"testing"
)

// Test zero values of core structs
func TestStructZeroValues(t *testing.T) {
	t.Run("Header", func(t *testing.T) {
		var h Header
		if !h.IsControl() {
			t.Errorf("expected zero header to be a control header")
		}
		if h.Layout != LayoutVariable {
			t.Errorf("expected zero Layout=variable, got %v", h.Layout)
		}
	})

	t.Run("Route", func(t *testing.T) {
		var r Route
		if r.IDRouter != nil || r.IDTarget != nil {
			t.Errorf("expected empty route, got %+v", r)
		}
		r.IDTarget = ID(9)
		if *r.IDTarget != 9 {
			t.Errorf("expected target 9, got %d", *r.IDTarget)
		}
	})
}

func TestLayout(t *testing.T) {
	t.Run("HeaderSize", func(t *testing.T) {
		tests := []struct {
			layout   Layout
			idRouter uint32
			want     int
		}{
			{LayoutVariable, 0, 12},
			{LayoutVariable, 100, 16},
			{LayoutFixed, 0, 16},
			{LayoutFixed, 100, 16},
		}
		for _, tt := range tests {
			if got := tt.layout.HeaderSize(tt.idRouter); got != tt.want {
				t.Errorf("%v.HeaderSize(%d) = %d, want %d", tt.layout, tt.idRouter, got, tt.want)
			}
		}
	})

	t.Run("Offsets", func(t *testing.T) {
		v := LayoutVariable.Offsets()
		if v.TTL != 4 || v.Type != 5 || v.HeaderLen != 6 {
			t.Errorf("unexpected variable offsets %+v", v)
		}
		f := LayoutFixed.Offsets()
		if f.TTL != 7 || f.Type != 6 || f.HeaderLen != 4 {
			t.Errorf("unexpected fixed offsets %+v", f)
		}
	})

	t.Run("Parse", func(t *testing.T) {
		for in, want := range map[string]Layout{"": LayoutVariable, "variable": LayoutVariable, "FIXED": LayoutFixed} {
			got, err := ParseLayout(in)
			if err != nil || got != want {
				t.Errorf("ParseLayout(%q) = %v, %v; want %v", in, got, err, want)
			}
		}
		if _, err := ParseLayout("bogus"); !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("expected ErrConfigInvalid, got %v", err)
		}
	})

	t.Run("SignatureBytes", func(t *testing.T) {
		if SignatureBytes != [2]byte{0xED, 0xFE} {
			t.Errorf("unexpected signature bytes % X", SignatureBytes)
		}
	})
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrFraming, "fabric: bad packet signature"},
			{ErrInvalidField, "fabric: invalid packet field"},
			{ErrPacketTooLarge, "fabric: packet too large"},
			{ErrMissingTarget, "fabric: forward requires id_target"},
			{ErrDecode, "fabric: decode failed"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("FramingError", func(t *testing.T) {
		var err error = &FramingError{
			Found:    [2]byte{0x01, 0x02},
			Expected: SignatureBytes,
			Offset:   32,
			Reason:   ErrFraming,
		}
		if !errors.Is(err, ErrFraming) {
			t.Error("errors.Is failed for ErrFraming")
		}
		if errors.Is(err, ErrBadLength) {
			t.Error("signature mismatch must not match ErrBadLength")
		}
		want := "fabric: bad packet signature: found [0x01 0x02], expected [0xED 0xFE] (at offset 32)"
		if err.Error() != want {
			t.Errorf("expected %q, got %q", want, err.Error())
		}

		var fe *FramingError
		if !errors.As(fmt.Errorf("stream a: %w", err), &fe) || fe.Found[1] != 0x02 {
			t.Error("errors.As failed for wrapped FramingError")
		}
	})

	t.Run("BadLength", func(t *testing.T) {
		err := &FramingError{Offset: 0, Reason: ErrBadLength}
		if !errors.Is(err, ErrFraming) || !errors.Is(err, ErrBadLength) {
			t.Error("bad length must match both ErrFraming and ErrBadLength")
		}
	})
}

func TestSignatureBytes(t *testing.T) {
	// 0xFEED stored little-endian
	if SignatureBytes != [2]byte{0xED, 0xFE} {
		t.Errorf("expected signature bytes ED FE, got % X", SignatureBytes[:])
	}
}
