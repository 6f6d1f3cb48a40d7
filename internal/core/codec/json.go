package codec

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HeaderJSON unmarshals the variable header into v.
// An empty header leaves v untouched and is not an error.
func (p *Packet) HeaderJSON(v any) error {
	return p.unmarshal("header", p.HeaderBytes(), v)
}

// BodyJSON unmarshals the body into v.
// An empty body leaves v untouched and is not an error.
func (p *Packet) BodyJSON(v any) error {
	return p.unmarshal("body", p.BodyBytes(), v)
}

// HeaderValue parses the variable header as a generic JSON value; nil when empty.
func (p *Packet) HeaderValue() (any, error) {
	var v any
	err := p.HeaderJSON(&v)
	return v, err
}

// BodyValue parses the body as a generic JSON value; nil when empty.
func (p *Packet) BodyValue() (any, error) {
	var v any
	err := p.BodyJSON(&v)
	return v, err
}

func (p *Packet) unmarshal(part string, b []byte, v any) error {
	if p.Malformed() {
		return fmt.Errorf("%w: %s of %s", core.ErrMalformedPacket, part, p)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %s json: %v", core.ErrDecode, part, err)
	}
	return nil
}

// JSONPart marshals v for use as a packet header or body segment.
func JSONPart(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal json part: %v", core.ErrInvalidField, err)
	}
	return b, nil
}
