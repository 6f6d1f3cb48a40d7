package config

import (
	"fmt"
	"math"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
)

// PacketSpec describes one packet to encode, as written in a YAML or JSON file.
// Header and Body may be strings (used verbatim) or any structured value (JSON-encoded).
type PacketSpec struct {
	Type     int64 `mapstructure:"type"`
	TTL      int64 `mapstructure:"ttl"`
	IDRouter int64 `mapstructure:"id_router"`
	IDTarget int64 `mapstructure:"id_target"`
	Header   any   `mapstructure:"header"`
	Body     any   `mapstructure:"body"`
}

// LoadPacketSpecs reads packet specs from path.
// The document is either a single mapping or a sequence of mappings.
func LoadPacketSpecs(path string) ([]PacketSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read packet file %s: %w", path, err)
	}
	return ParsePacketSpecs(data)
}

// ParsePacketSpecs parses YAML (or JSON, which is valid YAML) packet specs.
func ParsePacketSpecs(data []byte) ([]PacketSpec, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse packet spec: %v", core.ErrInvalidField, err)
	}

	var items []any
	switch d := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		items = d
	case map[string]any:
		items = []any{d}
	default:
		return nil, fmt.Errorf("%w: packet spec must be a mapping or a list, got %T", core.ErrInvalidField, doc)
	}

	specs := make([]PacketSpec, 0, len(items))
	for i, item := range items {
		var spec PacketSpec
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			Result:           &spec,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(item); err != nil {
			return nil, fmt.Errorf("%w: packet %d: %v", core.ErrInvalidField, i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Fields range-checks s and converts it to codec input.
func (s PacketSpec) Fields() (core.Fields, error) {
	if s.Type < 0 || s.Type > math.MaxUint8 {
		return core.Fields{}, fmt.Errorf("%w: type %d out of range", core.ErrInvalidField, s.Type)
	}
	if s.TTL < 0 || s.TTL > math.MaxUint8 {
		return core.Fields{}, fmt.Errorf("%w: ttl %d out of range", core.ErrInvalidField, s.TTL)
	}

	header, err := part(s.Header)
	if err != nil {
		return core.Fields{}, err
	}
	body, err := part(s.Body)
	if err != nil {
		return core.Fields{}, err
	}

	return core.Fields{
		Type:     uint8(s.Type),
		TTL:      uint8(s.TTL),
		IDRouter: s.IDRouter,
		IDTarget: s.IDTarget,
		Header:   header,
		Body:     body,
	}, nil
}

func part(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case string:
		return codec.FromText(p), nil
	case []byte:
		return codec.FromBytes(p), nil
	default:
		return codec.JSONPart(p)
	}
}
