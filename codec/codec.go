// Package codec centralizes document and segment encoding.
//
// Persisted formats (rolling buckets, manifests, realtime documents) record the
// codec name so that a reader can reject bytes produced by a different codec.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json", "":
		return JSON{}, true
	default:
		return nil, false
	}
}

// OrDefault returns c, or Default when c is nil.
func OrDefault(c Codec) Codec {
	if c == nil {
		return Default
	}
	return c
}

// MustMarshal is a helper for tests.
func MustMarshal(c Codec, v any) []byte {
	c = OrDefault(c)
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
