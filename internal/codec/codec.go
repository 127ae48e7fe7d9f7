// Package codec is the fixed binary encoding for artifact payloads. A value
// is encoded once, as a whole, before the transfer engine chunks it; chunk
// boundaries never affect the encoding.
package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrDecode marks malformed artifact content. Decode failures are terminal.
var ErrDecode = errors.New("artifact decode failed")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core Deterministic Encoding: the same payload always yields the same
	// bytes, so the recorded digest is stable across workers.
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
		// Stdin buffers may hold far more entries than the default caps allow.
		MaxArrayElements: 1 << 27,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal decodes data into v. An empty buffer leaves v at its zero value.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %T: %v", ErrDecode, v, err)
	}
	return nil
}
