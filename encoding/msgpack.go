// Package encoding provides centralized msgpack serialization for headcount.
// All msgpack operations go through this package so producers and consumers
// agree on the wire form.
//
// Thread Safety: all functions are safe for concurrent use.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalStrict decodes msgpack data into a struct, rejecting unknown
// fields and trailing bytes. Used for wire envelopes where anything
// unexpected means the payload is not ours.
func UnmarshalStrict(data []byte, v interface{}) error {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.DisallowUnknownFields(true)

	if err := dec.Decode(v); err != nil {
		return err
	}
	if r.Len() > 0 {
		return ErrTrailingData
	}
	return nil
}
