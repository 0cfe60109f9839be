package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/maxpert/headcount/hlc"
)

// FormatCBOR is the stamped envelope format with integer map keys
const FormatCBOR = "cbor"

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error

	cborEncMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	cborDecMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}

	Register(FormatCBOR, func() Codec { return CBORCodec{} })
}

type cborEnvelope struct {
	Value    *int64 `cbor:"1,keyasint"`
	Producer string `cbor:"2,keyasint,omitempty"`
	Wall     int64  `cbor:"3,keyasint,omitempty"`
	Logical  int32  `cbor:"4,keyasint,omitempty"`
}

// CBORCodec encodes readings as a CBOR envelope. It carries the same fields
// as the msgpack envelope for consumers that already speak CBOR.
type CBORCodec struct{}

// Name implements Codec
func (CBORCodec) Name() string { return FormatCBOR }

// Encode implements Codec
func (CBORCodec) Encode(r Reading) ([]byte, error) {
	return cborEncMode.Marshal(cborEnvelope{
		Value:    &r.Value,
		Producer: r.Producer,
		Wall:     r.Stamp.WallTime,
		Logical:  r.Stamp.Logical,
	})
}

// Decode implements Codec. Plain decimal payloads are accepted.
func (CBORCodec) Decode(payload []byte) (Reading, error) {
	if v, err := parsePlain(payload); err == nil {
		return Reading{Value: v}, nil
	}

	var env cborEnvelope
	if err := cborDecMode.Unmarshal(payload, &env); err != nil {
		return Reading{}, malformed(payload, err)
	}
	if env.Value == nil {
		return Reading{}, malformed(payload, errMissingValue)
	}

	stamp := hlc.Timestamp{WallTime: env.Wall, Logical: env.Logical}
	if stamp.IsZero() && env.Producer != "" {
		return Reading{}, malformed(payload, errors.New("envelope without stamp"))
	}

	return Reading{Value: *env.Value, Producer: env.Producer, Stamp: stamp}, nil
}
