package codec

import (
	"errors"
	"strconv"
	"strings"
)

// FormatPlain is the bare decimal integer format
const FormatPlain = "plain"

func init() {
	Register(FormatPlain, func() Codec { return PlainCodec{} })
}

// PlainCodec writes the value as a decimal string with no framing
type PlainCodec struct{}

// Name implements Codec
func (PlainCodec) Name() string { return FormatPlain }

// Encode implements Codec. Producer and stamp are not transmitted.
func (PlainCodec) Encode(r Reading) ([]byte, error) {
	return strconv.AppendInt(nil, r.Value, 10), nil
}

// Decode implements Codec. Surrounding whitespace is tolerated.
func (PlainCodec) Decode(payload []byte) (Reading, error) {
	v, err := parsePlain(payload)
	if err != nil {
		return Reading{}, malformed(payload, err)
	}
	return Reading{Value: v}, nil
}

func parsePlain(payload []byte) (int64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, errors.New("empty payload")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return 0, numErr.Err
	}
	return v, err
}
