package codec

import (
	"errors"

	"github.com/maxpert/headcount/encoding"
	"github.com/maxpert/headcount/hlc"
)

// FormatMsgpack is the stamped envelope format
const FormatMsgpack = "msgpack"

func init() {
	Register(FormatMsgpack, func() Codec { return MsgpackCodec{} })
}

// envelope.Value is a pointer so a missing value is told apart from zero
type envelope struct {
	Value    *int64        `msgpack:"v"`
	Producer string        `msgpack:"p"`
	Stamp    hlc.Timestamp `msgpack:"ts"`
}

// MsgpackCodec encodes readings as a msgpack envelope
type MsgpackCodec struct{}

// Name implements Codec
func (MsgpackCodec) Name() string { return FormatMsgpack }

// Encode implements Codec
func (MsgpackCodec) Encode(r Reading) ([]byte, error) {
	return encoding.Marshal(envelope{Value: &r.Value, Producer: r.Producer, Stamp: r.Stamp})
}

// Decode implements Codec. Plain decimal payloads from older producers are
// accepted and yield an unstamped reading.
func (MsgpackCodec) Decode(payload []byte) (Reading, error) {
	if v, err := parsePlain(payload); err == nil {
		return Reading{Value: v}, nil
	}

	var env envelope
	if err := encoding.UnmarshalStrict(payload, &env); err != nil {
		return Reading{}, malformed(payload, err)
	}
	if env.Value == nil {
		return Reading{}, malformed(payload, errMissingValue)
	}
	if env.Stamp.IsZero() && env.Producer != "" {
		return Reading{}, malformed(payload, errors.New("envelope without stamp"))
	}

	return Reading{Value: *env.Value, Producer: env.Producer, Stamp: env.Stamp}, nil
}
