package subscriber

import (
	"strconv"
	"testing"

	"github.com/maxpert/headcount/broker"
	"github.com/maxpert/headcount/codec"
	"github.com/maxpert/headcount/hlc"
	"pgregory.net/rapid"
)

func runBoundaries(values []int64) []int64 {
	var out []int64
	for i, v := range values {
		if i == 0 || values[i-1] != v {
			out = append(out, v)
		}
	}
	return out
}

func assertValues(rt *rapid.T, got, want []int64) {
	if len(got) != len(want) {
		rt.Fatalf("announced %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			rt.Fatalf("announced %v, want %v", got, want)
		}
	}
}

func TestSubscriber_Property_ConsecutiveRedelivery(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOf(rapid.Int64Range(0, 4)).Draw(rt, "values")
		copies := rapid.SliceOfN(rapid.IntRange(1, 3), len(values), len(values)).Draw(rt, "copies")

		s, d := newTestSubscriber(t, codec.FormatPlain, true)
		for i, v := range values {
			for n := 0; n < copies[i]; n++ {
				deliver(s, "people/count", strconv.FormatInt(v, 10))
			}
		}

		assertValues(rt, d.values(), runBoundaries(values))
	})
}

func TestSubscriber_Property_StaleRedeliveryDropped(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.Int64Range(0, 4), 1, 40).Draw(rt, "values")

		s, d := newTestSubscriber(t, codec.FormatMsgpack, true)
		clock := hlc.NewClock()

		payloads := make([][]byte, len(values))
		for i, v := range values {
			p, err := codec.MsgpackCodec{}.Encode(codec.Reading{Value: v, Producer: "cam-1", Stamp: clock.Now()})
			if err != nil {
				rt.Fatalf("encode: %v", err)
			}
			payloads[i] = p

			s.HandleMessage(broker.Message{Topic: "people/count", Payload: p})

			// An older message from the same producer shows up again
			j := rapid.IntRange(0, i).Draw(rt, "redeliver")
			s.HandleMessage(broker.Message{Topic: "people/count", Payload: payloads[j]})
		}

		assertValues(rt, d.values(), runBoundaries(values))
	})
}
