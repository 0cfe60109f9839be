package publisher

import (
	"context"
	"strconv"
	"testing"

	"pgregory.net/rapid"
)

func TestDebouncer_Property_PublishesRunBoundaries(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOf(rapid.Int64Range(0, 5)).Draw(rt, "values")

		mb := &mockBroker{}
		d := newPlainDebouncer(t, mb)

		var want []string
		for i, v := range values {
			if i == 0 || values[i-1] != v {
				want = append(want, strconv.FormatInt(v, 10))
			}
			if _, err := d.Observe(context.Background(), v); err != nil {
				rt.Fatalf("observe %d: %v", v, err)
			}
		}

		got := mb.payloads()
		if len(got) != len(want) {
			rt.Fatalf("published %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				rt.Fatalf("published %v, want %v", got, want)
			}
		}
	})
}

func TestDebouncer_Property_FailedPublishIsRetried(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.Int64Range(0, 3), 1, 50).Draw(rt, "values")
		failures := rapid.SliceOfN(rapid.Bool(), len(values), len(values)).Draw(rt, "failures")

		mb := &mockBroker{}
		d := newPlainDebouncer(t, mb)

		var (
			last    int64
			hasLast bool
			want    []string
		)
		for i, v := range values {
			wantPublish := !hasLast || v != last
			if wantPublish && failures[i] {
				mb.failCount.Store(1)
			}

			changed, err := d.Observe(context.Background(), v)

			switch {
			case !wantPublish:
				if changed || err != nil {
					rt.Fatalf("step %d: unchanged value %d reported changed=%v err=%v", i, v, changed, err)
				}
			case failures[i]:
				if changed || err == nil {
					rt.Fatalf("step %d: failed publish reported changed=%v err=%v", i, changed, err)
				}
			default:
				if !changed || err != nil {
					rt.Fatalf("step %d: publish of %d reported changed=%v err=%v", i, v, changed, err)
				}
				last, hasLast = v, true
				want = append(want, strconv.FormatInt(v, 10))
			}
		}

		got := mb.payloads()
		if len(got) != len(want) {
			rt.Fatalf("published %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				rt.Fatalf("published %v, want %v", got, want)
			}
		}

		gotLast, ok := d.Last()
		if ok != hasLast || (ok && gotLast != last) {
			rt.Fatalf("Last() = %d,%v want %d,%v", gotLast, ok, last, hasLast)
		}
	})
}
