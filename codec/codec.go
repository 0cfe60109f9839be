// Package codec converts readings to and from broker payloads.
//
// Two wire formats are registered:
//
//   - "plain": a bare UTF-8 decimal integer ("3"). This is the minimum
//     interoperable format and what existing consumers expect.
//   - "msgpack": an envelope carrying the value, the producer identity and a
//     hybrid logical clock stamp, so consumers can drop stale redeliveries.
//     Its decoder still accepts plain payloads.
//
// Thread Safety: codecs are stateless and safe for concurrent use.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/maxpert/headcount/hlc"
)

// ErrMalformedPayload is returned when a payload is not a well-formed reading
var ErrMalformedPayload = errors.New("malformed payload")

// errMissingValue rejects envelopes that decode but carry no count
var errMissingValue = errors.New("envelope without value")

// Reading is one measured value as it travels over the broker
type Reading struct {
	Value    int64
	Producer string        // empty for plain payloads
	Stamp    hlc.Timestamp // zero for plain payloads
}

// Stamped reports whether the reading carries producer ordering information
func (r Reading) Stamped() bool {
	return r.Producer != "" && !r.Stamp.IsZero()
}

// Codec encodes and decodes readings
type Codec interface {
	// Name returns the registered format name
	Name() string
	// Encode converts a reading into a payload
	Encode(r Reading) ([]byte, error)
	// Decode parses a payload; errors wrap ErrMalformedPayload
	Decode(payload []byte) (Reading, error)
}

// Factory creates a Codec
type Factory func() Codec

var (
	factories = make(map[string]Factory)
	factoryMu sync.RWMutex
)

// Register registers a codec factory for a format
func Register(format string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[format] = factory
}

// New creates a codec for the given format
func New(format string) (Codec, error) {
	factoryMu.RLock()
	factory, exists := factories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown payload format: %s", format)
	}
	return factory(), nil
}

// Formats returns the registered format names in sorted order
func Formats() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func malformed(payload []byte, err error) error {
	const maxShown = 32
	shown := payload
	if len(shown) > maxShown {
		shown = shown[:maxShown]
	}
	return fmt.Errorf("%w %q: %v", ErrMalformedPayload, shown, err)
}
