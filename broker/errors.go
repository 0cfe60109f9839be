package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when the transport has no live connection
	ErrNotConnected = errors.New("broker not connected")
	// ErrClosed is returned for operations on a closed broker
	ErrClosed = errors.New("broker closed")
	// ErrAlreadySubscribed is returned when a topic already has a handler
	ErrAlreadySubscribed = errors.New("topic already subscribed")
)

// ConnectivityError reports a transient transport failure. The transport
// reconnects on its own; callers only see a gap in delivery.
type ConnectivityError struct {
	Op     string // connect, publish, subscribe
	Broker string // transport type
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Broker, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a connectivity failure worth retrying
func IsTransient(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce) || errors.Is(err, ErrNotConnected)
}
