package encoding

import "errors"

// ErrTrailingData is returned by UnmarshalStrict when bytes remain after the value
var ErrTrailingData = errors.New("trailing data after msgpack value")
