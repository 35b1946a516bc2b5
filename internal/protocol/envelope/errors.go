package envelope

import (
	"errors"

	"github.com/google/uuid"
)

// Protocol errors. Both are fatal for the frame; they are never repaired.
var (
	ErrMalformed     = errors.New("malformed envelope")
	ErrUnknownHeader = errors.New("unknown header")
)

// IsProtocolError reports whether err is a framing/dispatch violation rather
// than a domain failure.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownHeader)
}

// NewID returns a fresh correlation id.
func NewID() string {
	return uuid.NewString()
}
