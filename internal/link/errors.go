package link

import (
	"errors"
	"fmt"
)

// Transport error taxonomy.
var (
	// ErrTransport means the link is unusable; callers stop using it.
	ErrTransport = errors.New("TRANSPORT")

	// ErrReceiveTimeout means no frame arrived within the receive wait.
	ErrReceiveTimeout = errors.New("RECEIVE_TIMEOUT")

	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("DECODE")
)

// DecodeError reports bytes that arrived but did not form a valid frame.
// The link stays usable.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
}

// Unwrap exposes the parser error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDecode) match any DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// NewTransportError wraps cause so that it matches ErrTransport.
func NewTransportError(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrTransport, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, cause)
}
