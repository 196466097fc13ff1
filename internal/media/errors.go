package media

import (
	"errors"
	"fmt"
)

var (
	ErrTransportNotFound        = errors.New("transport not found")
	ErrProducerNotFound         = errors.New("producer not found")
	ErrConsumerNotFound         = errors.New("consumer not found")
	ErrInvalidHandshake         = errors.New("invalid handshake parameters")
	ErrIncompatibleCapabilities = errors.New("capabilities cannot consume producer")
	ErrInvalidDirection         = errors.New("wrong transport direction")
	ErrInvalidKind              = errors.New("unknown media kind")
	ErrEngineClosed             = errors.New("engine closed")
)

// EngineError wraps a failure from an engine operation with its operation
// name and optional detail.
type EngineError struct {
	Op      string
	Err     error
	Details string
}

func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *EngineError {
	return &EngineError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *EngineError {
	return &EngineError{Op: op, Err: err, Details: details}
}
