package seriallink

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection matches every *ConnectionError.
	ErrConnection = errors.New("serial connection failed")
	// ErrClosed is returned for I/O on a closed link.
	ErrClosed = errors.New("serial link closed")
	// ErrUnknownDriver is returned for an unsupported Config.Driver.
	ErrUnknownDriver = errors.New("unknown serial driver")
)

// ConnectionError reports that the device could not be opened.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// IOError reports a link failure in the middle of a read or write.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("serial %s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
