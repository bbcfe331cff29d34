package channel

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when no connection is established.
var ErrNotConnected = errors.New("not connected to relay")

// ConnectError reports a failed attempt to open the connection.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a frame that could not be written.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send frame: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
