package irc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by I/O on a session without a live connection.
	ErrNotReady = errors.New("irc: session not connected")

	// ErrMissingIdentity is returned when the nickname or credential is empty.
	ErrMissingIdentity = errors.New("irc: nickname and credential are required")
)

// TransportError reports a failed dial, read or write. The session is no
// longer Ready after one has been returned.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("irc: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err carries a *TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
