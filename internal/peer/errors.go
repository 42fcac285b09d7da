package peer

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrUnexpectedSignal = errors.New("unexpected signal for peer state")
	ErrClosed           = errors.New("peer manager closed")
)

// NegotiationError reports a failed step while negotiating with one remote.
type NegotiationError struct {
	Op       string
	RemoteID string
	Err      error
}

func (e *NegotiationError) Error() string {
	if e.RemoteID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func newError(op, remoteID string, err error) *NegotiationError {
	return &NegotiationError{Op: op, RemoteID: remoteID, Err: err}
}
