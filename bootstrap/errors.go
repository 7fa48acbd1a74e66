package bootstrap

import (
	"errors"
	"fmt"

	"github.com/opd-ai/actorsync/protocol"
)

var (
	// ErrConnectionRefused indicates the server answered the handshake with a refusal
	ErrConnectionRefused = errors.New("connection refused by server")
	// ErrLobbyFull indicates every participant slot is taken
	ErrLobbyFull = errors.New("lobby full")
	// ErrUnexpectedReply indicates the server answered with something other than a grant or refusal
	ErrUnexpectedReply = errors.New("unexpected handshake reply")
	// ErrListenerClosed indicates the listener was shut down
	ErrListenerClosed = errors.New("listener closed")
)

// RefusedError carries the reason code of a refused handshake.
// errors.Is matches ErrConnectionRefused for every reason and ErrLobbyFull
// for ReasonLobbyFull.
type RefusedError struct {
	Reason protocol.RefusalReason
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("connection refused: %s", e.Reason)
}

// Unwrap returns ErrConnectionRefused.
func (e *RefusedError) Unwrap() error {
	return ErrConnectionRefused
}

// Is reports whether target describes this refusal.
func (e *RefusedError) Is(target error) bool {
	return target == ErrLobbyFull && e.Reason == protocol.ReasonLobbyFull
}
