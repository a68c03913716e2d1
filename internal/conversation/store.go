package conversation

import (
	"context"
	"errors"
)

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = errors.New("conversation store is closed")

// Store abstracts conversation history persistence.
// Implementations must be safe for concurrent use.
//
// A missing session is not an error: Load returns an empty History.
// There is no delete; clients reset a conversation by switching to a
// fresh session id and letting the old one expire.
type Store interface {
	// Load retrieves the history for a session, empty if none exists.
	Load(ctx context.Context, sessionID string) (History, error)

	// Save persists the full history and refreshes its expiry window.
	Save(ctx context.Context, sessionID string, history History) error

	// Ping checks that the underlying storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
