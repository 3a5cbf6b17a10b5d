// Package state persists suspended clarification snapshots between
// turns: a durable TTL-keyed tier fronted by a per-turn local cache.
package state

import (
	"context"
	"errors"
	"time"

	contractx "github.com/voyagent/voyagent/agent/contract"
)

var (
	ErrStateNotFound  = errors.New("suspend state not found")
	ErrNilState       = errors.New("suspend state is nil")
	ErrInvalidSession = errors.New("session id is empty")
)

const (
	defaultKeyPrefix = "suspend:"
	defaultTTL       = time.Hour
)

// Store is the durable persistence contract for suspend states.
// Load returns ErrStateNotFound when no state exists for the session.
// Save refreshes the TTL to the store's fixed window on every write.
type Store interface {
	Load(ctx context.Context, sessionID string) (*contractx.SuspendState, error)
	Save(ctx context.Context, st *contractx.SuspendState) error
	Delete(ctx context.Context, sessionID string) error
}
