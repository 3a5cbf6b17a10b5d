package state

import (
	"context"
	"errors"
	"strings"
	"sync"

	contractx "github.com/voyagent/voyagent/agent/contract"
)

// Cache is a two-tier read/write-through store: a same-process local
// map in front of the durable tier. A local entry may record explicit
// absence, so a repeated miss never touches the durable store again.
//
// Cache is not a distributed lock. The durable tier is authoritative
// across processes; the local tier assumes at most one in-flight turn
// per session and must be invalidated when the caller knows the
// durable value changed out-of-band. Construct one per lifetime the
// caller controls (per server, per worker), never as a package
// singleton.
type Cache struct {
	durable Store

	mu    sync.Mutex
	local map[string]*contractx.SuspendState // nil value = known absent
}

func NewCache(durable Store) *Cache {
	return &Cache{
		durable: durable,
		local:   make(map[string]*contractx.SuspendState, 8),
	}
}

// Load returns the suspend state for a session, reading through to the
// durable tier only on a local miss.
func (c *Cache) Load(ctx context.Context, sessionID string) (*contractx.SuspendState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	c.mu.Lock()
	st, ok := c.local[sessionID]
	c.mu.Unlock()
	if ok {
		if st == nil {
			return nil, ErrStateNotFound
		}
		return st, nil
	}

	st, err := c.durable.Load(ctx, sessionID)
	if errors.Is(err, ErrStateNotFound) {
		c.set(sessionID, nil)
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	c.set(sessionID, st)
	return st, nil
}

// Save writes the local tier first, then the durable tier with its
// TTL refreshed.
func (c *Cache) Save(ctx context.Context, st *contractx.SuspendState) error {
	if st == nil {
		return ErrNilState
	}
	if strings.TrimSpace(st.SessionID) == "" {
		return ErrInvalidSession
	}
	c.set(st.SessionID, st)
	return c.durable.Save(ctx, st)
}

// Delete removes the state from both tiers and records the absence
// locally.
func (c *Cache) Delete(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}
	c.set(sessionID, nil)
	return c.durable.Delete(ctx, sessionID)
}

// Invalidate drops the local entry so the next Load reads the durable
// tier. Call it after another component wrote the durable state
// directly.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.local, strings.TrimSpace(sessionID))
}

func (c *Cache) set(sessionID string, st *contractx.SuspendState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[sessionID] = st
}
