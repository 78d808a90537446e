// Package memory implements the three context layers feeding every turn:
// the per-session digest snapshot, the short-term window, and the long-term
// record store behind the retrieval fusion engine. The layers are owned
// independently and fail independently: a degraded layer contributes empty
// context instead of aborting the turn.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/brieflens/brieflens/internal/digest"
	"github.com/brieflens/brieflens/pkg/types"
)

// DigestContext is the read-only digest layer. The snapshot for a session is
// fetched from the provider once and cached until the session ends; it is
// never invalidated mid-session, so upstream re-curation stays invisible to
// a running conversation.
type DigestContext struct {
	provider digest.Provider

	mu    sync.RWMutex
	cache map[string]*types.DigestSnapshot // keyed by session ID
}

// NewDigestContext creates the digest layer over the given provider.
func NewDigestContext(provider digest.Provider) *DigestContext {
	return &DigestContext{
		provider: provider,
		cache:    make(map[string]*types.DigestSnapshot),
	}
}

// Load returns the snapshot bound to the session, fetching it on first call.
// Sessions without a context reference get a nil snapshot and no error.
// Subsequent calls are idempotent and never hit the provider again.
func (d *DigestContext) Load(ctx context.Context, sessionID, contextRef string) (*types.DigestSnapshot, error) {
	if contextRef == "" {
		return nil, nil
	}

	d.mu.RLock()
	snapshot, ok := d.cache[sessionID]
	d.mu.RUnlock()
	if ok {
		return snapshot, nil
	}

	snapshot, err := d.provider.GetSnapshot(ctx, contextRef)
	if err != nil {
		return nil, fmt.Errorf("digest layer: %w", err)
	}

	d.mu.Lock()
	// Another goroutine may have loaded concurrently; first write wins so a
	// session only ever observes one snapshot.
	if cached, ok := d.cache[sessionID]; ok {
		snapshot = cached
	} else {
		d.cache[sessionID] = snapshot
	}
	d.mu.Unlock()

	return snapshot, nil
}

// Evict drops the cached snapshot for an ended session.
func (d *DigestContext) Evict(sessionID string) {
	d.mu.Lock()
	delete(d.cache, sessionID)
	d.mu.Unlock()
}
