package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/brieflens/brieflens/internal/digest"
	"github.com/brieflens/brieflens/pkg/types"
)

// PreferenceContext is the per-session view of the user's preference context.
// Like the digest snapshot it is fetched once per session and held stable for
// the session's lifetime, so an upstream preference edit mid-conversation
// does not shift retrieval behavior under the user.
type PreferenceContext struct {
	provider digest.PreferenceProvider

	mu    sync.RWMutex
	cache map[string]*types.Preferences // keyed by session ID
}

// NewPreferenceContext creates the preference layer. provider may be nil, in
// which case every load yields no preferences.
func NewPreferenceContext(provider digest.PreferenceProvider) *PreferenceContext {
	return &PreferenceContext{
		provider: provider,
		cache:    make(map[string]*types.Preferences),
	}
}

// Load returns the preference context bound to the session, fetching it from
// the provider on the first call.
func (p *PreferenceContext) Load(ctx context.Context, sessionID, userID string) (*types.Preferences, error) {
	if p == nil || p.provider == nil || userID == "" {
		return nil, nil
	}

	p.mu.RLock()
	prefs, ok := p.cache[sessionID]
	p.mu.RUnlock()
	if ok {
		return prefs, nil
	}

	prefs, err := p.provider.GetPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("preference context: %w", err)
	}

	// First write wins: concurrent loads for the same session must agree.
	p.mu.Lock()
	if cached, ok := p.cache[sessionID]; ok {
		prefs = cached
	} else {
		p.cache[sessionID] = prefs
	}
	p.mu.Unlock()

	return prefs, nil
}

// Evict drops the cached preferences for an ended session.
func (p *PreferenceContext) Evict(sessionID string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.cache, sessionID)
	p.mu.Unlock()
}
