package auth

import (
	"sync"
	"time"
)

var _ TokenRevoker = (*RevocationRegistry)(nil)

// RevocationRegistry is a process-wide set of bearer tokens invalidated
// before their natural expiry. Entries are added on logout and consulted
// on every authenticated request; an entry is dropped once the token's
// own expiry passes, since the token can no longer authenticate anyway.
//
// The registry is an explicitly owned dependency injected into request
// handling, never ambient module state, and it is never cleared as a side
// effect of an unrelated operation such as login.
type RevocationRegistry struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewRevocationRegistry creates an empty registry.
func NewRevocationRegistry() *RevocationRegistry {
	return &RevocationRegistry{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the registry clock. Used by tests.
func (r *RevocationRegistry) WithClock(now func() time.Time) *RevocationRegistry {
	if now != nil {
		r.mu.Lock()
		r.now = now
		r.mu.Unlock()
	}
	return r
}

// Revoke marks a token as invalid until expiresAt. Revoking the same token
// twice is harmless. A zero expiry keeps the entry for an hour, enough to
// outlive any token whose expiry we could not determine.
func (r *RevocationRegistry) Revoke(token string, expiresAt time.Time) {
	if token == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if expiresAt.IsZero() {
		expiresAt = r.now().Add(time.Hour)
	}

	// keep the later expiry if the token is already present
	if current, ok := r.entries[token]; ok && current.After(expiresAt) {
		return
	}

	r.entries[token] = expiresAt
	r.purgeLocked()
}

// IsRevoked reports whether the token has been revoked and is still within
// its lifetime. Expired entries are purged lazily.
func (r *RevocationRegistry) IsRevoked(token string) bool {
	if token == "" {
		return false
	}

	r.mu.RLock()
	expiresAt, ok := r.entries[token]
	now := r.now()
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if now.After(expiresAt) {
		r.mu.Lock()
		if current, present := r.entries[token]; present && now.After(current) {
			delete(r.entries, token)
		}
		r.mu.Unlock()
		return false
	}

	return true
}

// Purge drops every expired entry and returns how many were removed.
func (r *RevocationRegistry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeLocked()
}

// Len returns the number of live entries.
func (r *RevocationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *RevocationRegistry) purgeLocked() int {
	now := r.now()
	removed := 0
	for token, expiresAt := range r.entries {
		if now.After(expiresAt) {
			delete(r.entries, token)
			removed++
		}
	}
	return removed
}
