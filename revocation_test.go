package auth_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	auth "github.com/sample-tayo/teekect-auth"
)

func TestRevocationRegistryRevoke(t *testing.T) {
	registry := auth.NewRevocationRegistry()

	assert.False(t, registry.IsRevoked("token-a"))

	registry.Revoke("token-a", time.Now().Add(time.Hour))
	assert.True(t, registry.IsRevoked("token-a"))
	assert.False(t, registry.IsRevoked("token-b"))
}

func TestRevocationRegistryRevokeIdempotent(t *testing.T) {
	registry := auth.NewRevocationRegistry()

	expiry := time.Now().Add(time.Hour)
	registry.Revoke("token-a", expiry)
	registry.Revoke("token-a", expiry)

	assert.True(t, registry.IsRevoked("token-a"))
	assert.Equal(t, 1, registry.Len())
}

func TestRevocationRegistryKeepsLaterExpiry(t *testing.T) {
	base := time.Now()
	clock := base
	var mu sync.Mutex

	registry := auth.NewRevocationRegistry().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})

	registry.Revoke("token-a", base.Add(2*time.Hour))
	// a second revocation with an earlier expiry must not shorten the window
	registry.Revoke("token-a", base.Add(time.Minute))

	mu.Lock()
	clock = base.Add(time.Hour)
	mu.Unlock()

	assert.True(t, registry.IsRevoked("token-a"))
}

func TestRevocationRegistryZeroExpiry(t *testing.T) {
	base := time.Now()
	clock := base
	var mu sync.Mutex

	registry := auth.NewRevocationRegistry().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})

	registry.Revoke("token-a", time.Time{})
	assert.True(t, registry.IsRevoked("token-a"))

	mu.Lock()
	clock = base.Add(59 * time.Minute)
	mu.Unlock()
	assert.True(t, registry.IsRevoked("token-a"))

	mu.Lock()
	clock = base.Add(61 * time.Minute)
	mu.Unlock()
	assert.False(t, registry.IsRevoked("token-a"))
}

func TestRevocationRegistryExpiryLapses(t *testing.T) {
	base := time.Now()
	clock := base
	var mu sync.Mutex

	registry := auth.NewRevocationRegistry().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})

	registry.Revoke("token-a", base.Add(time.Minute))
	assert.True(t, registry.IsRevoked("token-a"))
	assert.Equal(t, 1, registry.Len())

	mu.Lock()
	clock = base.Add(2 * time.Minute)
	mu.Unlock()

	// the expired entry is dropped lazily on lookup
	assert.False(t, registry.IsRevoked("token-a"))
	assert.Equal(t, 0, registry.Len())
}

func TestRevocationRegistryPurge(t *testing.T) {
	base := time.Now()
	clock := base
	var mu sync.Mutex

	registry := auth.NewRevocationRegistry().WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})

	registry.Revoke("token-a", base.Add(time.Minute))
	registry.Revoke("token-b", base.Add(time.Hour))
	registry.Revoke("token-c", base.Add(2*time.Minute))

	mu.Lock()
	clock = base.Add(30 * time.Minute)
	mu.Unlock()

	removed := registry.Purge()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, registry.Len())
	assert.True(t, registry.IsRevoked("token-b"))
}

func TestRevocationRegistryEmptyToken(t *testing.T) {
	registry := auth.NewRevocationRegistry()

	registry.Revoke("", time.Now().Add(time.Hour))
	assert.Equal(t, 0, registry.Len())
	assert.False(t, registry.IsRevoked(""))
}

func TestRevocationRegistryConcurrentAccess(t *testing.T) {
	registry := auth.NewRevocationRegistry()
	expiry := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				token := fmt.Sprintf("token-%d-%d", n, j)
				registry.Revoke(token, expiry)
				registry.IsRevoked(token)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1600, registry.Len())
}
