// Package idem collapses rapid duplicate turn submissions. The guard is a
// short-TTL set-if-absent on (session id, hash of the raw user text); it is
// not a general per-session lock.
package idem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"parley/pkg/cache"
)

type Guard struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewGuard(c cache.Cache, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Guard{cache: c, ttl: ttl}
}

// Key returns the dedup key for a submission.
func Key(sessionID, rawText string) string {
	h := sha256.Sum256([]byte(rawText))
	return "idem:" + sessionID + ":" + hex.EncodeToString(h[:])
}

// Acquire attempts to claim the submission window. It returns true when
// this call is the first within the TTL; false means an identical
// submission is already in flight or just completed.
func (g *Guard) Acquire(ctx context.Context, sessionID, rawText string) (bool, error) {
	return g.cache.SetNX(ctx, Key(sessionID, rawText), "1", g.ttl)
}

// Release drops the window early. Used when a claimed turn fails before
// anything was persisted so an honest retry isn't forced to wait out the TTL.
func (g *Guard) Release(ctx context.Context, sessionID, rawText string) {
	_ = g.cache.Del(ctx, Key(sessionID, rawText))
}

// TTL reports the configured window length.
func (g *Guard) TTL() time.Duration { return g.ttl }
