package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value    string
	expireAt time.Time
}

// Memory is an in-process Cache for single-node deployments and tests.
// Expired keys are dropped lazily on access and in bulk by Sweep.
type Memory struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]entry), now: time.Now}
}

// NewMemoryWithClock allows tests to control expiry.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{m: make(map[string]entry), now: now}
}

func (c *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[key]; ok && c.now().Before(e.expireAt) {
		return false, nil
	}
	c.m[key] = entry{value: value, expireAt: c.now().Add(ttl)}
	return true, nil
}

func (c *Memory) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(e.expireAt) {
		delete(c.m, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *Memory) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

// Sweep removes all expired entries and returns how many were dropped.
// Called periodically by the maintenance scheduler.
func (c *Memory) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.m {
		if !now.Before(e.expireAt) {
			delete(c.m, k)
			n++
		}
	}
	return n
}

// Len returns the number of live plus not-yet-swept entries.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
