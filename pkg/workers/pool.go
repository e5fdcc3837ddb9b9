// Package workers bounds concurrent upstream completions per user and
// globally so one chatty user cannot starve the rest.
package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"parley/pkg/logger"
)

// ErrRateLimited is returned when no completion slot frees up within the
// configured wait. Callers should treat it as retryable.
var ErrRateLimited = errors.New("completion capacity exhausted, retry later")

type userSlot struct {
	sem      chan struct{}
	inflight int
	lastUsed time.Time
}

// Pool is a keyed semaphore: per-user budget plus a global cap. Idle user
// entries are reclaimed by EvictIdle, driven by the maintenance scheduler.
type Pool struct {
	mu      sync.Mutex
	users   map[string]*userSlot
	perUser int
	wait    time.Duration
	global  chan struct{}
	now     func() time.Time
}

func NewPool(perUser, global int, wait time.Duration) *Pool {
	if perUser <= 0 {
		perUser = 2
	}
	if global <= 0 {
		global = 32
	}
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &Pool{
		users:   make(map[string]*userSlot),
		perUser: perUser,
		wait:    wait,
		global:  make(chan struct{}, global),
		now:     time.Now,
	}
}

func (p *Pool) slot(user string) *userSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.users[user]
	if !ok {
		s = &userSlot{sem: make(chan struct{}, p.perUser)}
		p.users[user] = s
	}
	s.lastUsed = p.now()
	return s
}

// Acquire claims a per-user and a global slot, waiting up to the configured
// bound. The returned release func must be called exactly once.
func (p *Pool) Acquire(ctx context.Context, user string) (func(), error) {
	s := p.slot(user)

	timer := time.NewTimer(p.wait)
	defer timer.Stop()

	select {
	case s.sem <- struct{}{}:
	case <-timer.C:
		return nil, ErrRateLimited
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case p.global <- struct{}{}:
	case <-timer.C:
		<-s.sem
		return nil, ErrRateLimited
	case <-ctx.Done():
		<-s.sem
		return nil, ctx.Err()
	}

	p.mu.Lock()
	s.inflight++
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-p.global
			<-s.sem
			p.mu.Lock()
			s.inflight--
			s.lastUsed = p.now()
			p.mu.Unlock()
		})
	}
	return release, nil
}

// EvictIdle drops user entries with no in-flight work that have been unused
// for at least idle. Returns how many entries were reclaimed.
func (p *Pool) EvictIdle(idle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-idle)
	n := 0
	for user, s := range p.users {
		if s.inflight == 0 && s.lastUsed.Before(cutoff) {
			delete(p.users, user)
			n++
		}
	}
	if n > 0 {
		logger.Debug("worker_entries_evicted", "count", n)
	}
	return n
}

// Users reports the number of tracked user entries.
func (p *Pool) Users() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.users)
}
