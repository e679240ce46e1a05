// Package memory grants per-note leases within a single process.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
)

type entry struct {
	generation uint64
	expiresAt  time.Time
}

type Locker struct {
	mu      sync.Mutex
	held    map[string]entry
	nextGen uint64
	now     func() time.Time
}

func New() *Locker {
	return &Locker{held: make(map[string]entry), now: time.Now}
}

func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expiresAt) {
		return nil, domain.WrapError(domain.ErrConflict, "acquire lease", fmt.Errorf("%s is held by another run", key))
	}
	l.nextGen++
	l.held[key] = entry{generation: l.nextGen, expiresAt: now.Add(ttl)}
	return &lease{locker: l, key: key, generation: l.nextGen}, nil
}

type lease struct {
	locker     *Locker
	key        string
	generation uint64
}

func (l *lease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if cur, ok := l.locker.held[l.key]; ok && cur.generation == l.generation {
		delete(l.locker.held, l.key)
	}
	return nil
}
