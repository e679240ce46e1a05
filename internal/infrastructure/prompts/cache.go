package prompts

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/notegen/internal/core/ports"
)

const DefaultCacheTTL = 5 * time.Minute

// CachedStore keeps resolved templates for a fixed TTL so edits to the
// backing file are picked up without a restart.
type CachedStore struct {
	next    ports.PromptStore
	cache   *ttlcache.Cache[string, ports.PromptTemplate]
	sfGroup singleflight.Group
}

func NewCachedStore(next ports.PromptStore, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, ports.PromptTemplate](ttl),
		ttlcache.WithDisableTouchOnHit[string, ports.PromptTemplate](),
	)
	go cache.Start()
	return &CachedStore{next: next, cache: cache}
}

func (s *CachedStore) Resolve(ctx context.Context, key string) (ports.PromptTemplate, error) {
	if item := s.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	v, err, _ := s.sfGroup.Do(key, func() (any, error) {
		tpl, err := s.next.Resolve(ctx, key)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, tpl, ttlcache.DefaultTTL)
		return tpl, nil
	})
	if err != nil {
		return ports.PromptTemplate{}, err
	}
	return v.(ports.PromptTemplate), nil
}

// Close stops the expiration loop.
func (s *CachedStore) Close() {
	s.cache.Stop()
}
