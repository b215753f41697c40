// Package revocation keeps a denylist of token ids (jti) that were logged
// out before their natural expiry. Entries live only as long as the token
// they revoke.
package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/loanapp/internal/logging"
	"github.com/redis/go-redis/v9"
)

type Revoker interface {
	// Revoke denylists jti for ttl. A non-positive ttl is a no-op since the
	// token has already expired.
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

const redisPrefix = "loanapp:revoked:"

type RedisStore struct {
	client *redis.Client
	logger logging.Logger
}

var _ Revoker = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, logger logging.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger.With("module", "revocation")}
}

func (s *RedisStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 || jti == "" {
		return nil
	}
	if err := s.client.Set(ctx, redisPrefix+jti, 1, ttl).Err(); err != nil {
		s.logger.Error(ctx, "revoke token", "jti", jti, "error", err)
		return err
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, redisPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const sweepInterval = time.Minute

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

var _ Revoker = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 || jti == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[jti]
	return ok && s.now().Before(exp), nil
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, jti)
		}
	}
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}
