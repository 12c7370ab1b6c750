package cache

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/valora-integrations/internal/domain"
	"github.com/smallbiznis/valora-integrations/internal/repository"
)

const (
	statePrefix = "integr:state:"
	// consumedMarkerTTL keeps a tombstone around long enough to tell a
	// replayed callback apart from a nonce that never existed.
	consumedMarkerTTL = 30 * time.Minute
)

// RedisStateStore implements the single-use authorization state store
// on Redis. GETDEL gives consumption its exactly-one-winner semantics.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Create mints a 256-bit nonce, binds the state payload to it, and
// persists it with the TTL.
func (s *RedisStateStore) Create(ctx context.Context, state domain.AuthorizationState, ttl time.Duration) (string, error) {
	nonce, err := randomNonce()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	now := time.Now().UTC()
	state.Nonce = nonce
	state.CreatedAt = now
	state.ExpiresAt = now.Add(ttl)

	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	ok, err := s.client.SetNX(ctx, statePrefix+nonce, payload, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}
	if !ok {
		// 256 bits of entropy colliding means something is deeply wrong.
		return "", fmt.Errorf("persist state: nonce collision")
	}
	return nonce, nil
}

// Consume atomically removes and returns the state. The second caller
// in a double-consumption race observes the tombstone and fails closed.
func (s *RedisStateStore) Consume(ctx context.Context, nonce string) (*domain.AuthorizationState, error) {
	key := statePrefix + nonce
	payload, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, s.classifyMiss(ctx, key)
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}

	// The tombstone write is advisory; the state itself is already gone.
	_ = s.client.Set(ctx, key+":used", 1, consumedMarkerTTL).Err()

	var state domain.AuthorizationState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	// The TTL already evicts stale entries; checking the embedded expiry
	// guards against clock drift and non-volatile replicas.
	if time.Now().UTC().After(state.ExpiresAt) {
		return nil, domain.ErrInvalidState
	}
	return &state, nil
}

func (s *RedisStateStore) classifyMiss(ctx context.Context, key string) error {
	exists, err := s.client.Exists(ctx, key+":used").Result()
	if err == nil && exists > 0 {
		return domain.ErrStateAlreadyConsumed
	}
	return domain.ErrInvalidState
}

func randomNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
