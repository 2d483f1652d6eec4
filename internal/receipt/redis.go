package receipt

import (
	"context"
	"fmt"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// FloorSource reports the highest receipt sequence a tenant has already used.
type FloorSource interface {
	ReceiptSequenceFloor(ctx context.Context, tenantID string) (int64, error)
}

// incrAbove raises the counter to ARGV[1] when it is behind, then increments.
var incrAbove = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[1])
end
return redis.call('INCR', KEYS[1])
`)

// RedisSequencer keeps one INCR counter per tenant. The counter never drops
// below the store's highest sequence or the last value this process issued,
// so a flushed or fresh Redis does not reissue numbers.
type RedisSequencer struct {
	client    *redis.Client
	keyPrefix string
	floor     FloorSource

	mu     sync.Mutex
	issued map[string]int64
}

// NewRedisSequencer builds a sequencer; floor may be nil when no store backs
// the numbers.
func NewRedisSequencer(client *redis.Client, floor FloorSource) *RedisSequencer {
	return &RedisSequencer{
		client:    client,
		keyPrefix: "receipt:seq:",
		floor:     floor,
		issued:    make(map[string]int64),
	}
}

func (s *RedisSequencer) NextReceiptSequence(ctx context.Context, tenantID string) (int64, error) {
	floor, err := s.floorFor(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	seq, err := incrAbove.Run(ctx, s.client, []string{s.keyPrefix + tenantID}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("receipt: redis incr: %w", err)
	}
	s.remember(tenantID, seq)
	return seq, nil
}

func (s *RedisSequencer) floorFor(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	last, loaded := s.issued[tenantID]
	s.mu.Unlock()
	if loaded || s.floor == nil {
		return last, nil
	}

	stored, err := s.floor.ReceiptSequenceFloor(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("receipt: load sequence floor: %w", err)
	}
	return s.remember(tenantID, stored), nil
}

func (s *RedisSequencer) remember(tenantID string, seq int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.issued[tenantID]; !ok || seq > last {
		s.issued[tenantID] = seq
	}
	return s.issued[tenantID]
}
