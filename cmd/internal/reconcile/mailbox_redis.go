package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMailbox shares PendingMerge entries across gateway instances.
// Entries are written with SET EX and consumed with GETDEL, so a take is atomic.
type RedisMailbox struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisMailbox(client redis.Cmdable, ttl time.Duration) *RedisMailbox {
	if ttl <= 0 {
		ttl = DefaultMergeTTL
	}
	return &RedisMailbox{client: client, prefix: "syncgate:merge:", ttl: ttl}
}

func (m *RedisMailbox) key(k MailboxKey) string {
	return m.prefix + k.Principal + ":" + k.DocumentID
}

func (m *RedisMailbox) Put(ctx context.Context, key MailboxKey, pm PendingMerge) error {
	raw, err := json.Marshal(pm)
	if err != nil {
		return fmt.Errorf("encode pending merge: %w", err)
	}
	if err := m.client.Set(ctx, m.key(key), raw, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set pending merge: %w", err)
	}
	return nil
}

func (m *RedisMailbox) Take(ctx context.Context, key MailboxKey) (PendingMerge, bool, error) {
	raw, err := m.client.GetDel(ctx, m.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PendingMerge{}, false, nil
	}
	if err != nil {
		return PendingMerge{}, false, fmt.Errorf("redis getdel pending merge: %w", err)
	}

	var pm PendingMerge
	if err := json.Unmarshal(raw, &pm); err != nil {
		return PendingMerge{}, false, fmt.Errorf("decode pending merge: %w", err)
	}
	return pm, true, nil
}
