package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// RedisStore reads provider → endpoint entries from a single Redis hash.
// Fields are provider addresses, in checksummed or lowercase form.
type RedisStore struct {
	client *redis.Client
	key    string
	log    *slog.Logger
}

// NewRedisStore connects to the Redis instance at url (redis:// or rediss://).
// A nil logger falls back to slog.Default.
func NewRedisStore(url, key string, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		key:    key,
		log:    log.With("component", "registry", "key", key),
	}, nil
}

// Key returns the hash key entries are read from.
func (s *RedisStore) Key() string { return s.key }

// Lookup fetches the endpoint for provider in one round trip.
func (s *RedisStore) Lookup(ctx context.Context, provider common.Address) (string, bool, error) {
	checksummed := provider.Hex()
	vals, err := s.client.HMGet(ctx, s.key, checksummed, strings.ToLower(checksummed)).Result()
	if err != nil {
		return "", false, err
	}
	for _, v := range vals {
		if endpoint, ok := v.(string); ok && endpoint != "" {
			return endpoint, true, nil
		}
	}
	return "", false, nil
}

// Providers lists every provider Lookup can resolve. Fields that are not addresses, or that use
// a spelling other than checksummed or lowercase, are skipped with a warning.
func (s *RedisStore) Providers(ctx context.Context) ([]common.Address, error) {
	entries, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	seen := make(map[common.Address]struct{}, len(entries))
	out := make([]common.Address, 0, len(entries))
	for field := range entries {
		addr, ok := canonicalAddress(field)
		if !ok {
			s.log.Warn("skipping registry field", "field", field,
				"reason", "want a checksummed or lowercase 0x address")
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

// canonicalAddress accepts exactly the spellings Lookup queries.
func canonicalAddress(field string) (common.Address, bool) {
	if !common.IsHexAddress(field) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(field)
	if field != addr.Hex() && field != strings.ToLower(addr.Hex()) {
		return common.Address{}, false
	}
	return addr, true
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
