// Package secrets loads the process-wide master encryption secret.
//
// The secret must survive restarts: regenerating it would silently make all
// previously encrypted content undecryptable. Resolution order is config,
// then Redis, then generate-and-persist.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrBlankCoding/ChannelChat/internal/log"
)

const (
	masterKeyLength = 32
	redisMasterKey  = "chat:master_key"
)

// LoadMasterKey resolves the 32-byte master secret.
//
// When configured contains a base64 key it wins. Otherwise the key is read
// from Redis; if absent, a fresh random key is generated and persisted with
// SETNX so concurrent processes converge on a single secret. With no Redis
// client at all, an ephemeral key is generated and a warning logged.
func LoadMasterKey(ctx context.Context, configured string, rdb *redis.Client) ([]byte, error) {
	if configured != "" {
		key, err := base64.StdEncoding.DecodeString(configured)
		if err != nil {
			return nil, fmt.Errorf("failed to decode configured master key: %w", err)
		}
		if len(key) != masterKeyLength {
			return nil, fmt.Errorf("master key must be %d bytes, got %d", masterKeyLength, len(key))
		}
		return key, nil
	}

	if rdb == nil {
		l := log.L()
		l.Warn().Msg("no master key source configured, generating ephemeral key; encrypted content will not survive a restart")
		return randomKey()
	}

	encoded, err := rdb.Get(ctx, redisMasterKey).Result()
	if err == nil {
		return decode(encoded)
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("failed to load master key from redis: %w", err)
	}

	key, err := randomKey()
	if err != nil {
		return nil, err
	}

	ok, err := rdb.SetNX(ctx, redisMasterKey, base64.StdEncoding.EncodeToString(key), 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to persist master key to redis: %w", err)
	}
	if !ok {
		// Another process won the race; use its key.
		encoded, err := rdb.Get(ctx, redisMasterKey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to re-read master key from redis: %w", err)
		}
		return decode(encoded)
	}

	l := log.L()
	l.Info().Msg("generated and persisted new master key")
	return key, nil
}

func decode(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored master key: %w", err)
	}
	if len(key) != masterKeyLength {
		return nil, fmt.Errorf("stored master key must be %d bytes, got %d", masterKeyLength, len(key))
	}
	return key, nil
}

func randomKey() ([]byte, error) {
	key := make([]byte, masterKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return key, nil
}
