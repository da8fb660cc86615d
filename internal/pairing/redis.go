package pairing

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix = "pairing:code:"

	// codeAllocationAttempts bounds the retries on code collision before
	// giving up with ErrAllocationFailed.
	codeAllocationAttempts = 5

	codeSpace = 1_000_000
)

func redisKey(code string) string {
	return keyPrefix + code
}

// randomCode draws a zero-padded 6-digit code.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", fmt.Errorf("draw pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// RedisStore keeps pairing entries in Redis, one JSON value per code,
// expiry delegated to the key TTL. Codes are claimed atomically via
// SET NX so two initiators can never share one.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and verifies the backend with a ping. Startup
// fails hard if Redis is unreachable.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) CreateCode(ctx context.Context, initiatorID, initiatorName, initiatorPublicKey string, ttl time.Duration) (*Entry, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	issuedAt := time.Now().UTC()

	for attempt := 0; attempt < codeAllocationAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return nil, err
		}
		entry := &Entry{
			Code:                code,
			InitiatorDeviceID:   initiatorID,
			InitiatorDeviceName: initiatorName,
			InitiatorPublicKey:  initiatorPublicKey,
			IssuedAt:            issuedAt,
			ExpiresAt:           issuedAt.Add(ttl),
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("encode pairing entry: %w", err)
		}

		ok, err := s.client.SetNX(ctx, redisKey(code), payload, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return entry, nil
		}
		log.Debug().Str("code", code).Int("attempt", attempt+1).Msg("Pairing code collision, retrying")
	}
	return nil, ErrAllocationFailed
}

func (s *RedisStore) ClaimCode(ctx context.Context, code, responderID, responderName, responderPublicKey string) (*Entry, error) {
	entry, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := claimEntry(entry, responderID, responderName, responderPublicKey); err != nil {
		return nil, err
	}
	if err := s.save(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *RedisStore) StoreChallenge(ctx context.Context, code, responderID, challengeJSON string) error {
	entry, err := s.load(ctx, code)
	if err != nil {
		return err
	}
	if err := setChallenge(entry, responderID, challengeJSON); err != nil {
		return err
	}
	return s.save(ctx, entry)
}

func (s *RedisStore) ConsumeChallenge(ctx context.Context, code, initiatorID string) (string, error) {
	entry, err := s.load(ctx, code)
	if err != nil {
		return "", err
	}
	challenge, err := takeChallenge(entry, initiatorID)
	if err != nil {
		return "", err
	}
	if err := s.save(ctx, entry); err != nil {
		return "", err
	}
	return challenge, nil
}

func (s *RedisStore) StoreAck(ctx context.Context, code, initiatorID, ackJSON string) error {
	entry, err := s.load(ctx, code)
	if err != nil {
		return err
	}
	if err := setAck(entry, initiatorID, ackJSON); err != nil {
		return err
	}
	return s.save(ctx, entry)
}

func (s *RedisStore) ConsumeAck(ctx context.Context, code, responderID string) (string, error) {
	entry, err := s.load(ctx, code)
	if err != nil {
		return "", err
	}
	ack, err := takeAck(entry, responderID)
	if err != nil {
		return "", err
	}
	// The handshake is complete; retire the code.
	if err := s.client.Del(ctx, redisKey(code)).Err(); err != nil {
		return "", fmt.Errorf("redis del: %w", err)
	}
	return ack, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// load fetches an entry and lazily expires it: a value whose deadline
// has passed is deleted and reported as not found, even if the key TTL
// has not fired yet.
func (s *RedisStore) load(ctx context.Context, code string) (*Entry, error) {
	val, err := s.client.Get(ctx, redisKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("decode pairing entry: %w", err)
	}
	if !entry.ExpiresAt.After(time.Now()) {
		if err := s.client.Del(ctx, redisKey(code)).Err(); err != nil {
			return nil, fmt.Errorf("redis del: %w", err)
		}
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *RedisStore) save(ctx context.Context, entry *Entry) error {
	ttl, err := remainingTTL(entry)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode pairing entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(entry.Code), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
