package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/railbook/apiserver/types"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "session:"
	defaultRetention   = 24 * time.Hour
	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 3 * time.Second
)

// Connect parses a redis:// or rediss:// URL and verifies the server answers a ping.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = defaultDialTimeout
	opts.ReadTimeout = defaultIOTimeout
	opts.WriteTimeout = defaultIOTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// SessionCache stores the single live session of each user under
// session:<userID>. A SET replaces the previous value atomically. Liveness is
// judged against the caller's clock in IsLive; the key TTL only bounds how
// long a record is retained, so stale sessions need no sweeping.
type SessionCache struct {
	client    *redis.Client
	retention time.Duration
}

// NewSessionCache keeps each record for at least retention, normally the
// token lifetime. A non-positive retention falls back to 24h.
func NewSessionCache(client *redis.Client, retention time.Duration) *SessionCache {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &SessionCache{client: client, retention: retention}
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, userID)
}

func (c *SessionCache) StartSession(ctx context.Context, userID int64, token string, expiry time.Time) error {
	session := types.Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiry.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	// expiry comes from the caller's clock, which need not be the wall clock.
	ttl := c.retention
	if remaining := time.Until(expiry); remaining > ttl {
		ttl = remaining
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return c.client.Set(ctx, sessionKey(userID), data, ttl).Err()
}

func (c *SessionCache) EndSession(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, sessionKey(userID)).Err()
}

func (c *SessionCache) IsLive(ctx context.Context, userID int64, token string, now time.Time) (bool, error) {
	data, err := c.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		err = fmt.Errorf("failed to unmarshal session: %w", err)
		if delErr := c.client.Del(ctx, sessionKey(userID)).Err(); delErr != nil {
			return false, errors.Join(err, fmt.Errorf("failed to drop corrupt session: %w", delErr))
		}
		return false, err
	}
	return session.Matches(token, now), nil
}

// Close releases the underlying client.
func (c *SessionCache) Close() error {
	return c.client.Close()
}
