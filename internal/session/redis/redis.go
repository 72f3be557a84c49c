// Package redis stores sessions in Redis so several server instances can share
// them. Each session is one key whose TTL matches the remaining token lifetime.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/michaelbrown/smartdj/internal/session"
	"github.com/michaelbrown/smartdj/internal/spotify"
)

const (
	scanCount       = 100
	refreshAttempts = 3
)

// Store implements session.Repository on Redis.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ session.Repository = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &Store{client: client, prefix: prefix, now: time.Now}, nil
}

func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis.Store.Close: %w", err)
	}
	return nil
}

// SessionKey is the key holding userID's session.
func SessionKey(prefix, userID string) string {
	return prefix + "session:" + userID
}

// SessionPattern matches every session key under prefix.
func SessionPattern(prefix string) string {
	return prefix + "session:*"
}

// record is the stored form. Unlike session.Session it serializes the tokens.
type record struct {
	UserID       string              `json:"user_id"`
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time           `json:"expires_at"`
	Profile      spotify.UserProfile `json:"profile"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func encode(s session.Session) ([]byte, error) {
	return json.Marshal(record{
		UserID:       s.UserID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		Profile:      s.Profile,
		UpdatedAt:    s.UpdatedAt,
	})
}

func decode(data []byte) (session.Session, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return session.Session{}, err
	}
	return session.Session{
		UserID:       r.UserID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
		Profile:      r.Profile,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func (s *Store) Put(ctx context.Context, sess session.Session) error {
	now := s.now()
	key := SessionKey(s.prefix, sess.UserID)

	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis.Store.Put: %w", err)
		}
		return nil
	}

	sess.UpdatedAt = now
	data, err := encode(sess)
	if err != nil {
		return fmt.Errorf("redis.Store.Put: encode: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis.Store.Put: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID string) (*session.Session, error) {
	key := SessionKey(s.prefix, userID)

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("redis.Store.Get: %w", err)
	}

	sess, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("redis.Store.Get: decode: %w", err)
	}

	// Key TTLs have millisecond granularity; the stored expiry is authoritative.
	if !sess.Valid(s.now()) {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return nil, fmt.Errorf("redis.Store.Get: evict: %w", err)
		}
		return nil, session.ErrExpired
	}
	return &sess, nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, SessionKey(s.prefix, userID)).Err(); err != nil {
		return fmt.Errorf("redis.Store.Delete: %w", err)
	}
	return nil
}

// Refresh updates the token under WATCH so a concurrent Put or Delete is never
// overwritten with stale data.
func (s *Store) Refresh(ctx context.Context, userID, accessToken string, expiresAt time.Time) (bool, error) {
	ok, err := s.update(ctx, userID, accessToken, "", expiresAt)
	if err != nil {
		return false, fmt.Errorf("redis.Store.Refresh: %w", err)
	}
	return ok, nil
}

func (s *Store) Rotate(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	ok, err := s.update(ctx, userID, accessToken, refreshToken, expiresAt)
	if err != nil {
		return false, fmt.Errorf("redis.Store.Rotate: %w", err)
	}
	return ok, nil
}

// update rewrites a live session's tokens in one WATCH/MULTI transaction. An
// empty refreshToken keeps the stored one.
func (s *Store) update(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) (bool, error) {
	key := SessionKey(s.prefix, userID)

	var updated bool
	txf := func(tx *redis.Tx) error {
		updated = false

		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		sess, err := decode(data)
		if err != nil {
			return err
		}
		now := s.now()
		if !sess.Valid(now) {
			return nil
		}

		sess.AccessToken = accessToken
		if refreshToken != "" {
			sess.RefreshToken = refreshToken
		}
		sess.ExpiresAt = expiresAt
		sess.UpdatedAt = now
		ttl := expiresAt.Sub(now)
		if ttl <= 0 {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}

		out, err := encode(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		if err == nil {
			updated = true
		}
		return err
	}

	for range refreshAttempts {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return updated, nil
	}
	return false, redis.TxFailedErr
}

func (s *Store) ListActive(ctx context.Context) ([]session.Session, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, SessionPattern(s.prefix), scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis.Store.ListActive: scan: %w", err)
	}

	now := s.now()
	out := make([]session.Session, 0, len(keys))
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		values, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis.Store.ListActive: mget: %w", err)
		}
		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue // expired between SCAN and MGET
			}
			sess, err := decode([]byte(str))
			if err != nil || !sess.Valid(now) {
				continue
			}
			out = append(out, sess)
		}
	}
	return out, nil
}
