// Package redisotp keeps verification challenges in Redis, one hash per
// email. A newer challenge overwrites the previous one and keys expire on
// their own, so PurgeOTPsBefore has nothing to do.
package redisotp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/store"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "otp:"

// consumeScript marks the challenge used only if code matches, it is
// unused and it has not expired. ARGV: code, now (unix ms).
var consumeScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'code', 'used', 'expires_at')
if not v[1] then return false end
if v[1] ~= ARGV[1] or v[2] == '1' or tonumber(v[3]) <= tonumber(ARGV[2]) then
  return false
end
redis.call('HSET', KEYS[1], 'used', '1')
return redis.call('HGETALL', KEYS[1])
`)

// deleteUnusedScript removes the challenge unless it was already consumed
// or its id is ARGV[1].
var deleteUnusedScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'used', 'id')
if v[1] == '0' and v[2] ~= ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type Store struct {
	rdb *redis.Client
	now func() time.Time
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}
}

// Open parses a redis:// URL and pings the server.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctxPing).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb), nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func key(email string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) InsertOTP(ctx context.Context, rec model.OTPRecord) (model.OTPRecord, error) {
	rec.Email = strings.ToLower(strings.TrimSpace(rec.Email))
	if rec.Email == "" {
		return model.OTPRecord{}, errors.New("email_required")
	}
	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.Used = false

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return model.OTPRecord{}, err
	}

	k := key(rec.Email)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k,
			"id", rec.ID,
			"email", rec.Email,
			"code", rec.Code,
			"payload", string(payload),
			"expires_at", rec.ExpiresAt.UnixMilli(),
			"used", "0",
			"created_at", rec.CreatedAt.UnixMilli(),
		)
		p.PExpireAt(ctx, k, rec.ExpiresAt)
		return nil
	})
	if err != nil {
		return model.OTPRecord{}, fmt.Errorf("insert otp: %w", err)
	}
	return rec, nil
}

func (s *Store) LatestOTP(ctx context.Context, email string) (*model.OTPRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, key(email)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decode(fields)
}

func (s *Store) DeleteUnusedOTPs(ctx context.Context, email, keepID string) (int, error) {
	n, err := deleteUnusedScript.Run(ctx, s.rdb, []string{key(email)}, keepID).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ConsumeOTP(ctx context.Context, email, code string, now time.Time) (*model.OTPRecord, error) {
	res, err := consumeScript.Run(ctx, s.rdb, []string{key(email)}, code, now.UnixMilli()).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decode(fields)
}

func (s *Store) DeleteOTPs(ctx context.Context, email string) error {
	return s.rdb.Del(ctx, key(email)).Err()
}

func (s *Store) PurgeOTPsBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}

func decode(fields map[string]string) (*model.OTPRecord, error) {
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode otp expires_at: %w", err)
	}
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	rec := &model.OTPRecord{
		ID:        fields["id"],
		Email:     fields["email"],
		Code:      fields["code"],
		ExpiresAt: time.UnixMilli(expires).UTC(),
		Used:      fields["used"] == "1",
		CreatedAt: time.UnixMilli(created).UTC(),
	}
	if raw := fields["payload"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode otp payload: %w", err)
		}
	}
	return rec, nil
}
