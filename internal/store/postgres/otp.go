package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/store"

	"github.com/jackc/pgx/v5"
)

const otpColumns = `id::text, email, code, payload, expires_at, used, created_at`

func scanOTP(row pgx.Row) (*model.OTPRecord, error) {
	var (
		rec     model.OTPRecord
		payload []byte
	)
	if err := row.Scan(&rec.ID, &rec.Email, &rec.Code, &payload, &rec.ExpiresAt, &rec.Used, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapPgErr(err)
	}
	rec.Payload = decodeMap(payload)
	return &rec, nil
}

func (s *Store) InsertOTP(ctx context.Context, rec model.OTPRecord) (model.OTPRecord, error) {
	rec.Email = strings.ToLower(strings.TrimSpace(rec.Email))
	if rec.Email == "" {
		return model.OTPRecord{}, errors.New("email_required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	out, err := scanOTP(s.pool.QueryRow(ctx, `
		insert into public.otp_records (email, code, payload, expires_at, used, created_at)
		values ($1, $2, $3::jsonb, $4, false, $5)
		returning `+otpColumns,
		rec.Email, rec.Code, encodeMap(rec.Payload), rec.ExpiresAt, rec.CreatedAt,
	))
	if err != nil {
		return model.OTPRecord{}, err
	}
	return *out, nil
}

func (s *Store) LatestOTP(ctx context.Context, email string) (*model.OTPRecord, error) {
	return scanOTP(s.pool.QueryRow(ctx, `
		select `+otpColumns+`
		from public.otp_records
		where lower(email) = lower($1)
		order by created_at desc
		limit 1
	`, strings.TrimSpace(email)))
}

func (s *Store) DeleteUnusedOTPs(ctx context.Context, email, keepID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		delete from public.otp_records
		where lower(email) = lower($1)
		  and used = false
		  and id::text <> $2
	`, strings.TrimSpace(email), keepID)
	if err != nil {
		return 0, mapPgErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// ConsumeOTP flips used in a single statement; the row lock makes
// concurrent consumers of the same code race for one winner.
func (s *Store) ConsumeOTP(ctx context.Context, email, code string, now time.Time) (*model.OTPRecord, error) {
	return scanOTP(s.pool.QueryRow(ctx, `
		update public.otp_records
		set used = true
		where id = (
			select id from public.otp_records
			where lower(email) = lower($1)
			  and code = $2
			  and used = false
			  and expires_at > $3
			order by created_at desc
			limit 1
			for update skip locked
		)
		  and used = false
		returning `+otpColumns,
		strings.TrimSpace(email), code, now,
	))
}

func (s *Store) DeleteOTPs(ctx context.Context, email string) error {
	_, err := s.pool.Exec(ctx, `delete from public.otp_records where lower(email) = lower($1)`, strings.TrimSpace(email))
	return mapPgErr(err)
}

func (s *Store) PurgeOTPsBefore(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `delete from public.otp_records where expires_at < $1`, before)
	if err != nil {
		return 0, mapPgErr(err)
	}
	return int(tag.RowsAffected()), nil
}
