package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/security"
	"mai-accounts/accountd/internal/store"

	"github.com/jackc/pgx/v5"
)

const identityColumns = `id::text, email, password_hash, confirmed, confirmed_at, metadata, created_at`

func scanIdentity(row pgx.Row) (*model.Identity, error) {
	var (
		ident model.Identity
		meta  []byte
	)
	if err := row.Scan(
		&ident.ID,
		&ident.Email,
		&ident.PasswordHash,
		&ident.Confirmed,
		&ident.ConfirmedAt,
		&meta,
		&ident.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapPgErr(err)
	}
	ident.Metadata = decodeMap(meta)
	return &ident, nil
}

func (s *Store) CreateIdentity(ctx context.Context, email, password string, confirmed bool, meta map[string]string) (model.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return model.Identity{}, errors.New("email_required")
	}
	if password == "" {
		return model.Identity{}, errors.New("password_required")
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return model.Identity{}, err
	}

	now := s.now()
	var confirmedAt *time.Time
	if confirmed {
		confirmedAt = &now
	}

	ident, err := scanIdentity(s.pool.QueryRow(ctx, `
		insert into public.identities (email, password_hash, confirmed, confirmed_at, metadata, created_at)
		values ($1, $2, $3, $4, $5::jsonb, $6)
		returning `+identityColumns,
		email, hash, confirmed, confirmedAt, encodeMap(meta), now,
	))
	if err != nil {
		return model.Identity{}, err
	}
	return *ident, nil
}

func (s *Store) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	return scanIdentity(s.pool.QueryRow(ctx, `
		select `+identityColumns+`
		from public.identities
		where id = $1::uuid
	`, id))
}

func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return scanIdentity(s.pool.QueryRow(ctx, `
		select `+identityColumns+`
		from public.identities
		where lower(email) = lower($1)
	`, strings.TrimSpace(email)))
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `delete from public.identities where id = $1::uuid`, id)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ConfirmIdentity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		update public.identities
		set confirmed = true,
		    confirmed_at = coalesce(confirmed_at, $2)
		where id = $1::uuid
	`, id, s.now())
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetPassword(ctx context.Context, id, password string) error {
	if password == "" {
		return errors.New("password_required")
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		update public.identities
		set password_hash = $2
		where id = $1::uuid
	`, id, hash)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) VerifyPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	ident, err := s.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrInvalidCredentials
		}
		return nil, err
	}
	if !security.CheckPassword(ident.PasswordHash, password) {
		return nil, store.ErrInvalidCredentials
	}
	if !ident.Confirmed {
		return nil, store.ErrNotConfirmed
	}
	return ident, nil
}

func (s *Store) ListUnconfirmedIdentities(ctx context.Context, createdBefore time.Time, limit int) ([]model.Identity, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		select `+identityColumns+`
		from public.identities
		where confirmed = false
		  and created_at < $1
		order by created_at asc
		limit $2
	`, createdBefore, limit)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ident)
	}
	return out, rows.Err()
}

func (s *Store) CountIdentities(ctx context.Context) (int, int, error) {
	var total, unconfirmed int
	err := s.pool.QueryRow(ctx, `
		select count(*), count(*) filter (where confirmed = false)
		from public.identities
	`).Scan(&total, &unconfirmed)
	if err != nil {
		return 0, 0, mapPgErr(err)
	}
	return total, unconfirmed, nil
}
