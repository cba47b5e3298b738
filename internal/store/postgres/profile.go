package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/store"

	"github.com/jackc/pgx/v5"
)

const profileColumns = `id::text, email, username, first_name, last_name, full_name, mobile_number,
	street_address, building_number, city, state, country, county, zipcode,
	is_admin, created_at, updated_at`

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	if err := row.Scan(
		&p.ID,
		&p.Email,
		&p.Username,
		&p.FirstName,
		&p.LastName,
		&p.FullName,
		&p.MobileNumber,
		&p.StreetAddress,
		&p.BuildingNumber,
		&p.City,
		&p.State,
		&p.Country,
		&p.County,
		&p.Zipcode,
		&p.IsAdmin,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapPgErr(err)
	}
	return &p, nil
}

func (s *Store) InsertProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	if strings.TrimSpace(p.ID) == "" {
		return model.Profile{}, errors.New("id_required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}

	out, err := scanProfile(s.pool.QueryRow(ctx, `
		insert into public.profiles (
			id, email, username, first_name, last_name, full_name, mobile_number,
			street_address, building_number, city, state, country, county, zipcode,
			is_admin, created_at, updated_at
		)
		values ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		returning `+profileColumns,
		p.ID, p.Email, p.Username, p.FirstName, p.LastName, p.FullName, p.MobileNumber,
		p.StreetAddress, p.BuildingNumber, p.City, p.State, p.Country, p.County, p.Zipcode,
		p.IsAdmin, p.CreatedAt,
	))
	if err != nil {
		return model.Profile{}, err
	}
	return *out, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return scanProfile(s.pool.QueryRow(ctx, `
		select `+profileColumns+`
		from public.profiles
		where id = $1::uuid
	`, id))
}

func (s *Store) FindProfile(ctx context.Context, field model.Field, value string) (*model.Profile, error) {
	var where string
	switch field {
	case model.FieldUsername:
		where = `lower(username) = lower($1)`
	case model.FieldEmail:
		where = `lower(email) = lower($1)`
	case model.FieldMobileNumber:
		where = `mobile_number = $1`
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}

	return scanProfile(s.pool.QueryRow(ctx, `
		select `+profileColumns+`
		from public.profiles
		where `+where+`
		limit 1
	`, value))
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `delete from public.profiles where id = $1::uuid`, id)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListProfiles(ctx context.Context, f store.ProfileFilter) ([]model.Profile, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx, `
		select `+profileColumns+`
		from public.profiles
		where ($1::boolean is null or is_admin = $1)
		order by created_at asc
		limit $2
	`, f.IsAdmin, limit)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) CountProfiles(ctx context.Context) (int, int, error) {
	var total, admins int
	err := s.pool.QueryRow(ctx, `
		select count(*), count(*) filter (where is_admin)
		from public.profiles
	`).Scan(&total, &admins)
	if err != nil {
		return 0, 0, mapPgErr(err)
	}
	return total, admins, nil
}
