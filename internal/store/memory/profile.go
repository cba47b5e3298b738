package memory

import (
	"context"
	"sort"
	"strings"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/store"
)

// sameValue applies the uniqueness rules of each field: username and email
// compare case-insensitively, mobile numbers exactly.
func sameValue(f model.Field, a, b string) bool {
	if f == model.FieldMobileNumber {
		return a == b
	}
	return strings.EqualFold(a, b)
}

func (s *Store) InsertProfile(_ context.Context, p model.Profile) (model.Profile, error) {
	if strings.TrimSpace(p.ID) == "" {
		return model.Profile{}, errWithCode("id_required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.ID]; ok {
		return model.Profile{}, &store.ConflictError{Field: "id", Constraint: "profiles_pkey"}
	}
	for _, existing := range s.profiles {
		for _, f := range model.UniqueFields {
			v := p.Value(f)
			if v != "" && sameValue(f, existing.Value(f), v) {
				return model.Profile{}, &store.ConflictError{Field: string(f), Constraint: "unique_" + string(f)}
			}
		}
	}

	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.ID] = p
	return p, nil
}

func (s *Store) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) FindProfile(_ context.Context, field model.Field, value string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.profiles {
		if sameValue(field, p.Value(field), value) {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteProfile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.profiles, id)
	return nil
}

func (s *Store) ListProfiles(_ context.Context, f store.ProfileFilter) ([]model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if f.IsAdmin != nil && p.IsAdmin != *f.IsAdmin {
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CountProfiles(_ context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	admins := 0
	for _, p := range s.profiles {
		if p.IsAdmin {
			admins++
		}
	}
	return len(s.profiles), admins, nil
}
