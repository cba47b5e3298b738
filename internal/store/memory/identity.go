package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/security"
	"mai-accounts/accountd/internal/store"
)

func (s *Store) CreateIdentity(_ context.Context, email, password string, confirmed bool, meta map[string]string) (model.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return model.Identity{}, errWithCode("email_required")
	}
	if password == "" {
		return model.Identity{}, errWithCode("password_required")
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return model.Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.identities {
		if strings.EqualFold(existing.Email, email) {
			return model.Identity{}, &store.ConflictError{Field: string(model.FieldEmail), Constraint: "identities_email_key"}
		}
	}

	now := s.now()
	id := model.Identity{
		ID:           newID(),
		Email:        email,
		PasswordHash: hash,
		Confirmed:    confirmed,
		Metadata:     copyMeta(meta),
		CreatedAt:    now,
	}
	if confirmed {
		id.ConfirmedAt = &now
	}
	s.identities[id.ID] = id
	return id, nil
}

func (s *Store) GetIdentity(_ context.Context, id string) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ident, nil
}

func (s *Store) GetIdentityByEmail(_ context.Context, email string) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.identityByEmailLocked(email)
}

func (s *Store) identityByEmailLocked(email string) (*model.Identity, error) {
	email = strings.TrimSpace(email)
	for _, ident := range s.identities {
		if strings.EqualFold(ident.Email, email) {
			return &ident, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.identities, id)
	return nil
}

func (s *Store) ConfirmIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	if !ident.Confirmed {
		now := s.now()
		ident.Confirmed = true
		ident.ConfirmedAt = &now
		s.identities[id] = ident
	}
	return nil
}

func (s *Store) SetPassword(_ context.Context, id, password string) error {
	if password == "" {
		return errWithCode("password_required")
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	ident.PasswordHash = hash
	s.identities[id] = ident
	return nil
}

func (s *Store) VerifyPassword(_ context.Context, email, password string) (*model.Identity, error) {
	s.mu.Lock()
	ident, err := s.identityByEmailLocked(email)
	s.mu.Unlock()
	if err != nil {
		return nil, store.ErrInvalidCredentials
	}

	if !security.CheckPassword(ident.PasswordHash, password) {
		return nil, store.ErrInvalidCredentials
	}
	if !ident.Confirmed {
		return nil, store.ErrNotConfirmed
	}
	return ident, nil
}

func (s *Store) ListUnconfirmedIdentities(_ context.Context, createdBefore time.Time, limit int) ([]model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Identity
	for _, ident := range s.identities {
		if !ident.Confirmed && ident.CreatedAt.Before(createdBefore) {
			out = append(out, ident)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountIdentities(_ context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unconfirmed := 0
	for _, ident := range s.identities {
		if !ident.Confirmed {
			unconfirmed++
		}
	}
	return len(s.identities), unconfirmed, nil
}
