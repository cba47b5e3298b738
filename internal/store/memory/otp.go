package memory

import (
	"context"
	"strings"
	"time"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/store"
)

func (s *Store) InsertOTP(_ context.Context, rec model.OTPRecord) (model.OTPRecord, error) {
	rec.Email = strings.ToLower(strings.TrimSpace(rec.Email))
	if rec.Email == "" {
		return model.OTPRecord{}, errWithCode("email_required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = newID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.Payload = copyMeta(rec.Payload)
	s.otps = append(s.otps, rec)
	return rec, nil
}

func (s *Store) LatestOTP(_ context.Context, email string) (*model.OTPRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.OTPRecord
	for i := range s.otps {
		rec := s.otps[i]
		if rec.Email != email {
			continue
		}
		if latest == nil || !rec.CreatedAt.Before(latest.CreatedAt) {
			latest = &rec
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) DeleteUnusedOTPs(_ context.Context, email, keepID string) (int, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeOTPsLocked(func(r model.OTPRecord) bool {
		return r.Email == email && !r.Used && r.ID != keepID
	}), nil
}

func (s *Store) ConsumeOTP(_ context.Context, email, code string, now time.Time) (*model.OTPRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()

	match := -1
	for i, rec := range s.otps {
		if rec.Email != email || rec.Code != code || rec.Used || rec.Expired(now) {
			continue
		}
		if match == -1 || !rec.CreatedAt.Before(s.otps[match].CreatedAt) {
			match = i
		}
	}
	if match == -1 {
		return nil, store.ErrNotFound
	}

	s.otps[match].Used = true
	out := s.otps[match]
	out.Payload = copyMeta(out.Payload)
	return &out, nil
}

func (s *Store) DeleteOTPs(_ context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeOTPsLocked(func(r model.OTPRecord) bool { return r.Email == email })
	return nil
}

func (s *Store) PurgeOTPsBefore(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeOTPsLocked(func(r model.OTPRecord) bool {
		return r.ExpiresAt.Before(before)
	}), nil
}

func (s *Store) removeOTPsLocked(drop func(model.OTPRecord) bool) int {
	kept := s.otps[:0]
	n := 0
	for _, rec := range s.otps {
		if drop(rec) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	s.otps = kept
	return n
}
