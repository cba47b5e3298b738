package memory

import (
	"sync"
	"time"

	"mai-accounts/accountd/internal/model"
)

// Store keeps identities, profiles and OTP records in process memory.
// Every exported method takes the single mutex, which makes each call the
// same serialization point a database row lock would be.
type Store struct {
	mu sync.Mutex

	identities map[string]model.Identity
	profiles   map[string]model.Profile
	otps       []model.OTPRecord

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		identities: make(map[string]model.Identity),
		profiles:   make(map[string]model.Profile),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for created_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

type codeError string

func (e codeError) Error() string { return string(e) }

func errWithCode(code string) error { return codeError(code) }

func copyMeta(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
