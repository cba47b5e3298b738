package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/notice"
	"mai-accounts/accountd/internal/otp"
	"mai-accounts/accountd/internal/store"
	"mai-accounts/accountd/internal/store/memory"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps the memory store to count lookups and inject faults.
type countingStore struct {
	*memory.Store

	mu               sync.Mutex
	findCalls        int
	skipPrecheck     bool
	insertErr        error
	deleteIdentErr   error
	deleteProfileErr error
	insertOTPErr     error
	lastIdentityID   string
}

func (s *countingStore) CreateIdentity(ctx context.Context, email, password string, confirmed bool, meta map[string]string) (model.Identity, error) {
	ident, err := s.Store.CreateIdentity(ctx, email, password, confirmed, meta)
	if err == nil {
		s.mu.Lock()
		s.lastIdentityID = ident.ID
		s.mu.Unlock()
	}
	return ident, err
}

func (s *countingStore) FindProfile(ctx context.Context, f model.Field, v string) (*model.Profile, error) {
	s.mu.Lock()
	s.findCalls++
	skip := s.skipPrecheck
	s.mu.Unlock()
	if skip {
		return nil, store.ErrNotFound
	}
	return s.Store.FindProfile(ctx, f, v)
}

func (s *countingStore) InsertProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	if s.insertErr != nil {
		return model.Profile{}, s.insertErr
	}
	return s.Store.InsertProfile(ctx, p)
}

func (s *countingStore) DeleteProfile(ctx context.Context, id string) error {
	if s.deleteProfileErr != nil {
		return s.deleteProfileErr
	}
	return s.Store.DeleteProfile(ctx, id)
}

func (s *countingStore) InsertOTP(ctx context.Context, rec model.OTPRecord) (model.OTPRecord, error) {
	if s.insertOTPErr != nil {
		return model.OTPRecord{}, s.insertOTPErr
	}
	return s.Store.InsertOTP(ctx, rec)
}

func (s *countingStore) DeleteIdentity(ctx context.Context, id string) error {
	if s.deleteIdentErr != nil {
		return s.deleteIdentErr
	}
	return s.Store.DeleteIdentity(ctx, id)
}

type mailbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *mailbox) Send(_ context.Context, destination, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[destination] = code
	return nil
}

func (m *mailbox) code(destination string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[destination]
}

// codeSeq makes the engine draw 100001, 100002, ... in order.
type codeSeq struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func (c *codeSeq) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.buf) < len(p) {
		c.n++
		c.buf = append(c.buf, 0, byte(c.n>>8), byte(c.n))
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

type staticAdmin struct{ password string }

func (a staticAdmin) Matches(u string) bool { return u == "admin" || u == "Admin" || u == "ADMIN" }

func (a staticAdmin) Authenticate(u, p, _ string) bool { return a.Matches(u) && p == a.password }

type harness struct {
	store   *countingStore
	mail    *mailbox
	notices *notice.Tracker
	orch    *Orchestrator
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   &countingStore{Store: memory.NewStore()},
		mail:    &mailbox{},
		notices: notice.NewTracker(notice.DefaultCooldown),
		now:     time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.store.SetClock(clock)

	logger, _ := test.NewNullLogger()
	v := NewValidator(h.store)
	prov := NewProvisioner(h.store, h.store, v, h.notices, nil, logger)
	engine := otp.NewEngine(h.store, h.mail, logger, otp.WithClock(clock), otp.WithNotices(h.notices), otp.WithRand(&codeSeq{}))
	h.orch = New(Deps{
		Credentials: h.store,
		Profiles:    h.store,
		Validator:   v,
		Provisioner: prov,
		OTP:         engine,
		Admin:       staticAdmin{password: "s3cret"},
		Log:         logger,
		Now:         clock,
	})
	return h
}

func alice() model.NewAccount {
	return model.NewAccount{
		Username:     "alice",
		Email:        "alice@x.com",
		Password:     "wonderland",
		FirstName:    "Alice",
		LastName:     "Liddell",
		MobileNumber: "+1000",
	}
}

func TestReservedUsernameSkipsStore(t *testing.T) {
	h := newHarness(t)
	v := NewValidator(h.store)

	for _, name := range []string{"admin", "ADMIN", " Admin "} {
		unique, err := v.CheckUnique(context.Background(), model.FieldUsername, name)
		require.NoError(t, err)
		assert.False(t, unique, name)
	}
	assert.Equal(t, 0, h.store.findCalls)
}

func TestValidatorExtraReserved(t *testing.T) {
	v := NewValidator(memory.NewStore(), "root")
	assert.True(t, v.IsReserved("ROOT"))
	assert.True(t, v.IsReserved("admin"))
	assert.False(t, v.IsReserved("alice"))
}

func TestCheckUniqueAgainstStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)

	cases := []struct {
		field  model.Field
		value  string
		unique bool
	}{
		{model.FieldUsername, "ALICE", false},
		{model.FieldUsername, "bob", true},
		{model.FieldEmail, "Alice@X.com", false},
		{model.FieldMobileNumber, "+1000", false},
		{model.FieldMobileNumber, "+2000", true},
	}
	for _, tc := range cases {
		unique, err := h.orch.Validator().CheckUnique(ctx, tc.field, tc.value)
		require.NoError(t, err)
		assert.Equal(t, tc.unique, unique, "%s=%s", tc.field, tc.value)
	}
}

func TestSignupAdminIsReserved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, name := range []string{"Admin", "admin", "ADMIN"} {
		acct := alice()
		acct.Username = name
		_, err := h.orch.Signup(ctx, acct)

		var de *DuplicateFieldError
		require.ErrorAs(t, err, &de)
		assert.True(t, de.Reserved)
		assert.ErrorIs(t, err, ErrDuplicateField)
		assert.Equal(t, MsgUsernameReserve, UserMessage(err))
	}

	total, _, _ := h.store.CountIdentities(ctx)
	assert.Equal(t, 0, total)
	profiles, _, _ := h.store.CountProfiles(ctx)
	assert.Equal(t, 0, profiles)
}

func TestSignupValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Signup(context.Background(), model.NewAccount{Email: "not-an-email", Password: "123"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	for _, f := range []string{"username", "email", "password", "firstName", "lastName", "mobileNumber"} {
		assert.Contains(t, ve.Fields, f)
	}
	assert.Equal(t, "validation_error", Code(err))
}

func TestSignupDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)

	cases := []struct {
		name string
		mod  func(*model.NewAccount)
		msg  string
	}{
		{"username", func(a *model.NewAccount) { a.Email = "b@x.com"; a.MobileNumber = "+2" }, MsgUsernameTaken},
		{"email", func(a *model.NewAccount) { a.Username = "bob"; a.MobileNumber = "+2" }, MsgEmailTaken},
		{"mobile", func(a *model.NewAccount) { a.Username = "bob"; a.Email = "b@x.com" }, MsgMobileTaken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acct := alice()
			tc.mod(&acct)
			_, err := h.orch.Signup(ctx, acct)
			assert.ErrorIs(t, err, ErrDuplicateField)
			assert.Equal(t, tc.msg, UserMessage(err))
		})
	}

	total, _, _ := h.store.CountIdentities(ctx)
	assert.Equal(t, 1, total)
}

func TestSignupLostRaceRollsBackIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)

	// The pre-check sees nothing, as if a concurrent signup got there
	// between the check and the write.
	h.store.skipPrecheck = true
	acct := alice()
	acct.Email = "alice2@x.com"
	acct.MobileNumber = "+3000"
	_, err = h.orch.Signup(ctx, acct)

	var de *DuplicateFieldError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, model.FieldUsername, de.Field)

	_, err = h.store.GetIdentityByEmail(ctx, "alice2@x.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSignupProfileStoreFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.insertErr = errors.New("connection reset by peer")

	_, err := h.orch.Signup(ctx, alice())
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, MsgCreateFailed, UserMessage(err))
	assert.NotContains(t, UserMessage(err), "connection reset")

	_, err = h.store.GetIdentityByEmail(ctx, "alice@x.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFailedCompensationRaisesNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.insertErr = errors.New("timeout")
	h.store.deleteIdentErr = errors.New("timeout")

	_, err := h.orch.Signup(ctx, alice())
	assert.ErrorIs(t, err, ErrStore)

	list := h.notices.List()
	require.Len(t, list, 1)
	assert.Equal(t, notice.TypeInconsistency, list[0].Type)
}

func TestSignupCodeStoreFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.insertOTPErr = errors.New("connection reset by peer")

	_, err := h.orch.Signup(ctx, alice())
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, MsgCreateFailed, UserMessage(err))
	assert.Empty(t, h.mail.code("alice@x.com"))

	id := h.store.lastIdentityID
	require.NotEmpty(t, id)
	_, err = h.store.GetProfile(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.store.GetIdentityByEmail(ctx, "alice@x.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.notices.List())

	// The same details sign up cleanly once the store recovers.
	h.store.insertOTPErr = nil
	_, err = h.orch.Signup(ctx, alice())
	require.NoError(t, err)
}

func TestSignupCodeFailureWithStuckProfileRaisesNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.insertOTPErr = errors.New("timeout")
	h.store.deleteProfileErr = errors.New("timeout")

	_, err := h.orch.Signup(ctx, alice())
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, MsgCreateFailed, UserMessage(err))

	id := h.store.lastIdentityID
	list := h.notices.List()
	require.Len(t, list, 1)
	assert.Equal(t, notice.TypeInconsistency, list[0].Type)
	assert.Equal(t, id, list[0].Subject)

	// The identity still goes; the orphaned profile is left for the operator.
	_, err = h.store.GetIdentityByEmail(ctx, "alice@x.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.store.GetProfile(ctx, id)
	assert.NoError(t, err)
}

func TestAliceScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", pending.Email)
	assert.Equal(t, h.now.Add(10*time.Minute), pending.ExpiresAt)

	_, err = h.orch.Login(ctx, LoginRequest{Username: "alice", Password: "wonderland"})
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Equal(t, MsgNotConfirmed, UserMessage(err))

	code := h.mail.code("alice@x.com")
	require.NotEmpty(t, code)
	ident, err := h.orch.VerifyOTP(ctx, "alice@x.com", code)
	require.NoError(t, err)
	assert.True(t, ident.Confirmed)
	assert.Equal(t, pending.IdentityID, ident.ID)

	_, err = h.orch.VerifyOTP(ctx, "alice@x.com", code)
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpired)
	assert.Equal(t, MsgInvalidOTP, UserMessage(err))

	res, err := h.orch.Login(ctx, LoginRequest{Username: "alice", Password: "wonderland"})
	require.NoError(t, err)
	assert.Equal(t, DashboardPath, res.Redirect)
	assert.False(t, res.Admin)
	assert.Equal(t, pending.IdentityID, res.Identity.ID)

	_, err = h.orch.Login(ctx, LoginRequest{Username: "alice", Password: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, MsgBadPassword, UserMessage(err))

	_, err = h.orch.Login(ctx, LoginRequest{Username: "carol", Password: "nope"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyAfterExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)

	h.now = h.now.Add(10*time.Minute + time.Second)
	_, err = h.orch.VerifyOTP(ctx, "alice@x.com", h.mail.code("alice@x.com"))
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpired)
}

func TestResendOTP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)
	first := h.mail.code("alice@x.com")

	err = h.orch.ResendOTP(ctx, "alice@x.com")
	assert.ErrorIs(t, err, otp.ErrTooManyRequests)

	h.now = h.now.Add(2 * time.Minute)
	require.NoError(t, h.orch.ResendOTP(ctx, "ALICE@x.com"))
	second := h.mail.code("alice@x.com")

	require.Equal(t, "100001", first)
	require.Equal(t, "100002", second)

	_, err = h.orch.VerifyOTP(ctx, "alice@x.com", first)
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpired)
	_, err = h.orch.VerifyOTP(ctx, "alice@x.com", second)
	require.NoError(t, err)

	// Unknown and confirmed emails are silently accepted.
	assert.NoError(t, h.orch.ResendOTP(ctx, "nobody@x.com"))
	h.now = h.now.Add(2 * time.Minute)
	assert.NoError(t, h.orch.ResendOTP(ctx, "alice@x.com"))
}

func verifiedAlice(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	_, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)
	_, err = h.orch.VerifyOTP(ctx, "alice@x.com", h.mail.code("alice@x.com"))
	require.NoError(t, err)
	h.now = h.now.Add(2 * time.Minute)
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	verifiedAlice(t, h)

	require.NoError(t, h.orch.ForgotPassword(ctx, " Alice@X.com "))
	code := h.mail.code("alice@x.com")
	require.NotEmpty(t, code)

	err := h.orch.ResetPassword(ctx, "alice@x.com", code, "abc")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "password")

	require.NoError(t, h.orch.ResetPassword(ctx, "alice@x.com", code, "looking-glass"))

	_, err = h.orch.Login(ctx, LoginRequest{Username: "alice", Password: "wonderland"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	res, err := h.orch.Login(ctx, LoginRequest{Username: "alice", Password: "looking-glass"})
	require.NoError(t, err)
	assert.Equal(t, DashboardPath, res.Redirect)

	err = h.orch.ResetPassword(ctx, "alice@x.com", code, "third-time")
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpired)
}

func TestForgotPasswordIsSilentForUnknownAndPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.NoError(t, h.orch.ForgotPassword(ctx, "nobody@x.com"))
	assert.Empty(t, h.mail.code("nobody@x.com"))

	_, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)
	signupCode := h.mail.code("alice@x.com")

	h.now = h.now.Add(2 * time.Minute)
	assert.NoError(t, h.orch.ForgotPassword(ctx, "alice@x.com"))
	assert.Equal(t, signupCode, h.mail.code("alice@x.com"))

	var ve *ValidationError
	assert.ErrorAs(t, h.orch.ForgotPassword(ctx, "  "), &ve)
}

func TestForgotPasswordCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	verifiedAlice(t, h)

	require.NoError(t, h.orch.ForgotPassword(ctx, "alice@x.com"))
	assert.ErrorIs(t, h.orch.ForgotPassword(ctx, "alice@x.com"), otp.ErrTooManyRequests)
}

func TestCodesAreBoundToTheirPurpose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)
	err = h.orch.ResetPassword(ctx, "alice@x.com", h.mail.code("alice@x.com"), "looking-glass")
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpired)

	ident, err := h.store.GetIdentityByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.False(t, ident.Confirmed)

	require.NoError(t, h.store.ConfirmIdentity(ctx, ident.ID))
	h.now = h.now.Add(2 * time.Minute)
	require.NoError(t, h.orch.ForgotPassword(ctx, "alice@x.com"))

	_, err = h.orch.VerifyOTP(ctx, "alice@x.com", h.mail.code("alice@x.com"))
	assert.ErrorIs(t, err, otp.ErrInvalidOrExpired)

	_, err = h.orch.Login(ctx, LoginRequest{Username: "alice", Password: "wonderland"})
	assert.NoError(t, err)
}

func TestResetForDeletedAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	verifiedAlice(t, h)

	ident, err := h.store.GetIdentityByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	require.NoError(t, h.orch.ForgotPassword(ctx, "alice@x.com"))
	code := h.mail.code("alice@x.com")
	require.NoError(t, h.store.Store.DeleteIdentity(ctx, ident.ID))

	err = h.orch.ResetPassword(ctx, "alice@x.com", code, "looking-glass")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyWithDeletedProfileIsActivationError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)
	require.NoError(t, h.store.DeleteProfile(ctx, pending.IdentityID))

	_, err = h.orch.VerifyOTP(ctx, "alice@x.com", h.mail.code("alice@x.com"))
	assert.ErrorIs(t, err, ErrActivation)
}

func TestAdminLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Login(ctx, LoginRequest{Username: "Admin", Password: "s3cret"})
	require.NoError(t, err)
	assert.True(t, res.Admin)
	assert.Equal(t, AdminPath, res.Redirect)
	assert.Nil(t, res.Identity)
	assert.Equal(t, 0, h.store.findCalls)

	_, err = h.orch.Login(ctx, LoginRequest{Username: "admin", Password: "guess"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAdminFlaggedProfileGetsAdminSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ident, err := h.store.CreateIdentity(ctx, "ops@x.com", "operator", true, nil)
	require.NoError(t, err)
	_, err = h.store.InsertProfile(ctx, model.Profile{ID: ident.ID, Username: "ops", Email: "ops@x.com", MobileNumber: "+9", IsAdmin: true})
	require.NoError(t, err)

	res, err := h.orch.Login(ctx, LoginRequest{Username: "ops", Password: "operator"})
	require.NoError(t, err)
	assert.True(t, res.Admin)
	assert.Equal(t, DashboardPath, res.Redirect)
}

func TestDeleteAccountAndClear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)
	bob := alice()
	bob.Username, bob.Email, bob.MobileNumber = "bob", "bob@x.com", "+2000"
	_, err = h.orch.Signup(ctx, bob)
	require.NoError(t, err)

	require.NoError(t, h.orch.DeleteAccount(ctx, a.IdentityID))
	assert.ErrorIs(t, h.orch.DeleteAccount(ctx, a.IdentityID), ErrUserNotFound)

	res, err := h.orch.ClearNonAdmin(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, res.Errors)

	stats, err := h.orch.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AccountStats{}, stats)
}

func TestPrunePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Signup(ctx, alice())
	require.NoError(t, err)

	n, err := h.orch.PrunePending(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.now = h.now.Add(25 * time.Hour)
	n, err = h.orch.PrunePending(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	total, _, _ := h.store.CountProfiles(ctx)
	assert.Equal(t, 0, total)
}

func TestUserMessageHidesStoreText(t *testing.T) {
	err := storeErr("get_identity", errors.New(`pq: relation "identities" does not exist`))
	assert.Equal(t, MsgGeneric, UserMessage(err))
	assert.Equal(t, "store_error", Code(err))
	assert.ErrorIs(t, err, ErrStore)
}
