package httpapi

import (
	"context"
	"net/http"
	"time"

	"mai-accounts/accountd/internal/account"
	"mai-accounts/accountd/internal/config"
	"mai-accounts/accountd/internal/metrics"
	"mai-accounts/accountd/internal/notice"
	"mai-accounts/accountd/internal/session"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Deps struct {
	Config   config.Config
	Accounts *account.Orchestrator
	Sessions *session.Manager
	Notices  *notice.Tracker
	Metrics  *metrics.Metrics
	// Health reports store reachability for /health.
	Health func(ctx context.Context) error
	Log    logrus.FieldLogger
	Now    func() time.Time
}

type Server struct {
	cfg      config.Config
	accounts *account.Orchestrator
	sessions *session.Manager
	notices  *notice.Tracker
	metrics  *metrics.Metrics
	health   func(ctx context.Context) error
	log      logrus.FieldLogger
	now      func() time.Time

	router *mux.Router
	bus    *eventBus
	tokens *tokenIssuer
}

func NewServer(d Deps) *Server {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Server{
		cfg:      d.Config,
		accounts: d.Accounts,
		sessions: d.Sessions,
		notices:  d.Notices,
		metrics:  d.Metrics,
		health:   d.Health,
		log:      d.Log.WithField("component", "httpapi"),
		now:      now,
		router:   mux.NewRouter(),
		bus:      newEventBus(),
		tokens:   newTokenIssuer(d.Config.JWTSecret, now),
	}

	s.sessions.SetOnActivity(func(sid string, at time.Time) {
		s.bus.PublishTo(sid, EventActivity, at)
	})
	if s.notices != nil {
		s.notices.OnRaise(func(n notice.Notice) {
			s.bus.Publish(EventNotice, n)
		})
	}

	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = s.recoverMiddleware(h)
	h = requestIDMiddleware(h)
	h = s.loggingMiddleware(h)
	return h
}

func (s *Server) registerRoutes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/verify-otp", s.handleVerifyOTP).Methods(http.MethodPost)
	r.HandleFunc("/resend-otp", s.handleResendOTP).Methods(http.MethodPost)
	r.HandleFunc("/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/reset-password", s.handleResetPassword).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/validate-field", s.handleValidateField).Methods(http.MethodPost)
	r.HandleFunc("/verification-status", s.handleVerificationStatus).Methods(http.MethodGet)

	r.HandleFunc("/admin/session", s.handleAdminSession).Methods(http.MethodGet)
	r.HandleFunc("/admin/session/activity", s.handleAdminActivity).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	admin.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	admin.HandleFunc("/notices", s.handleNoticesList).Methods(http.MethodGet)
	admin.HandleFunc("/notices/dismiss", s.handleNoticeDismiss).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}", s.handleDeleteAccount).Methods(http.MethodDelete)
	admin.HandleFunc("/clear-users", s.handleClearUsers).Methods(http.MethodPost)
}
