package main

import (
	"context"
	"errors"
	"fmt"

	"mai-accounts/accountd/internal/account"
	"mai-accounts/accountd/internal/config"
	"mai-accounts/accountd/internal/metrics"
	"mai-accounts/accountd/internal/notice"
	"mai-accounts/accountd/internal/notify"
	"mai-accounts/accountd/internal/otp"
	"mai-accounts/accountd/internal/session"
	"mai-accounts/accountd/internal/store"
	"mai-accounts/accountd/internal/store/memory"
	"mai-accounts/accountd/internal/store/postgres"
	"mai-accounts/accountd/internal/store/redisotp"

	"github.com/sirupsen/logrus"
)

// app is the wired service graph shared by serve and the account commands.
type app struct {
	cfg      config.Config
	log      *logrus.Logger
	pg       *postgres.Store
	notices  *notice.Tracker
	metrics  *metrics.Metrics
	otp      *otp.Engine
	accounts *account.Orchestrator
	sessions *session.Manager
	checks   []func(context.Context) error
	closers  []func()
}

func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		notices: notice.NewTracker(notice.DefaultCooldown),
		metrics: metrics.New(),
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.NewStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres store: %w", err)
		}
		a.pg = pg
		st = pg
		a.closers = append(a.closers, pg.Close)
		a.checks = append(a.checks, pg.Ping)
		log.Info("using postgres store")
	} else {
		st = memory.NewStore()
		log.Warn("using memory store; accounts are lost on restart")
	}

	var otpStore store.OTPStore = st
	if cfg.RedisURL != "" {
		rs, err := redisotp.Open(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init redis otp store: %w", err)
		}
		otpStore = rs
		a.closers = append(a.closers, func() { _ = rs.Close() })
		a.checks = append(a.checks, rs.Ping)
		log.Info("using redis for verification codes")
	}

	var notifier notify.Notifier
	if cfg.SMTP.Enabled() {
		notifier = notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			AppName:  cfg.SMTP.AppName,
			CodeTTL:  cfg.OTP.TTL,
		})
	} else {
		notifier = notify.NewLog(log)
		log.Warn("smtp not configured; verification codes are written to the log")
	}

	a.otp = otp.NewEngine(otpStore, notifier, log,
		otp.WithTTL(cfg.OTP.TTL),
		otp.WithResendCooldown(cfg.OTP.ResendCooldown),
		otp.WithNotices(a.notices),
		otp.WithMetrics(a.metrics),
	)

	admin := session.NewStaticAdmin(cfg.Admin.Username, cfg.Admin.Password, cfg.Admin.TOTPSecret)
	if !admin.Enabled() {
		log.Warn("admin password not set; admin login is disabled")
	}

	validator := account.NewValidator(st, admin.Username())
	prov := account.NewProvisioner(st, st, validator, a.notices, a.metrics, log)
	a.accounts = account.New(account.Deps{
		Credentials: st,
		Profiles:    st,
		Validator:   validator,
		Provisioner: prov,
		OTP:         a.otp,
		Admin:       admin,
		Metrics:     a.metrics,
		Log:         log,
	})

	a.sessions = session.NewManager([]byte(cfg.SessionSecret), session.Options{
		IdleTimeout:  cfg.Admin.IdleTimeout,
		PollInterval: cfg.Admin.PollInterval,
		Secure:       cfg.SecureCookies,
		Metrics:      a.metrics,
	}, log)

	return a, nil
}

func (a *app) health(ctx context.Context) error {
	var errs []error
	for _, check := range a.checks {
		errs = append(errs, check(ctx))
	}
	return errors.Join(errs...)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
