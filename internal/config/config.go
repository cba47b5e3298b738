package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mai-accounts/accountd/internal/logging"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          int    `yaml:"port"`
	DatabaseURL   string `yaml:"database_url"`
	RedisURL      string `yaml:"redis_url"`
	JWTSecret     string `yaml:"jwt_secret"`
	SessionSecret string `yaml:"session_secret"`
	SecureCookies bool   `yaml:"secure_cookies"`
	// Dev allows missing secrets; random ones are generated at startup.
	Dev bool `yaml:"dev"`

	Admin AdminConfig     `yaml:"admin"`
	OTP   OTPConfig       `yaml:"otp"`
	SMTP  SMTPConfig      `yaml:"smtp"`
	Purge PurgeConfig     `yaml:"purge"`
	Log   logging.Options `yaml:"log"`
}

type AdminConfig struct {
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	TOTPSecret   string        `yaml:"totp_secret"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type OTPConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	ResendCooldown time.Duration `yaml:"resend_cooldown"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	AppName  string `yaml:"app_name"`
}

func (c SMTPConfig) Enabled() bool { return strings.TrimSpace(c.Host) != "" }

type PurgeConfig struct {
	Interval     time.Duration `yaml:"interval"`
	OTPRetention time.Duration `yaml:"otp_retention"`
	PendingTTL   time.Duration `yaml:"pending_ttl"`
}

func Default() Config {
	return Config{
		Port: 8080,
		Admin: AdminConfig{
			Username:     "admin",
			IdleTimeout:  8 * time.Minute,
			PollInterval: 60 * time.Second,
		},
		OTP: OTPConfig{
			TTL:            10 * time.Minute,
			ResendCooldown: 60 * time.Second,
		},
		SMTP: SMTPConfig{
			Port:    587,
			AppName: "accountd",
		},
		Purge: PurgeConfig{
			Interval:     time.Hour,
			OTPRetention: 24 * time.Hour,
			PendingTTL:   7 * 24 * time.Hour,
		},
		Log: logging.Options{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load applies defaults, then the YAML file at path (if any, with ${VAR}
// expansion), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	num := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(dst *bool, key string) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	num(&c.Port, "ACCOUNTD_PORT")
	str(&c.DatabaseURL, "ACCOUNTD_DATABASE_URL", "DATABASE_URL")
	str(&c.RedisURL, "ACCOUNTD_REDIS_URL", "REDIS_URL")
	str(&c.JWTSecret, "ACCOUNTD_JWT_SECRET")
	str(&c.SessionSecret, "ACCOUNTD_SESSION_SECRET")
	flag(&c.SecureCookies, "ACCOUNTD_SECURE_COOKIES")
	flag(&c.Dev, "ACCOUNTD_DEV")

	str(&c.Admin.Username, "ACCOUNTD_ADMIN_USERNAME", "ADMIN_USERNAME")
	str(&c.Admin.Password, "ACCOUNTD_ADMIN_PASSWORD", "ADMIN_PASSWORD")
	str(&c.Admin.TOTPSecret, "ACCOUNTD_ADMIN_TOTP_SECRET", "ADMIN_TOTP_SECRET")
	dur(&c.Admin.IdleTimeout, "ACCOUNTD_ADMIN_IDLE_TIMEOUT")
	dur(&c.Admin.PollInterval, "ACCOUNTD_ADMIN_POLL_INTERVAL")

	dur(&c.OTP.TTL, "ACCOUNTD_OTP_TTL")
	dur(&c.OTP.ResendCooldown, "ACCOUNTD_OTP_RESEND_COOLDOWN")

	str(&c.SMTP.Host, "ACCOUNTD_SMTP_HOST", "SMTP_HOST")
	num(&c.SMTP.Port, "ACCOUNTD_SMTP_PORT")
	str(&c.SMTP.Username, "ACCOUNTD_SMTP_USERNAME", "SMTP_USERNAME")
	str(&c.SMTP.Password, "ACCOUNTD_SMTP_PASSWORD", "SMTP_PASSWORD")
	str(&c.SMTP.From, "ACCOUNTD_SMTP_FROM")
	str(&c.SMTP.AppName, "ACCOUNTD_APP_NAME")

	dur(&c.Purge.Interval, "ACCOUNTD_PURGE_INTERVAL")
	dur(&c.Purge.OTPRetention, "ACCOUNTD_OTP_RETENTION")
	dur(&c.Purge.PendingTTL, "ACCOUNTD_PENDING_TTL")

	str(&c.Log.Level, "ACCOUNTD_LOG_LEVEL")
	str(&c.Log.Format, "ACCOUNTD_LOG_FORMAT")
	str(&c.Log.File, "ACCOUNTD_LOG_FILE")

	return errors.Join(errs...)
}

// Validate rejects settings the service cannot run with. Secrets may be
// empty only in dev mode.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	for name, d := range map[string]time.Duration{
		"admin.idle_timeout":  c.Admin.IdleTimeout,
		"admin.poll_interval": c.Admin.PollInterval,
		"otp.ttl":             c.OTP.TTL,
		"purge.interval":      c.Purge.Interval,
		"purge.pending_ttl":   c.Purge.PendingTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.OTP.ResendCooldown < 0 {
		errs = append(errs, errors.New("otp.resend_cooldown must not be negative"))
	}
	if c.Purge.OTPRetention < 0 {
		errs = append(errs, errors.New("purge.otp_retention must not be negative"))
	}
	if !c.Dev {
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("jwt_secret is required outside dev mode"))
		}
		if c.SessionSecret == "" {
			errs = append(errs, errors.New("session_secret is required outside dev mode"))
		}
	}
	return errors.Join(errs...)
}

// FillDevSecrets generates random secrets for any that are empty and
// reports which ones it filled.
func (c *Config) FillDevSecrets() ([]string, error) {
	var filled []string
	for name, dst := range map[string]*string{
		"jwt_secret":     &c.JWTSecret,
		"session_secret": &c.SessionSecret,
	} {
		if *dst != "" {
			continue
		}
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		*dst = hex.EncodeToString(b)
		filled = append(filled, name)
	}
	return filled, nil
}

func (c Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}
