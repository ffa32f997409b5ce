// Package settings assembles the service configuration. Defaults are
// overlaid by an optional YAML policy file, which environment variables
// override in turn.
package settings

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/circulation/libs/config"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Settings struct {
	Port               string `validate:"required"`
	GRPCPort           string
	Store              string `validate:"oneof=postgres memory"`
	DatabaseURL        string `validate:"required_if=Store postgres"`
	KafkaBrokers       string
	RedisAddr          string
	JWTSecret          string
	CORSOrigins        []string
	SweepInterval      time.Duration `validate:"gt=0"`
	OutboxPollEvery    time.Duration `validate:"gt=0"`
	RateLimitPerMinute int           `validate:"gte=0"`
	// RateLimitFailOpen lets requests through when the limiter backend errors.
	RateLimitFailOpen  bool
	RequestTimeout     time.Duration `validate:"gt=0"`
	Policy             circulation.Policy
}

// File is the YAML policy document.
type File struct {
	LoanPeriod         time.Duration `yaml:"loan_period"`
	PickupGrace        time.Duration `yaml:"pickup_grace"`
	HoldWindow         time.Duration `yaml:"hold_window"`
	DefaultRenewalDays int           `yaml:"default_renewal_days"`
	MaxRenewalDays     int           `yaml:"max_renewal_days"`
	FeePerDayCents     *int64        `yaml:"fee_per_day_cents"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	RateLimitPerMinute *int          `yaml:"rate_limit_per_minute"`
	CORSOrigins        []string      `yaml:"cors_origins"`
}

func ReadFile(path string) (File, error) {
	var f File
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

func defaults() Settings {
	return Settings{
		Port:               "8090",
		Store:              StorePostgres,
		SweepInterval:      2 * time.Minute,
		OutboxPollEvery:    2 * time.Second,
		RateLimitPerMinute: 120,
		RateLimitFailOpen:  true,
		RequestTimeout:     15 * time.Second,
		Policy:             circulation.DefaultPolicy(),
	}
}

func (s *Settings) apply(f File) {
	if f.LoanPeriod > 0 {
		s.Policy.LoanPeriod = f.LoanPeriod
	}
	if f.PickupGrace > 0 {
		s.Policy.PickupGrace = f.PickupGrace
	}
	if f.HoldWindow > 0 {
		s.Policy.HoldWindow = f.HoldWindow
	}
	if f.DefaultRenewalDays > 0 {
		s.Policy.DefaultRenewalDays = f.DefaultRenewalDays
	}
	if f.MaxRenewalDays > 0 {
		s.Policy.MaxRenewalDays = f.MaxRenewalDays
	}
	if f.FeePerDayCents != nil {
		s.Policy.FeePerDayCents = *f.FeePerDayCents
	}
	if f.SweepInterval > 0 {
		s.SweepInterval = f.SweepInterval
	}
	if f.RateLimitPerMinute != nil {
		s.RateLimitPerMinute = *f.RateLimitPerMinute
	}
	if len(f.CORSOrigins) > 0 {
		s.CORSOrigins = f.CORSOrigins
	}
}

// Load builds the settings. configPath may be empty, in which case
// CIRCULATION_CONFIG is consulted.
func Load(configPath string) (Settings, error) {
	s := defaults()
	if configPath == "" {
		configPath = config.String("CIRCULATION_CONFIG", "")
	}
	if configPath != "" {
		f, err := ReadFile(configPath)
		if err != nil {
			return Settings{}, err
		}
		s.apply(f)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	s.Port, err = config.Port("PORT", s.Port)
	collect(err)
	if raw := config.String("GRPC_PORT", ""); raw != "" {
		s.GRPCPort, err = config.Port("GRPC_PORT", "")
		collect(err)
	}
	s.Store = config.String("STORE", s.Store)
	s.DatabaseURL = config.String("DATABASE_URL", "")
	s.KafkaBrokers = config.String("KAFKA_BROKERS", "")
	s.RedisAddr = config.String("REDIS_ADDR", "")
	s.JWTSecret = config.String("JWT_SECRET", "")
	if origins := config.List("CORS_ALLOWED_ORIGINS"); len(origins) > 0 {
		s.CORSOrigins = origins
	}

	s.Policy.LoanPeriod, err = config.Duration("LOAN_PERIOD", s.Policy.LoanPeriod)
	collect(err)
	s.Policy.PickupGrace, err = config.Duration("PICKUP_GRACE", s.Policy.PickupGrace)
	collect(err)
	s.Policy.HoldWindow, err = config.Duration("HOLD_WINDOW", s.Policy.HoldWindow)
	collect(err)
	s.Policy.DefaultRenewalDays, err = config.Int("DEFAULT_RENEWAL_DAYS", s.Policy.DefaultRenewalDays)
	collect(err)
	fee, err := config.Int("FEE_PER_DAY_CENTS", int(s.Policy.FeePerDayCents))
	collect(err)
	s.Policy.FeePerDayCents = int64(fee)
	s.SweepInterval, err = config.Duration("SWEEP_INTERVAL", s.SweepInterval)
	collect(err)
	s.OutboxPollEvery, err = config.Duration("OUTBOX_POLL_INTERVAL", s.OutboxPollEvery)
	collect(err)
	s.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", s.RateLimitPerMinute)
	collect(err)
	s.RateLimitFailOpen = config.Bool("RATE_LIMIT_FAIL_OPEN", s.RateLimitFailOpen)
	s.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", s.RequestTimeout)
	collect(err)

	if len(errs) > 0 {
		return Settings{}, errors.Join(errs...)
	}
	if err := validator.New().Struct(s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	if s.Policy.DefaultRenewalDays > s.Policy.MaxRenewalDays {
		return Settings{}, fmt.Errorf("DEFAULT_RENEWAL_DAYS (%d) exceeds max_renewal_days (%d)", s.Policy.DefaultRenewalDays, s.Policy.MaxRenewalDays)
	}
	return s, nil
}
