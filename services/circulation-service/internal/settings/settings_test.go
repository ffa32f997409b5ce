package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE", "memory")
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8090", s.Port)
	assert.Equal(t, 14*24*time.Hour, s.Policy.LoanPeriod)
	assert.Equal(t, 2*time.Hour, s.Policy.PickupGrace)
	assert.Equal(t, 7*24*time.Hour, s.Policy.HoldWindow)
	assert.Equal(t, 14, s.Policy.DefaultRenewalDays)
	assert.Equal(t, int64(25), s.Policy.FeePerDayCents)
	assert.Equal(t, 2*time.Minute, s.SweepInterval)
	assert.Equal(t, 120, s.RateLimitPerMinute)
	assert.True(t, s.RateLimitFailOpen)
	assert.Equal(t, 15*time.Second, s.RequestTimeout)
}

func TestRateLimiterFailClosed(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "false")
	t.Setenv("REQUEST_TIMEOUT", "5")
	s, err := Load("")
	require.NoError(t, err)
	assert.False(t, s.RateLimitFailOpen)
	assert.Equal(t, 5*time.Second, s.RequestTimeout)
}

func TestPostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/circulation")
	_, err = Load("")
	require.NoError(t, err)
}

func TestUnknownStoreRejected(t *testing.T) {
	t.Setenv("STORE", "sqlite")
	_, err := Load("")
	require.Error(t, err)
}

func TestFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loan_period: 504h
pickup_grace: 90m
fee_per_day_cents: 0
rate_limit_per_minute: 30
cors_origins:
  - https://library.example.org
`), 0o600))

	t.Setenv("STORE", "memory")
	t.Setenv("PICKUP_GRACE", "3h")
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 21*24*time.Hour, s.Policy.LoanPeriod)
	assert.Equal(t, 3*time.Hour, s.Policy.PickupGrace)
	assert.Equal(t, int64(0), s.Policy.FeePerDayCents)
	assert.Equal(t, 30, s.RateLimitPerMinute)
	assert.Equal(t, []string{"https://library.example.org"}, s.CORSOrigins)
}

func TestLoadReportsEveryBadValue(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("PORT", "http")
	t.Setenv("HOLD_WINDOW", "-1h")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "HOLD_WINDOW")
}

func TestConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hold_window: 72h\n"), 0o600))
	t.Setenv("STORE", "memory")
	t.Setenv("CIRCULATION_CONFIG", path)

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, s.Policy.HoldWindow)
}
