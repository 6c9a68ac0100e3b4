package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sevakpoints/internal/ledger"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("DAILY_ADD_CEILING", "")
	cfg := Load()

	require.NoError(t, cfg.Validate())
	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 8, p.CutoffHour)
	assert.Equal(t, 30, p.CutoffMinute)
	assert.Equal(t, 50, p.OnTimePoints)
	assert.Equal(t, 25, p.LatePoints)
	assert.Equal(t, 100, p.InitialPoints)
	assert.Zero(t, p.DailyAddCeiling)
	assert.Equal(t, ledger.Partition{First: 1, Last: 300}, p.IDs.Partitions[ledger.Male])
	assert.Equal(t, ledger.Partition{First: 301}, p.IDs.Partitions[ledger.Female])
	assert.Equal(t, 10, cfg.PointsStep)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ATTENDANCE_CUTOFF", "09:15")
	t.Setenv("DAILY_ADD_CEILING", "40")
	t.Setenv("DEVICE_MAX_SKEW", "6h")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("POINTS_LATE", "not-a-number")
	cfg := Load()

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 9, p.CutoffHour)
	assert.Equal(t, 15, p.CutoffMinute)
	assert.Equal(t, 40, p.DailyAddCeiling)
	assert.Equal(t, 25, p.LatePoints)
	assert.True(t, cfg.MigrateOnStart)

	clock, err := cfg.Clock()
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, clock.MaxSkew)
}

func TestPolicyUpperCasesPrefix(t *testing.T) {
	t.Setenv("SEVAK_ID_PREFIX", " sv ")
	cfg := Load()

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, "SV", p.IDs.Prefix)
	assert.Equal(t, "SV0001", p.IDs.Format(1))
}

func TestCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://admin.example.org, ,http://localhost:5173")
	cfg := Load()
	assert.Equal(t, []string{"https://admin.example.org", "http://localhost:5173"}, cfg.CORSOrigins)

	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	assert.Empty(t, Load().CORSOrigins)
}

func TestValidateAcceptsMemoryPair(t *testing.T) {
	cfg := Load()
	cfg.StoreBackend = "memory"
	cfg.QueueBackend = "memory"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	base := Load()

	cases := map[string]func(*App){
		"cutoff format":       func(a *App) { a.AttendanceCutoff = "half past eight" },
		"cutoff range":        func(a *App) { a.AttendanceCutoff = "25:00" },
		"zero award":          func(a *App) { a.PointsOnTime = 0 },
		"overlap":             func(a *App) { a.FemaleIDStart = 300 },
		"bad zone":            func(a *App) { a.EventTimezone = "Mars/Olympus" },
		"bad store":           func(a *App) { a.StoreBackend = "sqlite" },
		"bad queue":           func(a *App) { a.QueueBackend = "kafka" },
		"zero step":           func(a *App) { a.PointsStep = 0 },
		"dev key in prod":     func(a *App) { a.Env = "production"; a.JWTSigningKey = "dev-signing-secret-change" },
		"missing signing key": func(a *App) { a.JWTSigningKey = "" },
		"memory store with redis queue": func(a *App) {
			a.StoreBackend = "memory"
			a.QueueBackend = "redis"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
