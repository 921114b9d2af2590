package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/store/memory"
	"github.com/xraph/coffer/types"
)

func TestLoadYAML(t *testing.T) {
	cfg, err := Load("testdata/coffer.yaml")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout, "defaults survive partial files")
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "test-signing-key", cfg.SigningKey)
	assert.Equal(t, 3, cfg.ConflictRetries)
	assert.Equal(t, 30*time.Second, cfg.EffectSweepInterval)
	require.Len(t, cfg.Plans, 3)
	assert.Equal(t, types.MustParseCredits("0.50"), cfg.Plans[1].OverageUnitCost)
	require.Len(t, cfg.Effects, 1)
	assert.Equal(t, 8*time.Hour, cfg.Effects[0].Duration)

	require.NoError(t, cfg.Validate())

	cat, err := cfg.Catalogs()
	require.NoError(t, err)
	require.Len(t, cat.Instruments, 1)
	tb := cat.Instruments[0]
	assert.Equal(t, "obsidian-wheel", tb.InstrumentID)
	assert.Equal(t, rarity.DefaultTierTotal, tb.TierTotal)
	assert.Equal(t, rarity.Rare, tb.WinFloor)
	assert.True(t, cat.Effects.Has("night_owl"))

	pro, ok := cat.Plans.Get("pro")
	require.True(t, ok)
	assert.Equal(t, int64(5000), pro.MonthlyAllowance)
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load("testdata/coffer.toml")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, int32(8), cfg.Store.MaxConns)
	require.NoError(t, cfg.Validate())

	cat, err := cfg.Catalogs()
	require.NoError(t, err)
	_, ok := cat.Plans.Get("team")
	assert.True(t, ok)
	_, ok = cat.Plans.Get("free")
	assert.False(t, ok, "configured plans replace the stock catalog")

	tb := cat.Instruments[0]
	assert.Equal(t, rarity.Uncommon, tb.WinFloor)
	rare, _ := tb.Spec(rarity.Rare)
	assert.Equal(t, 30*time.Minute, rare.Boons[0].Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COFFER_HTTP_ADDR", ":6060")
	t.Setenv("COFFER_STORE_DRIVER", "mongo")
	t.Setenv("COFFER_STORE_DSN", "mongodb://localhost:27017")
	t.Setenv("COFFER_SIGNING_KEY", "from-env")
	t.Setenv("COFFER_LOG_LEVEL", "warn")

	cfg, err := Load("testdata/coffer.yaml")
	require.NoError(t, err)

	assert.Equal(t, ":6060", cfg.HTTP.Addr)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Store.DSN)
	assert.Equal(t, "from-env", cfg.SigningKey)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvOverrideParseError(t *testing.T) {
	t.Setenv("COFFER_CONFLICT_RETRIES", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		body string
	}{
		{"unknown yaml key", ".yaml", "colour: blue\n"},
		{"unknown toml key", ".toml", "colour = \"blue\"\n"},
		{"bad credits", ".yaml", "plans:\n  - tier: x\n    overage_unit_cost: \"1.234\"\n"},
		{"unsupported format", ".ini", "addr=:80"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := Decode(strings.NewReader(tt.body), tt.ext, &cfg)
			if !errors.Is(err, coffer.ErrConfiguration) {
				t.Fatalf("err = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("testdata/coffer.yaml")
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, "unknown driver"},
		{"missing dsn", func(c *Config) { c.Store.DSN = "" }, "requires a dsn"},
		{"missing addr", func(c *Config) { c.HTTP.Addr = "" }, "addr is required"},
		{"negative retries", func(c *Config) { c.ConflictRetries = -1 }, "conflict_retries"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "unknown level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "unknown format"},
		{"duplicate plan", func(c *Config) { c.Plans = append(c.Plans, c.Plans[0]) }, "duplicate tier"},
		{"tier weights off", func(c *Config) { c.Instruments[0].Tiers[0].Weight++ }, "sum to 10001"},
		{"tier out of order", func(c *Config) {
			tiers := c.Instruments[0].Tiers
			tiers[0], tiers[1] = tiers[1], tiers[0]
		}, "want \"COMMON\""},
		{"missing tier", func(c *Config) {
			c.Instruments[0].Tiers = c.Instruments[0].Tiers[:4]
		}, "expected 5 tiers"},
		{"unknown tier name", func(c *Config) { c.Instruments[0].Tiers[4].Tier = "LEGENDARY" }, "unknown tier"},
		{"unknown effect boon", func(c *Config) { c.Effects = nil }, "night_owl"},
		{"duplicate instrument", func(c *Config) {
			c.Instruments = append(c.Instruments, c.Instruments[0])
		}, "duplicate instrument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, coffer.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, coffer.IsConfigurationError(err))
		})
	}
}

func TestOptionsBuildEngine(t *testing.T) {
	cfg, err := Load("testdata/coffer.yaml")
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)
	opts = append(opts, coffer.WithLogger(slog.New(slog.DiscardHandler)))

	eng, err := coffer.New(memory.New(), opts...)
	require.NoError(t, err)
	require.NotNil(t, eng)
}

func TestOpenStoreMemory(t *testing.T) {
	st, err := Default().Store.OpenStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Ping(context.Background()))
}

func TestOpenStoreSQLite(t *testing.T) {
	sc := StoreConfig{Driver: DriverSQLite, DSN: t.TempDir() + "/coffer.db"}
	st, err := sc.OpenStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := StoreConfig{Driver: "redis"}.OpenStore(context.Background())
	assert.ErrorIs(t, err, coffer.ErrConfiguration)
}

func TestLogger(t *testing.T) {
	var sb strings.Builder
	cfg := Default()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}

	logger := cfg.Logger(&sb)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := sb.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
}
