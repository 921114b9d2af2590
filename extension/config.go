package extension

import (
	"time"

	"github.com/xraph/coffer/config"
)

// Config holds the Coffer extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.coffer" or "coffer" keys).
type Config struct {
	// DisableMigrate stops the engine from migrating the store on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// CatalogFile is a coffer YAML or TOML file whose plans, effects and
	// instruments are loaded into the engine.
	CatalogFile string `json:"catalog_file" mapstructure:"catalog_file" yaml:"catalog_file"`

	// SigningKey is the HMAC key for transaction signatures.
	SigningKey string `json:"-" mapstructure:"signing_key" yaml:"signing_key"`

	// ConflictRetries is how often a unit hitting a storage conflict is
	// re-run (default: 1).
	ConflictRetries int `json:"conflict_retries" mapstructure:"conflict_retries" yaml:"conflict_retries"`

	// EffectSweepInterval is how often expired effects are pruned
	// (default: 1m).
	EffectSweepInterval time.Duration `json:"effect_sweep_interval" mapstructure:"effect_sweep_interval" yaml:"effect_sweep_interval"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// Store selects a backend when none was set with WithStore. An empty
	// driver means the in-memory store.
	Store config.StoreConfig `json:"store" mapstructure:"store" yaml:"store"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConflictRetries:     1,
		EffectSweepInterval: time.Minute,
		PluginTimeout:       5 * time.Second,
		Store:               config.StoreConfig{Driver: config.DriverMemory},
	}
}
