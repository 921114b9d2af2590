package extension

import (
	"time"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/plugin"
	"github.com/xraph/coffer/store"
)

// Option configures the Coffer Forge extension.
type Option func(*Extension)

// WithStore sets the store for the coffer engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithCofferOption passes a coffer.Option through to the underlying engine.
func WithCofferOption(opt coffer.Option) Option {
	return func(e *Extension) {
		e.cofferOpts = append(e.cofferOpts, opt)
	}
}

// WithPlugin registers a coffer plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.cofferOpts = append(e.cofferOpts, coffer.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithCatalogFile loads plans, effects and instruments from path.
func WithCatalogFile(path string) Option {
	return func(e *Extension) { e.config.CatalogFile = path }
}

// WithSigningKey sets the transaction signing key.
func WithSigningKey(key string) Option {
	return func(e *Extension) { e.config.SigningKey = key }
}

// WithEffectSweepInterval sets how often expired effects are pruned.
func WithEffectSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.EffectSweepInterval = d }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
