// Package extension provides the Forge extension adapter for Coffer.
//
// It implements the forge.Extension interface to integrate Coffer
// into a Forge application with DI registration and lifecycle management.
// The engine and its HTTP API server are both provided to the container.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.coffer" or "coffer" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/api"
	"github.com/xraph/coffer/config"
	"github.com/xraph/coffer/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "coffer"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Multi-tenant credit economy engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Coffer as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *coffer.Coffer
	server     *api.Server
	store      store.Store
	cofferOpts []coffer.Option
}

// New creates a new Coffer Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Coffer instance.
// This is nil until Register is called.
func (e *Extension) Engine() *coffer.Coffer { return e.engine }

// Server returns the HTTP API server for mounting by the host.
// This is nil until Register is called.
func (e *Extension) Server() *api.Server { return e.server }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		st, err := e.config.Store.OpenStore(context.Background())
		if err != nil {
			return fmt.Errorf("coffer: open store: %w", err)
		}
		e.store = st
	}

	opts, err := e.buildCofferOpts()
	if err != nil {
		return err
	}
	eng, err := coffer.New(e.store, opts...)
	if err != nil {
		return err
	}
	e.engine = eng
	e.server = api.NewServer(eng, nil)

	if err := vessel.Provide(fapp.Container(), func() (*coffer.Coffer, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	return vessel.Provide(fapp.Container(), func() (*api.Server, error) {
		return e.server, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("coffer: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("coffer: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildCofferOpts constructs coffer.Option values from the resolved config.
// Catalog-file options come first so scalar settings and pass-through
// options win.
func (e *Extension) buildCofferOpts() ([]coffer.Option, error) {
	var opts []coffer.Option

	if e.config.CatalogFile != "" {
		cfg, err := config.Load(e.config.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalogOpts, err := cfg.Options()
		if err != nil {
			return nil, err
		}
		opts = append(opts, catalogOpts...)
	}

	opts = append(opts,
		coffer.WithConflictRetries(e.config.ConflictRetries),
		coffer.WithEffectSweepInterval(e.config.EffectSweepInterval),
		coffer.WithPluginTimeout(e.config.PluginTimeout),
	)
	if e.config.SigningKey != "" {
		opts = append(opts, coffer.WithSigningKey([]byte(e.config.SigningKey)))
	}
	if e.config.DisableMigrate {
		opts = append(opts, coffer.WithoutMigrate())
	}

	return append(opts, e.cofferOpts...), nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("coffer: configuration is required but not found in config files; " +
				"ensure 'extensions.coffer' or 'coffer' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("coffer: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("catalog_file", e.config.CatalogFile),
		forge.F("store_driver", e.config.Store.Driver),
		forge.F("conflict_retries", e.config.ConflictRetries),
		forge.F("effect_sweep_interval", e.config.EffectSweepInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.coffer", "coffer"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("coffer: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("coffer: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = defaults.ConflictRetries
	}
	if cfg.EffectSweepInterval == 0 {
		cfg.EffectSweepInterval = defaults.EffectSweepInterval
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if yamlConfig.CatalogFile == "" {
		yamlConfig.CatalogFile = programmaticConfig.CatalogFile
	}
	if yamlConfig.SigningKey == "" {
		yamlConfig.SigningKey = programmaticConfig.SigningKey
	}
	if yamlConfig.ConflictRetries == 0 {
		yamlConfig.ConflictRetries = programmaticConfig.ConflictRetries
	}
	if yamlConfig.EffectSweepInterval == 0 {
		yamlConfig.EffectSweepInterval = programmaticConfig.EffectSweepInterval
	}
	if yamlConfig.PluginTimeout == 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}
	if yamlConfig.Store.Driver == "" {
		yamlConfig.Store = programmaticConfig.Store
	}

	return mergeWithDefaults(yamlConfig)
}
