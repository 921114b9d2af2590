package coffer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/coffer/effect"
	"github.com/xraph/coffer/integrity"
	"github.com/xraph/coffer/plan"
	"github.com/xraph/coffer/plugin"
	"github.com/xraph/coffer/rarity"
	"github.com/xraph/coffer/store"
)

// Coffer is the credit economy engine. All balance and pool mutations go
// through its methods; each one is a single atomic unit on the store.
type Coffer struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	plans       *plan.Catalog
	effects     *effect.Registry
	instruments map[string]*rarity.Table
	signer      *integrity.Signer
	signingKey  []byte
	rng         rarity.Source
	now         func() time.Time

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex

	// Configuration
	conflictRetries     int
	effectSweepInterval time.Duration
	skipMigrate         bool

	optErrs []error
	tables  []*rarity.Table
}

// New creates a Coffer over s. It fails with ErrConfiguration when the
// plans, effect catalog or rarity tables are inconsistent.
func New(s store.Store, opts ...Option) (*Coffer, error) {
	c := &Coffer{
		store:               s,
		plugins:             plugin.NewRegistry(),
		logger:              slog.Default(),
		plans:               plan.DefaultCatalog(),
		effects:             effect.NewRegistry(),
		instruments:         make(map[string]*rarity.Table),
		now:                 time.Now,
		stopChan:            make(chan struct{}),
		conflictRetries:     1,
		effectSweepInterval: time.Minute,
	}

	for _, opt := range opts {
		opt(c)
	}
	if err := errors.Join(c.optErrs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	for _, tb := range c.tables {
		tb.ApplyDefaults()
		if err := tb.Validate(c.effects); err != nil {
			return nil, fmt.Errorf("%w: instrument %q: %w", ErrConfiguration, tb.InstrumentID, err)
		}
		if _, dup := c.instruments[tb.InstrumentID]; dup {
			return nil, fmt.Errorf("%w: duplicate instrument %q", ErrConfiguration, tb.InstrumentID)
		}
		c.instruments[tb.InstrumentID] = tb
	}

	if len(c.signingKey) == 0 {
		c.signingKey = make([]byte, 32)
		if _, err := rand.Read(c.signingKey); err != nil {
			return nil, fmt.Errorf("coffer: generate signing key: %w", err)
		}
		c.logger.Warn("no signing key configured; using an ephemeral key, signatures will not verify after restart")
	}
	signer, err := integrity.NewSigner(c.signingKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	c.signer = signer

	if c.rng == nil {
		src, err := rarity.NewSeededSource()
		if err != nil {
			return nil, fmt.Errorf("coffer: seed rng: %w", err)
		}
		c.rng = src
	}

	return c, nil
}

// Option configures a Coffer instance.
type Option func(*Coffer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coffer) {
		c.logger = logger
		c.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(c *Coffer) {
		if err := c.plugins.Register(p); err != nil {
			c.optErrs = append(c.optErrs, err)
		}
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(c *Coffer) {
		c.plugins.WithTimeout(d)
	}
}

// WithPlans replaces the default plan catalog.
func WithPlans(catalog *plan.Catalog) Option {
	return func(c *Coffer) {
		if catalog == nil {
			c.optErrs = append(c.optErrs, errors.New("nil plan catalog"))
			return
		}
		c.plans = catalog
	}
}

// WithEffects replaces the default effect catalog.
func WithEffects(r *effect.Registry) Option {
	return func(c *Coffer) {
		if r == nil {
			c.optErrs = append(c.optErrs, errors.New("nil effect registry"))
			return
		}
		c.effects = r
	}
}

// WithInstruments registers rarity tables. Tables are validated against the
// effect catalog when New returns.
func WithInstruments(tables ...*rarity.Table) Option {
	return func(c *Coffer) {
		c.tables = append(c.tables, tables...)
	}
}

// WithSigningKey sets the HMAC key used to stamp transactions.
func WithSigningKey(key []byte) Option {
	return func(c *Coffer) {
		c.signingKey = append([]byte(nil), key...)
	}
}

// WithRandSource replaces the draw source.
func WithRandSource(src rarity.Source) Option {
	return func(c *Coffer) {
		c.rng = src
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coffer) {
		c.now = now
	}
}

// WithConflictRetries sets how many times a unit that failed with
// ErrStorageConflict is re-run.
func WithConflictRetries(n int) Option {
	return func(c *Coffer) {
		if n >= 0 {
			c.conflictRetries = n
		}
	}
}

// WithEffectSweepInterval sets how often Start's sweeper prunes expired
// effects. Zero disables the sweeper.
func WithEffectSweepInterval(d time.Duration) Option {
	return func(c *Coffer) {
		c.effectSweepInterval = d
	}
}

// WithoutMigrate stops Start from migrating the store. Use it when the
// schema is managed out of band.
func WithoutMigrate() Option {
	return func(c *Coffer) {
		c.skipMigrate = true
	}
}

// Start migrates the store and begins background workers.
func (c *Coffer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if !c.skipMigrate {
		if err := c.store.Migrate(ctx); err != nil {
			return err
		}
	}

	c.plugins.EmitInit(ctx, c)

	if c.effectSweepInterval > 0 {
		c.wg.Add(1)
		go c.effectSweepWorker(context.WithoutCancel(ctx))
	}
	c.started = true

	c.logger.Info("coffer started",
		"plans", len(c.plans.List()),
		"instruments", len(c.instruments),
		"effects", len(c.effects.List()),
		"sweep_interval", c.effectSweepInterval,
		"conflict_retries", c.conflictRetries,
	)

	return nil
}

// Stop shuts down background workers, notifies plugins and closes the store.
func (c *Coffer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		close(c.stopChan)
		c.wg.Wait()
		c.started = false
	}

	c.plugins.EmitShutdown(context.Background())

	return c.store.Close()
}

// Store returns the underlying store.
func (c *Coffer) Store() store.Store { return c.store }

// Plans returns the plan catalog.
func (c *Coffer) Plans() *plan.Catalog { return c.plans }

// Effects returns the effect catalog.
func (c *Coffer) Effects() *effect.Registry { return c.effects }

// Instrument returns the rarity table for instrumentID.
func (c *Coffer) Instrument(instrumentID string) (*rarity.Table, error) {
	tb, ok := c.instruments[instrumentID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInstrumentNotFound, instrumentID)
	}
	return tb, nil
}

// clock returns the current time at storage precision.
func (c *Coffer) clock() time.Time {
	return c.now().UTC().Truncate(time.Millisecond)
}

// atomic runs fn as one unit, re-running it on storage conflicts. fn must
// reset any state it captures since it may run more than once.
func (c *Coffer) atomic(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt <= c.conflictRetries; attempt++ {
		err = c.store.Atomic(ctx, fn)
		if !IsRetryable(err) {
			return err
		}
		c.logger.Debug("storage conflict, retrying",
			"op", op,
			"attempt", attempt+1,
		)
	}
	return err
}

// effectSweepWorker prunes expired effects on a ticker.
func (c *Coffer) effectSweepWorker(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.effectSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if _, err := c.SweepExpiredEffects(ctx); err != nil {
				c.logger.Warn("effect sweep failed", "error", err)
			}
		}
	}
}
