package cli

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/config"
	"github.com/warp/fulfillment-engine/core"
	memstore "github.com/warp/fulfillment-engine/core/store"
	"github.com/warp/fulfillment-engine/engine"
	"github.com/warp/fulfillment-engine/lock"
	"github.com/warp/fulfillment-engine/logging"
	"github.com/warp/fulfillment-engine/store/sqlite"
	"github.com/warp/fulfillment-engine/tax"
	"github.com/warp/fulfillment-engine/taxclient"
)

// App is the wired engine plus everything that must be closed with it.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Store  core.TxStore
	Engine *engine.Engine

	closers []func() error
}

// NewApp loads configuration and wires the store, tax service, replay gate
// and engine.
func NewApp(ctx context.Context, opts *RootOptions) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return NewAppFromConfig(ctx, cfg)
}

func NewAppFromConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger}

	if cfg.InMemory() {
		app.Store = memstore.NewMemory()
	} else {
		s, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		app.Store = s
		app.closers = append(app.closers, s.Close)
	}

	taxes, err := newTaxService(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	var gate lock.Gate
	if cfg.Redis.Addr != "" {
		g, rdb, err := lock.NewRedisGate(ctx, lock.RedisConfig{
			Addr: cfg.Redis.Addr,
			Key:  cfg.Redis.LockKey,
			TTL:  cfg.Redis.LockTTL,
			Wait: cfg.Redis.LockWait,
		}, logger.Named("lock"))
		if err != nil {
			app.Close()
			return nil, err
		}
		gate = g
		app.closers = append(app.closers, rdb.Close)
	}

	app.Engine = engine.New(app.Store, engine.Options{
		TaxService: taxes,
		Rounding:   cfg.Rounding(),
		Gate:       gate,
		Logger:     logger,
	})

	logger.Info("engine wired",
		zap.Bool("in_memory", cfg.InMemory()),
		zap.String("database", cfg.Database.Path),
		zap.Bool("remote_tax", cfg.Tax.ServiceURL != ""),
		zap.Bool("redis_gate", gate != nil))
	return app, nil
}

func newTaxService(cfg *config.Config, logger *zap.Logger) (core.TaxService, error) {
	if cfg.Tax.ServiceURL != "" {
		return taxclient.New(taxclient.Config{
			BaseURL:         cfg.Tax.ServiceURL,
			Timeout:         cfg.Tax.Timeout,
			BreakerFailures: cfg.Tax.BreakerFailures,
		}, logger.Named("taxclient")), nil
	}
	rate, err := cfg.DefaultTaxRate()
	if err != nil {
		return nil, err
	}
	return tax.NewFlatRate(rate), nil
}

// Close releases resources in reverse wiring order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
