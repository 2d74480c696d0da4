package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/stockly-app/stockly/internal/db"
	"github.com/stockly-app/stockly/internal/hooks"
	"github.com/stockly-app/stockly/internal/inventory"
	"github.com/stockly-app/stockly/internal/logging"
	"github.com/stockly-app/stockly/internal/output"
	stocksync "github.com/stockly-app/stockly/internal/sync"
	"github.com/stockly-app/stockly/internal/syncclient"
	"github.com/stockly-app/stockly/internal/syncconfig"
)

// errNotConfigured is returned by commands that need a server and API key.
var errNotConfigured = errors.New("no API key configured (run: stockly config set api_key <key>)")

// app bundles the config, store and logger most commands need.
type app struct {
	cfg    *syncconfig.Config
	loader *syncconfig.Loader
	store  *db.DB
	logger *slog.Logger
}

// loadConfig reads the config file selected by --config.
func loadConfig() (*syncconfig.Config, *syncconfig.Loader, error) {
	loader := syncconfig.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

func storeOptions(cfg *syncconfig.Config) []db.Option {
	opts := []db.Option{db.WithDeviceID(cfg.DeviceID)}
	if cfg.Mirror != "" {
		opts = append(opts, db.WithMedium(db.FileMedium{Path: cfg.Mirror}))
	}
	return opts
}

// openApp loads config and opens the existing store.
func openApp() (*app, error) {
	cfg, loader, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := loader.EnsureDeviceID(cfg); err != nil {
		return nil, err
	}
	store, err := db.Open(cfg.DataDir, storeOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		loader: loader,
		store:  store,
		logger: logging.New(os.Stderr, "text", logLevel),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) client() *syncclient.Client {
	return syncclient.New(a.cfg.ServerURL, a.cfg.APIKey, a.cfg.DeviceID)
}

func (a *app) syncConfig() stocksync.Config {
	return stocksync.Config{
		BatchSize:      a.cfg.BatchSize,
		MaxRetries:     a.cfg.MaxRetries,
		RetryDelay:     a.cfg.RetryDelay,
		Strategy:       a.cfg.Strategy,
		RequestTimeout: a.cfg.RequestTimeout,
		Tables:         a.cfg.Tables,
		BatchPush:      a.cfg.BatchPush,
	}
}

// engine builds a sync engine against the configured server.
func (a *app) engine() (*stocksync.Engine, error) {
	if !a.cfg.IsAuthenticated() {
		return nil, errNotConfigured
	}
	return stocksync.New(a.store, a.client(), a.syncConfig(), stocksync.WithLogger(a.logger))
}

// hooks builds the post-commit hook chain from config.
func (a *app) hooks() *hooks.Runner {
	hs := []hooks.Hook{
		&hooks.ActivityLog{Store: a.store},
		&hooks.LowStock{
			Store:     a.store,
			Threshold: int64(a.cfg.Hooks.LowStockThreshold),
			Logger:    a.logger,
			Notify: func(_ context.Context, al hooks.Alert) error {
				if jsonOutput {
					a.logger.Warn("low stock", "product_id", al.ProductID, "quantity", al.Quantity)
					return nil
				}
				if al.OutOfStock {
					output.Warning("%s (%s) is out of stock", al.Name, al.SKU)
				} else {
					output.Warning("%s (%s) is low: %d left, reorder level %d", al.Name, al.SKU, al.Quantity, al.Minimum)
				}
				return nil
			},
		},
	}
	if a.cfg.Hooks.WebhookURL != "" {
		hs = append(hs, hooks.NewWebhook(a.cfg.Hooks.WebhookURL, a.cfg.Hooks.WebhookSecret, a.cfg.DeviceID))
	}
	return hooks.NewRunner(hs, hooks.WithLogger(a.logger))
}

func (a *app) inventory() *inventory.Service {
	return inventory.New(a.store, a.hooks())
}

// errorCode maps an error to its structured output code.
func errorCode(err error) string {
	var integrity *db.IntegrityError
	switch {
	case errors.Is(err, errNotConfigured):
		return output.ErrCodeNotConfigured
	case errors.Is(err, db.ErrRowNotFound), errors.Is(err, db.ErrChangeNotFound), errors.Is(err, syncclient.ErrNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, inventory.ErrInsufficientStock):
		return output.ErrCodeOutOfStock
	case errors.As(err, &integrity):
		return output.ErrCodeConflict
	case errors.Is(err, syncclient.ErrUnauthorized), syncclient.IsTransient(err), errors.Is(err, stocksync.ErrAlreadySyncing):
		return output.ErrCodeSyncError
	}
	return output.ErrCodeDatabaseError
}

// fail reports err in the selected output mode and returns it.
func fail(err error) error {
	if jsonOutput {
		output.JSONError(errorCode(err), err.Error())
	} else {
		output.Error("%v", err)
	}
	return err
}

// invalid reports a usage problem and returns it as an error.
func invalid(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	if jsonOutput {
		output.JSONError(output.ErrCodeInvalidInput, err.Error())
	} else {
		output.Error("%v", err)
	}
	return err
}
