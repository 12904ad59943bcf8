// Package system wires the components together and owns startup and
// shutdown ordering.
package system

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/opendeck-tools/deckd/internal/api"
	"github.com/opendeck-tools/deckd/internal/config"
	"github.com/opendeck-tools/deckd/internal/hid"
	"github.com/opendeck-tools/deckd/internal/plugin"
	"github.com/opendeck-tools/deckd/internal/registry"
	"github.com/opendeck-tools/deckd/internal/session"
	"github.com/opendeck-tools/deckd/internal/watcher"
)

type LifecycleManager struct {
	config   *config.Config
	logger   *zap.Logger
	backend  hid.Backend
	reg      *registry.Registry
	client   *plugin.Client
	watcher  *watcher.Watcher
	api      *api.Server
	cancel   context.CancelFunc
	shutOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	backend, err := hid.NewBackend()
	if err != nil {
		return nil, err
	}

	reg := registry.New(logger)
	client := plugin.NewClient(cfg.Plugin.URL, cfg.Plugin.ReconnectInterval, reg, logger)

	sessCfg := session.Config{
		KeepaliveInterval:  cfg.Session.KeepaliveInterval,
		KeepaliveFailLimit: cfg.Session.KeepaliveFailLimit,
		ReadTimeout:        cfg.Session.ReadTimeout,
		DefaultBrightness:  cfg.Session.DefaultBrightness,
	}
	spawn := watcher.DefaultSpawner(backend, reg, client, sessCfg, logger)
	w := watcher.New(backend, reg, spawn, cfg.Discovery.PollInterval, logger)

	lm := &LifecycleManager{
		config:  cfg,
		logger:  logger,
		backend: backend,
		reg:     reg,
		client:  client,
		watcher: w,
	}
	if cfg.API.HTTPPort != 0 {
		lm.api = api.NewServer(cfg.API.HTTPPort, reg, logger)
	}
	return lm, nil
}

// Registry exposes the session table for tooling.
func (lm *LifecycleManager) Registry() *registry.Registry { return lm.reg }

// Start brings the system up: host link first so early devices can be
// announced, then discovery, then the optional status API.
func (lm *LifecycleManager) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	lm.client.Start(ctx)
	if err := lm.watcher.Start(ctx); err != nil {
		return err
	}
	if lm.api != nil {
		if err := lm.api.Start(); err != nil {
			return err
		}
	}
	lm.logger.Info("deckd started")
	return nil
}

// Shutdown drains the system: the watcher stops first so no new sessions
// spawn mid-teardown, then every session closes and releases its handle,
// then the host link and the HID library go down.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var err error
	lm.shutOnce.Do(func() {
		lm.logger.Info("Shutting down")

		lm.watcher.Stop()

		sessions := lm.reg.List()
		for _, s := range sessions {
			s.Shutdown()
		}
		for _, s := range sessions {
			select {
			case <-s.Done():
			case <-ctx.Done():
				err = ctx.Err()
				return
			}
		}

		if lm.cancel != nil {
			lm.cancel()
		}
		lm.client.Stop()
		if lm.api != nil {
			if apiErr := lm.api.Shutdown(ctx); apiErr != nil {
				lm.logger.Warn("Status API shutdown failed", zap.Error(apiErr))
			}
		}
		if relErr := hid.Release(); relErr != nil {
			lm.logger.Warn("HID library release failed", zap.Error(relErr))
		}
		lm.logger.Info("Shutdown complete")
	})
	return err
}
