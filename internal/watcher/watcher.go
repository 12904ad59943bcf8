// Package watcher runs the discovery loop: enumerate the bus, match
// hardware against the catalog, spawn a session per new device and stop
// sessions whose device is gone.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opendeck-tools/deckd/internal/catalog"
	"github.com/opendeck-tools/deckd/internal/hid"
	"github.com/opendeck-tools/deckd/internal/registry"
	"github.com/opendeck-tools/deckd/internal/session"
	"github.com/opendeck-tools/deckd/internal/types"
)

// SpawnFunc starts a session for a discovered candidate and registers it
// under the given identity. onClosed must run exactly once when the
// session has fully torn down.
type SpawnFunc func(ctx context.Context, cand types.Candidate, id types.Identity, onClosed func()) error

// DefaultSpawner wires candidates into real session managers.
func DefaultSpawner(backend hid.Backend, reg *registry.Registry, host session.Host, cfg session.Config, logger *zap.Logger) SpawnFunc {
	return func(ctx context.Context, cand types.Candidate, id types.Identity, onClosed func()) error {
		m := session.New(cand, id, backend, host, cfg, logger, onClosed)
		if err := reg.Register(m); err != nil {
			return err
		}
		return m.Run(ctx)
	}
}

// Watcher polls the bus on a fixed interval. The platform HID library has
// no portable hot-plug notification, so enumeration diffing it is.
type Watcher struct {
	backend  hid.Backend
	reg      *registry.Registry
	spawn    SpawnFunc
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(backend hid.Backend, reg *registry.Registry, spawn SpawnFunc, interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		backend:  backend,
		reg:      reg,
		spawn:    spawn,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches the discovery loop. An immediate pass runs before the
// first tick so devices present at startup connect without delay.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("Discovery watcher started", zap.Duration("interval", w.interval))
	return nil
}

// Stop halts discovery. Running sessions are not touched; shutdown order
// is the lifecycle manager's business.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Discovery watcher stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Pass(ctx)
	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Pass(ctx)
		}
	}
}

// Pass runs one enumeration pass: spawn sessions for new candidates,
// stop sessions whose path has vanished. Idempotent under duplicate
// arrival reports.
func (w *Watcher) Pass(ctx context.Context) {
	infos, err := w.backend.Enumerate()
	if err != nil {
		w.logger.Error("Enumeration failed", zap.Error(err))
		return
	}

	seenPaths := make(map[string]bool)
	assigned := make(map[types.Identity]bool)

	for _, info := range infos {
		kind, ok := catalog.Classify(info.VendorID, info.ProductID)
		if !ok {
			// Unknown hardware on a shared bus is the normal case.
			continue
		}
		if info.UsagePage != catalog.UsagePage || info.Usage != catalog.Usage {
			// Same device, wrong interface.
			continue
		}
		if seenPaths[info.Path] {
			continue
		}
		seenPaths[info.Path] = true

		if _, ok := w.reg.ByPath(info.Path); ok {
			continue
		}

		id := w.allocIdentity(identityBase(kind, info.Serial), assigned)
		assigned[id] = true

		cand := types.Candidate{
			Path:      info.Path,
			Serial:    info.Serial,
			UsagePage: info.UsagePage,
			Usage:     info.Usage,
			Kind:      kind,
		}
		w.logger.Info("New candidate device",
			zap.String("device", string(id)),
			zap.String("kind", kind.Tag),
			zap.String("path", info.Path))

		deviceID := id
		if err := w.spawn(ctx, cand, id, func() { w.reg.Deregister(deviceID) }); err != nil {
			// Abandoned; the next pass will see the device again.
			w.logger.Warn("Session spawn failed",
				zap.String("device", string(id)), zap.Error(err))
		}
	}

	for _, s := range w.reg.List() {
		if !seenPaths[s.Path()] {
			w.logger.Info("Device gone, stopping session",
				zap.String("device", string(s.Identity())))
			s.Shutdown()
		}
	}
}

// identityBase derives the stable identity prefix for a unit. Kinds whose
// firmware reports one serial for every unit get the catalog's substitute
// serial instead of whatever the USB stack returned.
func identityBase(kind catalog.Kind, serial string) types.Identity {
	if kind.SharedSerial != "" {
		return types.Identity(fmt.Sprintf("%s-%s-%s", kind.Tag, kind.SharedSerial, kind.IDSuffix))
	}
	return types.Identity(fmt.Sprintf("%s-%s", kind.Tag, serial))
}

// allocIdentity resolves serial collisions deterministically: the first
// unit seen keeps the bare identity, later duplicates get an incrementing
// suffix. Re-running discovery over the same set in the same arrival
// order reproduces the same assignment.
func (w *Watcher) allocIdentity(base types.Identity, assigned map[types.Identity]bool) types.Identity {
	free := func(id types.Identity) bool {
		if assigned[id] {
			return false
		}
		_, taken := w.reg.Get(id)
		return !taken
	}
	if free(base) {
		return base
	}
	for n := 2; ; n++ {
		id := types.Identity(fmt.Sprintf("%s-%d", base, n))
		if free(id) {
			return id
		}
	}
}
