// Package session runs the full lifecycle of one connected device:
// connect, mode handshake, the three concurrent duties (event reading,
// keepalive, command serving), and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opendeck-tools/deckd/internal/catalog"
	"github.com/opendeck-tools/deckd/internal/hid"
	"github.com/opendeck-tools/deckd/internal/protocol"
	"github.com/opendeck-tools/deckd/internal/translate"
	"github.com/opendeck-tools/deckd/internal/transport"
	"github.com/opendeck-tools/deckd/internal/types"
)

// Host receives the notifications the core emits. Implementations must not
// block; slow consumers stall the device's read loop.
type Host interface {
	DeviceConnected(id types.Identity, kind catalog.Kind)
	DeviceDisconnected(id types.Identity)
	InputEvent(ev types.InputEvent)
}

// Config carries the session timing knobs.
type Config struct {
	KeepaliveInterval  time.Duration
	KeepaliveFailLimit int
	ReadTimeout        time.Duration
	DefaultBrightness  int
}

// DefaultConfig matches the behavior of the supported firmware.
func DefaultConfig() Config {
	return Config{
		KeepaliveInterval:  10 * time.Second,
		KeepaliveFailLimit: 2,
		ReadTimeout:        500 * time.Millisecond,
		DefaultBrightness:  50,
	}
}

type command struct {
	frames [][]byte
	reply  chan error
	// lenient write failures are reported to the submitter but do not
	// end the session by themselves; the keepalive loop applies its own
	// consecutive-failure policy.
	lenient bool
}

// Manager owns one device session. The transport handle is exclusively
// owned here; all writes funnel through the command loop so image chunk
// sequences and keepalive frames never interleave on the wire.
type Manager struct {
	cand     types.Candidate
	id       types.Identity
	instance uuid.UUID
	backend  hid.Backend
	codec    protocol.Codec
	host     Host
	cfg      Config
	logger   *zap.Logger
	onClosed func()

	cmds    chan *command
	closing chan struct{} // closed when teardown starts
	done    chan struct{} // closed after the handle is released
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	failOne sync.Once

	mu            sync.Mutex
	state         State
	tr            *transport.Session
	mode          int
	activeSince   time.Time
	lastKeepalive time.Time
	graceful      bool

	ignoredFrames atomic.Uint64
}

// New prepares a manager for a discovered candidate. Nothing is opened
// until Run.
func New(cand types.Candidate, id types.Identity, backend hid.Backend, host Host, cfg Config, logger *zap.Logger, onClosed func()) *Manager {
	instance := uuid.New()
	return &Manager{
		cand:     cand,
		id:       id,
		instance: instance,
		backend:  backend,
		codec:    protocol.ForVersion(cand.Kind.Version),
		host:     host,
		cfg:      cfg,
		logger: logger.With(
			zap.String("device", string(id)),
			zap.String("kind", cand.Kind.Tag),
			zap.String("session", instance.String())),
		onClosed: onClosed,
		cmds:     make(chan *command, 16),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateDisconnected,
	}
}

func (m *Manager) Identity() types.Identity { return m.id }
func (m *Manager) Kind() catalog.Kind       { return m.cand.Kind }
func (m *Manager) Path() string             { return m.cand.Path }

// Done is closed once teardown has finished and the OS handle is free to
// be reopened.
func (m *Manager) Done() <-chan struct{} { return m.done }

// GetStatus snapshots the session's soft state.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:         m.state,
		Mode:          m.mode,
		ActiveSince:   m.activeSince,
		LastKeepalive: m.lastKeepalive,
		IgnoredFrames: m.ignoredFrames.Load(),
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Run drives the session until teardown. The error reports why the
// connection attempt failed; a session that reached Active always returns
// nil and signals its end through onClosed.
func (m *Manager) Run(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	m.setState(StateConnecting)
	tr, err := transport.Open(m.backend, m.cand)
	if err != nil {
		// Busy handles are abandoned, not retried; the watcher will see
		// the device again on its next pass.
		m.setState(StateDisconnected)
		m.finish()
		if errors.Is(err, transport.ErrBusy) {
			m.logger.Warn("Device busy, abandoning attempt")
		} else {
			m.logger.Error("Connect failed", zap.Error(err))
		}
		return err
	}
	m.mu.Lock()
	m.tr = tr
	m.mu.Unlock()

	if err := m.handshake(ctx, tr); err != nil {
		m.setState(StateDisconnected)
		tr.Close()
		m.finish()
		m.logger.Error("Device init failed", zap.Error(err))
		return err
	}

	m.setState(StateActive)
	m.mu.Lock()
	m.activeSince = time.Now()
	m.mu.Unlock()
	m.logger.Info("Session active",
		zap.Int("keys", m.cand.Kind.Layout.Keys()),
		zap.Int("encoders", m.cand.Kind.Layout.Encoders))
	m.host.DeviceConnected(m.id, m.cand.Kind)

	m.wg.Add(3)
	go m.readLoop(ctx)
	go m.keepaliveLoop(ctx)
	go m.commandLoop(ctx)

	go m.reap(ctx)
	return nil
}

// handshake performs the software-mode handshake where the firmware needs
// it, then brings the panel to a known visual state. These writes happen
// before the command loop exists, so the single-writer rule holds.
func (m *Manager) handshake(ctx context.Context, tr *transport.Session) error {
	if m.cand.Kind.NeedsModeHandshake {
		m.setState(StateModeHandshake)
		if err := tr.WriteFrame(m.codec.SetModeFrame(protocol.SoftwareMode)); err != nil {
			return fmt.Errorf("set mode: %w", err)
		}
		m.mu.Lock()
		m.mode = protocol.SoftwareMode
		m.mu.Unlock()
		// The firmware drops commands arriving before it has switched.
		select {
		case <-time.After(m.cand.Kind.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := tr.WriteFrame(m.codec.BrightnessFrame(m.cfg.DefaultBrightness)); err != nil {
		return fmt.Errorf("initial brightness: %w", err)
	}
	if err := tr.WriteFrame(m.codec.ClearAllFrame()); err != nil {
		return fmt.Errorf("clear images: %w", err)
	}
	return nil
}

// fail starts teardown. The first reason wins; nil marks a graceful stop.
func (m *Manager) fail(reason error) {
	m.failOne.Do(func() {
		m.setState(StateClosing)
		m.mu.Lock()
		m.graceful = reason == nil
		m.mu.Unlock()
		if reason != nil {
			m.logger.Error("Session failed", zap.Error(reason))
		}
		close(m.closing)
		m.cancel()
	})
}

// Shutdown requests a graceful stop. Safe to call at any point and more
// than once; it does not wait — use Done for that.
func (m *Manager) Shutdown() {
	m.fail(nil)
}

// reap waits for the three duties, fails whatever is still queued, and
// releases the handle. Nothing of the session is visible after finish.
func (m *Manager) reap(ctx context.Context) {
	<-ctx.Done()
	m.fail(ctx.Err())
	m.wg.Wait()

	for {
		select {
		case cmd := <-m.cmds:
			cmd.reply <- types.ErrSessionClosed
			continue
		default:
		}
		break
	}

	m.mu.Lock()
	tr, graceful := m.tr, m.graceful
	m.mu.Unlock()
	if graceful {
		// Hand the panel back to the firmware. Best effort.
		if err := tr.WriteFrame(m.codec.DisconnectFrame()); err != nil {
			m.logger.Debug("Disconnect frame failed", zap.Error(err))
		}
	}
	if err := tr.Close(); err != nil {
		m.logger.Warn("Handle close failed", zap.Error(err))
	}
	m.setState(StateDisconnected)
	m.host.DeviceDisconnected(m.id)
	m.finish()
	m.logger.Info("Session finished")
}

func (m *Manager) finish() {
	if m.onClosed != nil {
		m.onClosed()
	}
	close(m.done)
}

// readLoop turns input reports into canonical events. Malformed frames
// are counted and dropped; a read error is fatal to the session.
func (m *Manager) readLoop(ctx context.Context) {
	defer m.wg.Done()
	for ctx.Err() == nil {
		frame, err := m.tr.ReadFrame(m.cfg.ReadTimeout)
		if err != nil {
			if ctx.Err() == nil {
				m.fail(fmt.Errorf("event read: %w", err))
			}
			return
		}
		if frame == nil {
			continue
		}
		raw, ok := m.codec.ParseEvent(frame)
		if !ok {
			m.ignoredFrames.Add(1)
			continue
		}
		ev, ok := translate.ToAbstract(m.cand.Kind, m.id, raw)
		if !ok {
			continue
		}
		m.host.InputEvent(ev)
	}
}

// keepaliveLoop writes a keepalive on a fixed interval; two consecutive
// failures end the session.
func (m *Manager) keepaliveLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := m.submitCmd(ctx, &command{
			frames:  [][]byte{m.codec.KeepaliveFrame()},
			reply:   make(chan error, 1),
			lenient: true,
		}); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			m.logger.Warn("Keepalive failed", zap.Int("consecutive", failures), zap.Error(err))
			if failures >= m.cfg.KeepaliveFailLimit {
				m.fail(fmt.Errorf("keepalive: %w", err))
				return
			}
			continue
		}
		failures = 0
		m.mu.Lock()
		m.lastKeepalive = time.Now()
		m.mu.Unlock()
	}
}

// commandLoop is the single writer of the transport once the session is
// active.
func (m *Manager) commandLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.cmds:
			var err error
			for _, frame := range cmd.frames {
				if err = m.tr.WriteFrame(frame); err != nil {
					break
				}
			}
			cmd.reply <- err
			if err != nil && !cmd.lenient {
				m.fail(fmt.Errorf("command write: %w", err))
				return
			}
		}
	}
}

func (m *Manager) submit(ctx context.Context, frames [][]byte) error {
	return m.submitCmd(ctx, &command{frames: frames, reply: make(chan error, 1)})
}

func (m *Manager) submitCmd(ctx context.Context, cmd *command) error {
	select {
	case m.cmds <- cmd:
	case <-m.closing:
		return types.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-m.closing:
		return types.ErrSessionClosed
	}
}

// SubmitImage writes one pre-encoded key image. The payload must already
// match the kind's spec for that key.
func (m *Manager) SubmitImage(ctx context.Context, canonical int, encoded []byte) error {
	raw, ok := translate.ToRawIndex(m.cand.Kind, canonical)
	if !ok {
		return fmt.Errorf("key %d: %w", canonical, types.ErrSizeMismatch)
	}
	return m.submit(ctx, m.codec.ImageFrames(raw, encoded))
}

// SubmitClearKey blanks one key.
func (m *Manager) SubmitClearKey(ctx context.Context, canonical int) error {
	raw, ok := translate.ToRawIndex(m.cand.Kind, canonical)
	if !ok {
		return fmt.Errorf("key %d: %w", canonical, types.ErrSizeMismatch)
	}
	return m.submit(ctx, [][]byte{m.codec.ClearKeyFrame(raw)})
}

// SubmitClearAll blanks the whole panel.
func (m *Manager) SubmitClearAll(ctx context.Context) error {
	return m.submit(ctx, [][]byte{m.codec.ClearAllFrame()})
}

// SubmitBrightness sets the backlight, clamped to 0..100.
func (m *Manager) SubmitBrightness(ctx context.Context, percent int) error {
	return m.submit(ctx, [][]byte{m.codec.BrightnessFrame(percent)})
}
