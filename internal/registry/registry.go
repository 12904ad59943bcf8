// Package registry is the process-wide table of live device sessions and
// the boundary through which host commands are routed to a device.
package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/opendeck-tools/deckd/internal/catalog"
	"github.com/opendeck-tools/deckd/internal/imaging"
	"github.com/opendeck-tools/deckd/internal/session"
	"github.com/opendeck-tools/deckd/internal/types"
)

// Session is the slice of a session manager the registry routes to.
type Session interface {
	Identity() types.Identity
	Kind() catalog.Kind
	Path() string
	GetStatus() session.Status
	Done() <-chan struct{}
	Shutdown()
	SubmitImage(ctx context.Context, canonical int, encoded []byte) error
	SubmitClearKey(ctx context.Context, canonical int) error
	SubmitClearAll(ctx context.Context) error
	SubmitBrightness(ctx context.Context, percent int) error
}

// Registry holds at most one session per identity. Lookups take a shared
// lock; register/deregister are exclusive.
type Registry struct {
	mu       sync.RWMutex
	sessions map[types.Identity]Session
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[types.Identity]Session),
		logger:   logger,
	}
}

// Register adds a session under its identity. A duplicate identity is a
// bug in discovery-side identity allocation.
func (r *Registry) Register(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.Identity()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("identity %q already registered", id)
	}
	r.sessions[id] = s
	r.logger.Info("Device registered",
		zap.String("device", string(id)),
		zap.String("kind", s.Kind().Tag),
		zap.Int("total", len(r.sessions)))
	return nil
}

// Deregister removes an identity. Removing an absent identity is a no-op;
// teardown paths may race with discovery.
func (r *Registry) Deregister(id types.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; !exists {
		return
	}
	delete(r.sessions, id)
	r.logger.Info("Device deregistered",
		zap.String("device", string(id)),
		zap.Int("total", len(r.sessions)))
}

// Get returns the session for an identity.
func (r *Registry) Get(id types.Identity) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ByPath finds the session bound to a HID path, used by discovery to
// match enumeration results against running sessions.
func (r *Registry) ByPath(path string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Path() == path {
			return s, true
		}
	}
	return nil, false
}

// Identities returns the registered identities.
func (r *Registry) Identities() []types.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Identity, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// List returns all registered sessions.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetImage serves a host set-image request: decode, validate against the
// key's spec, transform, encode, and hand the payload to the session. A
// missing device is routine for late-arriving commands, not exceptional.
func (r *Registry) SetImage(ctx context.Context, id types.Identity, canonical int, data []byte) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, types.ErrUnknownDevice)
	}
	kind := s.Kind()
	if canonical < 0 || canonical >= kind.Layout.Keys() {
		return fmt.Errorf("key %d of %d: %w", canonical, kind.Layout.Keys(), types.ErrSizeMismatch)
	}
	encoded, err := imaging.Render(catalog.ImageSpecOf(kind, canonical), data)
	if err != nil {
		return err
	}
	return s.SubmitImage(ctx, canonical, encoded)
}

// ClearImage blanks one key, or the whole panel when canonical is
// negative.
func (r *Registry) ClearImage(ctx context.Context, id types.Identity, canonical int) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, types.ErrUnknownDevice)
	}
	if canonical < 0 {
		return s.SubmitClearAll(ctx)
	}
	return s.SubmitClearKey(ctx, canonical)
}

// SetBrightness serves a host brightness request.
func (r *Registry) SetBrightness(ctx context.Context, id types.Identity, percent int) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, types.ErrUnknownDevice)
	}
	return s.SubmitBrightness(ctx, percent)
}
