// Package transport owns one open HID handle per device and moves whole
// fixed-size protocol frames across it. Retry policy lives above this
// layer, in the session manager.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opendeck-tools/deckd/internal/catalog"
	"github.com/opendeck-tools/deckd/internal/hid"
	"github.com/opendeck-tools/deckd/internal/types"
)

// Connection failures, fatal to one attempt but never to the process.
var (
	// ErrBusy: the OS denied exclusive access. The watcher will see the
	// device again on its next pass.
	ErrBusy = errors.New("device handle busy")
	// ErrUnsupported: the matched interface does not expose the vendor
	// control endpoint the protocol needs.
	ErrUnsupported = errors.New("interface does not speak the deck protocol")
)

// Report lengths per protocol generation, report id byte excluded.
func reportLens(v catalog.Version) (in, out int) {
	switch v {
	case catalog.V1:
		return 512, 512
	default:
		return 512, 1024
	}
}

// Session is the byte-oriented conduit to one open device. Writes must be
// externally serialized; reads may run concurrently with writes.
type Session struct {
	dev       hid.Device
	inLen     int
	outLen    int
	closeOnce sync.Once
	closeErr  error
}

// Open opens the candidate's HID path and prepares frame I/O sized for its
// protocol generation.
func Open(backend hid.Backend, cand types.Candidate) (*Session, error) {
	if cand.UsagePage != catalog.UsagePage || cand.Usage != catalog.Usage {
		return nil, fmt.Errorf("usage %04x:%02x: %w", cand.UsagePage, cand.Usage, ErrUnsupported)
	}
	dev, err := backend.Open(cand.Path)
	if err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("open %s: %w", cand.Path, ErrBusy)
		}
		return nil, fmt.Errorf("open %s: %w", cand.Path, err)
	}
	in, out := reportLens(cand.Kind.Version)
	return &Session{dev: dev, inLen: in, outLen: out}, nil
}

func isBusy(err error) bool {
	if errors.Is(err, hid.ErrMockBusy) {
		return true
	}
	// hidapi reports exclusive-access denials as plain strings.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "exclusive") ||
		strings.Contains(msg, "permission denied")
}

// FrameLen returns the outgoing frame size the codec must fill.
func (s *Session) FrameLen() int { return s.outLen }

// WriteFrame writes exactly one output report. A short write is a hard
// error; nothing at this layer retries.
func (s *Session) WriteFrame(frame []byte) error {
	if len(frame) != s.outLen {
		return fmt.Errorf("frame length %d, want %d", len(frame), s.outLen)
	}
	// Report id 0x00 goes in front of the payload.
	buf := make([]byte, 1+s.outLen)
	copy(buf[1:], frame)
	n, err := s.dev.Write(buf)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// ReadFrame blocks until an input report arrives or the timeout elapses.
// A timeout returns (nil, nil); an error means the transport is gone.
func (s *Session) ReadFrame(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, s.inLen)
	n, err := s.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}

// Close releases the OS handle. Idempotent; the OS refuses to reopen a
// handle that is still held, so this must complete before the identity can
// reconnect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.dev.Close()
	})
	return s.closeErr
}
