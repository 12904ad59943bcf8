package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opendeck-tools/deckd/internal/catalog"
	"github.com/opendeck-tools/deckd/internal/hid"
	"github.com/opendeck-tools/deckd/internal/transport"
	"github.com/opendeck-tools/deckd/internal/types"
)

type recordingHost struct {
	connected    chan types.Identity
	disconnected chan types.Identity
	events       chan types.InputEvent
}

func newRecordingHost() *recordingHost {
	return &recordingHost{
		connected:    make(chan types.Identity, 4),
		disconnected: make(chan types.Identity, 4),
		events:       make(chan types.InputEvent, 16),
	}
}

func (h *recordingHost) DeviceConnected(id types.Identity, _ catalog.Kind) { h.connected <- id }
func (h *recordingHost) DeviceDisconnected(id types.Identity)              { h.disconnected <- id }
func (h *recordingHost) InputEvent(ev types.InputEvent)                    { h.events <- ev }

func testConfig() Config {
	return Config{
		KeepaliveInterval:  20 * time.Millisecond,
		KeepaliveFailLimit: 2,
		ReadTimeout:        20 * time.Millisecond,
		DefaultBrightness:  50,
	}
}

// plugN1 wires an Ajazz N1 onto a fresh mock bus.
func plugN1(t *testing.T) (*hid.MockBackend, *hid.MockDevice, types.Candidate) {
	t.Helper()
	kind, ok := catalog.Classify(catalog.VendorAjazz, 0x3007)
	if !ok {
		t.Fatal("N1 missing from catalog")
	}
	backend := hid.NewMockBackend()
	dev := backend.Plug(hid.Info{
		Path:      "mock/n1",
		VendorID:  kind.VendorID,
		ProductID: kind.ProductID,
		Serial:    "0001",
		UsagePage: catalog.UsagePage,
		Usage:     catalog.Usage,
	})
	cand := types.Candidate{
		Path:      "mock/n1",
		Serial:    "0001",
		UsagePage: catalog.UsagePage,
		Usage:     catalog.Usage,
		Kind:      kind,
	}
	return backend, dev, cand
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish in time")
	}
}

// Written frames carry the report id in byte 0; the opcode follows the
// five byte command prefix.
func opcodeOf(frame []byte) string {
	if len(frame) < 9 {
		return ""
	}
	return string(frame[6:9])
}

func TestHandshakeSequence(t *testing.T) {
	backend, dev, cand := plugN1(t)
	host := newRecordingHost()
	m := New(cand, "N1-0001", backend, host, testConfig(), zap.NewNop(), nil)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-host.connected:
	case <-time.After(time.Second):
		t.Fatal("no DeviceConnected notification")
	}

	m.Shutdown()
	waitClosed(t, m.Done())

	written := dev.Written()
	if len(written) < 4 {
		t.Fatalf("only %d frames written", len(written))
	}
	if got := opcodeOf(written[0]); got != "MOD" {
		t.Fatalf("first frame is %q, want mode handshake", got)
	}
	if written[0][0] != 0x00 {
		t.Error("report id byte missing")
	}
	if written[0][9] != 3 {
		t.Errorf("mode byte = %d, want 3", written[0][9])
	}
	if len(written[0]) != 1025 {
		t.Errorf("frame length = %d, want 1025", len(written[0]))
	}
	if got := opcodeOf(written[1]); got != "LIG" {
		t.Errorf("second frame is %q, want brightness", got)
	}
	if written[1][9] != 50 {
		t.Errorf("brightness = %d, want 50", written[1][9])
	}
	if got := opcodeOf(written[2]); got != "CLE" {
		t.Errorf("third frame is %q, want clear", got)
	}
	if written[2][9] != 0xff || written[2][10] != 0xff {
		t.Error("clear frame does not address all keys")
	}
	if got := opcodeOf(written[len(written)-1]); got != "DIS" {
		t.Errorf("last frame is %q, want disconnect on graceful stop", got)
	}

	select {
	case <-host.disconnected:
	case <-time.After(time.Second):
		t.Fatal("no DeviceDisconnected notification")
	}
}

func TestKeyEventReachesHost(t *testing.T) {
	backend, dev, cand := plugN1(t)
	host := newRecordingHost()
	m := New(cand, "N1-0001", backend, host, testConfig(), zap.NewNop(), nil)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer func() { m.Shutdown(); waitClosed(t, m.Done()) }()
	<-host.connected

	// Raw input 4 pressed; on the N1 that is canonical key 6.
	frame := make([]byte, 512)
	copy(frame, "ACK")
	frame[9] = 4
	frame[10] = 1
	dev.EmitReport(frame)

	select {
	case ev := <-host.events:
		if ev.Kind != types.InputKey || ev.Index != 6 || ev.Action != types.ActionDown {
			t.Errorf("event = %+v, want key 6 down", ev)
		}
		if ev.Device != "N1-0001" {
			t.Errorf("event device = %q", ev.Device)
		}
	case <-time.After(time.Second):
		t.Fatal("input event never surfaced")
	}
}

func TestMalformedFramesCounted(t *testing.T) {
	backend, dev, cand := plugN1(t)
	host := newRecordingHost()
	m := New(cand, "N1-0001", backend, host, testConfig(), zap.NewNop(), nil)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer func() { m.Shutdown(); waitClosed(t, m.Done()) }()
	<-host.connected

	junk := make([]byte, 512)
	copy(junk, "NAK")
	dev.EmitReport(junk)

	deadline := time.Now().Add(time.Second)
	for m.GetStatus().IgnoredFrames == 0 {
		if time.Now().After(deadline) {
			t.Fatal("junk frame was not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case ev := <-host.events:
		t.Fatalf("junk frame surfaced as %+v", ev)
	default:
	}
}

func TestKeepaliveFailuresCloseSession(t *testing.T) {
	backend, dev, cand := plugN1(t)
	host := newRecordingHost()
	closed := make(chan struct{})
	m := New(cand, "N1-0001", backend, host, testConfig(), zap.NewNop(), func() { close(closed) })

	// The handshake takes three writes; every write after it fails, so
	// the keepalive loop sees two consecutive failures and gives up.
	dev.WriteErrAt = 4

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-host.connected

	waitClosed(t, m.Done())
	select {
	case <-closed:
	default:
		t.Error("onClosed never ran")
	}
	if st := m.GetStatus().State; st != StateDisconnected {
		t.Errorf("final state = %q", st)
	}
	select {
	case <-host.disconnected:
	default:
		t.Error("no DeviceDisconnected after failure")
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	backend, _, cand := plugN1(t)
	host := newRecordingHost()
	m := New(cand, "N1-0001", backend, host, testConfig(), zap.NewNop(), nil)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-host.connected
	m.Shutdown()
	waitClosed(t, m.Done())

	if err := m.SubmitBrightness(context.Background(), 80); !errors.Is(err, types.ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}

func TestBusyDeviceAbandoned(t *testing.T) {
	backend, _, cand := plugN1(t)
	backend.SetBusy("mock/n1", true)
	host := newRecordingHost()
	m := New(cand, "N1-0001", backend, host, testConfig(), zap.NewNop(), nil)

	err := m.Run(context.Background())
	if !errors.Is(err, transport.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	waitClosed(t, m.Done())
	select {
	case id := <-host.connected:
		t.Errorf("busy device reported connected as %q", id)
	default:
	}
}

func TestSubmitImageChunks(t *testing.T) {
	backend, dev, cand := plugN1(t)
	host := newRecordingHost()
	m := New(cand, "N1-0001", backend, host, testConfig(), zap.NewNop(), nil)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-host.connected

	payload := make([]byte, 2500)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := m.SubmitImage(context.Background(), 6, payload); err != nil {
		t.Fatalf("SubmitImage: %v", err)
	}
	m.Shutdown()
	waitClosed(t, m.Done())

	var sawStart, chunks int
	for _, f := range dev.Written() {
		switch opcodeOf(f) {
		case "BAT":
			sawStart++
			// Canonical 6 sits at raw slot 4 on the N1; slot byte is
			// the raw input minus one.
			if f[13] != 3 {
				t.Errorf("announce slot = %d, want 3", f[13])
			}
		case "DAT":
			chunks++
		}
	}
	if sawStart != 1 {
		t.Errorf("announce frames = %d, want 1", sawStart)
	}
	// 2500 bytes at 1010 per chunk is three chunks.
	if chunks != 3 {
		t.Errorf("chunk frames = %d, want 3", chunks)
	}
}
