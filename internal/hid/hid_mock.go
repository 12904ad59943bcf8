package hid

import (
	"errors"
	"sync"
	"time"
)

// ErrMockBusy simulates the OS refusing exclusive access to a handle.
var ErrMockBusy = errors.New("device busy")

// MockBackend is an in-memory Backend for tests. Devices are added and
// removed by the test to simulate hot-plug.
type MockBackend struct {
	mu      sync.Mutex
	devices map[string]*MockDevice
	infos   map[string]Info
	order   []string
	busy    map[string]bool
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		devices: make(map[string]*MockDevice),
		infos:   make(map[string]Info),
		busy:    make(map[string]bool),
	}
}

// Plug attaches a device to the simulated bus and returns its handle-side
// mock so the test can script reads and writes.
func (b *MockBackend) Plug(info Info) *MockDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev := NewMockDevice()
	b.devices[info.Path] = dev
	if _, ok := b.infos[info.Path]; !ok {
		b.order = append(b.order, info.Path)
	}
	b.infos[info.Path] = info
	return dev
}

// Unplug removes a device from the simulated bus. Open handles start
// failing their I/O.
func (b *MockBackend) Unplug(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if dev, ok := b.devices[path]; ok {
		dev.Detach()
	}
	delete(b.devices, path)
	delete(b.infos, path)
	for i, p := range b.order {
		if p == path {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// SetBusy makes Open fail with ErrMockBusy for the given path.
func (b *MockBackend) SetBusy(path string, busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy[path] = busy
}

func (b *MockBackend) Enumerate() ([]Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Info, 0, len(b.order))
	for _, p := range b.order {
		out = append(out, b.infos[p])
	}
	return out, nil
}

func (b *MockBackend) Open(path string) (Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy[path] {
		return nil, ErrMockBusy
	}
	dev, ok := b.devices[path]
	if !ok {
		return nil, errors.New("no such device")
	}
	return dev, nil
}

// MockDevice is the handle side of a plugged mock device.
type MockDevice struct {
	mu       sync.Mutex
	inbox    chan []byte
	written  [][]byte
	detached bool

	// WriteErrAt fails the Nth write (1-based) and every one after it
	// when set. Zero disables the fault.
	WriteErrAt int
	writes     int
}

func NewMockDevice() *MockDevice {
	return &MockDevice{inbox: make(chan []byte, 64)}
}

// EmitReport queues an input report for the reader side.
func (d *MockDevice) EmitReport(p []byte) {
	buf := make([]byte, len(p))
	copy(buf, p)
	d.inbox <- buf
}

// Detach makes all subsequent I/O fail, as a removed USB device would.
func (d *MockDevice) Detach() {
	d.mu.Lock()
	d.detached = true
	d.mu.Unlock()
}

// Written returns every report written so far.
func (d *MockDevice) Written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.written))
	copy(out, d.written)
	return out
}

func (d *MockDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detached {
		return 0, errors.New("device detached")
	}
	d.writes++
	if d.WriteErrAt > 0 && d.writes >= d.WriteErrAt {
		return 0, errors.New("write failed")
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	d.written = append(d.written, buf)
	return len(p), nil
}

func (d *MockDevice) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	detached := d.detached
	d.mu.Unlock()
	if detached {
		return 0, errors.New("device detached")
	}
	select {
	case buf := <-d.inbox:
		return copy(p, buf), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (d *MockDevice) Close() error {
	return nil
}
