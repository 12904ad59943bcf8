// Package hid abstracts the OS HID stack behind a small backend interface
// so the session and discovery layers can be exercised against an
// in-memory implementation in tests.
package hid

import "time"

// Info describes one enumerated HID interface.
type Info struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Serial       string
	Manufacturer string
	Product      string
	UsagePage    uint16
	Usage        uint16
}

// Device is an open HID handle capable of report I/O.
type Device interface {
	// Write sends one output report, report id included as the first
	// byte. Returns the number of bytes accepted by the OS.
	Write(p []byte) (int, error)
	// ReadWithTimeout reads one input report into p, returning 0 with a
	// nil error when the timeout elapses without data.
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// Backend enumerates and opens HID devices.
type Backend interface {
	Enumerate() ([]Info, error)
	Open(path string) (Device, error)
}
