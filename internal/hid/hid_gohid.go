package hid

import (
	"fmt"
	"time"

	gohid "github.com/sstallion/go-hid"
)

type gohidBackend struct{}

// NewBackend initializes the hidapi library and returns the OS backend.
func NewBackend() (Backend, error) {
	if err := gohid.Init(); err != nil {
		return nil, fmt.Errorf("hidapi init: %w", err)
	}
	return &gohidBackend{}, nil
}

// Release tears the hidapi library down. Call once at process exit, after
// every device handle has been closed.
func Release() error {
	return gohid.Exit()
}

func (b *gohidBackend) Enumerate() ([]Info, error) {
	var out []Info
	err := gohid.Enumerate(gohid.VendorIDAny, gohid.ProductIDAny, func(info *gohid.DeviceInfo) error {
		out = append(out, Info{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Serial:       info.SerialNbr,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
			UsagePage:    info.UsagePage,
			Usage:        info.Usage,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hid enumerate: %w", err)
	}
	return out, nil
}

func (b *gohidBackend) Open(path string) (Device, error) {
	dev, err := gohid.OpenPath(path)
	if err != nil {
		return nil, fmt.Errorf("hid open %s: %w", path, err)
	}
	return &gohidDevice{dev: dev}, nil
}

type gohidDevice struct {
	dev *gohid.Device
}

func (d *gohidDevice) Write(p []byte) (int, error) {
	return d.dev.Write(p)
}

func (d *gohidDevice) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	return d.dev.ReadWithTimeout(p, timeout)
}

func (d *gohidDevice) Close() error {
	return d.dev.Close()
}
