//go:build !linux

package tundev

import (
	"errors"
	"net/netip"
)

// Device is an unsupported stand-in on non-Linux platforms; TUN
// creation in this engine relies on Linux's /dev/net/tun and TUNSETIFF.
type Device struct{}

func Open(name string, ip netip.Prefix) (*Device, error) {
	return nil, errors.ErrUnsupported
}

func (d *Device) LocalAddr() [4]byte    { return [4]byte{} }
func (d *Device) Recv(b []byte) (int, error) { return -1, errors.ErrUnsupported }
func (d *Device) Send(b []byte) error        { return errors.ErrUnsupported }
func (d *Device) Close() error               { return errors.ErrUnsupported }
func (d *Device) MTU() (int, error)          { return -1, errors.ErrUnsupported }
