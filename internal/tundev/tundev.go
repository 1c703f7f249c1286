//go:build linux

// Package tundev opens a layer-3 TUN device and satisfies the
// engine.Interface contract (Send and LocalAddr), the one network
// handle the ingress driver and the engine share (§6, §5).
//
// It is grounded on the teacher package's internal.Tap, adapted from a
// layer-2 TAP (IFF_TAP, Ethernet framing) to a layer-3 TUN (IFF_TUN, no
// link-layer header at all) and moved from raw syscall.* calls to the
// typed golang.org/x/sys/unix Ifreq helpers.
package tundev

import (
	"errors"
	"fmt"
	"net/netip"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Device is an open /dev/net/tun handle bound to one TUN interface.
// Every frame read from or written to fd is a raw IPv4 datagram; the
// kernel adds no Ethernet header because the interface was created
// with IFF_NO_PI and IFF_TUN.
type Device struct {
	fd      int
	name    string
	localIP [4]byte
}

// Open creates (or attaches to) the named TUN interface and, when ip
// is valid, brings the link up and assigns ip to it via the "ip"
// command, same as the teacher's NewTap.
func Open(name string, ip netip.Prefix) (*Device, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening tun device: %w", err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun ifreq: %w", err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("creating tun interface: %w", err)
	}

	dev := &Device{fd: fd, name: name}
	if ip.IsValid() {
		if err := exec.Command("ip", "link", "set", "dev", name, "up").Run(); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("setting link up: %w", err)
		}
		if err := exec.Command("ip", "addr", "add", ip.String(), "dev", name).Run(); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("assigning address: %w", err)
		}
		dev.localIP = ip.Addr().As4()
	}
	return dev, nil
}

// LocalAddr returns the address assigned to the interface at Open
// time. It implements engine.Interface.
func (d *Device) LocalAddr() [4]byte { return d.localIP }

// Recv reads one raw IPv4 datagram into b, blocking until a packet is
// available, per the ingress driver's read loop (§5).
func (d *Device) Recv(b []byte) (int, error) {
	return unix.Read(d.fd, b)
}

// Send writes one raw IPv4 datagram to the interface. It implements
// flow.Sender (and transitively engine.Interface) so a *Device can be
// passed directly wherever the engine wants a Sender.
func (d *Device) Send(b []byte) error {
	n, err := unix.Write(d.fd, b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return errors.New("tundev: short write")
	}
	return nil
}

// Close releases the underlying file descriptor.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// MTU queries the kernel's current MTU for the interface.
func (d *Device) MTU() (int, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, fmt.Errorf("tundev socket: %w", err)
	}
	defer unix.Close(sock)

	ifr, err := unix.NewIfreq(d.name)
	if err != nil {
		return 0, err
	}
	if err := unix.IoctlIfreq(sock, unix.SIOCGIFMTU, ifr); err != nil {
		return 0, fmt.Errorf("querying mtu: %w", err)
	}
	return int(ifr.Uint32()), nil
}
