//go:build linux

// Command tunflowd terminates TCP connections arriving on a TUN
// interface: it wires internal/tundev, engine.Engine and ingress.Loop
// together behind a small flag-parsed CLI, in the spirit of the
// teacher's examples/tap/main.go but with real flag.Parse instead of
// hoisted literal vars, since this binary is meant to be run, not just
// demonstrated.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/soypat/tunflow/engine"
	"github.com/soypat/tunflow/ingress"
	"github.com/soypat/tunflow/internal/tundev"
	"github.com/soypat/tunflow/internal/xlog"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tunflowd: " + err.Error())
		os.Exit(1)
	}
}

func run() error {
	var (
		flagIface = flag.String("iface", "tun0", "name of the TUN interface to create")
		flagAddr  = flag.String("addr", "192.168.10.1/24", "local address/prefix to assign the interface")
		flagBind  = flag.String("bind", "", "comma-separated list of TCP ports to accept passive opens on")
		flagTrace = flag.Bool("trace", false, "enable per-segment trace logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *flagTrace {
		level = slog.LevelDebug - 2 // internal.LevelTrace
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slogger := slog.New(handler)
	slog.SetDefault(slogger)
	log := xlog.Logger{Log: slogger}

	prefix, err := netip.ParsePrefix(*flagAddr)
	if err != nil {
		return fmt.Errorf("parsing -addr: %w", err)
	}

	dev, err := tundev.Open(*flagIface, prefix)
	if err != nil {
		return fmt.Errorf("opening tun device %q: %w", *flagIface, err)
	}
	defer dev.Close()

	eng := engine.New(dev, log)
	for _, port := range splitPorts(*flagBind) {
		if err := eng.Control(engine.Bind{Port: port}); err != nil {
			return fmt.Errorf("binding port %d: %w", port, err)
		}
		slogger.Info("listening", slog.Uint64("port", uint64(port)))
	}

	slogger.Info("tunflowd up", slog.String("iface", *flagIface), slog.String("addr", prefix.String()))
	return ingress.Loop(dev, eng, nil, log)
}

func splitPorts(csv string) []uint16 {
	if csv == "" {
		return nil
	}
	fields := strings.Split(csv, ",")
	ports := make([]uint16, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 16)
		if err != nil {
			continue
		}
		ports = append(ports, uint16(n))
	}
	return ports
}
