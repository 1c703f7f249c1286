// Package ingress implements the driver loop described in spec §5 and
// §9's concurrency extension: read one frame off the interface, hand
// it to the engine, repeat. Grounded on the teacher's
// examples/tap/main.go main loop shape (tap.Read / handle / tap.Write),
// generalized from that example's HTTP-queue relay to a direct call
// into engine.Engine.Action.
package ingress

import (
	"fmt"
	"log/slog"

	"github.com/soypat/tunflow/engine"
	"github.com/soypat/tunflow/internal/xlog"
)

// MTU is the read buffer size; spec §6 caps interface MTU at 1500.
const MTU = 1500

// Receiver is the one blocking read operation the loop needs from the
// interface. tundev.Device satisfies it.
type Receiver interface {
	Recv(buf []byte) (int, error)
}

// Loop runs the ingress driver until iface.Recv returns an error, which
// it wraps and returns to the caller (cmd/tunflowd's main) rather than
// calling os.Exit inside library code, per spec §7.
//
// cmds is optional (may be nil). When non-nil, it is drained with a
// non-blocking select between reads: this is the off-by-default
// concurrency extension spec §9 sketches, letting a test or an
// operator-facing command source queue Bind/Connect calls without the
// engine itself becoming safe for concurrent use — the drain still
// happens on this same driver goroutine.
func Loop(iface Receiver, eng *engine.Engine, cmds <-chan engine.Message, log xlog.Logger) error {
	buf := make([]byte, MTU)
	for {
		drainCommands(eng, cmds, log)

		n, err := iface.Recv(buf)
		if err != nil {
			return fmt.Errorf("ingress: reading frame: %w", err)
		}
		if n == 0 {
			continue
		}
		if err := eng.Action(buf[:n]); err != nil {
			return fmt.Errorf("ingress: handling frame: %w", err)
		}
		if eng.LastDrop != nil {
			log.Trace("ingress dropped frame", slog.String("reason", eng.LastDrop.Error()))
		}
	}
}

func drainCommands(eng *engine.Engine, cmds <-chan engine.Message, log xlog.Logger) {
	if cmds == nil {
		return
	}
	for {
		select {
		case msg := <-cmds:
			if err := eng.Control(msg); err != nil {
				log.Debug("ingress control failed", slog.String("error", err.Error()))
			}
		default:
			return
		}
	}
}
