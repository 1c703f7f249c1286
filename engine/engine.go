// Package engine implements the connection demultiplexer described in
// spec §4.9: a flow table keyed by the 4-tuple, the set of listening
// local ports, and the two entrypoints — Action for inbound frames and
// Control for user commands — that the ingress driver and callers feed
// into it.
package engine

import (
	"errors"
	"log/slog"

	"github.com/soypat/tunflow/flow"
	"github.com/soypat/tunflow/header/ipv4"
	"github.com/soypat/tunflow/header/tcp"
	"github.com/soypat/tunflow/internal"
	"github.com/soypat/tunflow/internal/lrucache"
	"github.com/soypat/tunflow/internal/xlog"
	"github.com/soypat/tunflow/seqs"
)

// closedCacheSize bounds the recently-closed-quad cache (see Engine's
// closed field). It is a diagnostic aid, not a correctness mechanism,
// so its exact size is not load-bearing.
const closedCacheSize = 256

// ErrUnimplemented is returned by Control for Read and Write messages;
// the core does not define a user data API (§6).
var ErrUnimplemented = errors.New("engine: Read/Write are not implemented")

// DropReason is a typed cause for a silently-dropped inbound frame, in
// the same spirit as the teacher's *RejectError: a single concrete
// type so callers can compare against the sentinel values below with
// errors.Is instead of matching on a log string.
type DropReason struct{ reason string }

func (d *DropReason) Error() string { return "engine: dropped frame: " + d.reason }

func newDropReason(reason string) *DropReason { return &DropReason{reason: reason} }

var (
	errParseFailed             = newDropReason("malformed ipv4/tcp header")
	errNotTCP                  = newDropReason("ipv4 protocol is not tcp")
	errUnknownQuadNotListening = newDropReason("quad unknown and local port not listening")
	errPassiveOpenRejected     = newDropReason("passive open rejected")
)

// Interface is the one network handle the engine owns: a TUN adapter
// in production, a fake in tests. Send must accept a single complete
// IPv4 datagram; it satisfies flow.Sender directly.
type Interface interface {
	flow.Sender
	LocalAddr() [4]byte
}

// Message is any of the control message types Control accepts: Bind,
// Connect, Read or Write. It exists so callers that queue messages for
// the ingress driver (e.g. ingress.Loop's optional command channel)
// have a name for the contract instead of passing around bare `any`.
type Message = any

// Bind adds port to the set of ports accepting passive opens.
type Bind struct {
	Port uint16
}

// Connect initiates an active open to (RemoteIP, RemotePort) from
// LocalPort on the engine's own address.
type Connect struct {
	LocalPort  uint16
	RemoteIP   [4]byte
	RemotePort uint16
}

// Read and Write are reserved control messages; the core does not
// define a user data API (§6). Invoking them via Control always
// returns ErrUnimplemented.
type Read struct{}
type Write struct{}

// Engine owns the interface, the flow table keyed by 4-tuple, and the
// set of locally listening ports. It is not safe for concurrent use;
// Action and Control must be called from the single ingress loop
// thread (§5).
type Engine struct {
	flows     map[flow.Quad]*flow.Flow
	listening map[uint16]struct{}
	iface     Interface
	log       xlog.Logger

	// closed remembers the most recently evicted Closed quads. Nothing
	// in spec.md (or original_source/) defines a flow-table removal
	// policy for terminated connections; left unaddressed, flows would
	// accumulate in the live table forever. This engine resolves that
	// gap by dropping a flow from the table the instant it reaches
	// StateClosed and keeping only a small bounded trace of the quads
	// it recently closed, so a stray duplicate segment arriving right
	// after close is distinguishable in logs from a genuinely unknown
	// quad instead of silently vanishing.
	closed lrucache.Cache[flow.Quad, struct{}]

	// LastDrop records the DropReason of the most recent Action call
	// that discarded its frame, or nil if that call admitted it. It
	// exists so tests and diagnostics can assert on WHY a frame was
	// dropped (errors.Is against the package's sentinel DropReasons)
	// without string-matching log output.
	LastDrop error
}

// New constructs an Engine bound to iface. log may be the zero value,
// which discards all log output.
func New(iface Interface, log xlog.Logger) *Engine {
	return &Engine{
		flows:     make(map[flow.Quad]*flow.Flow),
		listening: make(map[uint16]struct{}),
		iface:     iface,
		log:       log,
		closed:    lrucache.New[flow.Quad, struct{}](closedCacheSize),
	}
}

// Flows returns the live flow table for inspection by callers and
// tests. The returned map must not be mutated.
func (e *Engine) Flows() map[flow.Quad]*flow.Flow { return e.flows }

// Control implements §4.9's control dispatcher.
func (e *Engine) Control(msg any) error {
	switch m := msg.(type) {
	case Bind:
		e.listening[m.Port] = struct{}{}
		e.log.Debug("bind", slog.Uint64("port", uint64(m.Port)))
		return nil
	case Connect:
		return e.connect(m)
	case Read, Write:
		return ErrUnimplemented
	default:
		return errors.New("engine: unrecognized control message")
	}
}

func (e *Engine) connect(m Connect) error {
	quad := flow.Quad{
		LocalIP:    e.iface.LocalAddr(),
		LocalPort:  m.LocalPort,
		RemoteIP:   m.RemoteIP,
		RemotePort: m.RemotePort,
	}
	if _, exists := e.flows[quad]; exists {
		return nil // §4.3 step 2: already open, no-op
	}
	f, err := flow.NewActiveOpen(quad, e.iface, e.log)
	if err != nil {
		return err
	}
	e.flows[quad] = f
	return nil
}

// Action implements §4.9's inbound dispatcher: parse, compose the
// quad, and either dispatch to a known flow or attempt a passive open.
// All protocol-level errors are absorbed as drops; only a send failure
// on the interface propagates (§7).
func (e *Engine) Action(buf []byte) error {
	e.LastDrop = nil
	ipf, err := ipv4.NewFrame(buf)
	if err != nil {
		e.drop(errParseFailed, err)
		return nil
	}
	if err := ipf.Validate(); err != nil {
		e.drop(errParseFailed, err)
		return nil
	}
	if ipf.Protocol() != ipv4.ProtoTCP {
		e.drop(errNotTCP, nil)
		return nil
	}
	tf, err := tcp.NewFrame(ipf.Payload())
	if err != nil {
		e.drop(errParseFailed, err)
		return nil
	}
	if hl := tf.HeaderLength(); hl < tcp.HeaderSize || hl > len(tf.RawData()) {
		e.drop(errParseFailed, nil)
		return nil
	}

	quad := flow.Quad{
		RemoteIP:   *ipf.SourceAddr(),
		RemotePort: tf.SourcePort(),
		LocalIP:    *ipf.DestinationAddr(),
		LocalPort:  tf.DestinationPort(),
	}
	payload := tf.Payload()
	seg := flow.Segment{
		Seq:     seqs.Value(tf.Seq()),
		Ack:     seqs.Value(tf.Ack()),
		DataLen: seqs.Size(len(payload)),
		Window:  seqs.Size(tf.Window()),
		Flags:   tf.Flags(),
	}

	if f, ok := e.flows[quad]; ok {
		err := f.Deliver(seg, payload, e.iface)
		e.reapIfClosed(quad, f)
		return err
	}

	if _, closedRecently := e.closed.Get(quad); closedRecently {
		e.log.Trace("segment for recently-closed quad", slog.Uint64("remote_port", uint64(quad.RemotePort)))
	}
	if _, listening := e.listening[quad.LocalPort]; !listening {
		e.drop(errUnknownQuadNotListening, nil)
		return nil
	}
	f, err := flow.NewPassiveOpen(quad, seg, e.iface, e.log)
	if err != nil {
		e.drop(errPassiveOpenRejected, err)
		return nil
	}
	e.flows[quad] = f
	return nil
}

// reapIfClosed removes f from the live flow table once it reaches
// StateClosed, recording the quad in the bounded recently-closed cache
// first (§9's flagged removal-policy gap; see the Engine.closed doc).
func (e *Engine) reapIfClosed(quad flow.Quad, f *flow.Flow) {
	if f.State != flow.StateClosed {
		return
	}
	e.closed.Push(quad, struct{}{})
	delete(e.flows, quad)
	e.log.Debug("flow closed, reaped from table", internal.SlogAddr4("remote_ip", &quad.RemoteIP), slog.Uint64("remote_port", uint64(quad.RemotePort)))
}

func (e *Engine) drop(reason *DropReason, cause error) {
	e.LastDrop = reason
	if cause != nil {
		e.log.Debug("drop", slog.String("reason", reason.reason), slog.String("error", cause.Error()))
		return
	}
	e.log.Debug("drop", slog.String("reason", reason.reason))
}
