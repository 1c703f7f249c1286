// Package flow implements the per-connection RFC 793 TCP state
// machine: sequence-space bookkeeping, the passive/active handshake
// constructors, segment acceptability, data absorption and graceful
// teardown. A Flow owns no network handle; emission is delegated to a
// Sender supplied by the caller (engine.Engine), keeping the flow
// table and the interface as two separate exclusive borrows for the
// duration of any one call, per the single-threaded discipline the
// engine enforces.
package flow

import (
	"errors"
	"log/slog"
	"time"

	"github.com/soypat/tunflow/header/checksum"
	"github.com/soypat/tunflow/header/ipv4"
	"github.com/soypat/tunflow/header/tcp"
	"github.com/soypat/tunflow/internal"
	"github.com/soypat/tunflow/internal/xlog"
	"github.com/soypat/tunflow/seqs"
)

// sendWindow is the fixed advertised send window this engine always
// offers; window scaling and negotiation are out of scope.
const sendWindow = seqs.Size(64240)

// ErrNotSYN is returned by NewPassiveOpen when the triggering segment
// is not a bare SYN (no crossed-SYN or simultaneous-open handling).
var ErrNotSYN = errors.New("flow: passive open requires SYN without ACK")

// Sender hands a fully-formed IPv4+TCP datagram to the owning
// interface. Implementations must not retain buf past the call.
type Sender interface {
	Send(buf []byte) error
}

// Stats holds bookkeeping observable for diagnostics; it plays no part
// in protocol logic.
type Stats struct {
	Start         time.Time
	BytesReceived int
}

// Flow is one TCP connection: its identity, sequence spaces, pending
// inbound bytes, and the state it occupies in the RFC 793 graph.
//
// Quad itself doubles as the cached header template referenced by the
// design: addresses and ports never change after construction, so
// every emission re-reads them directly from Quad rather than keeping
// a second, shadow copy in sync.
type Flow struct {
	Quad Quad
	State
	Send SendSequenceSpace
	Recv RecvSequenceSpace

	Incoming []byte // ordered bytes delivered to the application abstraction
	Unacked  []byte // reserved for outgoing retransmission buffering; unused by the core
	Stats    Stats

	log   xlog.Logger
	txbuf [1500]byte
}

// NewPassiveOpen implements §4.2: given an inbound segment addressed
// to a listening port and an as-yet-unknown quad, reject anything but
// a bare SYN, then build a flow in SynRcvd and emit SYN|ACK.
func NewPassiveOpen(quad Quad, seg Segment, sender Sender, log xlog.Logger) (*Flow, error) {
	if !seg.Flags.HasAll(tcp.FlagSYN) || seg.Flags.HasAny(tcp.FlagACK) {
		return nil, ErrNotSYN
	}
	iss := seqs.Value(0)
	f := &Flow{
		Quad:  quad,
		State: StateSynRcvd,
		Send: SendSequenceSpace{
			ISS: iss,
			UNA: iss,
			NXT: iss,
			WND: sendWindow,
		},
		Recv: RecvSequenceSpace{
			IRS: seg.Seq,
			NXT: seqs.Add(seg.Seq, 1),
			WND: seg.Window,
		},
		log: log,
	}
	f.log.Debug("passive open", slog.Uint64("seq", uint64(seg.Seq)), internal.SlogAddr4("remote_ip", &quad.RemoteIP), slog.Uint64("remote_port", uint64(quad.RemotePort)))
	if err := f.emit(sender, tcp.FlagSYN|tcp.FlagACK, f.Send.NXT); err != nil {
		return nil, err
	}
	return f, nil
}

// NewActiveOpen implements §4.3: builds a flow in Closed, emits a bare
// SYN, and transitions to SynSent.
func NewActiveOpen(quad Quad, sender Sender, log xlog.Logger) (*Flow, error) {
	iss := seqs.Value(0)
	f := &Flow{
		Quad:  quad,
		State: StateClosed,
		Send: SendSequenceSpace{
			ISS: iss,
			UNA: iss,
			NXT: iss,
			WND: sendWindow,
		},
		log: log,
	}
	f.log.Debug("active open", internal.SlogAddr4("remote_ip", &quad.RemoteIP), slog.Uint64("remote_port", uint64(quad.RemotePort)))
	if err := f.emit(sender, tcp.FlagSYN, f.Send.NXT); err != nil {
		return nil, err
	}
	f.State = StateSynSent
	return f, nil
}

// Deliver dispatches an accepted-or-not inbound segment to the
// handler for the flow's current state, per §4.1's transition table.
func (f *Flow) Deliver(seg Segment, payload []byte, sender Sender) error {
	f.log.Trace("deliver", slog.String("state", f.State.String()), slog.String("flags", seg.Flags.String()), slog.Uint64("seq", uint64(seg.Seq)))
	switch f.State {
	case StateSynSent:
		return f.handleSynSent(seg, sender)
	case StateSynRcvd:
		return f.handleSynRcvd(seg)
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
		return f.handleDataState(seg, payload, sender)
	case StateLastAck:
		return f.handleLastAck(seg, payload, sender)
	case StateTimeWait:
		return nil // inert; no timers, see §5
	default:
		return nil
	}
}

func (f *Flow) handleSynSent(seg Segment, sender Sender) error {
	if !seg.Flags.HasAll(tcp.FlagSYN | tcp.FlagACK) {
		return nil
	}
	if !f.ackAcceptable(seg.Ack) {
		return nil // bad ACK on half-open connection; RST reply is a documented gap
	}
	f.Recv.IRS = seg.Seq
	f.Recv.NXT = seqs.Add(seg.Seq, 1)
	f.Recv.WND = seg.Window
	f.Send.UNA = seg.Ack
	f.State = StateEstablished
	return f.emit(sender, tcp.FlagACK, f.Send.NXT)
}

func (f *Flow) handleSynRcvd(seg Segment) error {
	if !seg.Flags.HasAll(tcp.FlagACK) {
		return nil
	}
	if !f.ackAcceptable(seg.Ack) {
		return nil // bad ACK on half-open connection; RST reply is a documented gap
	}
	f.Send.UNA = seg.Ack
	f.State = StateEstablished
	return nil
}

// handleDataState implements §4.5 for Established, FinWait1, FinWait2
// and CloseWait: absorb in-window data, advance recv.nxt, emit an ACK,
// and — when the peer's FIN arrives while Established — immediately
// emit our own FIN and move to LastAck, since application-initiated
// close is not modeled (§9).
func (f *Flow) handleDataState(seg Segment, payload []byte, sender Sender) error {
	if !f.accept(seg) {
		// The segment falls outside the strict §4.4 window. This is
		// usually an already-consumed retransmission (handled below
		// by the skip computation in absorbAndAck) rather than truly
		// new out-of-window data, so processing continues regardless
		// rather than dropping — matching the reference behavior this
		// engine was distilled from.
		f.log.Trace("segment outside strict window, absorbing anyway", slog.Uint64("seq", uint64(seg.Seq)))
	}
	wasEstablished := f.State == StateEstablished
	finArrived := seg.Flags.HasAny(tcp.FlagFIN)
	if err := f.absorbAndAck(seg, payload, sender); err != nil {
		return err
	}
	if wasEstablished && finArrived {
		f.State = StateLastAck
		return f.emit(sender, tcp.FlagFIN, f.Send.NXT)
	}
	return nil
}

// handleLastAck implements the second half of §4.1's LastAck row:
// either this is the peer's ACK of our FIN (finalize to Closed), or it
// is a retransmission of data/FIN we already consumed, which gets the
// same duplicate-ACK treatment as handleDataState (§8 property 4).
func (f *Flow) handleLastAck(seg Segment, payload []byte, sender Sender) error {
	if seg.Flags.HasAny(tcp.FlagFIN) || len(payload) > 0 {
		return f.absorbAndAck(seg, payload, sender)
	}
	if seg.Flags.HasAll(tcp.FlagACK) && f.ackAcceptable(seg.Ack) {
		f.Send.UNA = seg.Ack
		f.State = StateClosed
	}
	return nil
}

// absorbAndAck implements §4.5 steps 1-4.
func (f *Flow) absorbAndAck(seg Segment, payload []byte, sender Sender) error {
	skip := int(uint32(f.Recv.NXT) - uint32(seg.Seq))
	if skip > len(payload) {
		// Retransmitted FIN already consumed: recv.nxt points past the
		// FIN, but the FIN octet itself is not present in payload.
		skip = 0
	}
	if skip < len(payload) {
		f.Incoming = append(f.Incoming, payload[skip:]...)
		f.Stats.BytesReceived += len(payload) - skip
	}
	nxt := seqs.Add(seg.Seq, seqs.Size(len(payload)))
	if seg.Flags.HasAny(tcp.FlagFIN) {
		nxt = seqs.Add(nxt, 1)
	}
	f.Recv.NXT = nxt
	return f.emit(sender, tcp.FlagACK, f.Send.NXT)
}

// accept implements the §4.4 segment acceptability test.
func (f *Flow) accept(seg Segment) bool {
	slen := seg.LEN()
	wend := seqs.Add(f.Recv.NXT, f.Recv.WND)
	if slen == 0 {
		if f.Recv.WND == 0 {
			return seg.Seq == f.Recv.NXT
		}
		return seqs.IsBetweenWrapped(f.Recv.NXT-1, seg.Seq, wend)
	}
	if f.Recv.WND == 0 {
		return false
	}
	if seqs.IsBetweenWrapped(f.Recv.NXT-1, seg.Seq, wend) {
		return true
	}
	return seqs.IsBetweenWrapped(f.Recv.NXT-1, seg.Last(), wend)
}

// ackAcceptable implements §4.6: ack acknowledges at least one byte in
// the send window.
func (f *Flow) ackAcceptable(ack seqs.Value) bool {
	return seqs.IsBetweenWrapped(f.Send.UNA-1, ack, seqs.Add(f.Send.NXT, 1))
}

// emit implements §4.7: build one IPv4+TCP datagram (no payload; the
// core never transmits application data) into the flow's scratch
// buffer, checksum it, and hand it to sender. Emitting a SYN or FIN
// advances send.nxt by exactly one.
func (f *Flow) emit(sender Sender, flags tcp.Flags, seq seqs.Value) error {
	const totalLen = ipv4.HeaderSize + tcp.HeaderSize
	buf := f.txbuf[:totalLen]

	ipf, err := ipv4.NewFrame(buf)
	if err != nil {
		return err
	}
	ipf.ClearHeader()
	ipf.SetVersionAndIHL(4, 5)
	ipf.SetTTL(64)
	ipf.SetProtocol(ipv4.ProtoTCP)
	ipf.SetTotalLength(totalLen)
	ipf.SetSourceAddr(f.Quad.LocalIP)
	ipf.SetDestinationAddr(f.Quad.RemoteIP)

	tf, err := tcp.NewFrame(buf[ipv4.HeaderSize:])
	if err != nil {
		return err
	}
	tf.ClearHeader()
	tf.SetSourcePort(f.Quad.LocalPort)
	tf.SetDestinationPort(f.Quad.RemotePort)
	tf.SetSeq(uint32(seq))
	tf.SetAck(uint32(f.Recv.NXT))
	tf.SetDataOffset(5)
	tf.SetFlags(flags)
	tf.SetWindow(uint16(f.Send.WND))

	var crc checksum.CRC791
	ipf.CRCWriteTCPPseudo(&crc, tcp.HeaderSize)
	tf.SetCRC(tf.CalculateCRC(crc))
	ipf.SetCRC(ipf.CalculateHeaderCRC())

	f.log.Trace("emit", slog.String("flags", flags.String()), slog.Uint64("seq", uint64(seq)), slog.Uint64("ack", uint64(f.Recv.NXT)))
	if err := sender.Send(buf); err != nil {
		return err
	}
	if flags.HasAny(tcp.FlagSYN) || flags.HasAny(tcp.FlagFIN) {
		f.Send.NXT = seqs.Add(f.Send.NXT, 1)
	}
	return nil
}
