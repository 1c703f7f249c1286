package ingress

import (
	"errors"
	"testing"

	"github.com/soypat/tunflow/engine"
	"github.com/soypat/tunflow/header/checksum"
	"github.com/soypat/tunflow/header/ipv4"
	"github.com/soypat/tunflow/header/tcp"
	"github.com/soypat/tunflow/internal/xlog"
)

type fakeInterface struct {
	localAddr [4]byte
	sent      [][]byte
}

func (f *fakeInterface) Send(buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeInterface) LocalAddr() [4]byte { return f.localAddr }

type fakeReceiver struct {
	frames [][]byte
	i      int
}

var errStop = errors.New("fakeReceiver: exhausted")

func (r *fakeReceiver) Recv(buf []byte) (int, error) {
	if r.i >= len(r.frames) {
		return 0, errStop
	}
	n := copy(buf, r.frames[r.i])
	r.i++
	return n, nil
}

func buildSYN(t *testing.T, srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq uint32) []byte {
	t.Helper()
	buf := make([]byte, ipv4.HeaderSize+tcp.HeaderSize)
	ipf, err := ipv4.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	ipf.SetVersionAndIHL(4, 5)
	ipf.SetTTL(64)
	ipf.SetProtocol(ipv4.ProtoTCP)
	ipf.SetTotalLength(uint16(len(buf)))
	ipf.SetSourceAddr(srcIP)
	ipf.SetDestinationAddr(dstIP)

	tf, err := tcp.NewFrame(buf[ipv4.HeaderSize:])
	if err != nil {
		t.Fatal(err)
	}
	tf.SetSourcePort(srcPort)
	tf.SetDestinationPort(dstPort)
	tf.SetSeq(seq)
	tf.SetDataOffset(5)
	tf.SetFlags(tcp.FlagSYN)
	tf.SetWindow(1024)

	var crc checksum.CRC791
	ipf.CRCWriteTCPPseudo(&crc, tcp.HeaderSize)
	tf.SetCRC(tf.CalculateCRC(crc))
	ipf.SetCRC(ipf.CalculateHeaderCRC())
	return buf
}

// TestLoop_FeedsFramesToEngine checks the trivial read/Action/repeat
// shape: every frame the receiver yields reaches the engine, and the
// loop returns the receiver's error once frames run out.
func TestLoop_FeedsFramesToEngine(t *testing.T) {
	localIP := [4]byte{10, 0, 0, 1}
	remoteIP := [4]byte{10, 0, 0, 2}
	iface := &fakeInterface{localAddr: localIP}
	eng := engine.New(iface, xlog.Logger{})
	if err := eng.Control(engine.Bind{Port: 4000}); err != nil {
		t.Fatal(err)
	}

	recv := &fakeReceiver{frames: [][]byte{
		buildSYN(t, remoteIP, localIP, 1234, 4000, 100),
	}}
	err := Loop(recv, eng, nil, xlog.Logger{})
	if !errors.Is(err, errStop) {
		t.Fatalf("Loop() err = %v, want wrapping errStop", err)
	}
	if len(iface.sent) != 1 {
		t.Fatalf("sent %d segments, want 1 (the SYN|ACK reply)", len(iface.sent))
	}
}

// TestLoop_DrainsCommandsBetweenReads checks that a Bind queued on the
// command channel takes effect before the next frame is processed,
// the off-by-default concurrency extension.
func TestLoop_DrainsCommandsBetweenReads(t *testing.T) {
	localIP := [4]byte{10, 0, 0, 1}
	remoteIP := [4]byte{10, 0, 0, 2}
	iface := &fakeInterface{localAddr: localIP}
	eng := engine.New(iface, xlog.Logger{})

	cmds := make(chan engine.Message, 1)
	cmds <- engine.Bind{Port: 4000}

	recv := &fakeReceiver{frames: [][]byte{
		buildSYN(t, remoteIP, localIP, 1234, 4000, 100),
	}}
	err := Loop(recv, eng, cmds, xlog.Logger{})
	if !errors.Is(err, errStop) {
		t.Fatalf("Loop() err = %v, want wrapping errStop", err)
	}
	if len(eng.Flows()) != 1 {
		t.Errorf("flow table has %d entries, want 1 (Bind should have taken effect)", len(eng.Flows()))
	}
}

// TestLoop_SkipsEmptyReads checks that a zero-length Recv doesn't get
// forwarded to Action as a spurious empty frame.
func TestLoop_SkipsEmptyReads(t *testing.T) {
	localIP := [4]byte{10, 0, 0, 1}
	iface := &fakeInterface{localAddr: localIP}
	eng := engine.New(iface, xlog.Logger{})

	recv := &fakeReceiver{frames: [][]byte{{}, {}}}
	err := Loop(recv, eng, nil, xlog.Logger{})
	if !errors.Is(err, errStop) {
		t.Fatalf("Loop() err = %v, want wrapping errStop", err)
	}
	if len(iface.sent) != 0 {
		t.Errorf("sent %d segments, want 0", len(iface.sent))
	}
}
