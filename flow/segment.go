package flow

import (
	"github.com/soypat/tunflow/header/tcp"
	"github.com/soypat/tunflow/seqs"
)

// Segment is a parsed, header-codec-independent view of an inbound or
// outbound TCP segment, expressed in wrapping sequence-space types.
type Segment struct {
	Seq     seqs.Value
	Ack     seqs.Value
	DataLen seqs.Size
	Window  seqs.Size
	Flags   tcp.Flags
}

// LEN returns the segment length in octets, counting the SYN and FIN
// control bits as occupying one sequence number each (RFC 793 S3.3).
func (seg Segment) LEN() seqs.Size {
	n := seg.DataLen
	if seg.Flags.HasAny(tcp.FlagSYN) {
		n++
	}
	if seg.Flags.HasAny(tcp.FlagFIN) {
		n++
	}
	return n
}

// Last returns the sequence number of the last octet of the segment.
// For a zero-length segment this is Seq itself.
func (seg Segment) Last() seqs.Value {
	n := seg.LEN()
	if n == 0 {
		return seg.Seq
	}
	return seqs.Add(seg.Seq, n) - 1
}
