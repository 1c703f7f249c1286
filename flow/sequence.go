package flow

import "github.com/soypat/tunflow/seqs"

// SendSequenceSpace tracks RFC 793 S3.2 figure 4:
//
//	   1         2          3          4
//	----------|----------|----------|----------
//	       SND.UNA    SND.NXT    SND.UNA+SND.WND
//
// 1 - old sequence numbers already acknowledged
// 2 - sequence numbers of unacknowledged data
// 3 - sequence numbers allowed for new data transmission
// 4 - future sequence numbers not yet allowed
type SendSequenceSpace struct {
	UNA seqs.Value // oldest unacknowledged send sequence
	NXT seqs.Value // next send sequence to be used
	WND seqs.Size  // advertised send window, fixed 64240 in this engine
	UP  bool       // urgent pointer, unused
	WL1 seqs.Value // segment seq used for the last window update
	WL2 seqs.Value // segment ack used for the last window update
	ISS seqs.Value // initial send sequence number
}

// RecvSequenceSpace tracks RFC 793 S3.2 figure 5:
//
//	   1          2          3
//	----------|----------|----------
//	       RCV.NXT    RCV.NXT+RCV.WND
//
// 1 - old sequence numbers already acknowledged
// 2 - sequence numbers allowed for new reception
// 3 - future sequence numbers not yet allowed
type RecvSequenceSpace struct {
	NXT seqs.Value // next expected receive sequence
	WND seqs.Size  // advertised receive window
	UP  bool       // urgent flag, unused
	IRS seqs.Value // initial receive sequence (peer's SYN sequence)
}
