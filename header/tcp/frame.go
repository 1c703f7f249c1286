// Package tcp implements a zero-copy TCP segment codec: parsing, field
// mutation and checksum computation directly over a byte slice, in the
// same accessor style as header/ipv4. It carries no connection state;
// the state machine lives in package flow.
package tcp

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/tunflow/header/checksum"
)

// HeaderSize is the size in bytes of a TCP header with no options,
// which is the only form this engine ever emits or expects (spec:
// "no options").
const HeaderSize = 20

var errShortBuffer = errors.New("tcp: buffer shorter than header")

// Flags is the bitmask of control bits carried in a TCP segment.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

const flagMask = 0x3f

// HasAll reports whether every bit in mask is set in flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny reports whether any bit in mask is set in flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask returns flags with any non-control bits cleared.
func (flags Flags) Mask() Flags { return flags & flagMask }

// String renders flags as a bracketed, comma-separated list such as
// "[SYN,ACK]", in ascending bit order.
func (flags Flags) String() string {
	switch flags.Mask() {
	case 0:
		return "[]"
	case FlagSYN | FlagACK:
		return "[SYN,ACK]"
	case FlagFIN | FlagACK:
		return "[FIN,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	case FlagRST:
		return "[RST]"
	}
	const names = "FINSYNRSTPSHACKURG"
	const width = 3
	buf := make([]byte, 0, 24)
	buf = append(buf, '[')
	first := true
	for i := 0; i < 6; i++ {
		if flags&(1<<i) == 0 {
			continue
		}
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = append(buf, names[i*width:i*width+width]...)
	}
	buf = append(buf, ']')
	return string(buf)
}

// Frame is an accessor over a byte slice holding a TCP segment.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a TCP Frame. It only checks that buf is long
// enough to hold a fixed TCP header with no options.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, errShortBuffer
	}
	return Frame{buf: buf}, nil
}

// RawData returns the full buffer the Frame was constructed with.
func (f Frame) RawData() []byte { return f.buf }

// SourcePort returns the source port field.
func (f Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }

// SetSourcePort sets the source port field.
func (f Frame) SetSourcePort(port uint16) { binary.BigEndian.PutUint16(f.buf[0:2], port) }

// DestinationPort returns the destination port field.
func (f Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetDestinationPort sets the destination port field.
func (f Frame) SetDestinationPort(port uint16) { binary.BigEndian.PutUint16(f.buf[2:4], port) }

// Seq returns the 32-bit sequence number field.
func (f Frame) Seq() uint32 { return binary.BigEndian.Uint32(f.buf[4:8]) }

// SetSeq sets the sequence number field.
func (f Frame) SetSeq(seq uint32) { binary.BigEndian.PutUint32(f.buf[4:8], seq) }

// Ack returns the 32-bit acknowledgment number field.
func (f Frame) Ack() uint32 { return binary.BigEndian.Uint32(f.buf[8:12]) }

// SetAck sets the acknowledgment number field.
func (f Frame) SetAck(ack uint32) { binary.BigEndian.PutUint32(f.buf[8:12], ack) }

func (f Frame) dataOffset() uint8 { return f.buf[12] >> 4 }

// HeaderLength returns the header length in bytes, including options.
func (f Frame) HeaderLength() int { return int(f.dataOffset()) * 4 }

// SetDataOffset sets the data offset field (header length in 32-bit
// words); reserved bits are always cleared.
func (f Frame) SetDataOffset(words uint8) { f.buf[12] = words << 4 }

// Flags returns the control bits, masking off reserved and ECN bits
// this engine never emits or interprets.
func (f Frame) Flags() Flags { return Flags(f.buf[13]) & flagMask }

// SetFlags sets the control bits, leaving the high byte of the
// offset/reserved word untouched.
func (f Frame) SetFlags(flags Flags) { f.buf[13] = uint8(flags.Mask()) }

// Window returns the advertised receive window.
func (f Frame) Window() uint16 { return binary.BigEndian.Uint16(f.buf[14:16]) }

// SetWindow sets the advertised receive window.
func (f Frame) SetWindow(wnd uint16) { binary.BigEndian.PutUint16(f.buf[14:16], wnd) }

// CRC returns the checksum field.
func (f Frame) CRC() uint16 { return binary.BigEndian.Uint16(f.buf[16:18]) }

// SetCRC sets the checksum field.
func (f Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(f.buf[16:18], crc) }

// UrgentPointer returns the urgent pointer field. This engine never
// sets FlagURG, so this field is always read as zero on emitted
// segments (urgent data is a documented Non-goal).
func (f Frame) UrgentPointer() uint16 { return binary.BigEndian.Uint16(f.buf[18:20]) }

// Payload returns the bytes in buf following the header.
func (f Frame) Payload() []byte { return f.buf[f.HeaderLength():] }

// ClearHeader zeroes the fixed 20-byte header, leaving options (if any)
// and payload untouched.
func (f Frame) ClearHeader() {
	for i := range f.buf[:HeaderSize] {
		f.buf[i] = 0
	}
}

// CalculateCRC computes the TCP checksum over the pseudo-header already
// accumulated in crc plus this segment's header and payload, per RFC
// 793 S3.1. The caller is responsible for having written the
// pseudo-header into crc (see ipv4.Frame.CRCWriteTCPPseudo). The
// checksum field's current value is ignored.
func (f Frame) CalculateCRC(crc checksum.CRC791) uint16 {
	crc.Write(f.buf[0:16])
	// Skip the checksum field itself (buf[16:18]), so whatever it
	// currently holds does not contribute to the sum.
	crc.Write(f.buf[18:f.HeaderLength()])
	crc.Write(f.Payload())
	return crc.Sum16()
}
