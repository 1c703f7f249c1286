// Package ipv4 implements a zero-copy IPv4 header codec: parsing,
// field mutation and checksum computation directly over a byte slice
// supplied by the caller, in the style of a wire-format accessor rather
// than a parsed-and-reallocated struct.
package ipv4

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/tunflow/header/checksum"
)

// HeaderSize is the size in bytes of an IPv4 header with no options,
// which is the only form this engine ever emits (spec: "no options").
const HeaderSize = 20

// ProtoTCP is the IPv4 protocol number for TCP, per RFC 790.
const ProtoTCP = 6

var (
	errShortBuffer = errors.New("ipv4: buffer shorter than header")
	errBadVersion  = errors.New("ipv4: version field is not 4")
	errShortTotal  = errors.New("ipv4: total length exceeds buffer")
)

// Frame is an accessor over a byte slice holding an IPv4 datagram.
// All field accessors read and write directly into the underlying
// buffer; Frame itself holds no state of its own.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an IPv4 Frame. It only checks that buf is long
// enough to hold a fixed IPv4 header; call Validate to check the
// header's own declared lengths against buf.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, errShortBuffer
	}
	return Frame{buf: buf}, nil
}

// RawData returns the full buffer the Frame was constructed with.
func (f Frame) RawData() []byte { return f.buf }

func (f Frame) ihl() uint8 { return f.buf[0] & 0xf }

// HeaderLength returns the header length in bytes, including options.
func (f Frame) HeaderLength() int { return int(f.ihl()) * 4 }

// SetVersionAndIHL sets the version (always 4) and IHL (header length
// in 32-bit words) fields.
func (f Frame) SetVersionAndIHL(version, ihl uint8) {
	f.buf[0] = version<<4 | ihl&0xf
}

func (f Frame) version() uint8 { return f.buf[0] >> 4 }

// TTL returns the time-to-live field.
func (f Frame) TTL() uint8 { return f.buf[8] }

// SetTTL sets the time-to-live field.
func (f Frame) SetTTL(ttl uint8) { f.buf[8] = ttl }

// Protocol returns the IP protocol number carried in the payload.
func (f Frame) Protocol() uint8 { return f.buf[9] }

// SetProtocol sets the IP protocol number.
func (f Frame) SetProtocol(proto uint8) { f.buf[9] = proto }

// TotalLength returns the total datagram length, header plus payload.
func (f Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetTotalLength sets the total datagram length field.
func (f Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(f.buf[2:4], tl) }

// CRC returns the header checksum field.
func (f Frame) CRC() uint16 { return binary.BigEndian.Uint16(f.buf[10:12]) }

// SetCRC sets the header checksum field.
func (f Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(f.buf[10:12], crc) }

// SourceAddr returns a pointer to the 4-byte source address.
func (f Frame) SourceAddr() *[4]byte { return (*[4]byte)(f.buf[12:16]) }

// SetSourceAddr copies addr into the source address field.
func (f Frame) SetSourceAddr(addr [4]byte) { copy(f.buf[12:16], addr[:]) }

// DestinationAddr returns a pointer to the 4-byte destination address.
func (f Frame) DestinationAddr() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// SetDestinationAddr copies addr into the destination address field.
func (f Frame) SetDestinationAddr(addr [4]byte) { copy(f.buf[16:20], addr[:]) }

// Payload returns the bytes following the header, up to TotalLength.
// Call Validate first to ensure the declared lengths do not exceed buf.
func (f Frame) Payload() []byte {
	off := f.HeaderLength()
	return f.buf[off:f.TotalLength()]
}

// ClearHeader zeroes the fixed 20-byte header, leaving options (if any)
// and payload untouched.
func (f Frame) ClearHeader() {
	for i := range f.buf[:HeaderSize] {
		f.buf[i] = 0
	}
}

// Validate checks the header's version and declared lengths against the
// buffer it was constructed with.
func (f Frame) Validate() error {
	if f.version() != 4 {
		return errBadVersion
	}
	if f.ihl() < 5 {
		return errShortBuffer
	}
	if int(f.TotalLength()) > len(f.buf) {
		return errShortTotal
	}
	if f.HeaderLength() > int(f.TotalLength()) {
		return errShortBuffer
	}
	return nil
}

// CalculateHeaderCRC computes the IPv4 header checksum (RFC 791): the
// 16-bit ones'-complement sum of all header words with the checksum
// field itself treated as zero.
func (f Frame) CalculateHeaderCRC() uint16 {
	var crc checksum.CRC791
	hl := f.HeaderLength()
	crc.Write(f.buf[0:10])
	crc.Write(f.buf[12:hl])
	return crc.Sum16()
}

// ValidateCRC reports whether the header checksum field currently
// stored in the buffer is consistent with the rest of the header: the
// ones'-complement sum of the whole header, checksum field included,
// must come out all-ones, so its complement (Sum16) is zero.
func (f Frame) ValidateCRC() bool {
	var crc checksum.CRC791
	crc.Write(f.buf[:f.HeaderLength()])
	return crc.Sum16() == 0
}

// CRCWriteTCPPseudo writes the IPv4 pseudo-header (source, destination,
// zero, protocol, TCP length) into crc, as required before summing the
// TCP segment itself when computing the TCP checksum (RFC 793 S3.1).
func (f Frame) CRCWriteTCPPseudo(crc *checksum.CRC791, tcpLength uint16) {
	src := f.SourceAddr()
	dst := f.DestinationAddr()
	crc.Write(src[:])
	crc.Write(dst[:])
	crc.AddUint16(uint16(ProtoTCP))
	crc.AddUint16(tcpLength)
}
