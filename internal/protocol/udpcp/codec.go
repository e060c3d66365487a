package udpcp

import (
	"encoding/binary"
)

// headerSize is the fixed size of the UDPCP header in bytes. The header
// packs twelve fields into 96 bits; every field lands on a byte boundary
// once message_type, version and the N/C/S bits are grouped into one byte
// and the D bit with the seven reserved bits into a second, so the codec
// below works byte-at-a-time
// rather than needing a general bit-stream packer.
const headerSize = 12

// protocolVersion is the fixed literal value of the version header field.
const protocolVersion = 2

// rawHeader is the decoded, unvalidated bit layout of a packet header.
// Decode in packet.go turns a rawHeader into a Packet through newPacket,
// which recomputes the checksum; the message-id and fragment checks of
// Data are not applied to decoded headers.
type rawHeader struct {
	checksum          uint32
	messageType       uint8
	version           uint8
	nbit              bool
	cbit              bool
	sbit              bool
	dbit              bool
	fragmentAmount    uint8
	fragmentNumber    uint8
	messageID         uint16
	messageDataLength uint16
}

// encodeHeader packs a rawHeader into the wire byte order: checksum(32),
// message_type(2), version(3), N(1), C(1), S(1), D(1), reserved(7),
// fragment_amount(8), fragment_number(8), message_id(16),
// message_data_length(16), most-significant-bit first.
func encodeHeader(h rawHeader) []byte {
	buf := make([]byte, headerSize)

	binary.BigEndian.PutUint32(buf[0:4], h.checksum)

	buf[4] = h.messageType<<6 | h.version<<3 | boolBit(h.nbit)<<2 | boolBit(h.cbit)<<1 | boolBit(h.sbit)
	buf[5] = boolBit(h.dbit) << 7 // reserved bits 0-6 always zero on send

	buf[6] = h.fragmentAmount
	buf[7] = h.fragmentNumber

	binary.BigEndian.PutUint16(buf[8:10], h.messageID)
	binary.BigEndian.PutUint16(buf[10:12], h.messageDataLength)

	return buf
}

// decodeHeader reads a rawHeader from the first headerSize bytes of data.
// Reserved bits are ignored rather than validated.
func decodeHeader(data []byte) (rawHeader, error) {
	if len(data) < headerSize {
		return rawHeader{}, &HeaderLengthError{Length: len(data), HeaderLength: headerSize}
	}

	var h rawHeader
	h.checksum = binary.BigEndian.Uint32(data[0:4])

	h.messageType = data[4] >> 6 & 0x3
	h.version = data[4] >> 3 & 0x7
	h.nbit = data[4]&0x4 != 0
	h.cbit = data[4]&0x2 != 0
	h.sbit = data[4]&0x1 != 0
	h.dbit = data[5]&0x80 != 0

	h.fragmentAmount = data[6]
	h.fragmentNumber = data[7]
	h.messageID = binary.BigEndian.Uint16(data[8:10])
	h.messageDataLength = binary.BigEndian.Uint16(data[10:12])

	return h, nil
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// checksumImage builds the byte image used for checksum computation: the
// encoded header with the checksum field zeroed, followed by the payload.
func checksumImage(h rawHeader, payload []byte) []byte {
	h.checksum = 0
	buf := encodeHeader(h)
	return append(buf, payload...)
}

// computeChecksum returns the Adler-32 checksum of the header-with-checksum-
// zeroed plus payload, seeded at 0 to match the reference implementation
// (see DESIGN.md for why this differs from the seed-1 prose elsewhere).
// The standard library's hash/adler32 only exposes the canonical seed-1
// entry point (adler32.Checksum), so the seed-0 variant is computed
// directly from the running sums instead.
func computeChecksum(h rawHeader, payload []byte) uint32 {
	const mod = 65521

	a, b := uint32(0), uint32(0)
	for _, c := range checksumImage(h, payload) {
		a = (a + uint32(c)) % mod
		b = (b + a) % mod
	}
	return b<<16 | a
}
