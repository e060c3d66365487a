package udpcp

import "fmt"

// Packet is an immutable UDPCP packet. It is produced only through Data,
// Sync, Ack, or Decode, each of which fills in the checksum before
// returning, so a Packet is always in a wire-consistent state once
// constructed.
type Packet struct {
	messageType       MessageType
	transferMode      TransferMode
	checksumMode      ChecksumMode
	isDuplicate       bool
	fragmentAmount    uint8
	fragmentNumber    uint8
	messageID         uint16
	messageDataLength uint16
	payload           []byte
	checksum          uint32
}

func newPacket(messageType MessageType, transferMode TransferMode, checksumMode ChecksumMode, isDuplicate bool, fragmentAmount, fragmentNumber uint8, messageID uint16, payload []byte) Packet {
	p := Packet{
		messageType:       messageType,
		transferMode:      transferMode,
		checksumMode:      checksumMode,
		isDuplicate:       isDuplicate,
		fragmentAmount:    fragmentAmount,
		fragmentNumber:    fragmentNumber,
		messageID:         messageID,
		messageDataLength: uint16(len(payload)),
		payload:           payload,
	}
	p.checksum = p.calculateChecksum()
	return p
}

func (p Packet) header() rawHeader {
	return rawHeader{
		messageType:       uint8(p.messageType),
		version:           protocolVersion,
		nbit:              p.transferMode.nbit(),
		cbit:              p.checksumMode.cbit(),
		sbit:              p.transferMode.sbit(),
		dbit:              p.isDuplicate,
		fragmentAmount:    p.fragmentAmount,
		fragmentNumber:    p.fragmentNumber,
		messageID:         p.messageID,
		messageDataLength: p.messageDataLength,
	}
}

func (p Packet) calculateChecksum() uint32 {
	if p.checksumMode == ChecksumDisabled {
		return 0
	}
	return computeChecksum(p.header(), p.payload)
}

// Bytes encodes the packet to its wire representation.
func (p Packet) Bytes() []byte {
	h := p.header()
	h.checksum = p.checksum
	return append(encodeHeader(h), p.payload...)
}

// Data constructs a Data-typed packet carrying one fragment of a larger
// message. message_id must be non-zero; fragment_number must be a valid
// index into [0, fragment_amount).
func Data(transferMode TransferMode, checksumMode ChecksumMode, fragmentAmount, fragmentNumber uint8, messageID uint16, payload []byte) (Packet, error) {
	if messageID == 0 {
		return Packet{}, &MessageIDError{MessageID: messageID}
	}
	if fragmentAmount < 1 {
		return Packet{}, &FragmentCountError{Amount: int(fragmentAmount)}
	}
	if int(fragmentNumber) >= int(fragmentAmount) {
		return Packet{}, &FragmentIndexError{Amount: int(fragmentAmount), Number: int(fragmentNumber)}
	}
	return newPacket(MessageTypeData, transferMode, checksumMode, false, fragmentAmount, fragmentNumber, messageID, payload), nil
}

// Sync constructs the advisory presence-probe packet: a single-fragment
// Data packet with message_id 0 and an empty payload.
func Sync(checksumMode ChecksumMode) Packet {
	return newPacket(MessageTypeData, AckEveryPacket, checksumMode, false, 1, 0, 0, nil)
}

// Ack constructs an acknowledgement of base, which must be a Data or Sync
// packet. The resulting packet mirrors base's fragment_amount,
// fragment_number, message_id, and checksum_mode, and always carries an
// empty payload with transfer_mode forced to AckNone.
func Ack(base Packet, isDuplicate bool) (Packet, error) {
	if !base.IsData() && !base.IsSync() {
		return Packet{}, &AckBaseError{Base: base}
	}
	return newPacket(MessageTypeAck, AckNone, base.checksumMode, isDuplicate, base.fragmentAmount, base.fragmentNumber, base.messageID, nil), nil
}

// Decode parses data into a Packet. It rejects buffers shorter than the
// fixed header size, rejects a version field other than 2, reconstructs
// the packet through the normal constructor (which recomputes the
// checksum), and rejects a recomputed checksum that differs from the
// wire value.
func Decode(data []byte) (Packet, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return Packet{}, err
	}
	if int(h.version) != protocolVersion {
		return Packet{}, &VersionError{Version: int(h.version), ProtocolVersion: protocolVersion}
	}

	payload := append([]byte(nil), data[headerSize:]...)

	p := newPacket(
		MessageType(h.messageType),
		transferModeFromBits(h.nbit, h.sbit),
		checksumModeFromBit(h.cbit),
		h.dbit,
		h.fragmentAmount,
		h.fragmentNumber,
		h.messageID,
		payload,
	)

	if h.checksum != p.checksum {
		return Packet{}, &ChecksumError{WireChecksum: h.checksum, RecomputedChecksum: p.checksum}
	}

	return p, nil
}

// MessageType returns the packet's message_type header field.
func (p Packet) MessageType() MessageType { return p.messageType }

// TransferMode returns the packet's ack policy.
func (p Packet) TransferMode() TransferMode { return p.transferMode }

// ChecksumMode returns the packet's checksum policy.
func (p Packet) ChecksumMode() ChecksumMode { return p.checksumMode }

// IsDuplicate reports the D header bit.
func (p Packet) IsDuplicate() bool { return p.isDuplicate }

// FragmentAmount returns the total number of fragments in the message.
func (p Packet) FragmentAmount() uint8 { return p.fragmentAmount }

// FragmentNumber returns this packet's 0-based fragment index.
func (p Packet) FragmentNumber() uint8 { return p.fragmentNumber }

// MessageID returns the packet's message identifier.
func (p Packet) MessageID() uint16 { return p.messageID }

// MessageDataLength returns the byte length of the payload.
func (p Packet) MessageDataLength() uint16 { return p.messageDataLength }

// Payload returns the packet's payload bytes.
func (p Packet) Payload() []byte { return p.payload }

// Checksum returns the packet's checksum field.
func (p Packet) Checksum() uint32 { return p.checksum }

// IsAck reports whether this packet classifies as an Ack: message_type is
// Ack, transfer_mode is AckNone, and message_data_length is 0.
func (p Packet) IsAck() bool {
	return p.messageType == MessageTypeAck && p.transferMode == AckNone && p.messageDataLength == 0
}

// IsSync reports whether this packet classifies as a Sync: a non-duplicate
// Data packet with AckEveryPacket, message_id 0, and no payload.
func (p Packet) IsSync() bool {
	return p.messageType == MessageTypeData && p.transferMode == AckEveryPacket &&
		!p.isDuplicate && p.messageID == 0 && p.messageDataLength == 0
}

// IsData reports whether this packet classifies as Data: a non-duplicate
// Data packet with a non-zero message id.
func (p Packet) IsData() bool {
	return p.messageType == MessageTypeData && !p.isDuplicate && p.messageID != 0
}

// Type derives the packet's classification. Exactly one of IsAck, IsSync,
// IsData holds when Type is not PacketTypeInvalid (P3).
func (p Packet) Type() PacketType {
	switch {
	case p.IsAck():
		return PacketTypeAck
	case p.IsSync():
		return PacketTypeSync
	case p.IsData():
		return PacketTypeData
	default:
		return PacketTypeInvalid
	}
}

// IsSingle reports whether the message this packet belongs to has exactly
// one fragment.
func (p Packet) IsSingle() bool {
	return p.fragmentAmount == 1 && p.fragmentNumber == 0
}

// IsLast reports whether this is the final fragment of its message.
func (p Packet) IsLast() bool {
	return p.fragmentNumber+1 == p.fragmentAmount
}

// IsAckNeeded reports whether the sender's transfer mode requires an ack
// for this fragment.
func (p Packet) IsAckNeeded() bool {
	return p.transferMode == AckEveryPacket || (p.transferMode == AckLastFragmentOnly && p.IsLast())
}

// IsAckFor reports whether this packet is an ack for dataPacket: p must be
// an Ack packet whose message_id, fragment_amount, and fragment_number all
// match dataPacket's.
func (p Packet) IsAckFor(dataPacket Packet) bool {
	return p.IsAck() &&
		p.messageID == dataPacket.messageID &&
		p.fragmentAmount == dataPacket.fragmentAmount &&
		p.fragmentNumber == dataPacket.fragmentNumber
}

func (p Packet) String() string {
	return fmt.Sprintf(
		"packet(type=%s, version=%d, checksum=0x%08x, checksum_mode=%s, transfer_mode=%s, "+
			"fragment_amount=%d, fragment_number=%d, message_id=%d, message_data_length=%d, payload_data=%d bytes)",
		p.Type(), protocolVersion, p.checksum, p.checksumMode, p.transferMode,
		p.fragmentAmount, p.fragmentNumber, p.messageID, p.messageDataLength, len(p.payload),
	)
}
