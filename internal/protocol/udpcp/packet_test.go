package udpcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_Enabled(t *testing.T) {
	p := Sync(ChecksumEnabled)

	assert.Equal(t, uint32(0x02960053), p.Checksum())
	assert.Equal(t, PacketTypeSync, p.Type())
	assert.True(t, p.IsAckNeeded())
}

func TestSync_Disabled(t *testing.T) {
	p := Sync(ChecksumDisabled)

	assert.Equal(t, uint32(0), p.Checksum())
	assert.Equal(t, PacketTypeSync, p.Type())
}

func TestData_LastFragment(t *testing.T) {
	p, err := Data(AckEveryPacket, ChecksumDisabled, 10, 9, 12345, []byte("dummy"))
	require.NoError(t, err)

	assert.True(t, p.IsLast())
	assert.True(t, p.IsAckNeeded())
	assert.False(t, p.IsSingle())

	decoded, err := Decode(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, p.Bytes(), decoded.Bytes())
}

func TestAck_OfDataPacket(t *testing.T) {
	base, err := Data(AckEveryPacket, ChecksumDisabled, 10, 5, 12345, []byte("dummy"))
	require.NoError(t, err)

	ack, err := Ack(base, false)
	require.NoError(t, err)

	assert.Equal(t, PacketTypeAck, ack.Type())
	assert.Equal(t, uint8(10), ack.FragmentAmount())
	assert.Equal(t, uint8(5), ack.FragmentNumber())
	assert.Equal(t, uint16(12345), ack.MessageID())
	assert.Equal(t, AckNone, ack.TransferMode())
	assert.False(t, ack.IsAckNeeded())
	assert.True(t, ack.IsAckFor(base))
}

func TestData_InvalidFragmentNumber(t *testing.T) {
	_, err := Data(AckEveryPacket, ChecksumDisabled, 1, 1, 1, nil)

	require.Error(t, err)
	var fe *FragmentIndexError
	assert.ErrorAs(t, err, &fe)
}

func TestDecode_HeaderTooShort(t *testing.T) {
	_, err := Decode([]byte("dummy"))

	require.Error(t, err)
	var he *HeaderLengthError
	assert.ErrorAs(t, err, &he)
}

func TestDecode_InvalidVersion(t *testing.T) {
	_, err := Decode([]byte("000000000000"))

	require.Error(t, err)
	var ve *VersionError
	assert.ErrorAs(t, err, &ve)
}

func TestDecode_ChecksumMismatchOnFlippedPayload(t *testing.T) {
	p, err := Data(AckEveryPacket, ChecksumEnabled, 1, 0, 1, []byte("dummy"))
	require.NoError(t, err)

	raw := p.Bytes()
	raw[len(raw)-1] ^= 0xFF // flip one payload byte without recomputing the checksum

	_, err = Decode(raw)
	require.Error(t, err)
	var ce *ChecksumError
	assert.ErrorAs(t, err, &ce)
}

func TestClassification_Invalid(t *testing.T) {
	// MessageType=Ack, TransferMode=AckEveryPacket, is_duplicate=true,
	// id=0, non-empty payload: none of Ack/Sync/Data's predicates hold.
	p := newPacket(MessageTypeAck, AckEveryPacket, ChecksumDisabled, true, 1, 0, 0, []byte("dummy"))

	assert.False(t, p.IsAck())
	assert.False(t, p.IsSync())
	assert.False(t, p.IsData())
	assert.Equal(t, PacketTypeInvalid, p.Type())
}

func TestAck_RejectsNonDataNonSyncBase(t *testing.T) {
	base := newPacket(MessageTypeAck, AckEveryPacket, ChecksumDisabled, true, 1, 0, 0, []byte("dummy"))

	_, err := Ack(base, false)

	require.Error(t, err)
	var abe *AckBaseError
	assert.ErrorAs(t, err, &abe)
}

func TestData_RejectsZeroMessageID(t *testing.T) {
	_, err := Data(AckEveryPacket, ChecksumDisabled, 1, 0, 0, nil)

	require.Error(t, err)
	var me *MessageIDError
	assert.ErrorAs(t, err, &me)
}

func TestData_RejectsZeroFragmentAmount(t *testing.T) {
	_, err := Data(AckEveryPacket, ChecksumDisabled, 0, 0, 1, nil)

	require.Error(t, err)
	var fe *FragmentCountError
	assert.ErrorAs(t, err, &fe)
}

func TestRoundTrip_AllTransferModes(t *testing.T) {
	modes := []TransferMode{AckEveryPacket, AckLastFragmentOnly, AckNone}

	for _, mode := range modes {
		mode := mode
		t.Run(mode.String(), func(t *testing.T) {
			p, err := Data(mode, ChecksumEnabled, 3, 1, 42, []byte("payload"))
			require.NoError(t, err)

			decoded, err := Decode(p.Bytes())
			require.NoError(t, err)

			assert.Equal(t, p.Bytes(), decoded.Bytes())
			assert.Equal(t, mode, decoded.TransferMode())
		})
	}
}
