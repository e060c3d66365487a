package udpcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHeader_RoundTrip(t *testing.T) {
	h := rawHeader{
		checksum:          0x11223344,
		messageType:       1,
		version:           2,
		nbit:              true,
		cbit:              false,
		sbit:              true,
		dbit:              true,
		fragmentAmount:    200,
		fragmentNumber:    7,
		messageID:         5000,
		messageDataLength: 1234,
	}

	encoded := encodeHeader(h)
	require.Len(t, encoded, headerSize)

	decoded, err := decodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestDecodeHeader_TooShort(t *testing.T) {
	_, err := decodeHeader(make([]byte, headerSize-1))

	require.Error(t, err)
	var he *HeaderLengthError
	assert.ErrorAs(t, err, &he)
}

func TestComputeChecksum_SyncEnabled(t *testing.T) {
	h := rawHeader{
		messageType:    uint8(MessageTypeData),
		version:        protocolVersion,
		cbit:           true,
		fragmentAmount: 1,
	}

	assert.Equal(t, uint32(0x02960053), computeChecksum(h, nil))
}
