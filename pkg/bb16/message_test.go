package bb16

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Captured GetDeviceInfo response from a BB16 bike computer.
const deviceInfoHex = "7e100029000108021a0456322e31220656312e302e372a0731343636313933320456312e3038c801f08d7f"

func TestDecodeDeviceInfoCapture(t *testing.T) {
	frame, err := hex.DecodeString(deviceInfoHex)
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)

	info, ok := msg.(*GetDeviceInfoResponse)
	require.True(t, ok, "expected *GetDeviceInfoResponse, got %T", msg)

	assert.Equal(t, byte(0), info.Sid())
	assert.Equal(t, CmdGet, info.Cmd())
	assert.Equal(t, TransResponse, info.Trans())
	assert.Equal(t, OidGetDeviceInfo, info.Oid())

	assert.Equal(t, DevTypeBikeComputer, info.DevType)
	// field 2 is absent in this capture; the 512-byte default applies
	assert.Equal(t, FileTransSize512, info.FileTransSize)
	assert.Equal(t, 512, info.FileTransSize.Bytes())
	assert.Equal(t, "V2.1", info.HardwareVersion)
	assert.Equal(t, "V1.0.7", info.SoftwareVersion)
	assert.Equal(t, "1466193", info.SerialNumber)
	assert.Equal(t, "V1.0", info.ProtocolVersion)
	assert.Equal(t, int32(200), info.BleMTU)
}

func TestGetFileRoundTrip(t *testing.T) {
	msg := &GetFile{base: base{SID: 1}, Filename: "test.txt"}

	encoded, err := Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7E), encoded[0])
	assert.Equal(t, byte(0x7F), encoded[len(encoded)-1])

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	got, ok := decoded.(*GetFile)
	require.True(t, ok)
	assert.Equal(t, byte(1), got.Sid())
	assert.Equal(t, CmdGet, got.Cmd())
	assert.Equal(t, OidGetFile, got.Oid())
	assert.Equal(t, "test.txt", got.Filename)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	messages := []Message{
		&GetDeviceInfoRequest{base{3}},
		&GetDeviceInfoResponse{
			base:            base{4},
			DevType:         DevTypeHub,
			FileTransSize:   FileTransSize1024,
			HardwareVersion: "V2.1",
			SoftwareVersion: "V1.0.7",
			SerialNumber:    "14661932",
			ProtocolVersion: "V1.08",
			BleMTU:          200,
		},
		&GetFileStatus{base{5}},
		&GetFileStatusResponse{base{6}},
		&GetFile{base{7}, "Record0001.fit"},
		&GetFileResponse{base{8}, true},
		&GetFileResponse{base{9}, false},
		&FileInfo{base{10}, "Record0001.fit", 4096},
		&FileInfo{base{11}, "neg.fit", -3},
		&ReceiveFile{base{12}, 2, FlagMiddle, []byte("chunk")},
		&Ack{base{13}, CmdGet},
		&Ack{base{14}, CmdPost},
		&Ack{base{15}, CmdPush},
	}

	for _, msg := range messages {
		encoded, err := Marshal(msg)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err, "decoding %T", msg)
		assert.Equal(t, msg, decoded)
	}
}

func TestBitFlipRejected(t *testing.T) {
	msg := &GetFile{base: base{SID: 1}, Filename: "test.txt"}
	encoded, err := Marshal(msg)
	require.NoError(t, err)

	corrupted := make([]byte, len(encoded))
	copy(corrupted, encoded)
	corrupted[len(corrupted)/2] ^= 0xFF

	_, err = Decode(corrupted)
	require.Error(t, err)

	var crcErr *CrcError
	var framingErr *FramingError
	assert.True(t, errors.As(err, &crcErr) || errors.As(err, &framingErr),
		"want CrcError or FramingError, got %v", err)
}

func TestEveryBitFlipRejected(t *testing.T) {
	msg := &FileInfo{base: base{SID: 2}, Filename: "R.fit", Size: 7}
	encoded, err := Marshal(msg)
	require.NoError(t, err)

	for i := 1; i < len(encoded)-1; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(encoded))
			copy(corrupted, encoded)
			corrupted[i] ^= 1 << bit

			if _, err := Decode(corrupted); err == nil {
				// A flip may legally change only the sid (the header's low
				// nibble is not covered by any redundancy beyond the crc),
				// so a nil error here means the crc caught nothing -- fail.
				t.Fatalf("flip of byte %d bit %d went undetected", i, bit)
			}
		}
	}
}

func TestAckShape(t *testing.T) {
	for _, msg := range []Message{
		&GetFile{base{3}, "a.fit"},
		&FileInfo{base{9}, "a.fit", 1},
	} {
		ack := AckFor(msg)
		assert.Equal(t, msg.Cmd(), ack.Cmd())
		assert.Equal(t, TransAck, ack.Trans())
		assert.Equal(t, OidInvalid, ack.Oid())
		assert.Equal(t, msg.Sid(), ack.Sid())

		encoded, err := Marshal(ack)
		require.NoError(t, err)
		body, err := Deframe(encoded)
		require.NoError(t, err)
		assert.Len(t, body, 5)
	}
}

func TestLengthFieldSelfConsistency(t *testing.T) {
	encoded, err := Marshal(&GetFile{base: base{SID: 0}, Filename: "x"})
	require.NoError(t, err)
	body, err := Deframe(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(body), int(binary.BigEndian.Uint16(body[1:3])))

	// rebuild the frame with a corrupted length field and a fixed-up crc
	body[2]++
	binary.BigEndian.PutUint16(body[len(body)-2:], Checksum(body[:len(body)-2]))

	var framingErr *FramingError
	_, err = Decode(Frame(body))
	require.ErrorAs(t, err, &framingErr)
}

func TestUnknownMessageRejected(t *testing.T) {
	// TestCmd is declared but has no registered codec
	body := []byte{packHeader(CmdGet, TransDefault, 0)}
	body = binary.BigEndian.AppendUint16(body, 7)
	body = binary.BigEndian.AppendUint16(body, uint16(OidTestCmd))
	body = binary.BigEndian.AppendUint16(body, Checksum(body))

	_, err := Decode(Frame(body))
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, ViolationUnknownMessage, protoErr.Kind)
}

func TestUnknownHeaderRejected(t *testing.T) {
	// cmd bits 0b11 map to no CmdType
	body := []byte{0xC0}
	body = binary.BigEndian.AppendUint16(body, 7)
	body = binary.BigEndian.AppendUint16(body, uint16(OidGetFile))
	body = binary.BigEndian.AppendUint16(body, Checksum(body))

	_, err := Decode(Frame(body))
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, ViolationUnknownHeader, protoErr.Kind)
}

func TestEnumOutOfRangeRejected(t *testing.T) {
	bad := &GetDeviceInfoResponse{
		base:    base{0},
		DevType: 9,
	}
	encoded, err := Marshal(bad)
	require.NoError(t, err)

	_, err = Decode(encoded)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, ViolationEnumOutOfRange, protoErr.Kind)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	assert.Panics(t, func() {
		register(CmdGet, TransDefault, OidGetDeviceInfo, decodeGetDeviceInfoRequest)
	})
}
