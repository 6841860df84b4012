package bb16

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DevType identifies the hardware family reported by the device.
type DevType int32

const (
	DevTypeHandwatch    DevType = 0
	DevTypeHub          DevType = 1
	DevTypeBikeComputer DevType = 2
)

// FileTransSize is the negotiated file chunk size class.
type FileTransSize int32

const (
	FileTransSize128  FileTransSize = 0
	FileTransSize256  FileTransSize = 1
	FileTransSize512  FileTransSize = 2
	FileTransSize1024 FileTransSize = 3
)

// Bytes returns the chunk size in bytes.
func (s FileTransSize) Bytes() int {
	switch s {
	case FileTransSize128:
		return 128
	case FileTransSize256:
		return 256
	case FileTransSize512:
		return 512
	case FileTransSize1024:
		return 1024
	}
	return 0
}

// ReceiveFileFlag marks the position of a fragment within a file transfer.
type ReceiveFileFlag byte

const (
	FlagFirst  ReceiveFileFlag = 0
	FlagMiddle ReceiveFileFlag = 1
	FlagLast   ReceiveFileFlag = 2
	FlagSingle ReceiveFileFlag = 3
)

func enumError(field string, raw uint64) error {
	return &ProtocolError{
		Kind:   ViolationEnumOutOfRange,
		Detail: fmt.Sprintf("%s value %d", field, raw),
	}
}

func payloadError(what string, n int) error {
	return fmt.Errorf("malformed %s payload: %w", what, protowire.ParseError(n))
}

// GetDeviceInfoRequest asks the device for its identity block.
type GetDeviceInfoRequest struct {
	base
}

func (*GetDeviceInfoRequest) Cmd() CmdType     { return CmdGet }
func (*GetDeviceInfoRequest) Trans() TransType { return TransDefault }
func (*GetDeviceInfoRequest) Oid() Oid         { return OidGetDeviceInfo }

func (*GetDeviceInfoRequest) appendPayload(dst []byte) ([]byte, error) { return dst, nil }

func decodeGetDeviceInfoRequest(sid byte, _ []byte) (Message, error) {
	return &GetDeviceInfoRequest{base{sid}}, nil
}

// GetDeviceInfoResponse carries the device identity block.
type GetDeviceInfoResponse struct {
	base
	DevType         DevType
	FileTransSize   FileTransSize
	HardwareVersion string
	SoftwareVersion string
	SerialNumber    string
	ProtocolVersion string
	BleMTU          int32
}

func (*GetDeviceInfoResponse) Cmd() CmdType     { return CmdGet }
func (*GetDeviceInfoResponse) Trans() TransType { return TransResponse }
func (*GetDeviceInfoResponse) Oid() Oid         { return OidGetDeviceInfo }

func (r *GetDeviceInfoResponse) appendPayload(dst []byte) ([]byte, error) {
	dst = protowire.AppendTag(dst, 1, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(r.DevType))
	dst = protowire.AppendTag(dst, 2, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(r.FileTransSize))
	dst = protowire.AppendTag(dst, 3, protowire.BytesType)
	dst = protowire.AppendString(dst, r.HardwareVersion)
	dst = protowire.AppendTag(dst, 4, protowire.BytesType)
	dst = protowire.AppendString(dst, r.SoftwareVersion)
	dst = protowire.AppendTag(dst, 5, protowire.BytesType)
	dst = protowire.AppendString(dst, r.SerialNumber)
	dst = protowire.AppendTag(dst, 6, protowire.BytesType)
	dst = protowire.AppendString(dst, r.ProtocolVersion)
	dst = protowire.AppendTag(dst, 7, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(r.BleMTU))
	return dst, nil
}

func decodeGetDeviceInfoResponse(sid byte, payload []byte) (Message, error) {
	// file_trans_size defaults to the 512-byte class when absent.
	msg := &GetDeviceInfoResponse{base: base{sid}, FileTransSize: FileTransSize512}
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return nil, payloadError("device info", n)
		}
		payload = payload[n:]
		switch num {
		case 1, 2, 7:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return nil, payloadError("device info", n)
			}
			payload = payload[n:]
			switch num {
			case 1:
				if v > uint64(DevTypeBikeComputer) {
					return nil, enumError("dev_type", v)
				}
				msg.DevType = DevType(v)
			case 2:
				if v > uint64(FileTransSize1024) {
					return nil, enumError("file_trans_size", v)
				}
				msg.FileTransSize = FileTransSize(v)
			case 7:
				msg.BleMTU = int32(v)
			}
		case 3, 4, 5, 6:
			v, n := protowire.ConsumeString(payload)
			if n < 0 {
				return nil, payloadError("device info", n)
			}
			payload = payload[n:]
			switch num {
			case 3:
				msg.HardwareVersion = v
			case 4:
				msg.SoftwareVersion = v
			case 5:
				msg.SerialNumber = v
			case 6:
				msg.ProtocolVersion = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return nil, payloadError("device info", n)
			}
			payload = payload[n:]
		}
	}
	return msg, nil
}

// GetFileStatus probes whether the device has finished writing its files.
type GetFileStatus struct {
	base
}

func (*GetFileStatus) Cmd() CmdType     { return CmdGet }
func (*GetFileStatus) Trans() TransType { return TransDefault }
func (*GetFileStatus) Oid() Oid         { return OidGetFileStatus }

func (*GetFileStatus) appendPayload(dst []byte) ([]byte, error) { return dst, nil }

func decodeGetFileStatus(sid byte, _ []byte) (Message, error) {
	return &GetFileStatus{base{sid}}, nil
}

// GetFileStatusResponse is the (empty) answer to GetFileStatus.
type GetFileStatusResponse struct {
	base
}

func (*GetFileStatusResponse) Cmd() CmdType     { return CmdGet }
func (*GetFileStatusResponse) Trans() TransType { return TransResponse }
func (*GetFileStatusResponse) Oid() Oid         { return OidGetFileStatus }

func (*GetFileStatusResponse) appendPayload(dst []byte) ([]byte, error) { return dst, nil }

func decodeGetFileStatusResponse(sid byte, _ []byte) (Message, error) {
	return &GetFileStatusResponse{base{sid}}, nil
}

// GetFile requests a file transfer by name.
type GetFile struct {
	base
	Filename string
}

func (*GetFile) Cmd() CmdType     { return CmdGet }
func (*GetFile) Trans() TransType { return TransDefault }
func (*GetFile) Oid() Oid         { return OidGetFile }

func (m *GetFile) appendPayload(dst []byte) ([]byte, error) {
	dst = protowire.AppendTag(dst, 1, protowire.BytesType)
	dst = protowire.AppendString(dst, m.Filename)
	return dst, nil
}

func decodeGetFile(sid byte, payload []byte) (Message, error) {
	msg := &GetFile{base: base{sid}}
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return nil, payloadError("get file", n)
		}
		payload = payload[n:]
		if num == 1 {
			v, n := protowire.ConsumeString(payload)
			if n < 0 {
				return nil, payloadError("get file", n)
			}
			payload = payload[n:]
			msg.Filename = v
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, payload)
		if n < 0 {
			return nil, payloadError("get file", n)
		}
		payload = payload[n:]
	}
	return msg, nil
}

// GetFileResponse tells whether the requested file exists.
type GetFileResponse struct {
	base
	Exist bool
}

func (*GetFileResponse) Cmd() CmdType     { return CmdGet }
func (*GetFileResponse) Trans() TransType { return TransResponse }
func (*GetFileResponse) Oid() Oid         { return OidGetFile }

func (m *GetFileResponse) appendPayload(dst []byte) ([]byte, error) {
	dst = protowire.AppendTag(dst, 1, protowire.VarintType)
	v := uint64(0)
	if m.Exist {
		v = 1
	}
	dst = protowire.AppendVarint(dst, v)
	return dst, nil
}

func decodeGetFileResponse(sid byte, payload []byte) (Message, error) {
	msg := &GetFileResponse{base: base{sid}}
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return nil, payloadError("get file response", n)
		}
		payload = payload[n:]
		if num == 1 {
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return nil, payloadError("get file response", n)
			}
			payload = payload[n:]
			msg.Exist = v != 0
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, payload)
		if n < 0 {
			return nil, payloadError("get file response", n)
		}
		payload = payload[n:]
	}
	return msg, nil
}

// FileInfo announces an incoming file transfer on the push channel.
type FileInfo struct {
	base
	Filename string
	Size     int32 // sint32 on the wire
}

func (*FileInfo) Cmd() CmdType     { return CmdPush }
func (*FileInfo) Trans() TransType { return TransDefault }
func (*FileInfo) Oid() Oid         { return OidPostFileInfo }

func (m *FileInfo) appendPayload(dst []byte) ([]byte, error) {
	dst = protowire.AppendTag(dst, 1, protowire.BytesType)
	dst = protowire.AppendString(dst, m.Filename)
	dst = protowire.AppendTag(dst, 2, protowire.VarintType)
	dst = protowire.AppendVarint(dst, protowire.EncodeZigZag(int64(m.Size)))
	return dst, nil
}

func decodeFileInfo(sid byte, payload []byte) (Message, error) {
	msg := &FileInfo{base: base{sid}}
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return nil, payloadError("file info", n)
		}
		payload = payload[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(payload)
			if n < 0 {
				return nil, payloadError("file info", n)
			}
			payload = payload[n:]
			msg.Filename = v
		case 2:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return nil, payloadError("file info", n)
			}
			payload = payload[n:]
			msg.Size = int32(protowire.DecodeZigZag(v))
		default:
			n := protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return nil, payloadError("file info", n)
			}
			payload = payload[n:]
		}
	}
	return msg, nil
}

// ReceiveFile carries one fragment of a file transfer. The payload is raw
// bytes, not protobuf: seq, flag, then data.
type ReceiveFile struct {
	base
	Seq  byte
	Flag ReceiveFileFlag
	Data []byte
}

func (*ReceiveFile) Cmd() CmdType     { return CmdPush }
func (*ReceiveFile) Trans() TransType { return TransDefault }
func (*ReceiveFile) Oid() Oid         { return OidReceiveFile }

func (m *ReceiveFile) appendPayload(dst []byte) ([]byte, error) {
	dst = append(dst, m.Seq, byte(m.Flag))
	dst = append(dst, m.Data...)
	return dst, nil
}

func decodeReceiveFile(sid byte, payload []byte) (Message, error) {
	if len(payload) < 2 {
		return nil, &FramingError{Reason: fmt.Sprintf("receive file payload too short: %d bytes", len(payload))}
	}
	if payload[1] > byte(FlagSingle) {
		return nil, enumError("receive file flag", uint64(payload[1]))
	}
	data := make([]byte, len(payload)-2)
	copy(data, payload[2:])
	return &ReceiveFile{
		base: base{sid},
		Seq:  payload[0],
		Flag: ReceiveFileFlag(payload[1]),
		Data: data,
	}, nil
}
