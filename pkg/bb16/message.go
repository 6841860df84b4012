package bb16

import (
	"encoding/binary"
	"fmt"
)

// CmdType selects the direction semantics of a frame.
type CmdType byte

const (
	CmdGet  CmdType = 0x00
	CmdPost CmdType = 0x01
	CmdPush CmdType = 0x02
)

// TransType selects the frame role.
type TransType byte

const (
	TransDefault  TransType = 0x00
	TransResponse TransType = 0x01
	TransAck      TransType = 0x02
)

// Oid is the 16-bit operation identifier selecting the message schema.
type Oid uint16

// Operation ids observed on BB16-class firmware. Only the core subset has
// registered codecs; the rest are declared for completeness.
const (
	OidInvalid        Oid = 0x00
	OidGetDeviceInfo  Oid = 0x01
	OidPostUtcInfo    Oid = 0x02
	OidPostReset      Oid = 0x03
	OidGetFunction    Oid = 0x04
	OidGetSupport     Oid = 0x05
	OidGetHistory     Oid = 0x15
	OidGetFile        Oid = 0x29
	OidPostDeleteFile Oid = 0x2A
	OidPostFileInfo   Oid = 0x2B
	OidReceiveFile    Oid = 0x2C
	OidPostStopFile   Oid = 0x2D
	OidGetFileStatus  Oid = 0x32
	OidGetStorage     Oid = 0x33
	OidGetCustomer    Oid = 0x34
	OidScanDevice     Oid = 0x3D
	OidSaveDevice     Oid = 0x3E
	OidOffDevice      Oid = 0x3F
	OidCheckPower     Oid = 0x40
	OidResultPower    Oid = 0x41
	OidRunInfo        Oid = 0x2710
	OidRunStart       Oid = 0x2711
	OidTestCmd        Oid = 0xFF
)

// Message is one typed unit of the command/data protocol. Messages are
// plain values; the sid is stamped at transmit time by the stream.
type Message interface {
	Sid() byte
	Cmd() CmdType
	Trans() TransType
	Oid() Oid

	appendPayload(dst []byte) ([]byte, error)
}

// base carries the 4-bit per-stream sequence id shared by every variant.
type base struct {
	SID byte
}

func (b base) Sid() byte { return b.SID }

// Ack acknowledges receipt of a message on the same characteristic. Ack
// frames carry no oid and no payload.
type Ack struct {
	base
	cmd CmdType
}

// AckFor builds the acknowledgement for a received message: same cmd type,
// same sid.
func AckFor(m Message) *Ack {
	return &Ack{base{m.Sid()}, m.Cmd()}
}

func (a *Ack) Cmd() CmdType     { return a.cmd }
func (a *Ack) Trans() TransType { return TransAck }
func (a *Ack) Oid() Oid         { return OidInvalid }

func (a *Ack) appendPayload(dst []byte) ([]byte, error) { return dst, nil }

func packHeader(cmd CmdType, trans TransType, sid byte) byte {
	return byte(cmd)<<6 | byte(trans)<<4 | sid&0x0F
}

func unpackHeader(b byte) (CmdType, TransType, byte, error) {
	cmd := CmdType(b >> 6)
	trans := TransType(b >> 4 & 0x03)
	if cmd > CmdPush || trans > TransAck {
		return 0, 0, 0, &ProtocolError{
			Kind:   ViolationUnknownHeader,
			Detail: fmt.Sprintf("header byte %02x", b),
		}
	}
	return cmd, trans, b & 0x0F, nil
}

// Encode serializes m as a complete frame, stamping the given sid into the
// header.
func Encode(m Message, sid byte) ([]byte, error) {
	body := []byte{packHeader(m.Cmd(), m.Trans(), sid)}

	var payload []byte
	if m.Trans() != TransAck {
		payload = binary.BigEndian.AppendUint16(nil, uint16(m.Oid()))
		var err error
		payload, err = m.appendPayload(payload)
		if err != nil {
			return nil, err
		}
	}

	// length counts header, length, oid+payload and the trailing crc
	body = binary.BigEndian.AppendUint16(body, uint16(len(payload)+5))
	body = append(body, payload...)
	body = binary.BigEndian.AppendUint16(body, Checksum(body))

	return Frame(body), nil
}

// Marshal serializes m with its own sid.
func Marshal(m Message) ([]byte, error) {
	return Encode(m, m.Sid())
}

// Decode parses one complete frame into a typed message.
func Decode(frame []byte) (Message, error) {
	body, err := Deframe(frame)
	if err != nil {
		return nil, err
	}
	if len(body) < 5 {
		return nil, &FramingError{Reason: fmt.Sprintf("body too short: %d bytes", len(body))}
	}

	want := binary.BigEndian.Uint16(body[len(body)-2:])
	if got := Checksum(body[:len(body)-2]); got != want {
		return nil, &CrcError{Want: want, Got: got}
	}

	if length := int(binary.BigEndian.Uint16(body[1:3])); length != len(body) {
		return nil, &FramingError{
			Reason: fmt.Sprintf("length field %d does not match body length %d", length, len(body)),
		}
	}

	cmd, trans, sid, err := unpackHeader(body[0])
	if err != nil {
		return nil, err
	}

	oid := OidInvalid
	var payload []byte
	if trans == TransAck {
		if len(body) != 5 {
			return nil, &FramingError{Reason: fmt.Sprintf("ack body length %d, want 5", len(body))}
		}
	} else {
		if len(body) < 7 {
			return nil, &FramingError{Reason: fmt.Sprintf("body too short for oid: %d bytes", len(body))}
		}
		oid = Oid(binary.BigEndian.Uint16(body[3:5]))
		payload = body[5 : len(body)-2]
	}

	decode, ok := registry[msgKey{cmd, trans, oid}]
	if !ok {
		return nil, &ProtocolError{
			Kind:   ViolationUnknownMessage,
			Detail: fmt.Sprintf("cmd=%d trans=%d oid=0x%04x", cmd, trans, oid),
		}
	}
	return decode(sid, payload)
}

type msgKey struct {
	cmd   CmdType
	trans TransType
	oid   Oid
}

type decodeFunc func(sid byte, payload []byte) (Message, error)

// registry maps every supported (cmd, trans, oid) triple to its payload
// decoder. Built once at init; registering a duplicate key is a bug.
var registry = make(map[msgKey]decodeFunc)

func register(cmd CmdType, trans TransType, oid Oid, fn decodeFunc) {
	key := msgKey{cmd, trans, oid}
	if _, dup := registry[key]; dup {
		panic(fmt.Sprintf("bb16: duplicate message registration for %+v", key))
	}
	registry[key] = fn
}

func init() {
	register(CmdGet, TransDefault, OidGetDeviceInfo, decodeGetDeviceInfoRequest)
	register(CmdGet, TransResponse, OidGetDeviceInfo, decodeGetDeviceInfoResponse)
	register(CmdGet, TransDefault, OidGetFileStatus, decodeGetFileStatus)
	register(CmdGet, TransResponse, OidGetFileStatus, decodeGetFileStatusResponse)
	register(CmdGet, TransDefault, OidGetFile, decodeGetFile)
	register(CmdGet, TransResponse, OidGetFile, decodeGetFileResponse)
	register(CmdPush, TransDefault, OidPostFileInfo, decodeFileInfo)
	register(CmdPush, TransDefault, OidReceiveFile, decodeReceiveFile)

	for _, cmd := range []CmdType{CmdGet, CmdPost, CmdPush} {
		cmd := cmd
		register(cmd, TransAck, OidInvalid, func(sid byte, _ []byte) (Message, error) {
			return &Ack{base{sid}, cmd}, nil
		})
	}
}
