package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/siohaza/multisnake/internal/grid"
	"github.com/siohaza/multisnake/internal/validation"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	DefaultPort     = 50403
	MaxNicknameSize = 32
	MaxMessageSize  = 255
)

type PacketType uint8

const (
	PacketTypeJoin          PacketType = 0x00
	PacketTypeStatusRequest PacketType = 0x01
	PacketTypeDirection     PacketType = 0x02
	PacketTypeDied          PacketType = 0x03
	PacketTypeSnapshot      PacketType = 0x04
	PacketTypeReject        PacketType = 0x05
	PacketTypeAccept        PacketType = 0x06
	PacketTypeHeartbeat     PacketType = 0x07
	PacketTypeFastToggle    PacketType = 0x08
	PacketTypeRespawn       PacketType = 0x09
	PacketTypeLeave         PacketType = 0x0A
	PacketTypeStatus        PacketType = 0x0B
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeJoin:
		return "join"
	case PacketTypeStatusRequest:
		return "status_request"
	case PacketTypeDirection:
		return "direction"
	case PacketTypeDied:
		return "died"
	case PacketTypeSnapshot:
		return "snapshot"
	case PacketTypeReject:
		return "reject"
	case PacketTypeAccept:
		return "accept"
	case PacketTypeHeartbeat:
		return "heartbeat"
	case PacketTypeFastToggle:
		return "fast_toggle"
	case PacketTypeRespawn:
		return "respawn"
	case PacketTypeLeave:
		return "leave"
	case PacketTypeStatus:
		return "status"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

type RejectReason uint8

const (
	RejectReasonUndefined         RejectReason = 0
	RejectReasonBanned            RejectReason = 1
	RejectReasonInvalidNickname   RejectReason = 2
	RejectReasonCapacityExceeded  RejectReason = 3
	RejectReasonShutdown          RejectReason = 4
	RejectReasonTimeout           RejectReason = 5
	RejectReasonKicked            RejectReason = 6
	RejectReasonNoSpace           RejectReason = 7
	RejectReasonProtocolViolation RejectReason = 8
)

func (r RejectReason) String() string {
	switch r {
	case RejectReasonBanned:
		return "banned"
	case RejectReasonInvalidNickname:
		return "invalid_nickname"
	case RejectReasonCapacityExceeded:
		return "capacity_exceeded"
	case RejectReasonShutdown:
		return "shutdown"
	case RejectReasonTimeout:
		return "timeout"
	case RejectReasonKicked:
		return "kicked"
	case RejectReasonNoSpace:
		return "no_space"
	case RejectReasonProtocolViolation:
		return "protocol_violation"
	default:
		return "undefined"
	}
}

var ErrMalformed = errors.New("malformed frame")

// Error describes a frame that could not be decoded. It matches ErrMalformed.
type Error struct {
	Type   PacketType
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("malformed %s frame: %s", e.Type, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrMalformed
}

func malformed(t PacketType, format string, args ...interface{}) error {
	return &Error{Type: t, Reason: fmt.Sprintf(format, args...)}
}

type Packet interface {
	Type() PacketType
	Write(w io.Writer) error
}

type PacketJoin struct {
	Nickname string
}

func (p *PacketJoin) Type() PacketType { return PacketTypeJoin }

func (p *PacketJoin) Write(w io.Writer) error {
	name, err := StringToCP437(p.Nickname)
	if err != nil {
		return fmt.Errorf("failed to encode nickname: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteByte(uint8(PacketTypeJoin))
	buf.Write(name)
	_, err = w.Write(buf.Bytes())
	return err
}

func (p *PacketJoin) Read(data []byte) error {
	if err := validation.ValidatePacketSize(data, 1); err != nil {
		return malformed(PacketTypeJoin, "%v", err)
	}
	raw := data[1:]
	if len(raw) > MaxNicknameSize {
		return malformed(PacketTypeJoin, "nickname of %d bytes", len(raw))
	}
	name, err := CP437ToString(raw)
	if err != nil {
		return malformed(PacketTypeJoin, "nickname: %v", err)
	}
	p.Nickname = name
	return nil
}

type PacketStatusRequest struct{}

func (p *PacketStatusRequest) Type() PacketType { return PacketTypeStatusRequest }

func (p *PacketStatusRequest) Write(w io.Writer) error {
	_, err := w.Write([]byte{uint8(PacketTypeStatusRequest)})
	return err
}

// PacketDirection is the steering intent. Seq orders intents of one session.
type PacketDirection struct {
	Session   uint16
	Seq       uint32
	Direction grid.Direction
}

func (p *PacketDirection) Type() PacketType { return PacketTypeDirection }

func (p *PacketDirection) Write(w io.Writer) error {
	var buf [8]byte
	buf[0] = uint8(PacketTypeDirection)
	binary.LittleEndian.PutUint16(buf[1:3], p.Session)
	binary.LittleEndian.PutUint32(buf[3:7], p.Seq)
	buf[7] = uint8(p.Direction)
	_, err := w.Write(buf[:])
	return err
}

func (p *PacketDirection) Read(data []byte) error {
	if len(data) != 8 {
		return malformed(PacketTypeDirection, "length %d, want 8", len(data))
	}
	if !validation.IsValidDirection(data[7]) {
		return malformed(PacketTypeDirection, "direction %d", data[7])
	}
	p.Session = binary.LittleEndian.Uint16(data[1:3])
	p.Seq = binary.LittleEndian.Uint32(data[3:7])
	p.Direction = grid.Direction(data[7])
	return nil
}

// sequenced is the shared layout of heartbeat, fast toggle and respawn.
type sequenced struct {
	Session uint16
	Seq     uint32
}

func (s *sequenced) write(w io.Writer, t PacketType) error {
	var buf [7]byte
	buf[0] = uint8(t)
	binary.LittleEndian.PutUint16(buf[1:3], s.Session)
	binary.LittleEndian.PutUint32(buf[3:7], s.Seq)
	_, err := w.Write(buf[:])
	return err
}

func (s *sequenced) read(data []byte, t PacketType) error {
	if len(data) != 7 {
		return malformed(t, "length %d, want 7", len(data))
	}
	s.Session = binary.LittleEndian.Uint16(data[1:3])
	s.Seq = binary.LittleEndian.Uint32(data[3:7])
	return nil
}

type PacketHeartbeat struct{ sequenced }

func NewHeartbeat(session uint16, seq uint32) *PacketHeartbeat {
	return &PacketHeartbeat{sequenced{Session: session, Seq: seq}}
}

func (p *PacketHeartbeat) Type() PacketType        { return PacketTypeHeartbeat }
func (p *PacketHeartbeat) Write(w io.Writer) error { return p.write(w, PacketTypeHeartbeat) }
func (p *PacketHeartbeat) Read(data []byte) error  { return p.read(data, PacketTypeHeartbeat) }

type PacketFastToggle struct{ sequenced }

func NewFastToggle(session uint16, seq uint32) *PacketFastToggle {
	return &PacketFastToggle{sequenced{Session: session, Seq: seq}}
}

func (p *PacketFastToggle) Type() PacketType        { return PacketTypeFastToggle }
func (p *PacketFastToggle) Write(w io.Writer) error { return p.write(w, PacketTypeFastToggle) }
func (p *PacketFastToggle) Read(data []byte) error  { return p.read(data, PacketTypeFastToggle) }

type PacketRespawn struct{ sequenced }

func NewRespawn(session uint16, seq uint32) *PacketRespawn {
	return &PacketRespawn{sequenced{Session: session, Seq: seq}}
}

func (p *PacketRespawn) Type() PacketType        { return PacketTypeRespawn }
func (p *PacketRespawn) Write(w io.Writer) error { return p.write(w, PacketTypeRespawn) }
func (p *PacketRespawn) Read(data []byte) error  { return p.read(data, PacketTypeRespawn) }

type PacketLeave struct {
	Session uint16
}

func (p *PacketLeave) Type() PacketType { return PacketTypeLeave }

func (p *PacketLeave) Write(w io.Writer) error {
	var buf [3]byte
	buf[0] = uint8(PacketTypeLeave)
	binary.LittleEndian.PutUint16(buf[1:3], p.Session)
	_, err := w.Write(buf[:])
	return err
}

func (p *PacketLeave) Read(data []byte) error {
	if len(data) != 3 {
		return malformed(PacketTypeLeave, "length %d, want 3", len(data))
	}
	p.Session = binary.LittleEndian.Uint16(data[1:3])
	return nil
}

// PacketDied tells a player their snake died. KillerID zero means no killer.
type PacketDied struct {
	KillerID uint16
	Cause    uint8
}

func (p *PacketDied) Type() PacketType { return PacketTypeDied }

func (p *PacketDied) Write(w io.Writer) error {
	var buf [4]byte
	buf[0] = uint8(PacketTypeDied)
	binary.LittleEndian.PutUint16(buf[1:3], p.KillerID)
	buf[3] = p.Cause
	_, err := w.Write(buf[:])
	return err
}

func (p *PacketDied) Read(data []byte) error {
	if len(data) != 4 {
		return malformed(PacketTypeDied, "length %d, want 4", len(data))
	}
	p.KillerID = binary.LittleEndian.Uint16(data[1:3])
	p.Cause = data[3]
	return nil
}

type PacketReject struct {
	Reason  RejectReason
	Message string
}

func (p *PacketReject) Type() PacketType { return PacketTypeReject }

func (p *PacketReject) Write(w io.Writer) error {
	msg, err := StringToCP437(p.Message)
	if err != nil {
		return fmt.Errorf("failed to encode reject message: %w", err)
	}
	if len(msg) > MaxMessageSize {
		msg = msg[:MaxMessageSize]
	}
	var buf bytes.Buffer
	buf.WriteByte(uint8(PacketTypeReject))
	buf.WriteByte(uint8(p.Reason))
	buf.Write(msg)
	_, err = w.Write(buf.Bytes())
	return err
}

func (p *PacketReject) Read(data []byte) error {
	if err := validation.ValidatePacketSize(data, 2); err != nil {
		return malformed(PacketTypeReject, "%v", err)
	}
	p.Reason = RejectReason(data[1])
	msg, err := CP437ToString(data[2:])
	if err != nil {
		return malformed(PacketTypeReject, "message: %v", err)
	}
	p.Message = msg
	return nil
}

type PacketAccept struct {
	Session        uint16
	Width          uint16
	Height         uint16
	TicksPerSecond uint8
	Wrap           bool
}

func (p *PacketAccept) Type() PacketType { return PacketTypeAccept }

func (p *PacketAccept) Write(w io.Writer) error {
	var buf [9]byte
	buf[0] = uint8(PacketTypeAccept)
	binary.LittleEndian.PutUint16(buf[1:3], p.Session)
	binary.LittleEndian.PutUint16(buf[3:5], p.Width)
	binary.LittleEndian.PutUint16(buf[5:7], p.Height)
	buf[7] = p.TicksPerSecond
	if p.Wrap {
		buf[8] = flagWrap
	}
	_, err := w.Write(buf[:])
	return err
}

func (p *PacketAccept) Read(data []byte) error {
	if len(data) != 9 {
		return malformed(PacketTypeAccept, "length %d, want 9", len(data))
	}
	p.Session = binary.LittleEndian.Uint16(data[1:3])
	p.Width = binary.LittleEndian.Uint16(data[3:5])
	p.Height = binary.LittleEndian.Uint16(data[5:7])
	p.TicksPerSecond = data[7]
	p.Wrap = data[8]&flagWrap != 0
	return nil
}

type PacketStatus struct {
	MaxPlayers     uint16
	Players        uint16
	Bots           uint16
	Width          uint16
	Height         uint16
	FoodRate       uint8
	TicksPerSecond uint8
}

func (p *PacketStatus) Type() PacketType { return PacketTypeStatus }

func (p *PacketStatus) Write(w io.Writer) error {
	var buf [13]byte
	buf[0] = uint8(PacketTypeStatus)
	binary.LittleEndian.PutUint16(buf[1:3], p.MaxPlayers)
	binary.LittleEndian.PutUint16(buf[3:5], p.Players)
	binary.LittleEndian.PutUint16(buf[5:7], p.Bots)
	binary.LittleEndian.PutUint16(buf[7:9], p.Width)
	binary.LittleEndian.PutUint16(buf[9:11], p.Height)
	buf[11] = p.FoodRate
	buf[12] = p.TicksPerSecond
	_, err := w.Write(buf[:])
	return err
}

func (p *PacketStatus) Read(data []byte) error {
	if len(data) != 13 {
		return malformed(PacketTypeStatus, "length %d, want 13", len(data))
	}
	p.MaxPlayers = binary.LittleEndian.Uint16(data[1:3])
	p.Players = binary.LittleEndian.Uint16(data[3:5])
	p.Bots = binary.LittleEndian.Uint16(data[5:7])
	p.Width = binary.LittleEndian.Uint16(data[7:9])
	p.Height = binary.LittleEndian.Uint16(data[9:11])
	p.FoodRate = data[11]
	p.TicksPerSecond = data[12]
	return nil
}

// Decode parses one frame into its packet type.
func Decode(data []byte) (Packet, error) {
	id, err := validation.ReadPacketID(data)
	if err != nil {
		return nil, &Error{Reason: err.Error()}
	}

	var packet interface {
		Packet
		Read([]byte) error
	}

	switch PacketType(id) {
	case PacketTypeJoin:
		packet = &PacketJoin{}
	case PacketTypeStatusRequest:
		if len(data) != 1 {
			return nil, malformed(PacketTypeStatusRequest, "length %d, want 1", len(data))
		}
		return &PacketStatusRequest{}, nil
	case PacketTypeDirection:
		packet = &PacketDirection{}
	case PacketTypeDied:
		packet = &PacketDied{}
	case PacketTypeSnapshot:
		packet = &PacketSnapshot{}
	case PacketTypeReject:
		packet = &PacketReject{}
	case PacketTypeAccept:
		packet = &PacketAccept{}
	case PacketTypeHeartbeat:
		packet = &PacketHeartbeat{}
	case PacketTypeFastToggle:
		packet = &PacketFastToggle{}
	case PacketTypeRespawn:
		packet = &PacketRespawn{}
	case PacketTypeLeave:
		packet = &PacketLeave{}
	case PacketTypeStatus:
		packet = &PacketStatus{}
	default:
		return nil, malformed(PacketType(id), "unknown packet type")
	}

	if err := packet.Read(data); err != nil {
		return nil, err
	}
	return packet, nil
}

// Marshal encodes a packet into a fresh buffer.
func Marshal(packet Packet) ([]byte, error) {
	var buf bytes.Buffer
	if err := packet.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var cp437Decoder = charmap.CodePage437.NewDecoder()
var cp437Encoder = encoding.ReplaceUnsupported(charmap.CodePage437.NewEncoder())

// StringToCP437 encodes s, replacing runes CP437 cannot represent.
func StringToCP437(s string) ([]byte, error) {
	return cp437Encoder.Bytes([]byte(s))
}

func CP437ToString(b []byte) (string, error) {
	trimmed := bytes.TrimRight(b, "\x00")
	decoded, err := cp437Decoder.Bytes(trimmed)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
