// ABOUTME: TSP wire message definitions
// ABOUTME: Fixed-layout TimeRequest/TimeReply records and their byte codec
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// ProtocolTag is the 3-byte family tag carried at offset 0
	ProtocolTag = "TSP"

	// ProtocolVersion is the only version this package emits
	ProtocolVersion = 1

	// TimeRequestPacketSize is the packed size of a request: 3 + 1 + 4 + 8
	TimeRequestPacketSize = 16

	// TimeReplyPacketSize is the packed size of a reply: request header + 8 byte timestamp
	TimeReplyPacketSize = TimeRequestPacketSize + 8
)

// Field offsets within a packet
const (
	offsetProtocol = 0
	offsetVersion  = 3
	offsetUnused   = 4
	offsetCookie   = 8
	offsetTime     = 16
)

var (
	// ErrMalformed is returned when a buffer does not have the exact packet size
	ErrMalformed = errors.New("malformed packet")

	// ErrBadTag is returned by Validate when the protocol tag is not "TSP"
	ErrBadTag = errors.New("unexpected protocol tag")

	// ErrBadVersion is returned by Validate when the version is not ProtocolVersion
	ErrBadVersion = errors.New("unsupported protocol version")
)

// TimeRequest is the 16-byte request sent by clients
type TimeRequest struct {
	Protocol [3]byte
	Version  uint8
	Unused   [4]byte
	Cookie   uint64 // Opaque to the server, echoed in the reply
}

// TimeReply is the 24-byte reply. The header is a verbatim copy of the request's.
type TimeReply struct {
	TimeRequest
	TimeSinceEpochMs uint64
}

// NewRequest returns a well-formed version 1 request carrying cookie
func NewRequest(cookie uint64) TimeRequest {
	req := TimeRequest{
		Version: ProtocolVersion,
		Cookie:  cookie,
	}
	copy(req.Protocol[:], ProtocolTag)
	return req
}

// Validate checks the tag and version fields. The server only calls it in strict mode.
func (r TimeRequest) Validate() error {
	if string(r.Protocol[:]) != ProtocolTag {
		return fmt.Errorf("%w: %q", ErrBadTag, r.Protocol[:])
	}
	if r.Version != ProtocolVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, r.Version)
	}
	return nil
}

// BuildReply copies the request header and stamps it with nowMs
func BuildReply(req TimeRequest, nowMs uint64) TimeReply {
	return TimeReply{
		TimeRequest:      req,
		TimeSinceEpochMs: nowMs,
	}
}

// Time converts the reply timestamp to a time.Time
func (r TimeReply) Time() time.Time {
	return time.UnixMilli(int64(r.TimeSinceEpochMs))
}

// EpochMillis returns whole milliseconds since 1970-01-01T00:00:00Z.
// Sub-millisecond precision is truncated.
func EpochMillis(t time.Time) uint64 {
	return uint64(t.Unix())*1000 + uint64(t.Nanosecond())/uint64(time.Millisecond)
}

// Codec encodes and decodes packets with a fixed byte order for the
// multi-byte fields (cookie and timestamp).
type Codec struct {
	Order binary.ByteOrder
}

// DefaultCodec uses network byte order
var DefaultCodec = Codec{Order: binary.BigEndian}

// LittleEndianCodec matches the host-order layout written by x86 peers
var LittleEndianCodec = Codec{Order: binary.LittleEndian}

// CodecFor returns the codec for "big" (or "") and "little"
func CodecFor(order string) (Codec, error) {
	switch order {
	case "", "big", "network":
		return DefaultCodec, nil
	case "little":
		return LittleEndianCodec, nil
	default:
		return Codec{}, fmt.Errorf("unknown byte order %q", order)
	}
}

func (c Codec) order() binary.ByteOrder {
	if c.Order == nil {
		return binary.BigEndian
	}
	return c.Order
}

// DecodeRequest parses exactly TimeRequestPacketSize bytes. Field contents are not validated.
func (c Codec) DecodeRequest(b []byte) (TimeRequest, error) {
	var req TimeRequest
	if len(b) != TimeRequestPacketSize {
		return req, fmt.Errorf("%w: request is %d bytes, want %d", ErrMalformed, len(b), TimeRequestPacketSize)
	}
	c.decodeHeader(b, &req)
	return req, nil
}

// DecodeReply parses exactly TimeReplyPacketSize bytes
func (c Codec) DecodeReply(b []byte) (TimeReply, error) {
	var reply TimeReply
	if len(b) != TimeReplyPacketSize {
		return reply, fmt.Errorf("%w: reply is %d bytes, want %d", ErrMalformed, len(b), TimeReplyPacketSize)
	}
	c.decodeHeader(b, &reply.TimeRequest)
	reply.TimeSinceEpochMs = c.order().Uint64(b[offsetTime:])
	return reply, nil
}

// EncodeRequest returns the 16-byte wire form of req
func (c Codec) EncodeRequest(req TimeRequest) []byte {
	return c.AppendRequest(make([]byte, 0, TimeRequestPacketSize), req)
}

// EncodeReply returns the 24-byte wire form of reply
func (c Codec) EncodeReply(reply TimeReply) []byte {
	return c.AppendReply(make([]byte, 0, TimeReplyPacketSize), reply)
}

// AppendRequest appends the wire form of req to dst
func (c Codec) AppendRequest(dst []byte, req TimeRequest) []byte {
	dst = append(dst, req.Protocol[:]...)
	dst = append(dst, req.Version)
	dst = append(dst, req.Unused[:]...)
	return c.appendUint64(dst, req.Cookie)
}

// AppendReply appends the wire form of reply to dst
func (c Codec) AppendReply(dst []byte, reply TimeReply) []byte {
	dst = c.AppendRequest(dst, reply.TimeRequest)
	return c.appendUint64(dst, reply.TimeSinceEpochMs)
}

func (c Codec) appendUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	c.order().PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func (c Codec) decodeHeader(b []byte, req *TimeRequest) {
	copy(req.Protocol[:], b[offsetProtocol:offsetVersion])
	req.Version = b[offsetVersion]
	copy(req.Unused[:], b[offsetUnused:offsetCookie])
	req.Cookie = c.order().Uint64(b[offsetCookie:offsetTime])
}
