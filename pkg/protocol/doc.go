// ABOUTME: TSP wire protocol package
// ABOUTME: Defines the fixed-size request/reply packets and their codec
// Package protocol implements the TSP time-stamp wire protocol.
//
// A request is 16 packed bytes: a 3-byte "TSP" tag, a version byte, 4 reserved
// bytes and an 8-byte client cookie. A reply repeats the request header verbatim
// and appends an 8-byte timestamp in milliseconds since the Unix epoch.
//
// Multi-byte fields use DefaultCodec (big-endian) unless a different Codec is chosen.
//
// Example:
//
//	req := protocol.NewRequest(0x1122334455667788)
//	wire := protocol.DefaultCodec.EncodeRequest(req)
//	reply, err := protocol.DefaultCodec.DecodeReply(buf[:n])
package protocol
