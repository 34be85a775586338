//go:build !unix && !windows

// ABOUTME: Socket options fallback for platforms without SO_REUSEADDR
// ABOUTME: Binds with the default socket options
package server

import "syscall"

// No per-datagram receive errors are known on these platforms
var (
	errDatagramTooLarge error
	datagramErrors      []error
)

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
