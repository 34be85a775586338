//go:build unix

// ABOUTME: Socket options for Unix platforms
// ABOUTME: Enables SO_REUSEADDR so a restarted server can rebind at once
package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Receive errors that concern a single client's datagram rather than the socket
var (
	errDatagramTooLarge error = unix.EMSGSIZE
	datagramErrors            = []error{unix.ECONNREFUSED, unix.ECONNRESET}
)

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
