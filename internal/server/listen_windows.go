//go:build windows

// ABOUTME: Socket options for Windows
// ABOUTME: Enables SO_REUSEADDR and stops ICMP port-unreachable from failing reads
package server

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Receive errors that concern a single client's datagram rather than the socket
var (
	errDatagramTooLarge error = windows.WSAEMSGSIZE
	datagramErrors            = []error{windows.WSAECONNRESET, windows.WSAENETRESET}
)

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		h := windows.Handle(fd)
		if sockErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); sockErr != nil {
			return
		}

		// Without this, a reply to a closed client port makes the next
		// ReadFromUDP fail with WSAECONNRESET
		var enable uint32
		var returned uint32
		sockErr = windows.WSAIoctl(h, windows.SIO_UDP_CONNRESET,
			(*byte)(unsafe.Pointer(&enable)), uint32(unsafe.Sizeof(enable)),
			nil, 0, &returned, nil, 0)
	})
	if err != nil {
		return err
	}
	return sockErr
}
