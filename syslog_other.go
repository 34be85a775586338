//go:build windows || plan9

// ABOUTME: System logger stub for platforms without syslog
// ABOUTME: Reports that -syslog is unavailable
package main

import (
	"errors"
	"io"
)

func syslogWriter(tag string) (io.WriteCloser, error) {
	return nil, errors.New("syslog is not available on this platform")
}
