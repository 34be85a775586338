//go:build !windows && !plan9

// ABOUTME: System logger output for the server
// ABOUTME: Opens a LOG_DAEMON syslog writer tagged with the product name
package main

import (
	"io"
	"log/syslog"
)

func syslogWriter(tag string) (io.WriteCloser, error) {
	return syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
}
