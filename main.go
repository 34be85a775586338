// ABOUTME: Entry point for the TSP time-stamp server
// ABOUTME: Parses the port argument and flags, then runs the exchange loop
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Resonate-Protocol/tspd/internal/server"
	"github.com/Resonate-Protocol/tspd/internal/version"
)

var (
	name        = flag.String("name", "", "Server friendly name (default: hostname-tspd)")
	logFile     = flag.String("log-file", "", "Also write logs to this file")
	useSyslog   = flag.Bool("syslog", false, "Send logs to the system logger instead of stdout")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	strict      = flag.Bool("strict", false, "Drop requests whose protocol tag or version do not match")
	byteOrder   = flag.String("byte-order", "big", "Byte order of cookie and timestamp fields: big or little")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	wsPort      = flag.Int("ws-port", 0, "Serve the WebSocket bridge on this TCP port (0 disables)")
	useTUI      = flag.Bool("tui", false, "Show a status TUI (logs go to -log-file only)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <port>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}

	port, err := strconv.Atoi(flag.Arg(0))
	if err != nil || port < 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}

	os.Exit(run(port))
}

// run serves until shutdown and returns the process exit code
func run(port int) int {
	closeLog, err := setupLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error setting up logging: %v\n", err)
		return 1
	}
	defer closeLog()

	log.Printf("Starting %s on udp port %d", version.String(), port)
	if *debug {
		log.Printf("Debug logging enabled")
	}

	srv, err := server.New(server.Config{
		Port:          port,
		Name:          *name,
		Debug:         *debug,
		Strict:        *strict,
		ByteOrder:     *byteOrder,
		EnableMDNS:    !*noMDNS,
		WebSocketPort: *wsPort,
		UseTUI:        *useTUI,
	})
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down", sig)
		srv.Stop()
	}()

	// Bind failures and socket-fatal errors end the process
	if err := srv.Start(); err != nil {
		log.Printf("Server error: %v", err)
		return 1
	}
	return 0
}

// setupLogging routes the standard logger to syslog, stdout and/or a log file.
// In TUI mode stdout belongs to the TUI.
func setupLogging() (func(), error) {
	var writers []io.Writer
	closers := []func(){}

	if *useSyslog {
		w, err := syslogWriter(version.Product)
		if err != nil {
			return nil, fmt.Errorf("failed to open syslog: %w", err)
		}
		log.SetFlags(0)
		writers = append(writers, w)
		closers = append(closers, func() { _ = w.Close() })
	} else if !*useTUI {
		writers = append(writers, os.Stdout)
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closers = append(closers, func() { _ = f.Close() })
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	log.SetOutput(io.MultiWriter(writers...))

	return func() {
		log.SetOutput(os.Stderr)
		for _, c := range closers {
			c()
		}
	}, nil
}
