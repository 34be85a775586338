// ABOUTME: Command-line client for TSP time servers
// ABOUTME: Discovers or dials a server, sends queries, and prints replies with RTT
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Resonate-Protocol/tspd/internal/discovery"
	"github.com/Resonate-Protocol/tspd/pkg/tsp"
)

var (
	serverAddr = flag.String("server", "", "Server address host:port (default: discover via mDNS)")
	count      = flag.Int("count", 1, "Number of queries to send")
	interval   = flag.Duration("interval", time.Second, "Delay between queries")
	timeout    = flag.Duration("timeout", tsp.DefaultTimeout, "Per-query timeout")
	byteOrder  = flag.String("byte-order", "big", "Byte order used by the server: big or little")
	cookie     = flag.Uint64("cookie", 0, "Cookie for the first query (default: random)")
	debug      = flag.Bool("debug", false, "Log ignored replies")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	address := *serverAddr
	if address == "" {
		address = discover()
	}

	client, err := tsp.Dial(tsp.ClientConfig{
		ServerAddr: address,
		Timeout:    *timeout,
		ByteOrder:  *byteOrder,
		Debug:      *debug,
	})
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	fmt.Printf("Querying %s\n", client.RemoteAddr())

	failures := 0
	for i := 0; i < *count; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}

		var result tsp.Result
		if *cookie != 0 {
			result, err = client.Query(context.Background(), *cookie+uint64(i))
		} else {
			result, err = client.Next(context.Background())
		}
		if err != nil {
			failures++
			log.Printf("Query %d failed: %v", i+1, err)
			continue
		}

		fmt.Printf("cookie=%#016x server=%s (%d ms) rtt=%s\n",
			result.Reply.Cookie,
			result.ServerTime.UTC().Format(time.RFC3339Nano),
			result.Reply.TimeSinceEpochMs,
			result.RTT.Round(time.Microsecond))
	}

	if failures == *count {
		os.Exit(1)
	}
}

// discover waits for the first server advertised via mDNS
func discover() string {
	log.Printf("Starting server discovery...")

	disc := discovery.NewManager(discovery.Config{})
	defer disc.Stop()
	disc.Browse()

	select {
	case server := <-disc.Servers():
		log.Printf("Discovered server %s at %s", server.Name, server.Addr())
		return server.Addr()
	case <-time.After(10 * time.Second):
		log.Fatalf("No server found after 10 seconds")
	}
	return ""
}
