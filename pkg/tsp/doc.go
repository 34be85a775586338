// ABOUTME: High-level TSP client API
// ABOUTME: Queries a TSP time server over UDP and correlates replies by cookie
// Package tsp provides a client for TSP time servers.
//
// Each query sends a 16-byte request with a cookie and waits for the 24-byte
// reply echoing that cookie. Replies that are malformed or carry a different
// cookie (late answers to earlier queries) are skipped.
//
// Example:
//
//	client, err := tsp.Dial(tsp.ClientConfig{ServerAddr: "localhost:4014"})
//	defer client.Close()
//	result, err := client.Next(ctx)
//	fmt.Println(result.ServerTime, result.RTT)
package tsp
