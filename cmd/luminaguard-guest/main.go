//go:build linux

// luminaguard-guest runs inside the microVM as the task-side end of the
// control channel. It dials the host over AF_VSOCK, announces readiness,
// and heartbeats until the VM is destroyed. The host never dials in: the
// guest owns the single outbound connection.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/luminaguard/luminaguard/internal/version"
	"github.com/luminaguard/luminaguard/internal/vsock"
)

const heartbeatInterval = 15 * time.Second

func main() {
	log.SetFlags(0)
	log.SetPrefix("guest: ")

	port := flag.Uint("port", 1024, "vsock port the host listens on")
	flag.Parse()

	client, err := dialWithRetry(uint32(*port), 30*time.Second)
	if err != nil {
		log.Fatalf("connect to host: %v", err)
	}
	defer client.Close()

	if err := client.Notify("guest.ready", map[string]string{
		"version": version.Version(),
	}); err != nil {
		log.Fatalf("announce ready: %v", err)
	}
	log.Printf("connected (port %d)", *port)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := client.Call(ctx, "status.ping", nil)
		cancel()
		if err != nil {
			log.Fatalf("heartbeat: %v", err)
		}
	}
}

// dialWithRetry polls the vsock device until the host listener is up.
// Resumed-from-snapshot guests can race the host's listener creation.
func dialWithRetry(port uint32, timeout time.Duration) (*vsock.Client, error) {
	deadline := time.Now().Add(timeout)
	for {
		client, err := vsock.DialVsock(vsock.HostCID, port)
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(500 * time.Millisecond)
	}
}
