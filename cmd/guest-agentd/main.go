// Command guest-agentd runs the in-guest agent HTTP server the orchestrator
// drives for health, mount, and execute. It runs inside every sandbox VM,
// listening on guestagent.Port. Grounded in cmd/fc-agent/main.go's
// listen-and-serve shape, adapted from vsock/newline-JSON to HTTP.
package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/matchbox-labs/sandboxd/internal/guestagent"
)

func main() {
	addr := fmt.Sprintf(":%d", guestagent.Port)
	log.Printf("guest agent listening on %s", addr)

	srv := guestagent.NewServer()
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatalf("guest agent server error: %v", err)
	}
}
