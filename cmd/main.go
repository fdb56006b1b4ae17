// Command eventhub runs the event subscription hub: the websocket/JSON-RPC
// transport, the subscription manager, the event router, and the cron/
// scheduled delivery scheduler, plus an HTTP operational side-channel.
// Structurally this is the teacher's cmd/main.go (flag parsing, config
// loading, signal-driven graceful shutdown), pointed at the new
// internal/server composition root instead of Odin's websocket relay.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventhub/internal/config"
	"eventhub/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config.json (defaults to the embedded configuration)")
	flag.Parse()

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("eventhub: failed to load config: %v", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("eventhub: failed to build server: %v", err)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- srv.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErr:
		if err != nil {
			log.Printf("eventhub: server exited with error: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("eventhub: received signal %v, shutting down", sig)
	}

	srv.Shutdown(10 * time.Second)
}
