package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowanlm/mcphub/internal/server"
	"github.com/rowanlm/mcphub/internal/tracing"
)

// serveCmd starts the HTTP API server
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the mcphub HTTP API server.

The server hosts the OAuth callback endpoint remote providers redirect to,
the authorization API agents drive, and operational endpoints.

Required configuration:
  - PostgreSQL database (MCPHUB_POSTGRES_URL)
  - Token encryption key (MCPHUB_ENCRYPTION_KEY, see "mcphub keygen")
  - Server registry document (MCPHUB_REGISTRY_PATH)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	log.Println("Starting mcphub API server...")
	log.Printf("  HTTP:     http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("  Registry: %s", cfg.Registry.Path)

	shutdownTracer, err := tracing.InitTracer("mcphub-api")
	if err != nil {
		log.Printf("Warning: Failed to initialize tracing: %v", err)
	} else {
		defer func() {
			if err := shutdownTracer(ctx); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log.Println("Database connection established")
	log.Printf("Registry loaded: %d servers", len(a.reg.IDs()))

	// Background sweep of lapsed authorization sessions.
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go a.ctrl.RunSweeper(sweepCtx, cfg.SweepInterval())

	srv := server.NewServer(cfg, a.ctrl, a.tokens, func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s:%d", cfg.Server.Host, cfg.Server.Port)
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		log.Println("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Println("Server stopped")
		return nil
	}
}
