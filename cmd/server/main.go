package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the environment
	port := flag.String("port", cfg.Server.Port, "Server port")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	storagePath := flag.String("storage", cfg.Storage.Path, "SQLite state file (empty keeps state in memory)")
	catalogDir := flag.String("catalog", cfg.Catalog.Dir, "Directory of extra challenge files")
	online := flag.Bool("online", !cfg.Egress.Offline, "Let captured calls reach the network")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Storage.Path = *storagePath
	cfg.Catalog.Dir = *catalogDir
	cfg.Egress.Offline = !*online
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		if err != nil {
			_ = srv.Close()
			log.Fatalf("Server error: %v", err)
		}
	}
}
