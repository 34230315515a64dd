// Package server wires the lab together and runs it.
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Open persisted state (SQLite file or memory)
//  4. Build the challenge catalog, plus any files under CATALOG_DIR
//  5. Pick egress originals (offline no-ops or real network)
//  6. Setup HTTP and WebSocket routes and middleware
//  7. Start HTTP server
//  8. Graceful shutdown on signal: drain requests, close sessions, storage
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
