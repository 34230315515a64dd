// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Subsystems take a *zap.Logger; Component hands out named children so
// every line carries its origin (session, sandbox, tagmanager, catalog).
// The level is atomic and can be changed while the server runs.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("port", "8000"))
//	sessions := session.NewManager(cfg, session.Deps{Logger: logger.Component("api")})
package logging
