// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Records every entry in a ring buffer that backs the /api/logs stream
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"controller": "debug",
//			"studio":     "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("controller")
//	logger.Info("Command accepted", "command", "start")
//
// Add contextual attributes:
//
//	logger := logging.GetLogger("controller").With("podcast_id", id)
//	logger.Info("Stream loaded") // Includes podcast_id in all logs
//
// Levels can be changed at runtime with [SetLevels]; loggers already handed
// out pick up the new level immediately.
//
// # Modules
//
//	main        process startup and shutdown
//	api         HTTP handlers
//	controller  live-stream controllers and the registry
//	poller      status poll scheduling
//	studio      studio HTTP client
//	sandbox     local studio emulation
//	mirror      redis state mirror
//	history     postgres transition history
//	config      configuration loading and file watching
//
// # Viewing Logs
//
// When running as a systemd service or on a system with journald:
//
//	journalctl -t livecast              # All livecast logs
//	journalctl -t livecast -f           # Follow live
//	journalctl -t livecast -p err       # Errors only
//	journalctl -t livecast MODULE=controller PODCAST_ID=pod_1
//
// # Configuration
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	controller = "debug"
//	studio = "warn"
package logging
