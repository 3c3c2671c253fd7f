// Package logging provides structured logging with per-module log levels.
//
// Records go to stdout (text or json), to the systemd journal when
// journald is reachable, and to an in-memory ring buffer served by
// GET /api/logs.
//
// Initialize once at startup, then fetch module loggers:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"aec":     "debug",
//			"session": "warn",
//		},
//	})
//
//	logger := logging.GetLogger("session").With("camera_id", id)
//	logger.Info("Cycle complete", "cycle", n)
//
// Loggers fetched before Initialize are kept and pick up the configured
// levels. SetLevels changes levels at runtime without rebuilding outputs.
//
// Journal queries:
//
//	journalctl -t hdrnode -f
//	journalctl -t hdrnode MODULE=aec
//	journalctl -t hdrnode CAMERA_ID=cam0 -p warning
//
// TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	aec = "debug"
//	nats = "warn"
package logging
