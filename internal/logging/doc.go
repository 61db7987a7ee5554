// Package logging provides the process-wide zap logger for bamload.
//
// Logging is silent unless a level is given with --log-level or the
// BAMLOAD_LOG_LEVEL environment variable. Output goes to stderr in console
// format so that it never mixes with the progress display.
//
// # Log Levels
//
//   - Debug: every CAN frame, every state transition, adapter chatter
//   - Info: session start and end, adapter open, gateway clients
//   - Warn: retries, dropped frames
//   - Error: failures that end a session or the gateway
//
// # Usage
//
//	if err := logging.Initialize(flagLogLevel); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
//	cfg.Logger = logging.Named("session")
//
// Components never reach for the global directly: they take a *zap.Logger
// and the CLI hands them a named child of this one.
package logging
