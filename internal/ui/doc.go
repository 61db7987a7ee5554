// Package ui provides terminal output components for the bamload CLI.
//
// This package uses Bubble Tea, Bubbles and Lipgloss to render load output.
// The components follow a "run once and exit" pattern: they render output
// but never require user interaction, except for Confirm.
//
// # Architecture
//
//   - Header: command banner showing the bus, the image and the profile
//   - Progress: transfer bar with a step list showing real-time status
//   - Result: success/failure boxes with details and troubleshooting tips
//
// These components are orchestrated by the LoadRunner, which manages the
// header → steps → result flow and translates session.Progress reports
// into step updates.
//
// Example:
//
//	runner := ui.NewLoadRunner(ui.LoadRunnerConfig{
//	    Title:   "RAM image load",
//	    Command: "bamload socketcan can0 500000 app.bin",
//	    Params:  []ui.Param{{Key: "Channel", Value: "can0"}},
//	    Profile: cfg.Profile,
//	    Execute: cfg.Execute,
//	})
//
//	state, err := runner.Run(ctx, func(ctx context.Context, onProgress session.ProgressCallback) (session.State, error) {
//	    cfg.OnProgress = onProgress
//	    return session.Load(ctx, conn, cfg, img)
//	})
//
// # Logging Integration
//
// Logging is controlled via --log-level or the BAMLOAD_LOG_LEVEL
// environment variable. When unset, zap logging is silent so the curated
// output is displayed cleanly.
package ui
