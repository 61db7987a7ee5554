// Package config manages the bamload settings file.
//
// The file is YAML and stores defaults for the load session (password,
// profile, load address, per-phase timeouts and retries), the gateway
// server, and gateways remembered by discovery. Command-line flags override
// the file, which overrides built-in defaults.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/bamload/config.yaml or $HOME/.config/bamload/config.yaml
//   - macOS: $HOME/.config/bamload/config.yaml
//   - Windows: %LOCALAPPDATA%\bamload\config.yaml
//
// # Example
//
//	version: 1
//	session:
//	    password: FEEDFACECAFEBEEF
//	    profile: monitor
//	    timeouts:
//	        block: 100ms
//	    retries:
//	        sync: 20
//	gateway:
//	    listen: :8765
//	gateways:
//	    benchpi:
//	        url: ws://192.168.4.16:8765/can
//
// # Usage Example
//
//	settings, err := config.Load(flagConfig)
//	if err != nil {
//	    return err
//	}
//	cfg := session.DefaultConfig()
//	if err := settings.ApplySession(&cfg); err != nil {
//	    return err
//	}
//
// Saves are atomic (temporary file plus rename) and serialized by a mutex.
package config
