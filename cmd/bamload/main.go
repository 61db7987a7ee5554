// Bamload loads a RAM image into an MPC56xx microcontroller through its Boot
// Assist Module (BAM) over CAN.
//
// The device must be reset into serial boot mode. bamload authenticates with
// the BAM password, sends the load address and size, streams the image in
// echoed 8-byte blocks and starts execution.
//
// Usage:
//
//	bamload <interface> <channel> <bitrate> <ram_image> [flags]
//
// See 'bamload --help' for available commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/bamload/internal/adapter"
	"github.com/muurk/bamload/internal/bus"
	"github.com/muurk/bamload/internal/config"
	"github.com/muurk/bamload/internal/image"
	"github.com/muurk/bamload/internal/logging"
	"github.com/muurk/bamload/internal/protocol"
	"github.com/muurk/bamload/internal/session"
	"github.com/muurk/bamload/internal/ui"
	"github.com/muurk/bamload/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		var shown *shownError
		if !errors.As(err, &shown) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(session.ExitCode(err))
	}
}

// shownError marks an error the result box already displayed.
type shownError struct {
	err error
}

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

// Global flags
var (
	configPath string
	logLevel   string
)

// Load flags
var (
	password      string
	entryAddress  string
	bookE         bool
	profileName   string
	noExecute     bool
	quiet         bool
	serialBaud    int
	syncTimeout   time.Duration
	authTimeout   time.Duration
	headerTimeout time.Duration
	blockTimeout  time.Duration
	finalTimeout  time.Duration
	syncRetries   int
	authRetries   int
	headerRetries int
	blockRetries  int
)

var rootCmd = &cobra.Command{
	Use:   "bamload <interface> <channel> <bitrate> <ram_image>",
	Short: "MPC56xx BAM RAM loader over CAN",
	Long: `Load a RAM image into an MPC56xx microcontroller through the Boot Assist
Module over CAN, then start it.

Interfaces:
  socketcan  Linux SocketCAN network interface (channel: can0)
  slcan      Lawicel serial adapter (channel: /dev/ttyACM0)
  ws         bamload CAN gateway (channel: ws:// URL or discovered name)
  virtual    In-process simulated device (channel: behavior, e.g. "monitor,lose=3")

Raw binaries load at --entry (default 0x40000100). Intel HEX files (.hex)
load at their lowest address.

Values come from flags, then the settings file, then built-in defaults.`,
	Example: `  # Load app.bin over SocketCAN at 500 kbit/s
  bamload socketcan can0 500000 app.bin

  # Load a HEX image through a USB SLCAN adapter with a censored password
  bamload slcan /dev/ttyACM0 250000 app.hex --password 0123456789ABCDEF

  # Load through a discovered network gateway using the monitor profile
  bamload ws benchpi 500000 app.bin --profile monitor

  # Dry run against a simulated device that drops a block
  bamload virtual monitor,lose=3 500000 app.bin`,
	Version:       version.Version,
	Args:          cobra.ExactArgs(4),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	RunE: runLoad,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default $"+logging.LogLevelEnvVar)

	addLoadFlags(rootCmd)
	rootCmd.AddCommand(versionCmd)
}

// addLoadFlags registers the load flags on cmd.
func addLoadFlags(cmd *cobra.Command) {
	defaults := session.DefaultConfig()
	f := cmd.Flags()
	f.StringVar(&password, "password", "", "BAM password, 16 hex digits (default FEEDFACECAFEBEEF)")
	f.StringVar(&entryAddress, "entry", "", "Load and start address for raw binaries (default 0x40000100)")
	f.BoolVar(&bookE, "booke", false, "Load Book E code (clear the VLE flag)")
	f.StringVar(&profileName, "profile", defaults.Profile.Name, "Protocol profile (bam, monitor)")
	f.BoolVar(&noExecute, "no-execute", false, "Do not send the execute frame after loading")
	f.BoolVarP(&quiet, "quiet", "q", false, "Print nothing but errors")
	f.IntVar(&serialBaud, "serial-baud", adapter.DefaultSerialBaud, "Serial line speed for slcan adapters")

	f.DurationVar(&syncTimeout, "sync-timeout", defaults.SyncTimeout, "Wait per sync probe")
	f.DurationVar(&authTimeout, "auth-timeout", defaults.AuthTimeout, "Wait per password frame")
	f.DurationVar(&headerTimeout, "header-timeout", defaults.HeaderTimeout, "Wait for the address/size echo")
	f.DurationVar(&blockTimeout, "block-timeout", defaults.BlockTimeout, "Wait per data block echo")
	f.DurationVar(&finalTimeout, "final-timeout", defaults.FinalTimeout, "Wait for the final checksum status")

	f.IntVar(&syncRetries, "sync-retries", defaults.SyncRetries, "Sync probe resends")
	f.IntVar(&authRetries, "auth-retries", defaults.AuthRetries, "Password frame resends")
	f.IntVar(&headerRetries, "header-retries", defaults.HeaderRetries, "Address/size frame resends")
	f.IntVar(&blockRetries, "block-retries", defaults.BlockRetries, "Resends per data block")
}

func runLoad(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	iface, channel, imagePath := args[0], args[1], args[3]
	bitrate, err := strconv.Atoi(args[2])
	if err != nil || bitrate <= 0 {
		return fmt.Errorf("invalid bitrate %q: want a positive integer in bit/s", args[2])
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cfg, opts, err := buildSessionConfig(cmd, settings, imagePath)
	if err != nil {
		return err
	}

	img, err := image.Load(imagePath, opts)
	if err != nil {
		return err
	}

	params := adapter.Params{
		Interface:  iface,
		Channel:    channel,
		Bitrate:    bitrate,
		SerialBaud: serialBaud,
		ResolveURL: settings.ResolveGatewayURL,
		Logger:     logging.Named("bus"),
	}
	if err := params.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Logger = logging.Named("session")
	runner := ui.NewLoadRunner(ui.LoadRunnerConfig{
		Title:   "RAM image load",
		Command: cmd.CommandPath() + " " + strings.Join(args, " "),
		Params: []ui.Param{
			{Key: "Interface", Value: iface},
			{Key: "Channel", Value: channel},
			{Key: "Bitrate", Value: fmt.Sprintf("%d bit/s", bitrate)},
			{Key: "Image", Value: fmt.Sprintf("%s (%s, %d bytes)", imagePath, img.Format, img.Len())},
			{Key: "Entry", Value: fmt.Sprintf("0x%08X", img.EntryAddress)},
			{Key: "Profile", Value: cfg.Profile.Name},
		},
		Details: []ui.Param{
			{Key: "Entry", Value: fmt.Sprintf("0x%08X", img.EntryAddress)},
			{Key: "Checksum", Value: fmt.Sprintf("0x%08X", protocol.ComputeChecksum(img.Data))},
		},
		Profile: cfg.Profile,
		Execute: cfg.Execute,
		Quiet:   quiet,
		Live:    !quiet && ui.IsTerminal(),
	})

	_, err = runner.Run(ctx, func(ctx context.Context, onProgress session.ProgressCallback) (session.State, error) {
		port, err := adapter.Open(ctx, params)
		if err != nil {
			return session.State{Phase: session.PhaseFailed}, &session.Error{
				Kind:    session.ErrTransport,
				Phase:   session.PhaseIdle,
				Message: "cannot open " + iface + " " + channel,
				Err:     err,
			}
		}
		conn := bus.NewConn(port, logging.Named("bus"))
		defer conn.Close()

		cfg.OnProgress = onProgress
		return session.Load(ctx, conn, cfg, img)
	})
	if err != nil {
		if quiet {
			return err
		}
		return &shownError{err: err}
	}
	return nil
}

// buildSessionConfig resolves the session configuration from defaults, the
// settings file and the flags the user set, in that order of precedence. It
// also returns the image options carrying the entry address, if one was set.
func buildSessionConfig(cmd *cobra.Command, settings *config.Settings, imagePath string) (session.Config, image.Options, error) {
	cfg := session.DefaultConfig()
	if err := settings.ApplySession(&cfg); err != nil {
		return cfg, image.Options{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("password") {
		pw, err := protocol.ParsePassword(password)
		if err != nil {
			return cfg, image.Options{}, fmt.Errorf("--password: %w", err)
		}
		cfg.Password = pw
	}
	if flags.Changed("profile") {
		p, err := protocol.LookupProfile(profileName)
		if err != nil {
			return cfg, image.Options{}, fmt.Errorf("--profile: %w", err)
		}
		cfg.Profile = p
	}
	if flags.Changed("booke") {
		cfg.BookE = bookE
	}
	if noExecute {
		cfg.Execute = false
	}

	durations := []struct {
		flag string
		src  time.Duration
		dst  *time.Duration
	}{
		{"sync-timeout", syncTimeout, &cfg.SyncTimeout},
		{"auth-timeout", authTimeout, &cfg.AuthTimeout},
		{"header-timeout", headerTimeout, &cfg.HeaderTimeout},
		{"block-timeout", blockTimeout, &cfg.BlockTimeout},
		{"final-timeout", finalTimeout, &cfg.FinalTimeout},
	}
	for _, d := range durations {
		if flags.Changed(d.flag) {
			*d.dst = d.src
		}
	}

	counts := []struct {
		flag string
		src  int
		dst  *int
	}{
		{"sync-retries", syncRetries, &cfg.SyncRetries},
		{"auth-retries", authRetries, &cfg.AuthRetries},
		{"header-retries", headerRetries, &cfg.HeaderRetries},
		{"block-retries", blockRetries, &cfg.BlockRetries},
	}
	for _, c := range counts {
		if flags.Changed(c.flag) {
			*c.dst = c.src
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, image.Options{}, err
	}

	var opts image.Options
	switch {
	case flags.Changed("entry"):
		addr, err := config.ParseAddress(entryAddress)
		if err != nil {
			return cfg, opts, fmt.Errorf("--entry: %w", err)
		}
		opts = image.Options{EntryAddress: addr, HasEntry: true}
	case image.DetectFormat(imagePath) == image.FormatBinary:
		// HEX files carry their own address; a settings default would clash.
		addr, ok, err := settings.EntryAddress()
		if err != nil {
			return cfg, opts, err
		}
		opts = image.Options{EntryAddress: addr, HasEntry: ok}
	}
	return cfg, opts, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.Get().String())
	},
}
