package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/muurk/bamload/internal/adapter"
	"github.com/muurk/bamload/internal/config"
	"github.com/muurk/bamload/internal/discovery"
	"github.com/muurk/bamload/internal/gateway"
	"github.com/muurk/bamload/internal/logging"
	"github.com/muurk/bamload/internal/ui"
)

// Subcommand flags
var (
	listenAddr  string
	gatewayPath string
	gatewayName string
	noAdvertise bool
	scanTimeout time.Duration
	waitForName string
	noSave      bool
	forceInit   bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

// serveCmd bridges a local CAN adapter to WebSocket clients
var serveCmd = &cobra.Command{
	Use:   "serve <interface> <channel> <bitrate>",
	Short: "Run a WebSocket CAN gateway",
	Long: `Share a local CAN adapter with bamload clients on the network.

Every frame received on the bus is sent to all connected clients, and every
frame a client sends is transmitted on the bus and echoed to the other
clients. The gateway is advertised over mDNS so 'bamload discover' finds it.

With the virtual interface the gateway serves a simulated device, which is
useful for testing clients without hardware.`,
	Example: `  # Share can0 on the default port
  bamload serve socketcan can0 500000

  # Share a serial adapter on a custom port, without mDNS
  bamload serve slcan /dev/ttyACM0 250000 --listen :9000 --no-advertise

  # Serve a simulated monitor that corrupts the final checksum
  bamload serve virtual monitor,wrong-checksum 500000`,
	Args: cobra.ExactArgs(3),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default "+config.DefaultListen+")")
	serveCmd.Flags().StringVar(&gatewayPath, "path", "", "WebSocket path (default "+config.DefaultPath+")")
	serveCmd.Flags().StringVar(&gatewayName, "name", "", "mDNS instance name (default: hostname)")
	serveCmd.Flags().BoolVar(&noAdvertise, "no-advertise", false, "Do not register the gateway over mDNS")
	serveCmd.Flags().IntVar(&serialBaud, "serial-baud", adapter.DefaultSerialBaud, "Serial line speed for slcan adapters")
}

func runServe(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	// A gateway is a long-running service; log connections unless told otherwise.
	if logLevel == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		if err := logging.Initialize("info"); err != nil {
			return err
		}
	}

	bitrate, err := strconv.Atoi(args[2])
	if err != nil || bitrate <= 0 {
		return fmt.Errorf("invalid bitrate %q: want a positive integer in bit/s", args[2])
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cfg := gateway.Config{
		Listen:    settings.ListenAddr(),
		Path:      settings.GatewayPath(),
		Name:      settings.Gateway.Name,
		Advertise: settings.AdvertiseGateway() && !noAdvertise,
		Metadata: map[string]string{
			discovery.TxtInterface: args[0],
			discovery.TxtChannel:   args[1],
			discovery.TxtBitrate:   args[2],
		},
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if gatewayPath != "" {
		cfg.Path = gatewayPath
	}
	if gatewayName != "" {
		cfg.Name = gatewayName
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port, err := adapter.Open(ctx, adapter.Params{
		Interface:  args[0],
		Channel:    args[1],
		Bitrate:    bitrate,
		SerialBaud: serialBaud,
		ResolveURL: settings.ResolveGatewayURL,
		Logger:     logging.Named("bus"),
	})
	if err != nil {
		return fmt.Errorf("failed to open bus: %w", err)
	}
	defer port.Close()

	advertised := "no"
	if cfg.Advertise {
		advertised = gateway.InstanceName(cfg.Name) + "." + discovery.ServiceType
	}
	p := ui.NewPrinter(os.Stdout)
	p.PrintHeader("CAN gateway", cmd.CommandPath()+" "+args[0]+" "+args[1]+" "+args[2],
		ui.Param{Key: "Listen", Value: cfg.Listen},
		ui.Param{Key: "Path", Value: cfg.Path},
		ui.Param{Key: "Bus", Value: fmt.Sprintf("%s %s @ %d", args[0], args[1], bitrate)},
		ui.Param{Key: "mDNS", Value: advertised},
	)

	return gateway.New(port, cfg).Run(ctx)
}

// discoverCmd browses for gateways
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find CAN gateways on the network",
	Long: `Browse mDNS for bamload CAN gateways started with 'bamload serve'.

Found gateways are remembered in the settings file, so they can be used by
name as the channel of the ws interface.`,
	Example: `  # Scan for 5 seconds (default)
  bamload discover

  # Wait for one gateway and remember it
  bamload discover --name benchpi

  # Then load through it
  bamload ws benchpi 500000 app.bin`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "How long to browse")
	discoverCmd.Flags().StringVar(&waitForName, "name", "", "Stop as soon as this gateway answers")
	discoverCmd.Flags().BoolVar(&noSave, "no-save", false, "Do not remember found gateways")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	scanner := discovery.NewScanner()
	scanner.Timeout = scanTimeout

	p := ui.NewPrinter(os.Stdout)
	var gateways []*discovery.Gateway
	if waitForName != "" {
		fmt.Printf("Waiting for gateway %s (timeout: %s)...\n\n", waitForName, scanTimeout)
		gw, err := scanner.WaitFor(cmd.Context(), waitForName)
		if err != nil {
			return err
		}
		gateways = append(gateways, gw)
	} else {
		fmt.Printf("Scanning for CAN gateways (timeout: %s)...\n\n", scanTimeout)
		gateways, err = scanner.Scan(cmd.Context())
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
	}

	if len(gateways) == 0 {
		p.PrintWarning("No gateways found",
			ui.Param{Key: "Timeout", Value: scanTimeout.String()},
			ui.Param{Key: "Hint", Value: "start one with 'bamload serve'"},
		)
		return nil
	}

	fmt.Printf("Found %d gateway(s):\n\n", len(gateways))
	for i, gw := range gateways {
		fmt.Printf("%d. %s\n", i+1, gw.Name)
		fmt.Printf("   URL:     %s\n", gw.URL())
		if iface := gw.GetMetadata(discovery.TxtInterface); iface != "" {
			fmt.Printf("   Bus:     %s %s @ %s\n", iface, gw.GetMetadata(discovery.TxtChannel), gw.GetMetadata(discovery.TxtBitrate))
		}
		if v := gw.GetMetadata(discovery.TxtVersion); v != "" {
			fmt.Printf("   Version: %s\n", v)
		}
		fmt.Println()

		settings.RememberGateway(gw.Name, gw.URL(),
			gw.GetMetadata(discovery.TxtInterface), gw.GetMetadata(discovery.TxtChannel), gw.Bitrate())
	}

	if noSave {
		return nil
	}
	if err := settings.Save(configPath); err != nil {
		return fmt.Errorf("failed to remember gateways: %w", err)
	}
	fmt.Printf("Use 'bamload ws %s <bitrate> <image>' to load through a gateway\n", gateways[0].Name)
	return nil
}

// configCmd groups settings file commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the settings file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default settings file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing settings file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	path, err := config.CreateDefault(configPath, forceInit)
	if errors.Is(err, config.ErrExists) {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("%w (use --force to overwrite)", err)
		}
		if !ui.ConfirmOverwrite(os.Stdin, os.Stdout, path) {
			return nil
		}
		path, err = config.CreateDefault(configPath, true)
	}
	if err != nil {
		return err
	}

	ui.NewPrinter(os.Stdout).PrintSuccess("Settings file written", ui.Param{Key: "Path", Value: path})
	return nil
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		path := configPath
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}
		settings, err := config.Load(path)
		if err != nil {
			return err
		}
		data, err := settings.Marshal(path)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}
