package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/bamload/internal/config"
	"github.com/muurk/bamload/internal/image"
	"github.com/muurk/bamload/internal/protocol"
	"github.com/muurk/bamload/internal/session"
)

// newLoadCmd returns a fresh load command so flag state does not leak
// between tests.
func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bamload",
		Args:          cobra.ExactArgs(4),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runLoad,
	}
	addLoadFlags(cmd)
	return cmd
}

func writeImage(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestBuildSessionConfig_Precedence(t *testing.T) {
	settings, err := config.Parse([]byte(`version: 1
session:
  profile: monitor
  entry: "0x40001000"
  timeouts:
    block: 100ms
    final: 5s
  retries:
    sync: 20
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cmd := newLoadCmd()
	if err := cmd.ParseFlags([]string{"--block-timeout", "50ms", "--no-execute", "--password", "0011223344556677"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg, opts, err := buildSessionConfig(cmd, settings, "app.bin")
	if err != nil {
		t.Fatalf("buildSessionConfig() error = %v", err)
	}

	if cfg.Profile.Name != protocol.ProfileMonitor.Name {
		t.Errorf("Profile = %q, want monitor from settings", cfg.Profile.Name)
	}
	if cfg.BlockTimeout != 50*time.Millisecond {
		t.Errorf("BlockTimeout = %v, want 50ms from flag", cfg.BlockTimeout)
	}
	if cfg.FinalTimeout != 5*time.Second {
		t.Errorf("FinalTimeout = %v, want 5s from settings", cfg.FinalTimeout)
	}
	if cfg.AuthTimeout != session.DefaultConfig().AuthTimeout {
		t.Errorf("AuthTimeout = %v, want default", cfg.AuthTimeout)
	}
	if cfg.SyncRetries != 20 {
		t.Errorf("SyncRetries = %d, want 20 from settings", cfg.SyncRetries)
	}
	if cfg.Execute {
		t.Error("Execute = true despite --no-execute")
	}
	if cfg.Password != protocol.PasswordFromUint64(0x0011223344556677) {
		t.Errorf("Password = %s", cfg.Password)
	}
	if entry, ok := opts.Entry(); !ok || entry != 0x40001000 {
		t.Errorf("entry = 0x%X, %v; want 0x40001000 from settings", entry, ok)
	}

	// HEX images keep their own address unless --entry is given.
	if _, opts, err = buildSessionConfig(cmd, settings, "app.hex"); err != nil || opts.HasEntry {
		t.Errorf("hex options = %+v, %v; want no entry", opts, err)
	}
}

func TestBuildSessionConfig_ExplicitZeroEntry(t *testing.T) {
	cmd := newLoadCmd()
	if err := cmd.ParseFlags([]string{"--entry", "0x0"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	_, opts, err := buildSessionConfig(cmd, config.NewSettings(), "app.bin")
	if err != nil {
		t.Fatalf("buildSessionConfig() error = %v", err)
	}
	if entry, ok := opts.Entry(); !ok || entry != 0 {
		t.Errorf("Entry() = 0x%X, %v; want explicit 0x0", entry, ok)
	}

	img, err := image.ReadBinary(bytes.NewReader([]byte{1, 2, 3, 4}), opts)
	if err != nil {
		t.Fatalf("ReadBinary() error = %v", err)
	}
	if img.EntryAddress != 0 {
		t.Errorf("EntryAddress = 0x%08X, want 0x00000000", img.EntryAddress)
	}
}

func TestBuildSessionConfig_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"password", []string{"--password", "cafe"}},
		{"profile", []string{"--profile", "fast"}},
		{"entry", []string{"--entry", "nowhere"}},
		{"negative retries", []string{"--block-retries", "-1"}},
		{"zero timeout", []string{"--sync-timeout", "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newLoadCmd()
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}
			if _, _, err := buildSessionConfig(cmd, config.NewSettings(), "app.bin"); err == nil {
				t.Error("buildSessionConfig() succeeded")
			}
		})
	}
}

func TestRunLoad_Virtual(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "config.yaml")
	img := writeImage(t, "app.bin", []byte("0123456789abcdefghij"))

	tests := []struct {
		name     string
		channel  string
		args     []string
		wantCode int
	}{
		{name: "bam", channel: "bam", wantCode: 0},
		{name: "monitor", channel: "monitor", args: []string{"--profile", "monitor"}, wantCode: 0},
		{name: "lost block", channel: "monitor,lose=1", args: []string{"--profile", "monitor"}, wantCode: 0},
		{name: "wrong password", channel: "bam,password=0011223344556677", wantCode: 4},
		{name: "checksum", channel: "monitor,bad-checksum", args: []string{"--profile", "monitor"}, wantCode: 7},
		{
			name:     "silent",
			channel:  "silent",
			args:     []string{"--auth-timeout", "20ms", "--auth-retries", "1"},
			wantCode: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newLoadCmd()
			args := append([]string{"virtual", tt.channel, "500000", img, "--quiet"}, tt.args...)
			cmd.SetArgs(args)

			err := cmd.Execute()
			if got := session.ExitCode(err); got != tt.wantCode {
				t.Errorf("exit code = %d (%v), want %d", got, err, tt.wantCode)
			}
		})
	}
}

func TestRunLoad_OpenFailureIsTransportError(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "config.yaml")
	img := writeImage(t, "app.bin", []byte{1, 2, 3})

	cmd := newLoadCmd()
	cmd.SetArgs([]string{"slcan", filepath.Join(t.TempDir(), "no-such-tty"), "500000", img, "--quiet"})

	err := cmd.Execute()
	if !session.IsTransportError(err) {
		t.Fatalf("error = %v, want transport error", err)
	}
	if got := session.ExitCode(err); got != 2 {
		t.Errorf("exit code = %d, want 2", got)
	}
}

func TestRunLoad_UsageErrors(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "config.yaml")
	img := writeImage(t, "app.bin", []byte{1, 2, 3})
	empty := writeImage(t, "empty.bin", nil)

	tests := []struct {
		name string
		args []string
	}{
		{"bitrate", []string{"virtual", "bam", "fast", img}},
		{"interface", []string{"pcan", "usb0", "500000", img}},
		{"missing image", []string{"virtual", "bam", "500000", img + ".missing"}},
		{"empty image", []string{"virtual", "bam", "500000", empty}},
		{"arg count", []string{"virtual", "bam", "500000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newLoadCmd()
			cmd.SetArgs(append(tt.args, "--quiet"))
			err := cmd.Execute()
			if err == nil {
				t.Fatal("Execute() succeeded")
			}
			if got := session.ExitCode(err); got != 1 {
				t.Errorf("exit code = %d, want 1 for %v", got, err)
			}
		})
	}
}
