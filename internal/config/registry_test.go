package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/muurk/bamload/internal/protocol"
	"github.com/muurk/bamload/internal/session"
)

func TestGetConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG resolution is Linux-specific")
	}

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if want := filepath.Join(xdg, "bamload"); configDir != want {
		t.Errorf("GetConfigDir() = %v, want %v", configDir, want)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	configDir, err = GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if !strings.Contains(configDir, ".config") {
		t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestNewSettings(t *testing.T) {
	s := NewSettings()

	if s.Version != CurrentVersion {
		t.Errorf("NewSettings().Version = %v, want %v", s.Version, CurrentVersion)
	}
	if s.Session == nil || s.Gateway == nil || s.Gateways == nil {
		t.Fatal("NewSettings() left a section nil")
	}
	if s.ListenAddr() != DefaultListen {
		t.Errorf("ListenAddr() = %q, want %q", s.ListenAddr(), DefaultListen)
	}
	if s.GatewayPath() != DefaultPath {
		t.Errorf("GatewayPath() = %q, want %q", s.GatewayPath(), DefaultPath)
	}
	if !s.AdvertiseGateway() {
		t.Error("AdvertiseGateway() should default to true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Version != CurrentVersion {
		t.Errorf("Load() of a missing file returned version %d", s.Version)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	zero := 0
	advertise := false
	s := NewSettings()
	s.Session.Password = "0011223344556677"
	s.Session.Profile = "monitor"
	s.Session.Entry = "0x40001000"
	s.Session.Timeouts.Block = 100 * time.Millisecond
	s.Session.Retries.Auth = &zero
	s.Gateway.Advertise = &advertise
	s.RememberGateway("benchpi", "ws://192.168.4.16:8765/can", "slcan", "/dev/ttyACM0", 500000)

	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Session.Profile != "monitor" {
		t.Errorf("Profile = %q, want monitor", loaded.Session.Profile)
	}
	if loaded.Session.Timeouts.Block != 100*time.Millisecond {
		t.Errorf("Timeouts.Block = %v, want 100ms", loaded.Session.Timeouts.Block)
	}
	if loaded.Session.Retries.Auth == nil || *loaded.Session.Retries.Auth != 0 {
		t.Errorf("Retries.Auth = %v, want explicit 0", loaded.Session.Retries.Auth)
	}
	if loaded.Session.Retries.Sync != nil {
		t.Errorf("Retries.Sync = %v, want nil", *loaded.Session.Retries.Sync)
	}
	if loaded.AdvertiseGateway() {
		t.Error("AdvertiseGateway() = true, want false")
	}
	gw := loaded.Gateways["benchpi"]
	if gw == nil || gw.URL != "ws://192.168.4.16:8765/can" || gw.Bitrate != 500000 {
		t.Errorf("Gateways[benchpi] = %+v", gw)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: ""},
		{name: "wrong version", yaml: "version: 2\n"},
		{name: "unknown field", yaml: "version: 1\nsesion:\n  profile: bam\n"},
		{name: "bad password", yaml: "version: 1\nsession:\n  password: cafe\n"},
		{name: "bad profile", yaml: "version: 1\nsession:\n  profile: fast\n"},
		{name: "bad entry", yaml: "version: 1\nsession:\n  entry: nowhere\n"},
		{name: "bad duration", yaml: "version: 1\nsession:\n  timeouts:\n    sync: soon\n"},
		{name: "negative timeout", yaml: "version: 1\nsession:\n  timeouts:\n    block: -1s\n"},
		{name: "negative retries", yaml: "version: 1\nsession:\n  retries:\n    block: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() succeeded")
			}
		})
	}
}

func TestApplySession(t *testing.T) {
	s, err := Parse([]byte(`version: 1
session:
  password: "0x0123456789ABCDEF"
  profile: monitor
  booke: true
  timeouts:
    sync: 2s
    final: 5s
  retries:
    sync: 20
    block: 0
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg := session.DefaultConfig()
	if err := s.ApplySession(&cfg); err != nil {
		t.Fatalf("ApplySession() error = %v", err)
	}

	if cfg.Password != protocol.PasswordFromUint64(0x0123456789ABCDEF) {
		t.Errorf("Password = %s", cfg.Password)
	}
	if cfg.Profile.Name != protocol.ProfileMonitor.Name {
		t.Errorf("Profile = %q, want monitor", cfg.Profile.Name)
	}
	if !cfg.BookE {
		t.Error("BookE not applied")
	}
	if cfg.SyncTimeout != 2*time.Second || cfg.FinalTimeout != 5*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.SyncTimeout, cfg.FinalTimeout)
	}
	if cfg.BlockTimeout != session.DefaultConfig().BlockTimeout {
		t.Errorf("BlockTimeout = %v, want default", cfg.BlockTimeout)
	}
	if cfg.SyncRetries != 20 || cfg.BlockRetries != 0 {
		t.Errorf("retries sync=%d block=%d, want 20 and 0", cfg.SyncRetries, cfg.BlockRetries)
	}
	if cfg.AuthRetries != session.DefaultConfig().AuthRetries {
		t.Errorf("AuthRetries = %d, want default", cfg.AuthRetries)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{in: "0x40000100", want: 0x40000100},
		{in: "40000100", want: 0x40000100},
		{in: " 0XFFFFFFFF ", want: 0xFFFFFFFF},
		{in: "0x100000000", wantErr: true},
		{in: "", wantErr: true},
		{in: "0xZZ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAddress(%q) = 0x%X, want 0x%X", tt.in, got, tt.want)
		}
	}
}

func TestEnsureGateway(t *testing.T) {
	s := NewSettings()

	gw1 := s.EnsureGateway("benchpi")
	if gw1 != s.EnsureGateway("benchpi") {
		t.Error("EnsureGateway() should return same instance for same name")
	}
	if gw1 == s.EnsureGateway("rig2") {
		t.Error("EnsureGateway() should create new instance for different name")
	}
}

func TestRememberGateway(t *testing.T) {
	s := NewSettings()

	before := time.Now()
	s.RememberGateway("benchpi", "ws://10.0.0.5:8765/can", "socketcan", "can0", 250000)
	after := time.Now()

	gw := s.Gateways["benchpi"]
	if gw.URL != "ws://10.0.0.5:8765/can" || gw.Interface != "socketcan" || gw.Channel != "can0" {
		t.Errorf("gateway = %+v", gw)
	}
	if gw.LastSeen.Before(before) || gw.LastSeen.After(after) {
		t.Errorf("LastSeen = %v, should be between %v and %v", gw.LastSeen, before, after)
	}
}

func TestResolveGatewayURL(t *testing.T) {
	s := NewSettings()
	s.RememberGateway("benchpi", "ws://10.0.0.5:8765/can", "", "", 0)

	tests := []struct {
		channel string
		want    string
		wantErr bool
	}{
		{channel: "ws://example:1/can", want: "ws://example:1/can"},
		{channel: "benchpi", want: "ws://10.0.0.5:8765/can"},
		{channel: "unknown", wantErr: true},
	}
	for _, tt := range tests {
		got, err := s.ResolveGatewayURL(tt.channel)
		if (err != nil) != tt.wantErr {
			t.Errorf("ResolveGatewayURL(%q) error = %v, wantErr %v", tt.channel, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolveGatewayURL(%q) = %q, want %q", tt.channel, got, tt.want)
		}
	}
}

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	got, err := CreateDefault(path, false)
	if err != nil {
		t.Fatalf("CreateDefault() error = %v", err)
	}
	if got != path {
		t.Errorf("CreateDefault() path = %q, want %q", got, path)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of default file error = %v", err)
	}
	if addr, ok, err := s.EntryAddress(); err != nil || !ok || addr != protocol.DefaultEntryAddress {
		t.Errorf("EntryAddress() = 0x%X, %v, %v", addr, ok, err)
	}

	if _, err := CreateDefault(path, false); !errors.Is(err, ErrExists) {
		t.Errorf("second CreateDefault() error = %v, want ErrExists", err)
	}
	if _, err := CreateDefault(path, true); err != nil {
		t.Errorf("forced CreateDefault() error = %v", err)
	}
}

func TestMarshalHeader(t *testing.T) {
	data, err := NewSettings().Marshal("/tmp/x.yaml")
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "# bamload settings") {
		t.Errorf("Marshal() missing header: %q", data)
	}
	if !strings.Contains(string(data), "# Location: /tmp/x.yaml") {
		t.Errorf("Marshal() missing location: %q", data)
	}
	if _, err := Parse(data); err != nil {
		t.Errorf("Parse(Marshal()) error = %v", err)
	}
}

func BenchmarkEnsureGateway(b *testing.B) {
	s := NewSettings()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EnsureGateway("benchpi")
	}
}
