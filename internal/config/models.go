package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/bamload/internal/protocol"
	"github.com/muurk/bamload/internal/session"
)

// CurrentVersion is the settings file format version.
const CurrentVersion = 1

// Settings represents the entire settings file.
type Settings struct {
	Version  int                      `yaml:"version"`
	Session  *SessionSettings         `yaml:"session,omitempty"`
	Gateway  *GatewaySettings         `yaml:"gateway,omitempty"`
	Gateways map[string]*KnownGateway `yaml:"gateways,omitempty"` // Keyed by gateway name
}

// SessionSettings override the built-in session defaults. Zero values mean
// "use the default".
type SessionSettings struct {
	Password string   `yaml:"password,omitempty"` // 16 hex digits
	Profile  string   `yaml:"profile,omitempty"`  // "bam" or "monitor"
	Entry    string   `yaml:"entry,omitempty"`    // Hex load address for raw binaries
	BookE    bool     `yaml:"booke,omitempty"`    // Clear the VLE flag
	Timeouts Timeouts `yaml:"timeouts,omitempty"`
	Retries  Retries  `yaml:"retries,omitempty"`
}

// Timeouts are per-phase response timeouts (e.g. "250ms").
type Timeouts struct {
	Sync   time.Duration `yaml:"sync,omitempty"`
	Auth   time.Duration `yaml:"auth,omitempty"`
	Header time.Duration `yaml:"header,omitempty"`
	Block  time.Duration `yaml:"block,omitempty"`
	Final  time.Duration `yaml:"final,omitempty"`
}

// Retries are per-phase retry budgets. Nil means default; zero disables
// retries for that phase.
type Retries struct {
	Sync   *int `yaml:"sync,omitempty"`
	Auth   *int `yaml:"auth,omitempty"`
	Header *int `yaml:"header,omitempty"`
	Block  *int `yaml:"block,omitempty"`
}

// GatewaySettings configure "bamload serve".
type GatewaySettings struct {
	Listen    string `yaml:"listen,omitempty"`    // e.g. ":8765"
	Path      string `yaml:"path,omitempty"`      // WebSocket path
	Name      string `yaml:"name,omitempty"`      // mDNS instance suffix
	Advertise *bool  `yaml:"advertise,omitempty"` // Register over mDNS (default true)
}

// KnownGateway is a gateway remembered by "bamload discover". Its name can
// be used as the channel of the "ws" interface.
type KnownGateway struct {
	URL       string    `yaml:"url"`
	Interface string    `yaml:"interface,omitempty"`
	Channel   string    `yaml:"channel,omitempty"`
	Bitrate   int       `yaml:"bitrate,omitempty"`
	LastSeen  time.Time `yaml:"last_seen,omitempty"`
}

// Gateway defaults
const (
	DefaultListen = ":8765"
	DefaultPath   = "/can"
)

// NewSettings creates Settings with default values.
func NewSettings() *Settings {
	return &Settings{
		Version:  CurrentVersion,
		Session:  &SessionSettings{},
		Gateway:  &GatewaySettings{},
		Gateways: make(map[string]*KnownGateway),
	}
}

// normalize fills nil sections after decoding.
func (s *Settings) normalize() {
	if s.Session == nil {
		s.Session = &SessionSettings{}
	}
	if s.Gateway == nil {
		s.Gateway = &GatewaySettings{}
	}
	if s.Gateways == nil {
		s.Gateways = make(map[string]*KnownGateway)
	}
}

// Validate checks every value that ApplySession would parse.
func (s *Settings) Validate() error {
	cfg := session.DefaultConfig()
	if err := s.ApplySession(&cfg); err != nil {
		return err
	}
	if _, _, err := s.EntryAddress(); err != nil {
		return err
	}
	return cfg.Validate()
}

// ApplySession overlays the session settings on cfg.
func (s *Settings) ApplySession(cfg *session.Config) error {
	ss := s.Session
	if ss == nil {
		return nil
	}

	if ss.Password != "" {
		pw, err := protocol.ParsePassword(ss.Password)
		if err != nil {
			return fmt.Errorf("session.password: %w", err)
		}
		cfg.Password = pw
	}
	if ss.Profile != "" {
		p, err := protocol.LookupProfile(ss.Profile)
		if err != nil {
			return fmt.Errorf("session.profile: %w", err)
		}
		cfg.Profile = p
	}
	if ss.BookE {
		cfg.BookE = true
	}

	setDuration(&cfg.SyncTimeout, ss.Timeouts.Sync)
	setDuration(&cfg.AuthTimeout, ss.Timeouts.Auth)
	setDuration(&cfg.HeaderTimeout, ss.Timeouts.Header)
	setDuration(&cfg.BlockTimeout, ss.Timeouts.Block)
	setDuration(&cfg.FinalTimeout, ss.Timeouts.Final)

	setInt(&cfg.SyncRetries, ss.Retries.Sync)
	setInt(&cfg.AuthRetries, ss.Retries.Auth)
	setInt(&cfg.HeaderRetries, ss.Retries.Header)
	setInt(&cfg.BlockRetries, ss.Retries.Block)
	return nil
}

// EntryAddress returns the configured load address, if any.
func (s *Settings) EntryAddress() (uint32, bool, error) {
	if s.Session == nil || s.Session.Entry == "" {
		return 0, false, nil
	}
	addr, err := ParseAddress(s.Session.Entry)
	if err != nil {
		return 0, false, fmt.Errorf("session.entry: %w", err)
	}
	return addr, true, nil
}

// ParseAddress parses a 32-bit address written in hex, with or without 0x.
func ParseAddress(s string) (uint32, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(t, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: want up to 8 hex digits", s)
	}
	return uint32(v), nil
}

// ListenAddr returns the gateway listen address.
func (s *Settings) ListenAddr() string {
	if s.Gateway != nil && s.Gateway.Listen != "" {
		return s.Gateway.Listen
	}
	return DefaultListen
}

// GatewayPath returns the gateway WebSocket path.
func (s *Settings) GatewayPath() string {
	if s.Gateway != nil && s.Gateway.Path != "" {
		return s.Gateway.Path
	}
	return DefaultPath
}

// AdvertiseGateway reports whether the gateway registers over mDNS.
func (s *Settings) AdvertiseGateway() bool {
	if s.Gateway == nil || s.Gateway.Advertise == nil {
		return true
	}
	return *s.Gateway.Advertise
}

// EnsureGateway ensures a gateway entry exists and returns it.
func (s *Settings) EnsureGateway(name string) *KnownGateway {
	if s.Gateways == nil {
		s.Gateways = make(map[string]*KnownGateway)
	}
	if gw, ok := s.Gateways[name]; ok {
		return gw
	}
	gw := &KnownGateway{}
	s.Gateways[name] = gw
	return gw
}

// RememberGateway records a discovered gateway.
func (s *Settings) RememberGateway(name, url, iface, channel string, bitrate int) {
	gw := s.EnsureGateway(name)
	gw.URL = url
	gw.Interface = iface
	gw.Channel = channel
	gw.Bitrate = bitrate
	gw.LastSeen = time.Now()
}

// ResolveGatewayURL maps the channel of the "ws" interface to a URL.
// URLs pass through; other values are looked up as gateway names.
func (s *Settings) ResolveGatewayURL(channel string) (string, error) {
	if strings.Contains(channel, "://") {
		return channel, nil
	}
	if gw, ok := s.Gateways[channel]; ok && gw.URL != "" {
		return gw.URL, nil
	}
	return "", fmt.Errorf("unknown gateway %q: pass a ws:// URL or run 'bamload discover' first", channel)
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
