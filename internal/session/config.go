package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/protocol"
)

// Config holds the session configuration. It is copied into the session at
// construction and never read again from the caller's value.
type Config struct {
	// Password is sent during authentication
	Password protocol.Password

	// Profile selects the optional sync, final status and execute frames
	Profile protocol.Profile

	// Capacity is the payload bytes per frame (default 8)
	Capacity int

	// BookE loads the image as Book E code (VLE flag cleared)
	BookE bool

	// Execute sends the execute frame after a verified load, on profiles
	// that have one
	Execute bool

	// Per-phase response timeouts
	SyncTimeout   time.Duration
	AuthTimeout   time.Duration
	HeaderTimeout time.Duration
	BlockTimeout  time.Duration
	FinalTimeout  time.Duration

	// Per-phase retry budgets (resends after the first attempt)
	SyncRetries   int
	AuthRetries   int
	HeaderRetries int
	BlockRetries  int

	// Logger is used for transition logging (optional)
	Logger *zap.Logger

	// OnProgress is called after every transition (optional)
	OnProgress ProgressCallback
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Password:      protocol.DefaultPassword,
		Profile:       protocol.ProfileBAM,
		Capacity:      protocol.FrameCapacity,
		Execute:       true,
		SyncTimeout:   time.Second,
		AuthTimeout:   time.Second,
		HeaderTimeout: time.Second,
		BlockTimeout:  250 * time.Millisecond,
		FinalTimeout:  2 * time.Second,
		SyncRetries:   10,
		AuthRetries:   3,
		HeaderRetries: 3,
		BlockRetries:  3,
	}
}

// Validate checks the configuration for values the session cannot run with.
func (c Config) Validate() error {
	if c.Profile.Name == "" {
		return fmt.Errorf("protocol profile is required")
	}
	if c.Capacity < 1 || c.Capacity > protocol.FrameCapacity {
		return fmt.Errorf("frame capacity must be 1-%d, got %d", protocol.FrameCapacity, c.Capacity)
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"sync", c.SyncTimeout},
		{"auth", c.AuthTimeout},
		{"header", c.HeaderTimeout},
		{"block", c.BlockTimeout},
		{"final", c.FinalTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%s timeout must be positive, got %s", t.name, t.d)
		}
	}
	retries := []struct {
		name string
		n    int
	}{
		{"sync", c.SyncRetries},
		{"auth", c.AuthRetries},
		{"header", c.HeaderRetries},
		{"block", c.BlockRetries},
	}
	for _, r := range retries {
		if r.n < 0 {
			return fmt.Errorf("%s retries must not be negative, got %d", r.name, r.n)
		}
	}
	return nil
}

// Progress is passed to ProgressCallback after every transition.
type Progress struct {
	// Phase is the session phase after the transition
	Phase Phase

	// BytesSent is the number of acknowledged image bytes
	BytesSent int

	// TotalBytes is the image length
	TotalBytes int

	// BlocksSent is the number of acknowledged data blocks
	BlocksSent int

	// TotalBlocks is the number of data blocks in the image
	TotalBlocks int

	// Attempt is the send attempt of the outstanding request (1-based)
	Attempt int

	// Elapsed is the time since the session started
	Elapsed time.Duration
}

// Percentage returns the transfer completion from 0 to 100.
func (p Progress) Percentage() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.BytesSent) * 100 / float64(p.TotalBytes)
}

// ProgressCallback is called during the session to report progress.
// Implementations should return quickly; the session waits for them.
type ProgressCallback func(Progress)
