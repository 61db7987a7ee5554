package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type advertised by CAN gateways
	ServiceType = "_bamload-can._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// InstancePrefix starts every gateway instance name
	InstancePrefix = "bamload-"

	// DefaultScanTimeout is the default timeout for gateway discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPath is the WebSocket path served by gateways
	DefaultPath = "/can"
)

// instancePattern matches gateway instance names (e.g., "bamload-benchpi")
var instancePattern = regexp.MustCompile(`^bamload-([A-Za-z0-9][A-Za-z0-9._-]*)$`)

// Scanner handles mDNS gateway discovery
type Scanner struct {
	// Timeout is the maximum time to wait for gateway discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan collects every gateway that answers before the timeout or ctx ends.
func (s *Scanner) Scan(ctx context.Context) ([]*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)

	var (
		mu       sync.Mutex
		gateways []*Gateway
		seen     = make(map[string]bool)
	)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			gw := s.parseServiceEntry(entry)
			if gw == nil {
				continue
			}
			mu.Lock()
			if !seen[gw.Name] {
				seen[gw.Name] = true
				gateways = append(gateways, gw)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]*Gateway(nil), gateways...), nil
}

// WaitFor returns the gateway called name as soon as it answers.
func (s *Scanner) WaitFor(ctx context.Context, name string) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Gateway, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			gw := s.parseServiceEntry(entry)
			if gw != nil && gw.Name == name {
				select {
				case found <- gw:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case gw := <-found:
		return gw, nil
	case <-ctx.Done():
		// The finder cancels right after publishing.
		select {
		case gw := <-found:
			return gw, nil
		default:
		}
		return nil, fmt.Errorf("gateway %s not found within %s", name, s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Gateway.
// Returns nil if the entry is not a bamload gateway.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Gateway {
	matches := instancePattern.FindStringSubmatch(entry.Instance)
	if len(matches) < 2 {
		return nil
	}

	// Prefer IPv4
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port == 0 {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Gateway{
		Name:         matches[1],
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// Scan is a convenience function to scan for gateways with a custom timeout
func Scan(ctx context.Context, timeout time.Duration) ([]*Gateway, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.Scan(ctx)
}
