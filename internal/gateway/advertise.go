package gateway

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/discovery"
	"github.com/muurk/bamload/internal/logging"
	"github.com/muurk/bamload/internal/version"
)

// InstanceName returns the mDNS instance name for a gateway called name.
// An empty name falls back to the host name.
func InstanceName(name string) string {
	if name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "gateway"
		}
		name = host
	}
	// mDNS instance labels cannot carry dots from a FQDN host name.
	name, _, _ = strings.Cut(name, ".")
	return discovery.InstancePrefix + sanitize(name)
}

// Advertise registers the gateway over mDNS. The caller shuts the returned
// server down when the gateway stops.
func Advertise(name string, port int, txt []string) (*zeroconf.Server, error) {
	instance := InstanceName(name)
	srv, err := zeroconf.Register(instance, discovery.ServiceType, discovery.ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("Advertising gateway over mDNS",
		zap.String("instance", instance),
		zap.String("service", discovery.ServiceType),
		zap.Int("port", port),
	)
	return srv, nil
}

// txt builds the TXT records published for this gateway.
func (s *Server) txt() []string {
	meta := map[string]string{
		discovery.TxtPath:    s.config.Path,
		discovery.TxtVersion: version.Version,
	}
	for k, v := range s.config.Metadata {
		meta[k] = v
	}
	return discovery.TextRecords(meta)
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	s := strings.TrimLeft(b.String(), "-_")
	if s == "" {
		return "gateway"
	}
	return s
}
