package discovery

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TXT record keys published by a gateway
const (
	TxtPath      = "path"
	TxtInterface = "interface"
	TxtChannel   = "channel"
	TxtBitrate   = "bitrate"
	TxtVersion   = "version"
)

// Gateway is a CAN gateway discovered on the network.
type Gateway struct {
	// Name is the part of the instance name after "bamload-"
	Name string

	// Hostname is the mDNS hostname (e.g., "benchpi.local.")
	Hostname string

	// IP is the IPv4 address, or IPv6 if the gateway has none
	IP string

	// Port is the WebSocket listening port
	Port int

	// Metadata holds the TXT records
	Metadata map[string]string

	// DiscoveredAt is when the gateway was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable description of the gateway.
func (g *Gateway) String() string {
	desc := fmt.Sprintf("Gateway %s at %s", g.Name, net.JoinHostPort(g.IP, strconv.Itoa(g.Port)))
	if iface := g.GetMetadata(TxtInterface); iface != "" {
		desc += fmt.Sprintf(" (%s %s", iface, g.GetMetadata(TxtChannel))
		if br := g.Bitrate(); br > 0 {
			desc += fmt.Sprintf(" @ %d", br)
		}
		desc += ")"
	}
	return desc
}

// URL returns the WebSocket URL to pass as the channel of the "ws" interface.
func (g *Gateway) URL() string {
	path := g.GetMetadata(TxtPath)
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(g.IP, strconv.Itoa(g.Port)) + path
}

// Bitrate returns the advertised bus bitrate, or 0 if unknown.
func (g *Gateway) Bitrate() int {
	n, err := strconv.Atoi(g.GetMetadata(TxtBitrate))
	if err != nil {
		return 0
	}
	return n
}

// GetMetadata retrieves a TXT value by key, or returns empty string if not found.
func (g *Gateway) GetMetadata(key string) string {
	if g.Metadata == nil {
		return ""
	}
	return g.Metadata[key]
}

// TextRecords formats metadata as TXT records in sorted key order.
func TextRecords(metadata map[string]string) []string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	txt := make([]string, 0, len(keys))
	for _, k := range keys {
		txt = append(txt, k+"="+metadata[k])
	}
	return txt
}
