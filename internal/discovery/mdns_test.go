package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestScanner_parseServiceEntry(t *testing.T) {
	scanner := NewScanner()

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantName string
		wantIP   string
		wantPort int
	}{
		{
			name: "gateway with IPv4",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bamload-benchpi"},
				HostName:      "benchpi.local.",
				Port:          8765,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"path=/can", "interface=slcan"},
			},
			wantName: "benchpi",
			wantIP:   "192.168.4.16",
			wantPort: 8765,
		},
		{
			name: "dotted name",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bamload-rig-2.lab"},
				Port:          9000,
				AddrIPv4:      []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantName: "rig-2.lab",
			wantIP:   "10.0.0.5",
			wantPort: 9000,
		},
		{
			name: "foreign instance",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "printer"},
				Port:          8765,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name: "empty suffix",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bamload-"},
				Port:          8765,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name: "no IP address",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bamload-benchpi"},
				Port:          8765,
			},
			wantNil: true,
		},
		{
			name: "no port",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bamload-benchpi"},
				AddrIPv4:      []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name: "IPv6 only",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bamload-v6"},
				Port:          8765,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
			},
			wantName: "v6",
			wantIP:   "fe80::1",
			wantPort: 8765,
		},
		{
			name: "both families prefers IPv4",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "bamload-dual"},
				Port:          8765,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.1.50")},
				AddrIPv6:      []net.IP{net.ParseIP("fe80::2")},
			},
			wantName: "dual",
			wantIP:   "192.168.1.50",
			wantPort: 8765,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := scanner.parseServiceEntry(tt.entry)

			if tt.wantNil {
				if gw != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", gw)
				}
				return
			}
			if gw == nil {
				t.Fatal("parseServiceEntry() = nil, want gateway")
			}
			if gw.Name != tt.wantName {
				t.Errorf("gw.Name = %v, want %v", gw.Name, tt.wantName)
			}
			if gw.IP != tt.wantIP {
				t.Errorf("gw.IP = %v, want %v", gw.IP, tt.wantIP)
			}
			if gw.Port != tt.wantPort {
				t.Errorf("gw.Port = %v, want %v", gw.Port, tt.wantPort)
			}
			if time.Since(gw.DiscoveredAt) > time.Second {
				t.Errorf("gw.DiscoveredAt is not recent: %v", gw.DiscoveredAt)
			}
		})
	}
}

func TestScanner_parseServiceEntry_Metadata(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "bamload-benchpi"},
		Port:          8765,
		AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
		Text:          []string{"path=/can", "bitrate=500000", "sim", "channel=/dev/ttyACM0"},
	}

	gw := NewScanner().parseServiceEntry(entry)
	if gw == nil {
		t.Fatal("parseServiceEntry() = nil, want gateway")
	}

	want := map[string]string{
		"path":    "/can",
		"bitrate": "500000",
		"sim":     "",
		"channel": "/dev/ttyACM0",
	}
	if len(gw.Metadata) != len(want) {
		t.Errorf("gw.Metadata has %d entries, want %d", len(gw.Metadata), len(want))
	}
	for key, value := range want {
		if got, ok := gw.Metadata[key]; !ok {
			t.Errorf("gw.Metadata missing key %q", key)
		} else if got != value {
			t.Errorf("gw.Metadata[%q] = %q, want %q", key, got, value)
		}
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()
	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
}

func TestInstancePattern(t *testing.T) {
	tests := []struct {
		instance    string
		shouldMatch bool
		name        string
	}{
		{"bamload-benchpi", true, "benchpi"},
		{"bamload-rig_2", true, "rig_2"},
		{"bamload-a.b-c", true, "a.b-c"},
		{"Bamload-benchpi", false, ""},
		{"bamload-", false, ""},
		{"bamload--x", false, ""},
		{"bamload-has space", false, ""},
		{"benchpi", false, ""},
		{"", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.instance, func(t *testing.T) {
			matches := instancePattern.FindStringSubmatch(tt.instance)
			if tt.shouldMatch {
				if len(matches) < 2 {
					t.Errorf("instancePattern did not match %q", tt.instance)
				} else if matches[1] != tt.name {
					t.Errorf("instancePattern matched %q as %q, want %q", tt.instance, matches[1], tt.name)
				}
			} else if matches != nil {
				t.Errorf("instancePattern matched %q, want no match", tt.instance)
			}
		})
	}
}

// Note: live mDNS discovery needs multicast and is not exercised here.
