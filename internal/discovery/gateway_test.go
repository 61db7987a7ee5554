package discovery

import (
	"reflect"
	"testing"
)

func TestGateway_String(t *testing.T) {
	tests := []struct {
		name string
		gw   *Gateway
		want string
	}{
		{
			name: "bare",
			gw:   &Gateway{Name: "benchpi", IP: "192.168.4.16", Port: 8765},
			want: "Gateway benchpi at 192.168.4.16:8765",
		},
		{
			name: "with bus",
			gw: &Gateway{
				Name: "benchpi", IP: "192.168.4.16", Port: 8765,
				Metadata: map[string]string{TxtInterface: "slcan", TxtChannel: "/dev/ttyACM0", TxtBitrate: "500000"},
			},
			want: "Gateway benchpi at 192.168.4.16:8765 (slcan /dev/ttyACM0 @ 500000)",
		},
		{
			name: "ipv6",
			gw:   &Gateway{Name: "v6", IP: "fe80::1", Port: 80},
			want: "Gateway v6 at [fe80::1]:80",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.gw.String(); got != tt.want {
				t.Errorf("Gateway.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGateway_URL(t *testing.T) {
	tests := []struct {
		name string
		gw   *Gateway
		want string
	}{
		{
			name: "default path",
			gw:   &Gateway{IP: "192.168.4.16", Port: 8765},
			want: "ws://192.168.4.16:8765/can",
		},
		{
			name: "advertised path",
			gw:   &Gateway{IP: "10.0.0.5", Port: 9000, Metadata: map[string]string{TxtPath: "bus0"}},
			want: "ws://10.0.0.5:9000/bus0",
		},
		{
			name: "ipv6",
			gw:   &Gateway{IP: "fe80::1", Port: 8765},
			want: "ws://[fe80::1]:8765/can",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.gw.URL(); got != tt.want {
				t.Errorf("Gateway.URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGateway_Bitrate(t *testing.T) {
	gw := &Gateway{Metadata: map[string]string{TxtBitrate: "250000"}}
	if got := gw.Bitrate(); got != 250000 {
		t.Errorf("Bitrate() = %d, want 250000", got)
	}
	gw.Metadata[TxtBitrate] = "fast"
	if got := gw.Bitrate(); got != 0 {
		t.Errorf("Bitrate() = %d, want 0 for garbage", got)
	}
	if got := (&Gateway{}).Bitrate(); got != 0 {
		t.Errorf("Bitrate() = %d, want 0 without metadata", got)
	}
}

func TestGateway_GetMetadata(t *testing.T) {
	gw := &Gateway{Metadata: map[string]string{TxtInterface: "socketcan"}}
	if got := gw.GetMetadata(TxtInterface); got != "socketcan" {
		t.Errorf("GetMetadata(interface) = %q", got)
	}
	if got := gw.GetMetadata("missing"); got != "" {
		t.Errorf("GetMetadata(missing) = %q, want empty", got)
	}
	if got := (&Gateway{}).GetMetadata(TxtPath); got != "" {
		t.Errorf("GetMetadata on nil map = %q, want empty", got)
	}
}

func TestTextRecords(t *testing.T) {
	got := TextRecords(map[string]string{
		TxtPath:    "/can",
		TxtBitrate: "500000",
		TxtVersion: "dev",
	})
	want := []string{"bitrate=500000", "path=/can", "version=dev"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TextRecords() = %v, want %v", got, want)
	}
}
