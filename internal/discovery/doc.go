// Package discovery finds CAN gateways on the local network over mDNS.
//
// A gateway started with "bamload serve" registers an instance named
// "bamload-<name>" under the "_bamload-can._tcp" service type. Its TXT
// records carry the WebSocket path and the bus it bridges:
//
//	path=/can  interface=slcan  channel=/dev/ttyACM0  bitrate=500000  profile=monitor
//
// # Usage Example
//
//	gateways, err := discovery.Scan(ctx, 3*time.Second)
//	if err != nil {
//	    return err
//	}
//	for _, gw := range gateways {
//	    fmt.Println(gw.Name, gw.URL())
//	}
//
// The URL of a discovered gateway is the channel argument of the "ws"
// interface.
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Gateways must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
