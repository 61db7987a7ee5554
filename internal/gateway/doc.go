// Package gateway serves a CAN bus over WebSocket.
//
// Every client frame is written to the bus and shown to the other clients;
// every frame read from the bus is sent to all clients. One binary message
// carries one 13-byte gateway frame (bus.MarshalGatewayFrame), which is what
// the "ws" bus adapter speaks, so a loader on another machine can reach a
// target wired to this one.
//
// # Usage Example
//
//	port, err := adapter.Open(ctx, adapter.Params{Interface: "slcan", Channel: "/dev/ttyACM0", Bitrate: 500000})
//	if err != nil {
//	    return err
//	}
//	defer port.Close()
//
//	srv := gateway.New(port, gateway.Config{Listen: ":8765", Advertise: true})
//	return srv.Run(ctx)
//
// The gateway registers "bamload-<name>" under discovery.ServiceType when
// Advertise is set. GET /status returns client and frame counters as JSON.
package gateway
