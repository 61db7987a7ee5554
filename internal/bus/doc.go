// Package bus implements the frame transport used to talk to a boot monitor
// over a CAN bus.
//
// The package is split in two layers:
//
//   - Port: the raw adapter contract. An adapter (SocketCAN, SLCAN serial,
//     WebSocket gateway, virtual bus) only knows how to write one frame and
//     read the next frame with a timeout.
//   - Transport: the contract the handshake consumes. Conn turns any Port into
//     a Transport, adding identifier filtering, deadlines and cancellation.
//
// # Frames
//
// Frame is a classical CAN 2.0A/2.0B frame. The payload is stored in a fixed
// [8]byte array so frames are plain values: assigning or passing a frame
// copies it, and Payload returns a fresh slice. Nobody can mutate a frame
// after handing it over.
//
// # Receive semantics
//
// Conn.Receive waits for one frame carrying the requested identifier. Frames
// with any other identifier are discarded, never buffered: a boot session
// only exchanges messages on one known identifier pair at a time, and other
// traffic on a shared bus is noise.
//
//	conn := bus.NewConn(port, logger)
//	if err := conn.Send(ctx, bus.NewFrame(0x011, pwd)); err != nil {
//	    return err
//	}
//	resp, err := conn.Receive(ctx, 0x001, time.Second)
//	if errors.Is(err, bus.ErrTimeout) {
//	    // retry policy lives in the caller
//	}
//
// No retry logic lives in this package.
//
// # Gateway frames
//
// MarshalGatewayFrame and UnmarshalGatewayFrame implement the 13-byte frame
// layout spoken by CAN-to-Ethernet gateways. The ws adapter and the gateway
// server carry exactly one such frame per WebSocket binary message.
package bus
