// Package protocol implements the MPC56xx Boot Assist Module (BAM) CAN
// protocol codec.
//
// This package translates between the messages of a boot session (password,
// load address and size, image data, status) and raw CAN frames. It has no
// state and no side effects: every function is pure given its inputs and safe
// for concurrent use.
//
// # Protocol Overview
//
// The BAM listens on three standard identifiers and acknowledges every frame
// by echoing its payload back on a paired identifier:
//
//	Message        Host -> device   Device -> host   Payload
//	password       0x011            0x001            8-byte password, big-endian
//	address/size   0x012            0x002            start address (4), VLE|length (4)
//	data           0x013            0x003            up to 8 image bytes
//
// A matching echo is an ack. An echo with the same length but different bytes
// is a nack (the device saw something else). Anything else is malformed.
//
// Once the last byte has been echoed the BAM branches to the start address on
// its own; it has no checksum report and no execute command.
//
// # Monitor Profile
//
// RAM-resident monitors that speak the same framing usually add a sync probe,
// a final checksum report and an explicit execute command. ProfileMonitor
// enables these frames:
//
//	Message        Host -> device   Device -> host   Payload
//	sync probe     0x010            0x000            host 0x5A, device [status]
//	final status                    0x004            [status, sum32 BE]
//	execute        0x014                             entry address BE
//
// Status bytes: 0x00 ack/ok, 0x01 nack, 0x02 checksum failure.
//
// # Usage Example - Host Side
//
//	codec := protocol.NewCodec(protocol.ProfileBAM)
//	for _, f := range codec.EncodePassword(protocol.DefaultPassword) {
//	    conn.Send(ctx, f)
//	    echo, _ := conn.Receive(ctx, protocol.IDPasswordEcho, time.Second)
//	    status, err := protocol.DecodeEcho(f, echo)
//	    ...
//	}
//
// # Usage Example - Device Side
//
// DecodeHeader and DecodePassword are the inverse of the host encoders. They
// are used by the simulator and by tests to check the wire layout:
//
//	frames, _ := codec.EncodeHeader(0x40000100, 1024, true)
//	hdr, _ := protocol.DecodeHeader(frames)
//	// hdr.EntryAddress == 0x40000100, hdr.Length == 1024, hdr.VLE == true
//
// # Checksum
//
// ComputeChecksum is a 32-bit additive sum over all image bytes. Its identity
// value (empty input) is 0.
package protocol
