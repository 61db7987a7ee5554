// Package session implements the host side of the boot handshake.
//
// The handshake is a pure state machine: Machine.Transition takes the current
// State and an Event (start, response, timeout, transport failure, cancel)
// and returns the next State and an Effect describing the I/O to perform.
// Session.Run is the only code that touches the bus; it executes each Effect
// over a bus.Transport and feeds the outcome back as the next Event.
//
// Phases:
//
//	Idle -> Syncing -> Authenticating -> SendingHeader -> SendingData
//	     -> AwaitingFinalChecksum -> Done
//
// Failed is reachable from every phase. Syncing and AwaitingFinalChecksum are
// skipped on profiles without sync probe or final status.
//
// Retry policy:
//
//	Syncing                timeout/nack/malformed: resend, then NoResponse
//	Authenticating         timeout: resend, then NoResponse
//	                       nack/malformed: AuthenticationRejected
//	SendingHeader          timeout: resend, then NoResponse
//	                       nack/malformed: Protocol
//	SendingData            timeout/nack/malformed: resend block, then TransferAborted
//	AwaitingFinalChecksum  checksum-fail or mismatch: ChecksumMismatch
//	                       timeout: NoResponse
//
// Retry budgets are per phase and are restored after every acknowledged
// password part, header part and data block. A response identical to the
// last acknowledged echo is a bus duplicate and is ignored without
// restarting the wait.
//
// Usage:
//
//	conn := bus.NewConn(port, logger)
//	cfg := session.DefaultConfig()
//	cfg.Logger = logger
//	state, err := session.Load(ctx, conn, cfg, img)
//	if err != nil {
//	    fmt.Println(session.ShortMessage(err))
//	    os.Exit(session.ExitCode(err))
//	}
package session
