package session

import (
	"fmt"
	"time"

	"github.com/muurk/bamload/internal/bus"
	"github.com/muurk/bamload/internal/image"
	"github.com/muurk/bamload/internal/protocol"
)

// Phase is the position of a session in the handshake.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSyncing
	PhaseAuthenticating
	PhaseSendingHeader
	PhaseSendingData
	PhaseAwaitingFinalChecksum
	PhaseDone
	PhaseFailed
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseSyncing:
		return "Syncing"
	case PhaseAuthenticating:
		return "Authenticating"
	case PhaseSendingHeader:
		return "SendingHeader"
	case PhaseSendingData:
		return "SendingData"
	case PhaseAwaitingFinalChecksum:
		return "AwaitingFinalChecksum"
	case PhaseDone:
		return "Done"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Terminal reports whether no further transitions happen from p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// State is the mutable part of a session. It is a value: Transition returns
// a new State and never modifies its argument.
type State struct {
	Phase            Phase
	BytesSent        int
	BlocksSent       int
	RetriesRemaining int
	Attempts         int    // sends of the outstanding request
	LastError        *Error // set only in PhaseFailed

	part        int       // index of the outstanding password/header frame
	outstanding bus.Frame // frame whose answer is awaited
	blockLen    int       // image bytes in the outstanding data block
	lastAck     bus.Frame // last acknowledged echo, for duplicate detection
	hasLastAck  bool
}

// Outstanding returns the frame whose answer is awaited.
func (s State) Outstanding() bus.Frame {
	return s.outstanding
}

// EventKind identifies what happened since the last transition.
type EventKind int

const (
	// EventStart begins the session
	EventStart EventKind = iota
	// EventResponse carries a frame received on the awaited identifier
	EventResponse
	// EventTimeout reports that the await deadline passed
	EventTimeout
	// EventTransportFailed reports a send or receive failure
	EventTransportFailed
	// EventCancel reports a caller abort
	EventCancel
)

// String returns the event name
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventResponse:
		return "response"
	case EventTimeout:
		return "timeout"
	case EventTransportFailed:
		return "transport-failed"
	case EventCancel:
		return "cancel"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is the input of a transition.
type Event struct {
	Kind  EventKind
	Frame bus.Frame // EventResponse
	Err   error     // EventTransportFailed, EventCancel
}

// Effect is the I/O a transition asks the runner to perform, in order: send
// every frame in Send, then, if Await is set, wait for a frame on Expect.
type Effect struct {
	Send    []bus.Frame
	Await   bool
	Expect  uint32
	Timeout time.Duration

	// KeepDeadline continues the previous wait instead of starting a new
	// one. Set when a response was ignored.
	KeepDeadline bool

	// Retry is set when Send repeats the previous request
	Retry bool
}

// Machine holds everything a session needs that does not change while it
// runs: configuration, codec and the encoded fixed messages. Transition is a
// pure function of its arguments.
type Machine struct {
	cfg      Config
	codec    protocol.Codec
	data     []byte
	entry    uint32
	checksum uint32
	password []bus.Frame
	header   []bus.Frame
	blocks   int
}

// NewMachine prepares a machine for loading img with cfg.
func NewMachine(cfg Config, img *image.Image) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if img == nil || img.Len() == 0 {
		return nil, fmt.Errorf("invalid image: %w", image.ErrEmpty)
	}

	codec := protocol.Codec{Profile: cfg.Profile, Capacity: cfg.Capacity}
	header, err := codec.EncodeHeader(img.EntryAddress, img.Len(), !cfg.BookE)
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}

	return &Machine{
		cfg:      cfg,
		codec:    codec,
		data:     img.Data,
		entry:    img.EntryAddress,
		checksum: protocol.ComputeChecksum(img.Data),
		password: codec.EncodePassword(cfg.Password),
		header:   header,
		blocks:   codec.BlockCount(img.Len()),
	}, nil
}

// Length returns the image length.
func (m *Machine) Length() int {
	return len(m.data)
}

// Blocks returns the number of data blocks in the image.
func (m *Machine) Blocks() int {
	return m.blocks
}

// Checksum returns the checksum the device should report.
func (m *Machine) Checksum() uint32 {
	return m.checksum
}

// Transition computes the next state and the I/O to perform for ev.
func (m *Machine) Transition(s State, ev Event) (State, Effect) {
	if s.Phase.Terminal() {
		// Done may still fail while the execute frame is being sent.
		if s.Phase == PhaseDone {
			switch ev.Kind {
			case EventTransportFailed:
				return m.fail(s, ErrTransport, "execute frame not sent", ev.Err)
			case EventCancel:
				return m.fail(s, ErrCancelled, "cancelled before execute", ev.Err)
			}
		}
		return s, Effect{}
	}

	switch ev.Kind {
	case EventCancel:
		return m.fail(s, ErrCancelled, "cancelled by caller", ev.Err)
	case EventTransportFailed:
		return m.fail(s, ErrTransport, "bus connection failed", ev.Err)
	}

	switch s.Phase {
	case PhaseIdle:
		if ev.Kind != EventStart {
			return s, Effect{}
		}
		if m.cfg.Profile.SyncProbe {
			return m.enterSync(s)
		}
		return m.enterAuth(s)
	case PhaseSyncing:
		return m.onSync(s, ev)
	case PhaseAuthenticating:
		return m.onAuth(s, ev)
	case PhaseSendingHeader:
		return m.onHeader(s, ev)
	case PhaseSendingData:
		return m.onData(s, ev)
	case PhaseAwaitingFinalChecksum:
		return m.onFinal(s, ev)
	}
	return s, Effect{}
}

func (m *Machine) enterSync(s State) (State, Effect) {
	s.Phase = PhaseSyncing
	s.RetriesRemaining = m.cfg.SyncRetries
	return m.request(s, m.codec.EncodeSync(), 0, m.cfg.SyncTimeout)
}

func (m *Machine) enterAuth(s State) (State, Effect) {
	s.Phase = PhaseAuthenticating
	s.RetriesRemaining = m.cfg.AuthRetries
	s.part = 0
	return m.request(s, m.password[0], 0, m.cfg.AuthTimeout)
}

func (m *Machine) enterHeader(s State) (State, Effect) {
	s.Phase = PhaseSendingHeader
	s.RetriesRemaining = m.cfg.HeaderRetries
	s.part = 0
	return m.request(s, m.header[0], 0, m.cfg.HeaderTimeout)
}

func (m *Machine) enterData(s State) (State, Effect) {
	s.Phase = PhaseSendingData
	s.RetriesRemaining = m.cfg.BlockRetries
	return m.sendBlock(s)
}

func (m *Machine) sendBlock(s State) (State, Effect) {
	f, n := m.codec.EncodeDataBlock(m.data, s.BytesSent)
	return m.request(s, f, n, m.cfg.BlockTimeout)
}

// finishTransfer runs once every block is acknowledged.
func (m *Machine) finishTransfer(s State) (State, Effect) {
	if m.cfg.Profile.FinalStatus {
		s.Phase = PhaseAwaitingFinalChecksum
		s.Attempts = 1
		s.RetriesRemaining = 0
		s.outstanding = bus.Frame{}
		s.blockLen = 0
		return s, Effect{
			Await:   true,
			Expect:  protocol.IDFinalStatus,
			Timeout: m.cfg.FinalTimeout,
		}
	}
	return m.done(s)
}

func (m *Machine) done(s State) (State, Effect) {
	s.Phase = PhaseDone
	s.outstanding = bus.Frame{}
	s.blockLen = 0
	var eff Effect
	if m.cfg.Execute && m.cfg.Profile.Execute {
		eff.Send = []bus.Frame{m.codec.EncodeExecute(m.entry)}
	}
	return s, eff
}

// request makes f the outstanding request and sends it for the first time.
func (m *Machine) request(s State, f bus.Frame, blockLen int, timeout time.Duration) (State, Effect) {
	s.outstanding = f
	s.blockLen = blockLen
	s.Attempts = 1
	return s, m.await(s, timeout)
}

// retry resends the outstanding request, or fails with kind once the phase's
// budget is spent.
func (m *Machine) retry(s State, kind ErrorKind, reason string, cause error) (State, Effect) {
	if s.RetriesRemaining <= 0 {
		return m.fail(s, kind, fmt.Sprintf("%s after %d attempts", reason, s.Attempts), cause)
	}
	s.RetriesRemaining--
	s.Attempts++
	eff := m.await(s, m.timeout(s.Phase))
	eff.Retry = true
	return s, eff
}

// ignore keeps waiting for the outstanding request under the same deadline.
func (m *Machine) ignore(s State) (State, Effect) {
	id, _ := protocol.EchoID(s.outstanding.ID)
	return s, Effect{Await: true, Expect: id, KeepDeadline: true}
}

func (m *Machine) await(s State, timeout time.Duration) Effect {
	id, _ := protocol.EchoID(s.outstanding.ID)
	return Effect{
		Send:    []bus.Frame{s.outstanding},
		Await:   true,
		Expect:  id,
		Timeout: timeout,
	}
}

func (m *Machine) timeout(p Phase) time.Duration {
	switch p {
	case PhaseSyncing:
		return m.cfg.SyncTimeout
	case PhaseAuthenticating:
		return m.cfg.AuthTimeout
	case PhaseSendingHeader:
		return m.cfg.HeaderTimeout
	case PhaseSendingData:
		return m.cfg.BlockTimeout
	default:
		return m.cfg.FinalTimeout
	}
}

func (m *Machine) fail(s State, kind ErrorKind, message string, cause error) (State, Effect) {
	s.LastError = &Error{
		Kind:      kind,
		Phase:     s.Phase,
		Attempts:  s.Attempts,
		BytesSent: s.BytesSent,
		Message:   message,
		Err:       cause,
	}
	s.Phase = PhaseFailed
	return s, Effect{}
}

// duplicate reports whether resp repeats the last acknowledged echo. When
// the outstanding request has the same payload as the previous one its echo
// is indistinguishable from a duplicate and is taken as the answer.
func duplicate(s State, resp bus.Frame) bool {
	return s.hasLastAck && resp.Equal(s.lastAck) && !resp.Equal(expectedEcho(s.outstanding))
}

func acknowledge(s State, resp bus.Frame) State {
	s.lastAck = resp
	s.hasLastAck = true
	return s
}

func (m *Machine) onSync(s State, ev Event) (State, Effect) {
	if ev.Kind == EventTimeout {
		return m.retry(s, ErrNoResponse, "no sync acknowledgement", nil)
	}
	if ev.Kind != EventResponse {
		return s, Effect{}
	}
	status, err := protocol.DecodeStatus(ev.Frame)
	if err != nil || status != protocol.StatusAck {
		return m.retry(s, ErrNoResponse, "sync not acknowledged", err)
	}
	return m.enterAuth(s)
}

func (m *Machine) onAuth(s State, ev Event) (State, Effect) {
	if ev.Kind == EventTimeout {
		return m.retry(s, ErrNoResponse, "no password echo", nil)
	}
	if ev.Kind != EventResponse {
		return s, Effect{}
	}
	if duplicate(s, ev.Frame) {
		return m.ignore(s)
	}
	status, err := protocol.DecodeEcho(s.outstanding, ev.Frame)
	if err != nil {
		return m.fail(s, ErrAuthenticationRejected, "unreadable password echo", err)
	}
	if status != protocol.StatusAck {
		return m.fail(s, ErrAuthenticationRejected, "password echo differs from password", nil)
	}

	s = acknowledge(s, ev.Frame)
	s.part++
	if s.part < len(m.password) {
		s.RetriesRemaining = m.cfg.AuthRetries
		return m.request(s, m.password[s.part], 0, m.cfg.AuthTimeout)
	}
	return m.enterHeader(s)
}

func (m *Machine) onHeader(s State, ev Event) (State, Effect) {
	if ev.Kind == EventTimeout {
		return m.retry(s, ErrNoResponse, "no header echo", nil)
	}
	if ev.Kind != EventResponse {
		return s, Effect{}
	}
	if duplicate(s, ev.Frame) {
		return m.ignore(s)
	}
	status, err := protocol.DecodeEcho(s.outstanding, ev.Frame)
	if err != nil {
		return m.fail(s, ErrProtocol, "unreadable header echo", err)
	}
	if status != protocol.StatusAck {
		return m.fail(s, ErrProtocol, "header echo differs from header", nil)
	}

	s = acknowledge(s, ev.Frame)
	s.part++
	if s.part < len(m.header) {
		s.RetriesRemaining = m.cfg.HeaderRetries
		return m.request(s, m.header[s.part], 0, m.cfg.HeaderTimeout)
	}
	return m.enterData(s)
}

func (m *Machine) onData(s State, ev Event) (State, Effect) {
	if ev.Kind == EventTimeout {
		return m.retry(s, ErrTransferAborted,
			fmt.Sprintf("block %d not acknowledged", s.BlocksSent), nil)
	}
	if ev.Kind != EventResponse {
		return s, Effect{}
	}
	if duplicate(s, ev.Frame) {
		return m.ignore(s)
	}
	status, err := protocol.DecodeEcho(s.outstanding, ev.Frame)
	if err != nil || status != protocol.StatusAck {
		return m.retry(s, ErrTransferAborted,
			fmt.Sprintf("block %d rejected", s.BlocksSent), err)
	}

	s = acknowledge(s, ev.Frame)
	s.BytesSent += s.blockLen
	s.BlocksSent++
	s.RetriesRemaining = m.cfg.BlockRetries
	if s.BytesSent >= len(m.data) {
		return m.finishTransfer(s)
	}
	return m.sendBlock(s)
}

func (m *Machine) onFinal(s State, ev Event) (State, Effect) {
	if ev.Kind == EventTimeout {
		return m.fail(s, ErrNoResponse, "no final status", nil)
	}
	if ev.Kind != EventResponse {
		return s, Effect{}
	}
	status, sum, err := protocol.DecodeFinalStatus(ev.Frame)
	if err != nil {
		return m.fail(s, ErrProtocol, "unreadable final status", err)
	}
	switch status {
	case protocol.StatusAck:
		if sum != m.checksum {
			return m.fail(s, ErrChecksumMismatch,
				fmt.Sprintf("device checksum 0x%08X, expected 0x%08X", sum, m.checksum), nil)
		}
		return m.done(s)
	case protocol.StatusChecksumFail:
		return m.fail(s, ErrChecksumMismatch,
			fmt.Sprintf("device reported checksum failure (device 0x%08X, expected 0x%08X)", sum, m.checksum), nil)
	default:
		return m.fail(s, ErrProtocol, fmt.Sprintf("final status %s", status), nil)
	}
}

// expectedEcho is the echo that acknowledges f.
func expectedEcho(f bus.Frame) bus.Frame {
	e, err := protocol.EncodeEcho(f)
	if err != nil {
		return bus.Frame{}
	}
	return e
}
