package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/bamload/internal/bus"
	"github.com/muurk/bamload/internal/image"
)

// Claimer is implemented by transports that must be owned by one session at
// a time. bus.Conn implements it.
type Claimer interface {
	Claim() error
	Release()
}

// Session loads one image over one transport. A Session runs once.
type Session struct {
	transport bus.Transport
	machine   *Machine
	cfg       Config
	logger    *zap.Logger
	image     *image.Image
}

// New creates a session that will load img over transport.
func New(transport bus.Transport, cfg Config, img *image.Image) (*Session, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	m, err := NewMachine(cfg, img)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		transport: transport,
		machine:   m,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "session")),
		image:     img,
	}, nil
}

// Machine returns the state machine driven by the session.
func (s *Session) Machine() *Machine {
	return s.machine
}

// Run drives the machine until Done or Failed and returns the final state.
// The returned error is the state's LastError, or nil on success.
//
// Cancelling ctx stops the session before its next send; frames already
// handed to the transport are not retracted.
func (s *Session) Run(ctx context.Context) (State, error) {
	started := time.Now()

	if c, ok := s.transport.(Claimer); ok {
		if err := c.Claim(); err != nil {
			st := State{Phase: PhaseFailed, LastError: &Error{
				Kind:    ErrTransport,
				Phase:   PhaseIdle,
				Message: "bus connection is in use by another session",
				Err:     err,
			}}
			return st, st.LastError
		}
		defer c.Release()
	}

	s.logger.Info("starting load",
		zap.String("profile", s.cfg.Profile.Name),
		zap.String("entry", fmt.Sprintf("0x%08X", s.image.EntryAddress)),
		zap.Int("length", s.machine.Length()),
		zap.Int("blocks", s.machine.Blocks()),
		zap.String("checksum", fmt.Sprintf("0x%08X", s.machine.Checksum())),
	)

	state, effect := s.step(State{}, Event{Kind: EventStart}, started)
	var deadline time.Time

	for {
		if ev, ok := s.send(ctx, effect.Send); !ok {
			state, effect = s.step(state, ev, started)
			continue
		}
		if state.Phase.Terminal() || !effect.Await {
			break
		}

		if !effect.KeepDeadline {
			deadline = time.Now().Add(effect.Timeout)
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		f, err := s.transport.Receive(ctx, effect.Expect, remaining)
		state, effect = s.step(state, s.classify(ctx, f, err), started)
	}

	if state.LastError != nil {
		s.logger.Error("load failed",
			zap.Stringer("kind", state.LastError.Kind),
			zap.Stringer("phase", state.LastError.Phase),
			zap.Int("bytes_sent", state.BytesSent),
			zap.Error(state.LastError),
		)
		return state, state.LastError
	}

	s.logger.Info("load complete",
		zap.Int("bytes_sent", state.BytesSent),
		zap.Duration("elapsed", time.Since(started)),
	)
	return state, nil
}

// send transmits frames in order. It reports the failure event if a send
// could not be issued.
func (s *Session) send(ctx context.Context, frames []bus.Frame) (Event, bool) {
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return Event{Kind: EventCancel, Err: err}, false
		}
		if err := s.transport.Send(ctx, f); err != nil {
			if ctx.Err() != nil {
				return Event{Kind: EventCancel, Err: ctx.Err()}, false
			}
			return Event{Kind: EventTransportFailed, Err: err}, false
		}
	}
	return Event{}, true
}

// classify turns the outcome of a receive into an event.
func (s *Session) classify(ctx context.Context, f bus.Frame, err error) Event {
	switch {
	case err == nil:
		return Event{Kind: EventResponse, Frame: f}
	case ctx.Err() != nil:
		return Event{Kind: EventCancel, Err: ctx.Err()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Event{Kind: EventCancel, Err: err}
	case bus.IsTimeout(err):
		return Event{Kind: EventTimeout, Err: err}
	default:
		return Event{Kind: EventTransportFailed, Err: err}
	}
}

// step applies one transition, logs it and reports progress.
func (s *Session) step(prev State, ev Event, started time.Time) (State, Effect) {
	next, eff := s.machine.Transition(prev, ev)

	if eff.Retry {
		s.logger.Warn("retrying",
			zap.Stringer("phase", next.Phase),
			zap.Stringer("event", ev.Kind),
			zap.Int("attempt", next.Attempts),
			zap.Int("retries_remaining", next.RetriesRemaining),
		)
	} else if eff.KeepDeadline {
		s.logger.Debug("ignoring duplicate response",
			zap.Stringer("phase", next.Phase),
			zap.Stringer("frame", ev.Frame),
		)
	} else {
		s.logger.Debug("transition",
			zap.Stringer("from", prev.Phase),
			zap.Stringer("to", next.Phase),
			zap.Stringer("event", ev.Kind),
			zap.Int("bytes_sent", next.BytesSent),
		)
	}

	if s.cfg.OnProgress != nil {
		s.cfg.OnProgress(Progress{
			Phase:       next.Phase,
			BytesSent:   next.BytesSent,
			TotalBytes:  s.machine.Length(),
			BlocksSent:  next.BlocksSent,
			TotalBlocks: s.machine.Blocks(),
			Attempt:     next.Attempts,
			Elapsed:     time.Since(started),
		})
	}
	return next, eff
}

// Load is a convenience wrapper: it creates a session and runs it.
func Load(ctx context.Context, transport bus.Transport, cfg Config, img *image.Image) (State, error) {
	s, err := New(transport, cfg, img)
	if err != nil {
		return State{}, err
	}
	return s.Run(ctx)
}
