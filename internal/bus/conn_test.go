package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePort serves queued frames and records written ones.
type fakePort struct {
	mu       sync.Mutex
	incoming []Frame
	written  []Frame
	writeErr error
	readErr  error
	closed   bool
}

func (p *fakePort) WriteFrame(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return p.writeErr
	}
	p.written = append(p.written, f)
	return nil
}

func (p *fakePort) ReadFrame(timeout time.Duration) (Frame, error) {
	p.mu.Lock()
	if p.readErr != nil {
		p.mu.Unlock()
		return Frame{}, p.readErr
	}
	if len(p.incoming) > 0 {
		f := p.incoming[0]
		p.incoming = p.incoming[1:]
		p.mu.Unlock()
		return f, nil
	}
	p.mu.Unlock()
	time.Sleep(timeout)
	return Frame{}, ErrTimeout
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestConnSend(t *testing.T) {
	port := &fakePort{}
	conn := NewConn(port, nil)

	f := NewFrame(0x011, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err := conn.Send(context.Background(), f); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(port.written) != 1 || !port.written[0].Equal(f) {
		t.Errorf("written = %v, want [%s]", port.written, f)
	}
}

func TestConnSendErrors(t *testing.T) {
	t.Run("adapter rejects frame", func(t *testing.T) {
		conn := NewConn(&fakePort{writeErr: errors.New("bus-off")}, nil)
		err := conn.Send(context.Background(), NewFrame(0x011, nil))
		if !IsTransportError(err) {
			t.Errorf("Send() error = %v, want TransportError", err)
		}
	})

	t.Run("invalid frame", func(t *testing.T) {
		conn := NewConn(&fakePort{}, nil)
		err := conn.Send(context.Background(), Frame{ID: 0x800})
		if !IsTransportError(err) {
			t.Errorf("Send() error = %v, want TransportError", err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		port := &fakePort{}
		conn := NewConn(port, nil)
		_ = conn.Close()
		err := conn.Send(context.Background(), NewFrame(0x011, nil))
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Send() error = %v, want ErrClosed", err)
		}
		if !port.closed {
			t.Error("Close() should close the port")
		}
	})
}

func TestConnReceiveDiscardsUnrelated(t *testing.T) {
	want := NewFrame(0x001, []byte{0xAA})
	port := &fakePort{incoming: []Frame{
		NewFrame(0x123, []byte{1}),
		NewFrame(0x002, []byte{2}),
		want,
		NewFrame(0x001, []byte{0xBB}),
	}}
	conn := NewConn(port, nil)

	got, err := conn.Receive(context.Background(), 0x001, time.Second)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Receive() = %s, want %s", got, want)
	}

	// Discarded frames are not buffered; the next matching frame is the one queued after.
	got, err = conn.Receive(context.Background(), 0x001, time.Second)
	if err != nil {
		t.Fatalf("second Receive() error = %v", err)
	}
	if got.Data[0] != 0xBB {
		t.Errorf("second Receive() = %s, want payload BB", got)
	}
}

func TestConnReceiveTimeout(t *testing.T) {
	port := &fakePort{incoming: []Frame{NewFrame(0x123, nil)}}
	conn := NewConn(port, nil)
	conn.SetPollInterval(5 * time.Millisecond)

	start := time.Now()
	_, err := conn.Receive(context.Background(), 0x001, 30*time.Millisecond)
	elapsed := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("Receive() error = %v, want timeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error should be *TimeoutError, got %T", err)
	}
	if te.Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", te.Discarded)
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("Receive returned after %s, before the timeout", elapsed)
	}
}

func TestConnReceiveCancelled(t *testing.T) {
	conn := NewConn(&fakePort{}, nil)
	conn.SetPollInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := conn.Receive(ctx, 0x001, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Receive() error = %v, want context.Canceled", err)
	}
}

func TestConnReceiveAdapterFailure(t *testing.T) {
	conn := NewConn(&fakePort{readErr: errors.New("device unplugged")}, nil)
	_, err := conn.Receive(context.Background(), 0x001, time.Second)
	if !IsTransportError(err) {
		t.Errorf("Receive() error = %v, want TransportError", err)
	}
}

func TestConnClaim(t *testing.T) {
	conn := NewConn(&fakePort{}, nil)

	if err := conn.Claim(); err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}
	if err := conn.Claim(); !errors.Is(err, ErrBusy) {
		t.Errorf("second Claim() error = %v, want ErrBusy", err)
	}
	conn.Release()
	if err := conn.Claim(); err != nil {
		t.Errorf("Claim() after Release() error = %v", err)
	}
}
