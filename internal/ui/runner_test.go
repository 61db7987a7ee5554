package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/muurk/bamload/internal/protocol"
	"github.com/muurk/bamload/internal/session"
)

func monitorRun(fail error) LoadOperation {
	return func(ctx context.Context, onProgress session.ProgressCallback) (session.State, error) {
		reports := []session.Progress{
			{Phase: session.PhaseSyncing, TotalBytes: 16, TotalBlocks: 2, Attempt: 1},
			{Phase: session.PhaseSyncing, TotalBytes: 16, TotalBlocks: 2, Attempt: 2},
			{Phase: session.PhaseAuthenticating, TotalBytes: 16, TotalBlocks: 2, Attempt: 1},
			{Phase: session.PhaseSendingHeader, TotalBytes: 16, TotalBlocks: 2, Attempt: 1},
			{Phase: session.PhaseSendingData, TotalBytes: 16, TotalBlocks: 2, Attempt: 1},
			{Phase: session.PhaseSendingData, BytesSent: 8, BlocksSent: 1, TotalBytes: 16, TotalBlocks: 2, Attempt: 1},
		}
		for _, p := range reports {
			onProgress(p)
		}
		if fail != nil {
			onProgress(session.Progress{Phase: session.PhaseFailed, BytesSent: 8, BlocksSent: 1, TotalBytes: 16, TotalBlocks: 2, Attempt: 4})
			return session.State{Phase: session.PhaseFailed, BytesSent: 8, BlocksSent: 1}, fail
		}
		onProgress(session.Progress{Phase: session.PhaseAwaitingFinalChecksum, BytesSent: 16, BlocksSent: 2, TotalBytes: 16, TotalBlocks: 2, Attempt: 1})
		onProgress(session.Progress{Phase: session.PhaseDone, BytesSent: 16, BlocksSent: 2, TotalBytes: 16, TotalBlocks: 2})
		return session.State{Phase: session.PhaseDone, BytesSent: 16, BlocksSent: 2}, nil
	}
}

func TestLoadRunner_Success(t *testing.T) {
	var out bytes.Buffer
	r := NewLoadRunner(LoadRunnerConfig{
		Title:   "RAM image load",
		Command: "bamload virtual monitor 500000 app.bin",
		Params:  []Param{{Key: "Image", Value: "app.bin"}},
		Details: []Param{{Key: "Checksum", Value: "0x00000078"}},
		Profile: protocol.ProfileMonitor,
		Execute: true,
		Output:  &out,
	})

	state, err := r.Run(context.Background(), monitorRun(nil))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if state.Phase != session.PhaseDone {
		t.Errorf("state.Phase = %v, want Done", state.Phase)
	}

	for i, step := range r.Progress().Steps {
		if step.Status != StepComplete {
			t.Errorf("step %d (%s) = %v, want complete", i+1, step.Name, step.Status)
		}
	}
	if r.Progress().Percent != 1 {
		t.Errorf("Percent = %v, want 1", r.Progress().Percent)
	}

	text := out.String()
	for _, want := range []string{"RAM IMAGE LOAD", "Transfer image", "16 bytes", "SUCCESS", "0x00000078"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "\r") {
		t.Error("non-live output contains carriage returns")
	}
}

func TestLoadRunner_BAMProfileSkipsOptionalSteps(t *testing.T) {
	r := NewLoadRunner(LoadRunnerConfig{Profile: protocol.ProfileBAM, Execute: true, Output: &bytes.Buffer{}})

	p := r.Progress()
	if p.Step(StepSync).Status != StepSkipped || p.Step(StepVerify).Status != StepSkipped {
		t.Fatalf("sync/verify = %v/%v, want skipped", p.Step(StepSync).Status, p.Step(StepVerify).Status)
	}

	r.OnProgress(session.Progress{Phase: session.PhaseSyncing})
	if p.Step(StepSync).Status != StepSkipped {
		t.Errorf("sync step started on a profile without sync")
	}

	r.OnProgress(session.Progress{Phase: session.PhaseDone, BytesSent: 8, TotalBytes: 8})
	if s := p.Step(StepExecute); s.Status != StepComplete || s.Message != "automatic" {
		t.Errorf("execute step = %v %q, want complete automatic", s.Status, s.Message)
	}
}

func TestLoadRunner_NoExecute(t *testing.T) {
	r := NewLoadRunner(LoadRunnerConfig{Profile: protocol.ProfileMonitor, Execute: false, Output: &bytes.Buffer{}})
	r.OnProgress(session.Progress{Phase: session.PhaseDone})
	if s := r.Progress().Step(StepExecute); s.Status != StepSkipped {
		t.Errorf("execute step = %v, want skipped", s.Status)
	}
}

func TestLoadRunner_Failure(t *testing.T) {
	var out bytes.Buffer
	r := NewLoadRunner(LoadRunnerConfig{
		Title:   "RAM image load",
		Profile: protocol.ProfileMonitor,
		Execute: true,
		Output:  &out,
	})

	fail := &session.Error{Kind: session.ErrTransferAborted, Phase: session.PhaseSendingData, BytesSent: 8, Message: "block not acknowledged"}
	_, err := r.Run(context.Background(), monitorRun(fail))
	if err != fail {
		t.Fatalf("Run() error = %v, want %v", err, fail)
	}

	p := r.Progress()
	if s := p.Step(StepTransfer); s.Status != StepFailed {
		t.Errorf("transfer step = %v, want failed", s.Status)
	}
	if s := p.Step(StepHeader); s.Status != StepComplete {
		t.Errorf("header step = %v, want complete", s.Status)
	}
	if s := p.Step(StepVerify); s.Status != StepPending {
		t.Errorf("verify step = %v, want pending", s.Status)
	}

	text := out.String()
	for _, want := range []string{"FAILED", "Troubleshooting:", "8 of 16 bytes", "Exit code:"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestLoadRunner_Quiet(t *testing.T) {
	var out bytes.Buffer
	r := NewLoadRunner(LoadRunnerConfig{Profile: protocol.ProfileMonitor, Execute: true, Quiet: true, Output: &out})
	if _, err := r.Run(context.Background(), monitorRun(nil)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("quiet runner wrote %d bytes", out.Len())
	}
}

func TestLoadRunner_StepMessage(t *testing.T) {
	r := NewLoadRunner(LoadRunnerConfig{Profile: protocol.ProfileMonitor, Output: &bytes.Buffer{}})
	r.OnProgress(session.Progress{Phase: session.PhaseSendingData, BlocksSent: 3, TotalBlocks: 10, Attempt: 2})
	if got := r.Progress().Step(StepTransfer).Message; got != "block 3/10, attempt 2" {
		t.Errorf("message = %q", got)
	}
	if r.Progress().Current != StepTransfer {
		t.Errorf("Current = %d, want %d", r.Progress().Current, StepTransfer)
	}
}
