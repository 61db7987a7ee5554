package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/muurk/bamload/internal/protocol"
	"github.com/muurk/bamload/internal/session"
)

// Load steps, in display order
const (
	StepSync = iota + 1
	StepAuthenticate
	StepHeader
	StepTransfer
	StepVerify
	StepExecute
)

// LoadStepNames are the labels of the load steps
var LoadStepNames = []string{
	"Synchronise with device",
	"Authenticate",
	"Send address and size",
	"Transfer image",
	"Verify checksum",
	"Start execution",
}

// LoadRunnerConfig holds configuration for a load
type LoadRunnerConfig struct {
	Title   string  // e.g., "RAM image load"
	Command string  // Command line shown in the header
	Params  []Param // Parameters shown in the header
	Details []Param // Extra lines for the success box
	Profile protocol.Profile
	Execute bool      // Whether the execute frame will be sent
	Quiet   bool      // Print nothing
	Live    bool      // Redraw the running step in place (terminals only)
	Output  io.Writer // Output writer (default: os.Stdout)
}

// LoadOperation runs the session, reporting through onProgress.
type LoadOperation func(ctx context.Context, onProgress session.ProgressCallback) (session.State, error)

// LoadRunner orchestrates the UI for one image load. It manages the
// header → steps → result flow and turns session progress into step updates.
type LoadRunner struct {
	config   LoadRunnerConfig
	header   *Header
	progress *Progress
	output   io.Writer
	width    int
	last     session.Progress
	started  time.Time
}

// NewLoadRunner creates a runner for a load
func NewLoadRunner(config LoadRunnerConfig) *LoadRunner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Quiet {
		config.Output = io.Discard
		config.Live = false
	}

	width := GetTerminalWidth()

	header := NewHeader(config.Title, config.Command, config.Params...)
	header.SetWidth(width)

	progress := NewProgress("", len(LoadStepNames))
	progress.SetWidth(width)
	progress.SetStepNames(LoadStepNames)

	if !config.Profile.SyncProbe {
		progress.UpdateStep(StepSync, StepSkipped, "not used by "+config.Profile.Name)
	}
	if !config.Profile.FinalStatus {
		progress.UpdateStep(StepVerify, StepSkipped, "not used by "+config.Profile.Name)
	}
	if config.Profile.Execute && !config.Execute {
		progress.UpdateStep(StepExecute, StepSkipped, "disabled")
	}

	return &LoadRunner{
		config:   config,
		header:   header,
		progress: progress,
		output:   config.Output,
		width:    width,
	}
}

// Progress returns the step tracker
func (r *LoadRunner) Progress() *Progress {
	return r.progress
}

// Run prints the header, runs op and prints the result.
func (r *LoadRunner) Run(ctx context.Context, op LoadOperation) (session.State, error) {
	r.started = time.Now()

	_, _ = fmt.Fprintln(r.output, r.header.Render())
	_, _ = fmt.Fprintln(r.output)

	state, err := op(ctx, r.OnProgress)
	duration := time.Since(r.started)

	_, _ = fmt.Fprintln(r.output)
	if err != nil {
		r.printFailure(err)
	} else {
		r.printSuccess(state, duration)
	}
	return state, err
}

// OnProgress maps a session progress report onto the step list.
func (r *LoadRunner) OnProgress(p session.Progress) {
	r.last = p
	r.progress.SetTransfer(p.BytesSent, p.TotalBytes)

	switch p.Phase {
	case session.PhaseDone:
		r.completeThrough(StepVerify)
		if step := r.progress.Step(StepExecute); step.Status == StepPending {
			msg := "sent"
			if !r.config.Profile.Execute {
				msg = "automatic"
			}
			r.complete(StepExecute, msg)
		}
		return
	case session.PhaseFailed:
		if r.progress.Current > 0 {
			r.progress.FailStep(r.progress.Current, r.stepMessage(r.progress.Current, p))
			r.printStep(r.progress.Current)
		}
		return
	}

	n := phaseStep(p.Phase)
	if n == 0 || r.progress.Step(n).Status == StepSkipped {
		return
	}
	r.completeThrough(n - 1)
	r.progress.StartStep(n, r.stepMessage(n, p))
	if r.config.Live {
		r.printRunning(n)
	}
}

// completeThrough marks every pending or running step up to n complete.
func (r *LoadRunner) completeThrough(n int) {
	for i := 1; i <= n; i++ {
		switch r.progress.Step(i).Status {
		case StepPending, StepRunning:
			msg := ""
			if i == StepTransfer {
				msg = fmt.Sprintf("%d bytes", r.last.TotalBytes)
			}
			r.complete(i, msg)
		}
	}
}

func (r *LoadRunner) complete(n int, msg string) {
	r.progress.CompleteStep(n, msg)
	r.printStep(n)
}

func (r *LoadRunner) stepMessage(n int, p session.Progress) string {
	msg := ""
	if n == StepTransfer && p.TotalBlocks > 0 {
		msg = fmt.Sprintf("block %d/%d", p.BlocksSent, p.TotalBlocks)
	}
	if p.Attempt > 1 {
		if msg != "" {
			msg += ", "
		}
		msg += fmt.Sprintf("attempt %d", p.Attempt)
	}
	return msg
}

func (r *LoadRunner) printStep(n int) {
	line := r.progress.renderStepLine(*r.progress.Step(n))
	if r.config.Live {
		// Clear whatever the live line left behind.
		_, _ = fmt.Fprint(r.output, "\r\033[K")
	}
	_, _ = fmt.Fprintln(r.output, line)
}

func (r *LoadRunner) printRunning(n int) {
	line := r.progress.renderStepLine(*r.progress.Step(n))
	if n == StepTransfer {
		line = r.progress.renderProgressBar()
	}
	_, _ = fmt.Fprint(r.output, "\r\033[K"+line)
}

func (r *LoadRunner) printSuccess(state session.State, duration time.Duration) {
	details := []Param{
		{Key: "Bytes", Value: fmt.Sprintf("%d", state.BytesSent)},
		{Key: "Blocks", Value: fmt.Sprintf("%d", state.BlocksSent)},
	}
	details = append(details, r.config.Details...)
	details = append(details, Param{Key: "Duration", Value: duration.Round(time.Millisecond).String()})

	result := NewSuccessResult(r.config.Title+" complete", details)
	result.SetWidth(r.width)
	_ = RenderOnce(r.output, result.Render())
}

func (r *LoadRunner) printFailure(err error) {
	summary, tips := SplitHint(session.TroubleshootingHint(err))

	result := NewFailureResult(session.ShortMessage(err), err, tips)
	result.Summary = summary
	result.SetWidth(r.width)
	if r.last.TotalBytes > 0 {
		result.AddDetail("Sent", fmt.Sprintf("%d of %d bytes", r.last.BytesSent, r.last.TotalBytes))
	}
	result.AddDetail("Exit code", fmt.Sprintf("%d", session.ExitCode(err)))
	_ = RenderOnce(r.output, result.Render())
}

func phaseStep(p session.Phase) int {
	switch p {
	case session.PhaseSyncing:
		return StepSync
	case session.PhaseAuthenticating:
		return StepAuthenticate
	case session.PhaseSendingHeader:
		return StepHeader
	case session.PhaseSendingData:
		return StepTransfer
	case session.PhaseAwaitingFinalChecksum:
		return StepVerify
	default:
		return 0
	}
}
