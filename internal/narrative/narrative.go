// Package narrative implements the Narrative Pipeline Adapter (spec §4.11/
// C12): a thin file-in/file-out bridge to an external artifact chain that
// turns a finalized session's transcripts into narrative artifacts. The
// coupling is deliberately file-based only (spec §9 decision 3) — this
// package never imports internal/session types.
package narrative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/oraculovoz/oraculo/internal/observe"
)

// ExitClass names the exit-code taxonomy in spec §6.
type ExitClass string

const (
	ExitSuccess           ExitClass = "success"
	ExitUsage             ExitClass = "usage"
	ExitConfiguration     ExitClass = "configuration"
	ExitValidation        ExitClass = "validation"
	ExitCapabilityFailure ExitClass = "external_capability_failure"
	ExitInternal          ExitClass = "internal"
)

func classify(code int) ExitClass {
	switch code {
	case 0:
		return ExitSuccess
	case 1:
		return ExitUsage
	case 2:
		return ExitConfiguration
	case 3:
		return ExitValidation
	case 4:
		return ExitCapabilityFailure
	default:
		return ExitInternal
	}
}

// Result summarizes one invocation of the external narrative pipeline.
type Result struct {
	ExitCode  int
	Class     ExitClass
	Stdout    string
	Stderr    string
	OutputDir string
}

// Adapter invokes a configured external command against a session's
// consolidated transcript text, per spec §4.1's process/ directory layout.
type Adapter struct {
	command string
	args    []string
}

// New constructs an Adapter. command is the external artifact-chain
// executable; args are passed through unchanged ahead of the adapter's own
// positional input/output arguments.
func New(command string, args ...string) *Adapter {
	return &Adapter{command: command, args: args}
}

// Run writes consolidatedTranscript to processDir/input.txt, invokes the
// configured command with processDir/input.txt and processDir/output as
// its final two arguments, and classifies the exit code per spec §6.
// A non-zero exit code never makes Run return a Go error for
// ExitValidation/ExitCapabilityFailure/ExitUsage/ExitConfiguration — those
// are expected, reportable outcomes the caller surfaces to the user. Only
// a failure to invoke the process at all (missing binary, context
// cancellation) returns a Go error.
func (a *Adapter) Run(ctx context.Context, processDir, consolidatedTranscript string) (Result, error) {
	if err := os.MkdirAll(processDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("narrative: create process dir: %w", err)
	}
	inputPath := filepath.Join(processDir, "input.txt")
	if err := os.WriteFile(inputPath, []byte(consolidatedTranscript), 0o644); err != nil {
		return Result{}, fmt.Errorf("narrative: write input: %w", err)
	}
	outputDir := filepath.Join(processDir, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("narrative: create output dir: %w", err)
	}

	args := append(append([]string{}, a.args...), inputPath, outputDir)
	cmd := exec.CommandContext(ctx, a.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	observe.DefaultMetrics().NarrativeDuration.Record(ctx, time.Since(start).Seconds())
	exitCode, err := exitCodeFrom(runErr)
	if err != nil {
		observe.DefaultMetrics().RecordProviderError(ctx, "narrative", "run")
		return Result{}, fmt.Errorf("narrative: invoke %q: %w", a.command, err)
	}

	return Result{
		ExitCode:  exitCode,
		Class:     classify(exitCode),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		OutputDir: outputDir,
	}, nil
}

// exitCodeFrom extracts a process exit code from cmd.Run's error, or
// returns the error itself when the process never started at all (e.g. the
// binary doesn't exist).
func exitCodeFrom(runErr error) (int, error) {
	if runErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, runErr
}
