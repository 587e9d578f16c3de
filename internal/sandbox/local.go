package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// LocalRunner runs jobs as a host python subprocess with a scrubbed
// environment. It provides no isolation beyond that and exists for
// development.
type LocalRunner struct {
	PythonBin string
}

func NewLocalRunner(pythonBin string) *LocalRunner {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	return &LocalRunner{PythonBin: pythonBin}
}

func (r *LocalRunner) Run(ctx context.Context, job Job) (Output, error) {
	jobDir, outputDir, cleanup, err := prepare(job)
	if err != nil {
		return Output{}, err
	}
	defer cleanup()

	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.PythonBin, "-I", scriptName)
	cmd.Dir = jobDir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + jobDir,
		"OUTPUT_PATH=" + filepath.Join(outputDir, job.FileName),
		"DATA_PATH=" + filepath.Join(jobDir, dataName),
		"MPLBACKEND=Agg",
		"MPLCONFIGDIR=" + filepath.Join(jobDir, ".mpl"),
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr cappedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if runErr == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return Output{}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.ExitCode = -1
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return Output{}, runErr
}
