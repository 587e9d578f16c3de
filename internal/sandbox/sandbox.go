package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	scriptName = "main.py"
	dataName   = "data.json"

	maxCapturedOutput = 64 << 10
)

// Job is one execution of untrusted plotting code. The code must write
// its artifact to the path in OUTPUT_PATH; the row data is readable at
// DATA_PATH.
type Job struct {
	Code      string
	Data      []byte
	OutputDir string
	FileName  string
	Timeout   time.Duration
}

type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

func (o Output) Succeeded() bool {
	return !o.TimedOut && o.ExitCode == 0
}

// Runner executes a Job. Errors are infrastructure failures; a script that
// fails reports through Output.
type Runner interface {
	Run(ctx context.Context, job Job) (Output, error)
}

func (j Job) validate() error {
	if j.Code == "" {
		return fmt.Errorf("code is required")
	}
	if j.OutputDir == "" {
		return fmt.Errorf("output dir is required")
	}
	if j.FileName == "" || filepath.Base(j.FileName) != j.FileName {
		return fmt.Errorf("invalid output file name %q", j.FileName)
	}
	return nil
}

// prepare writes the script and data into a fresh job directory and makes
// sure the output directory exists. Both returned paths are absolute.
func prepare(job Job) (jobDir, outputDir string, cleanup func(), err error) {
	if err := job.validate(); err != nil {
		return "", "", nil, err
	}
	outputDir, err = filepath.Abs(job.OutputDir)
	if err != nil {
		return "", "", nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", "", nil, fmt.Errorf("create output dir: %w", err)
	}

	jobDir, err = os.MkdirTemp("", "askdb-chart-")
	if err != nil {
		return "", "", nil, fmt.Errorf("create job dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(jobDir) }

	if err := os.WriteFile(filepath.Join(jobDir, scriptName), []byte(job.Code), 0o644); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("write script: %w", err)
	}
	data := job.Data
	if data == nil {
		data = []byte("[]")
	}
	if err := os.WriteFile(filepath.Join(jobDir, dataName), data, 0o644); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("write data: %w", err)
	}
	if err := os.Chmod(jobDir, 0o755); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("chmod job dir: %w", err)
	}
	return jobDir, outputDir, cleanup, nil
}

// cappedBuffer keeps the first maxCapturedOutput bytes and drops the rest.
type cappedBuffer struct {
	buf bytes.Buffer
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxCapturedOutput - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
