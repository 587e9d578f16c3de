package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func requirePython(t *testing.T) string {
	t.Helper()
	bin, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	return bin
}

func TestLocalRunnerWritesArtifact(t *testing.T) {
	runner := NewLocalRunner(requirePython(t))
	job := Job{
		Code:      "import os\nimport json\ndata = json.load(open(os.environ['DATA_PATH']))\nwith open(os.environ['OUTPUT_PATH'], 'w') as f:\n    f.write(str(len(data)))\n",
		Data:      []byte(`[{"a":1},{"a":2}]`),
		OutputDir: t.TempDir(),
		FileName:  "out.txt",
		Timeout:   10 * time.Second,
	}
	out, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Succeeded() {
		t.Fatalf("unexpected output %+v", out)
	}
	body, err := os.ReadFile(filepath.Join(job.OutputDir, job.FileName))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(body) != "2" {
		t.Fatalf("artifact = %q", body)
	}
}

func TestLocalRunnerReportsExitCode(t *testing.T) {
	runner := NewLocalRunner(requirePython(t))
	out, err := runner.Run(context.Background(), Job{
		Code:      "raise SystemExit(3)\n",
		OutputDir: t.TempDir(),
		FileName:  "out.png",
		Timeout:   10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.ExitCode != 3 || out.Succeeded() {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestLocalRunnerTimeout(t *testing.T) {
	runner := NewLocalRunner(requirePython(t))
	out, err := runner.Run(context.Background(), Job{
		Code:      "import time\ntime.sleep(10)\n",
		OutputDir: t.TempDir(),
		FileName:  "out.png",
		Timeout:   200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.TimedOut {
		t.Fatalf("expected timeout, got %+v", out)
	}
}
