package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
)

type fakeDocker struct {
	mu       sync.Mutex
	cfg      *container.Config
	hostCfg  *container.HostConfig
	status   *container.WaitResponse
	stdout   string
	stderr   string
	removed  []string
	startErr error
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.hostCfg = hostCfg
	return "cid-" + name, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string) error {
	return f.startErr
}

func (f *fakeDocker) ContainerWait(ctx context.Context, _ string) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.status != nil {
		statusCh <- *f.status
		return statusCh, errCh
	}
	go func() {
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return statusCh, errCh
}

func (f *fakeDocker) ContainerLogs(context.Context, string) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func testJob(t *testing.T) Job {
	t.Helper()
	return Job{
		Code:      "print('ok')",
		Data:      []byte(`[{"a":1}]`),
		OutputDir: t.TempDir(),
		FileName:  "plot_20260101_x.png",
		Timeout:   time.Second,
	}
}

func TestDockerRunnerAppliesIsolation(t *testing.T) {
	fake := &fakeDocker{status: &container.WaitResponse{StatusCode: 0}, stdout: "done\n"}
	runner := newDockerRunner(fake, DockerConfig{Image: "charts:test", MemoryMB: 256}, nil)

	job := testJob(t)
	out, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Succeeded() || out.Stdout != "done\n" {
		t.Fatalf("unexpected output %+v", out)
	}

	host := fake.hostCfg
	if host.NetworkMode != "none" || !host.ReadonlyRootfs {
		t.Fatalf("network/rootfs not locked down: %+v", host)
	}
	if len(host.CapDrop) != 1 || host.CapDrop[0] != "ALL" {
		t.Fatalf("cap drop = %v", host.CapDrop)
	}
	if len(host.SecurityOpt) != 1 || host.SecurityOpt[0] != "no-new-privileges" {
		t.Fatalf("security opts = %v", host.SecurityOpt)
	}
	if host.Memory != 256*1024*1024 || host.PidsLimit == nil || *host.PidsLimit != defaultPidsLimit || host.NanoCPUs != defaultNanoCPUs {
		t.Fatalf("resource limits not applied: memory=%d nanocpus=%d", host.Memory, host.NanoCPUs)
	}
	if len(host.Mounts) != 2 {
		t.Fatalf("mounts = %+v", host.Mounts)
	}
	for _, m := range host.Mounts {
		if m.Type != mount.TypeBind {
			t.Fatalf("mount type = %q", m.Type)
		}
		switch m.Target {
		case containerJobDir:
			if !m.ReadOnly {
				t.Fatal("job dir must be mounted read-only")
			}
		case containerOutputDir:
			if m.ReadOnly || m.Source == "" {
				t.Fatalf("output mount = %+v", m)
			}
		default:
			t.Fatalf("unexpected mount target %q", m.Target)
		}
	}
	if fake.cfg.Image != "charts:test" {
		t.Fatalf("image = %q", fake.cfg.Image)
	}
	if !containsEnv(fake.cfg.Env, "OUTPUT_PATH=/out/"+job.FileName) || !containsEnv(fake.cfg.Env, "DATA_PATH=/job/data.json") {
		t.Fatalf("env = %v", fake.cfg.Env)
	}
	if len(fake.removed) != 1 {
		t.Fatalf("container not removed: %v", fake.removed)
	}
}

func TestDockerRunnerReportsFailureExitCode(t *testing.T) {
	fake := &fakeDocker{
		status: &container.WaitResponse{StatusCode: 1},
		stderr: "Traceback (most recent call last):\nNameError: name 'plt' is not defined\n",
	}
	out, err := newDockerRunner(fake, DockerConfig{}, nil).Run(context.Background(), testJob(t))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Succeeded() || out.ExitCode != 1 {
		t.Fatalf("unexpected output %+v", out)
	}
	if !strings.Contains(out.Stderr, "NameError") {
		t.Fatalf("stderr = %q", out.Stderr)
	}
}

func TestDockerRunnerTimesOutAndRemovesContainer(t *testing.T) {
	fake := &fakeDocker{}
	job := testJob(t)
	job.Timeout = 50 * time.Millisecond

	out, err := newDockerRunner(fake, DockerConfig{}, nil).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.TimedOut || out.Succeeded() {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if len(fake.removed) != 1 {
		t.Fatalf("container not removed after timeout: %v", fake.removed)
	}
}

func TestDockerRunnerStartFailure(t *testing.T) {
	fake := &fakeDocker{startErr: errors.New("no such image")}
	if _, err := newDockerRunner(fake, DockerConfig{}, nil).Run(context.Background(), testJob(t)); err == nil {
		t.Fatal("expected start error")
	}
	if len(fake.removed) != 1 {
		t.Fatalf("container not removed after start failure: %v", fake.removed)
	}
}

func TestRunRejectsInvalidFileName(t *testing.T) {
	job := testJob(t)
	job.FileName = "../escape.png"
	if _, err := newDockerRunner(&fakeDocker{}, DockerConfig{}, nil).Run(context.Background(), job); err == nil {
		t.Fatal("expected invalid file name error")
	}
}

func containsEnv(env []string, want string) bool {
	for _, item := range env {
		if item == want {
			return true
		}
	}
	return false
}
