package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

const (
	containerJobDir    = "/job"
	containerOutputDir = "/out"

	defaultImage     = "askdb/chart-runner:latest"
	defaultMemoryMB  = 512
	defaultPidsLimit = 128
	defaultNanoCPUs  = 1_000_000_000

	cleanupTimeout = 10 * time.Second
)

// dockerAPI is the slice of the engine API the runner needs.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error)
	ContainerStart(ctx context.Context, id string) error
	ContainerWait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, id string) error
	Close() error
}

type engineClient struct {
	cli *client.Client
}

func (e engineClient) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e engineClient) ContainerStart(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (e engineClient) ContainerWait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error) {
	return e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
}

func (e engineClient) ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	return e.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
}

func (e engineClient) ContainerRemove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e engineClient) Close() error {
	return e.cli.Close()
}

type DockerConfig struct {
	// Host overrides DOCKER_HOST when set.
	Host      string
	Image     string
	MemoryMB  int64
	PidsLimit int64
	NanoCPUs  int64
}

// DockerRunner runs each job in a throwaway container with no network, a
// read-only root filesystem and dropped capabilities. The job directory is
// mounted read-only; only the output directory is writable.
type DockerRunner struct {
	api    dockerAPI
	cfg    DockerConfig
	logger *slog.Logger
}

func NewDockerRunner(cfg DockerConfig, logger *slog.Logger) (*DockerRunner, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerRunner(engineClient{cli: cli}, cfg, logger), nil
}

func newDockerRunner(api dockerAPI, cfg DockerConfig, logger *slog.Logger) *DockerRunner {
	if cfg.Image == "" {
		cfg.Image = defaultImage
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = defaultPidsLimit
	}
	if cfg.NanoCPUs <= 0 {
		cfg.NanoCPUs = defaultNanoCPUs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerRunner{api: api, cfg: cfg, logger: logger}
}

func (r *DockerRunner) Close() error {
	return r.api.Close()
}

func (r *DockerRunner) Run(ctx context.Context, job Job) (Output, error) {
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

	cfg := &container.Config{
		Image:      r.cfg.Image,
		Cmd:        []string{"python", "-I", containerJobDir + "/" + scriptName},
		WorkingDir: containerJobDir,
		Env: []string{
			"OUTPUT_PATH=" + containerOutputDir + "/" + job.FileName,
			"DATA_PATH=" + containerJobDir + "/" + dataName,
			"MPLBACKEND=Agg",
			"MPLCONFIGDIR=/tmp",
			"HOME=/tmp",
		},
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,size=64m,mode=1777"},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: jobDir, Target: containerJobDir, ReadOnly: true},
			{Type: mount.TypeBind, Source: outputDir, Target: containerOutputDir},
		},
	}
	hostCfg.Memory = r.cfg.MemoryMB * 1024 * 1024
	hostCfg.NanoCPUs = r.cfg.NanoCPUs
	pids := r.cfg.PidsLimit
	hostCfg.PidsLimit = &pids

	name := "askdb-chart-" + uuid.NewString()
	started := time.Now()
	id, err := r.api.ContainerCreate(runCtx, cfg, hostCfg, name)
	if err != nil {
		return Output{}, fmt.Errorf("create container: %w", err)
	}
	defer r.remove(id)

	if err := r.api.ContainerStart(runCtx, id); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Output{TimedOut: true, ExitCode: -1, Duration: time.Since(started)}, nil
		}
		return Output{}, fmt.Errorf("start container: %w", err)
	}

	out := Output{ExitCode: -1}
	statusCh, errCh := r.api.ContainerWait(runCtx, id)
	select {
	case status := <-statusCh:
		out.ExitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			out.Stderr = status.Error.Message
		}
	case err := <-errCh:
		if runCtx.Err() == nil {
			return Output{}, fmt.Errorf("wait container: %w", err)
		}
		out.TimedOut = true
	case <-runCtx.Done():
		out.TimedOut = true
	}
	if out.TimedOut && ctx.Err() != nil {
		return Output{}, ctx.Err()
	}
	out.Duration = time.Since(started)

	stdout, stderr, err := r.logs(id)
	if err != nil {
		r.logger.Warn("collect container logs failed", "container", name, "error", err)
	}
	out.Stdout = stdout
	if stderr != "" {
		out.Stderr = stderr
	}
	return out, nil
}

func (r *DockerRunner) logs(id string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	reader, err := r.api.ContainerLogs(ctx, id)
	if err != nil {
		return "", "", err
	}
	defer reader.Close()

	var stdout, stderr cappedBuffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return stdout.String(), stderr.String(), err
	}
	return stdout.String(), stderr.String(), nil
}

func (r *DockerRunner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := r.api.ContainerRemove(ctx, id); err != nil {
		r.logger.Warn("remove chart container failed", "container_id", id, "error", err)
	}
}
