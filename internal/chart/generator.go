package chart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/sandbox"
	"github.com/askdb/askdb/internal/storage"
)

const EmptyResultMessage = "SQL query result is empty. Visualization cannot be generated."

const (
	defaultLibrary = "matplotlib"
	defaultTimeout = 30 * time.Second
	maxErrorDetail = 500
)

type Config struct {
	OutputDir   string
	Timeout     time.Duration
	Library     string
	DefaultType Type
}

type RenderInput struct {
	Question  string
	SQL       string
	Result    query.Result
	ChartType Type
	Library   string
}

// Artifact is a saved chart, or the reason none was produced.
type Artifact struct {
	FilePath  string `json:"file_path,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	ObjectKey string `json:"object_key,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (a Artifact) Failed() bool {
	return a.Error != ""
}

type Generator struct {
	completer llm.Completer
	runner    sandbox.Runner
	policy    sandbox.Policy
	store     storage.ObjectStore
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Generator)

// WithObjectStore publishes every rendered chart to store.
func WithObjectStore(store storage.ObjectStore) Option {
	return func(g *Generator) { g.store = store }
}

func WithPolicy(policy sandbox.Policy) Option {
	return func(g *Generator) { g.policy = policy }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(completer llm.Completer, runner sandbox.Runner, cfg Config, logger *slog.Logger, opts ...Option) *Generator {
	if cfg.Library == "" {
		cfg.Library = defaultLibrary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DefaultType == "" {
		cfg.DefaultType = TypeBar
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		completer: completer,
		runner:    runner,
		policy:    sandbox.DefaultPolicy(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) DefaultType() Type {
	return g.cfg.DefaultType
}

// Render asks the model for plotting code and runs it in the sandbox.
// Every failure is reported in Artifact.Error.
func (g *Generator) Render(ctx context.Context, in RenderInput) Artifact {
	artifact, outcome := g.render(ctx, in)
	observability.ObserveChartRun(outcome)
	if artifact.Failed() {
		g.logger.WarnContext(ctx, "chart rendering failed", "outcome", outcome, "error", artifact.Error)
	} else {
		g.logger.InfoContext(ctx, "chart rendered", "file_name", artifact.FileName, "object_key", artifact.ObjectKey)
	}
	return artifact
}

func (g *Generator) render(ctx context.Context, in RenderInput) (Artifact, string) {
	if in.Result.Failed() {
		return Artifact{Error: in.Result.Error}, "query_error"
	}
	if len(in.Result.Rows) == 0 {
		return Artifact{Error: EmptyResultMessage}, "empty"
	}

	records := in.Result.Records()
	data, err := json.Marshal(records)
	if err != nil {
		return errorArtifact("encode chart data", err), "encode_error"
	}
	preview := data
	if len(records) > promptRowLimit {
		if preview, err = json.Marshal(records[:promptRowLimit]); err != nil {
			return errorArtifact("encode chart data", err), "encode_error"
		}
	}

	chartType := in.ChartType
	if chartType == "" {
		chartType = DetectType(in.Question, g.cfg.DefaultType)
	}
	library := in.Library
	if library == "" {
		library = g.cfg.Library
	}

	reply, err := g.completer.Complete(ctx, llm.Request{
		Task: llm.TaskChartCode,
		Messages: []llm.Message{
			llm.System(codeSystemPrompt),
			llm.User(buildCodePrompt(in, chartType, library, string(preview), len(records))),
		},
	})
	if err != nil {
		return errorArtifact("generate chart code", err), "generation_error"
	}

	code, err := ExtractCode(reply)
	if err != nil {
		return errorArtifact("parse chart code", err), "unparsable"
	}
	if err := g.policy.Check(code); err != nil {
		return errorArtifact("validate chart code", err), "policy_rejected"
	}

	created := g.now().UTC()
	fileName := NewFileName(created)
	out, err := g.runner.Run(ctx, sandbox.Job{
		Code:      code,
		Data:      data,
		OutputDir: g.cfg.OutputDir,
		FileName:  fileName,
		Timeout:   g.cfg.Timeout,
	})
	switch {
	case err != nil:
		return errorArtifact("run chart code", err), "runner_error"
	case out.TimedOut:
		return Artifact{Error: fmt.Sprintf("An error occurred while executing the generated code: timed out after %s", g.cfg.Timeout)}, "timeout"
	case out.ExitCode != 0:
		return Artifact{Error: "An error occurred while executing the generated code: " + errorDetail(out)}, "runtime_error"
	}

	filePath := filepath.Join(g.cfg.OutputDir, fileName)
	info, err := os.Stat(filePath)
	if err != nil || info.Size() == 0 {
		return Artifact{Error: "An error occurred while executing the generated code: no chart was saved"}, "missing_output"
	}

	artifact := Artifact{FilePath: filePath, FileName: fileName}
	if g.store != nil {
		key, err := g.publish(ctx, filePath, fileName, info.Size(), created)
		if err != nil {
			g.logger.WarnContext(ctx, "publish chart failed", "file_name", fileName, "error", err)
		} else {
			artifact.ObjectKey = key
		}
	}
	return artifact, "ok"
}

func (g *Generator) publish(ctx context.Context, filePath, fileName string, size int64, created time.Time) (string, error) {
	key, err := storage.BuildChartObjectKey(fileName, created)
	if err != nil {
		return "", err
	}
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open chart: %w", err)
	}
	defer file.Close()
	if _, err := g.store.Put(ctx, key, file, size, storage.PutOptions{
		ContentType:  "image/png",
		CacheControl: storage.ImmutableCacheControl,
	}); err != nil {
		return "", fmt.Errorf("put chart %s: %w", key, err)
	}
	return key, nil
}

func errorArtifact(step string, err error) Artifact {
	var policyErr *sandbox.PolicyError
	if errors.As(err, &policyErr) {
		return Artifact{Error: "An error occurred while executing the generated code: " + policyErr.Error()}
	}
	return Artifact{Error: fmt.Sprintf("An error occurred while executing the generated code: %s: %v", step, err)}
}

// errorDetail keeps the last non-empty stderr line, which holds the
// exception for a python traceback.
func errorDetail(out sandbox.Output) string {
	lines := strings.Split(strings.TrimSpace(out.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > maxErrorDetail {
			line = line[:maxErrorDetail]
		}
		return line
	}
	return fmt.Sprintf("exit status %d", out.ExitCode)
}
