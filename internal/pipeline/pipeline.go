package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/answer"
	"github.com/askdb/askdb/internal/chart"
	"github.com/askdb/askdb/internal/gate"
	"github.com/askdb/askdb/internal/memory"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
)

const visualizationSaved = "Visualization has been generated and saved at %s."

var (
	ErrQuestionRequired = errors.New("question is required")
	// ErrTimeout reports that the end-to-end deadline passed before an
	// answer was produced.
	ErrTimeout = errors.New("pipeline deadline exceeded")
)

type Request struct {
	SessionID string
	Question  string
	// ChatHistory is caller-supplied context placed before the stored
	// turns. It is not persisted.
	ChatHistory []memory.Turn
}

type Response struct {
	Answer  string          `json:"answer"`
	SQL     string          `json:"sql,omitempty"`
	Refused bool            `json:"refused"`
	Reason  gate.ReasonCode `json:"reason,omitempty"`
	Chart   *chart.Artifact `json:"chart,omitempty"`
}

type SQLGenerator interface {
	Generate(ctx context.Context, in nl2sql.GenerateInput) (string, error)
}

type SafetyGate interface {
	Check(ctx context.Context, candidate string, snapshot schema.Snapshot) (gate.Decision, error)
}

type IntentClassifier interface {
	Wants(ctx context.Context, question string) bool
}

type ChartRenderer interface {
	Render(ctx context.Context, in chart.RenderInput) chart.Artifact
}

type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, in answer.Input) (string, error)
	Remember(ctx context.Context, sessionID, question, answer string) error
}

type Config struct {
	// Timeout bounds one invocation after the session lock is held.
	Timeout      time.Duration
	ChartType    chart.Type
	ChartLibrary string
}

// Chain answers one question at a time per session. A nil Charts or
// Intent disables the visualization branch.
type Chain struct {
	Schema      schema.Accessor
	Generator   SQLGenerator
	Gate        SafetyGate
	Executor    query.Executor
	Intent      IntentClassifier
	Charts      ChartRenderer
	Synthesizer AnswerSynthesizer
	Memory      memory.Store
	Locker      memory.SessionLocker
	Config      Config
	Logger      *slog.Logger

	defaultsOnce sync.Once
}

func (c *Chain) ensureDefaults() {
	if c.Locker == nil {
		c.Locker = memory.NewLocker()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Config.Timeout <= 0 {
		c.Config.Timeout = 2 * time.Minute
	}
}

func (c *Chain) Invoke(ctx context.Context, req Request) (Response, error) {
	c.defaultsOnce.Do(c.ensureDefaults)

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return Response{}, ErrQuestionRequired
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return Response{}, memory.ErrSessionRequired
	}

	resp, outcome, err := c.invoke(ctx, req)
	observability.ObservePipelineInvocation(outcome)
	if err != nil {
		c.Logger.WarnContext(ctx, "pipeline invocation failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("session_id", req.SessionID),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		return Response{}, err
	}
	return resp, nil
}

func (c *Chain) invoke(parent context.Context, req Request) (Response, string, error) {
	unlock, err := c.Locker.Lock(parent, req.SessionID)
	if err != nil {
		return Response{}, "cancelled", fmt.Errorf("wait for session: %w", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(parent, c.Config.Timeout)
	defer cancel()

	fail := func(outcome string, err error) (Response, string, error) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return Response{}, "timeout", fmt.Errorf("%w after %s: %v", ErrTimeout, c.Config.Timeout, err)
		}
		return Response{}, outcome, err
	}

	done := c.track(ctx, req.SessionID, "schema")
	snapshot, err := c.Schema.Snapshot(ctx)
	done()
	if err != nil {
		return fail("error", fmt.Errorf("load schema: %w", err))
	}

	stored, err := c.Memory.Turns(ctx, req.SessionID)
	if err != nil {
		return fail("error", fmt.Errorf("load history: %w", err))
	}
	history := make([]memory.Turn, 0, len(req.ChatHistory)+len(stored))
	history = append(history, req.ChatHistory...)
	history = append(history, stored...)

	done = c.track(ctx, req.SessionID, "generate")
	candidate, err := c.Generator.Generate(ctx, nl2sql.GenerateInput{
		Question: req.Question,
		Schema:   snapshot,
		History:  history,
	})
	done()
	if err != nil {
		return fail("generation_failed", fmt.Errorf("generate sql: %w", err))
	}

	done = c.track(ctx, req.SessionID, "gate")
	decision, err := c.Gate.Check(ctx, candidate, snapshot)
	done()
	if errors.Is(err, gate.ErrEmptyQuery) {
		return fail("empty_query", err)
	}
	if err != nil {
		return fail("generation_failed", fmt.Errorf("check sql: %w", err))
	}

	if !decision.Approved {
		if err := c.Synthesizer.Remember(ctx, req.SessionID, req.Question, decision.Refusal); err != nil {
			return fail("error", err)
		}
		return Response{Answer: decision.Refusal, Refused: true, Reason: decision.Reason}, "refused", nil
	}

	wantsChart := false
	if c.Charts != nil && c.Intent != nil {
		done = c.track(ctx, req.SessionID, "intent")
		wantsChart = c.Intent.Wants(ctx, req.Question)
		done()
	}

	done = c.track(ctx, req.SessionID, "execute")
	result := c.Executor.Execute(ctx, decision.Query)
	done()
	if ctx.Err() != nil {
		return fail("error", fmt.Errorf("execute sql: %w", ctx.Err()))
	}

	outcome := "answered"
	sqlResponse := result.Format()
	var artifact *chart.Artifact
	if wantsChart {
		done = c.track(ctx, req.SessionID, "chart")
		rendered := c.Charts.Render(ctx, chart.RenderInput{
			Question:  req.Question,
			SQL:       decision.Query,
			Result:    result,
			ChartType: chart.DetectType(req.Question, c.Config.ChartType),
			Library:   c.Config.ChartLibrary,
		})
		done()
		artifact = &rendered
		sqlResponse = chartResponse(rendered, result)
		outcome = "chart"
		if rendered.Failed() {
			outcome = "chart_failed"
		}
	}

	done = c.track(ctx, req.SessionID, "synthesize")
	text, err := c.Synthesizer.Synthesize(ctx, answer.Input{
		Schema:   snapshot,
		Question: req.Question,
		SQL:      decision.Query,
		Response: sqlResponse,
	})
	done()
	if err != nil {
		return fail("generation_failed", fmt.Errorf("synthesize answer: %w", err))
	}
	if artifact != nil && !artifact.Failed() && !strings.Contains(text, artifact.FileName) {
		text = strings.TrimSpace(text) + " " + fmt.Sprintf(visualizationSaved, artifact.FilePath)
	}

	if err := c.Synthesizer.Remember(ctx, req.SessionID, req.Question, text); err != nil {
		return fail("error", err)
	}
	return Response{Answer: text, SQL: decision.Query, Reason: decision.Reason, Chart: artifact}, outcome, nil
}

// chartResponse is what the synthesizer sees on the visualization branch.
func chartResponse(artifact chart.Artifact, result query.Result) string {
	if artifact.Failed() {
		if result.Failed() {
			return result.Error
		}
		return "Visualization could not be generated. " + artifact.Error + "\nQuery result: " + result.Format()
	}
	return fmt.Sprintf(visualizationSaved, artifact.FilePath) + "\nQuery result: " + result.Format()
}

func (c *Chain) track(ctx context.Context, sessionID, stage string) func() {
	started := time.Now()
	return func() {
		elapsed := time.Since(started)
		observability.ObserveStage(stage, elapsed)
		c.Logger.DebugContext(ctx, "pipeline stage finished",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("session_id", sessionID),
			slog.String("stage", stage),
			slog.Int64("elapsed_ms", elapsed.Milliseconds()),
		)
	}
}

func (c *Chain) History(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	c.defaultsOnce.Do(c.ensureDefaults)
	return c.Memory.Turns(ctx, sessionID)
}

// Reset clears a session once any in-flight invocation for it finishes.
func (c *Chain) Reset(ctx context.Context, sessionID string) error {
	c.defaultsOnce.Do(c.ensureDefaults)
	if strings.TrimSpace(sessionID) == "" {
		return memory.ErrSessionRequired
	}
	unlock, err := c.Locker.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("wait for session: %w", err)
	}
	defer unlock()
	return c.Memory.Reset(ctx, sessionID)
}

func (c *Chain) SchemaSnapshot(ctx context.Context) (schema.Snapshot, error) {
	return c.Schema.Snapshot(ctx)
}
