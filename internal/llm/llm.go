package llm

import (
	"context"
	"errors"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Task labels a completion request by pipeline step.
type Task string

const (
	TaskSQLGeneration       Task = "sql_generation"
	TaskSafetyClassifier    Task = "safety_classification"
	TaskVisualizationIntent Task = "visualization_intent"
	TaskChartCode           Task = "chart_code"
	TaskAnswer              Task = "answer"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

type Request struct {
	Task     Task
	Messages []Message
	Stop     []string
	// Temperature overrides the client default when set.
	Temperature *float64
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrGeneration matches every *GenerationError via errors.Is.
var ErrGeneration = errors.New("completion failed")

// GenerationError reports that the completion service was unavailable or
// exhausted its retry budget. Callers must not treat it as an empty answer.
type GenerationError struct {
	Task Task
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Task, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(target error) bool {
	return target == ErrGeneration
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
