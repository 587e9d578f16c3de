package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/memory"
	"github.com/askdb/askdb/internal/schema"
)

const (
	systemPrompt = "Given an input question, convert it to a SQL query. No pre-amble."

	// StopSequence halts generation before the model invents a result.
	StopSequence = "\nSQLResult:"
)

type GenerateInput struct {
	Question string
	Schema   schema.Snapshot
	// History is the prior conversation, oldest first.
	History []memory.Turn
}

// Generator turns a question into candidate SQL text. The output is not
// validated here; the gate owns syntax and safety checks.
type Generator struct {
	completer llm.Completer
}

func NewGenerator(completer llm.Completer) *Generator {
	return &Generator{completer: completer}
}

// Generate returns the raw completion. Completion failures come back as
// *llm.GenerationError so callers can tell them apart from bad SQL.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (string, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}
	return g.completer.Complete(ctx, llm.Request{
		Task:     llm.TaskSQLGeneration,
		Messages: BuildMessages(question, in.Schema, in.History),
		Stop:     []string{StopSequence},
	})
}

// BuildMessages lays out the system instruction, history as alternating
// user/assistant turns, then the schema-conditioned question.
func BuildMessages(question string, snapshot schema.Snapshot, history []memory.Turn) []llm.Message {
	messages := make([]llm.Message, 0, 2+2*len(history))
	messages = append(messages, llm.System(systemPrompt))
	for _, turn := range history {
		messages = append(messages, llm.User(turn.Question), llm.Assistant(turn.Answer))
	}
	messages = append(messages, llm.User(userPrompt(question, snapshot)))
	return messages
}

func userPrompt(question string, snapshot schema.Snapshot) string {
	var b strings.Builder
	b.WriteString("Based on the table schema below, write a SQL query that would answer the user's question:\n")
	if snapshot.Dialect != "" {
		fmt.Fprintf(&b, "Dialect: %s\n", snapshot.Dialect)
	}
	b.WriteString(snapshot.TableInfo())
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nSQL Query:")
	return b.String()
}
