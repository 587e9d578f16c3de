package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/memory"
	"github.com/askdb/askdb/internal/schema"
)

const systemPrompt = "Given an input question and SQL response, convert it to a natural language answer. No pre-amble."

const responseTemplate = `Based on the table schema below, question, SQL query, and SQL response, write a natural language response:
%s

Question: %s
SQL Query: %s
SQL Response: %s

Your response must be accurate and based strictly on the SQL result provided. Ensure the following:
- Reflect the exact numbers or data from the SQL response.
- Avoid assumptions or generalizations not directly supported by the SQL result.
- If the SQL response contains numerical data (e.g., a count), your natural language response must include the correct number based on the SQL result.
- If the SQL response reports an error, say that the question could not be answered and summarize the error without inventing data.
- If the SQL response says a visualization was saved, mention the saved file path exactly as given.
- Be concise and ensure no extra information is added beyond what is requested.

For example, if the SQL response shows a count of customers, your natural language response should exactly match the count in the SQL result (e.g., "There are 5 customers in the database" for an SQL result of [{"count": 5}]).`

type Input struct {
	Schema   schema.Snapshot
	Question string
	SQL      string
	// Response is the formatted query result, the chart outcome, or an
	// error text.
	Response string
}

// Synthesizer phrases the final answer and is the only writer of
// conversation memory.
type Synthesizer struct {
	completer llm.Completer
	store     memory.Store
}

func NewSynthesizer(completer llm.Completer, store memory.Store) *Synthesizer {
	return &Synthesizer{completer: completer, store: store}
}

func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (string, error) {
	reply, err := s.completer.Complete(ctx, llm.Request{
		Task:     llm.TaskAnswer,
		Messages: BuildMessages(in),
	})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", &llm.GenerationError{Task: llm.TaskAnswer, Err: errors.New("empty answer")}
	}
	return reply, nil
}

func BuildMessages(in Input) []llm.Message {
	return []llm.Message{
		llm.System(systemPrompt),
		llm.User(fmt.Sprintf(responseTemplate, in.Schema.TableInfo(), in.Question, in.SQL, in.Response)),
	}
}

// Remember records one finished turn.
func (s *Synthesizer) Remember(ctx context.Context, sessionID, question, answer string) error {
	if err := s.store.Append(ctx, sessionID, memory.Turn{Question: question, Answer: answer}); err != nil {
		return fmt.Errorf("remember turn: %w", err)
	}
	return nil
}
