package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/schema"
)

const (
	VerdictSafe      = "safe"
	VerdictPartial   = "partial"
	VerdictSensitive = "sensitive"
)

type Verdict struct {
	Verdict        string   `json:"verdict"`
	AllowedColumns []string `json:"allowed_columns"`
	SQL            string   `json:"sql"`
}

// VerdictError means the classifier reply broke the JSON contract.
type VerdictError struct {
	Reply string
	Err   error
}

func (e *VerdictError) Error() string {
	return fmt.Sprintf("unparsable classifier verdict: %v", e.Err)
}

func (e *VerdictError) Unwrap() error {
	return e.Err
}

// Classifier asks the model for a second opinion on sensitive fields,
// catching aliases, joins and expressions a name match cannot see.
type Classifier struct {
	completer llm.Completer
}

func NewClassifier(completer llm.Completer) *Classifier {
	return &Classifier{completer: completer}
}

func (c *Classifier) Classify(ctx context.Context, statement string, snapshot schema.Snapshot, flagged []string) (Verdict, error) {
	reply, err := c.completer.Complete(ctx, llm.Request{
		Task:     llm.TaskSafetyClassifier,
		Messages: []llm.Message{llm.User(classifierPrompt(statement, snapshot, flagged))},
	})
	if err != nil {
		return Verdict{}, err
	}
	verdict, err := ParseVerdict(reply)
	if err != nil {
		return Verdict{}, &VerdictError{Reply: reply, Err: err}
	}
	return verdict, nil
}

// ParseVerdict accepts exactly one JSON object, optionally wrapped in a
// code fence or prose, and rejects unknown fields and verdicts.
func ParseVerdict(reply string) (Verdict, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return Verdict{}, fmt.Errorf("no JSON object in reply")
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(reply[start : end+1])))
	decoder.DisallowUnknownFields()
	var verdict Verdict
	if err := decoder.Decode(&verdict); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if decoder.More() {
		return Verdict{}, fmt.Errorf("more than one JSON value in reply")
	}

	verdict.Verdict = strings.ToLower(strings.TrimSpace(verdict.Verdict))
	switch verdict.Verdict {
	case VerdictSafe, VerdictSensitive:
	case VerdictPartial:
		if strings.TrimSpace(verdict.SQL) == "" {
			return Verdict{}, fmt.Errorf("partial verdict without rewritten sql")
		}
	default:
		return Verdict{}, fmt.Errorf("unknown verdict %q", verdict.Verdict)
	}
	return verdict, nil
}

func classifierPrompt(statement string, snapshot schema.Snapshot, flagged []string) string {
	var b strings.Builder
	b.WriteString(`You are an AI assistant responsible for analyzing SQL queries and ensuring that sensitive information is not exposed.

Sensitive fields are:
- Passwords
- OTP codes
- National ID numbers (for example Social Security numbers)
- Driver's license numbers
- Passport numbers
- Credit and debit card numbers, including security codes
- Bank account numbers

Consider column aliases, joins, computed expressions and SELECT * expanded against the schema.

Schema:
`)
	b.WriteString(snapshot.TableInfo())
	b.WriteString("\n\nQuery:\n")
	b.WriteString(statement)
	if len(flagged) > 0 {
		b.WriteString("\n\nIdentifiers flagged by policy: ")
		b.WriteString(strings.Join(flagged, ", "))
	}
	b.WriteString(`

Reply with exactly one JSON object and nothing else:
{"verdict":"safe|partial|sensitive","allowed_columns":["..."],"sql":"..."}

- "safe": the query references no sensitive field. Leave "sql" empty.
- "partial": the query requests both sensitive and non-sensitive fields. List the non-sensitive requested columns in "allowed_columns" and put a rewritten single SELECT that returns only those columns, with no sensitive field anywhere in it, in "sql".
- "sensitive": the query requests only sensitive fields. Leave "sql" empty.`)
	return b.String()
}
