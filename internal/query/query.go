package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Executor runs an approved SELECT. Failures are reported in Result.Error
// and never returned as Go errors.
type Executor interface {
	Execute(ctx context.Context, sql string) Result
}

type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// ErrorResult formats a failure the way it is shown to the user.
func ErrorResult(err error) Result {
	return Result{Error: fmt.Sprintf("An error occurred: %v", err)}
}

func (r Result) Failed() bool {
	return r.Error != ""
}

func (r Result) Empty() bool {
	return r.Failed() || len(r.Rows) == 0
}

// Field is one column value of a Record.
type Field struct {
	Column string
	Value  any
}

// Record is a row keyed by column in select-list order.
type Record []Field

func (r Record) Get(column string) (any, bool) {
	for _, field := range r {
		if field.Column == column {
			return field.Value, true
		}
	}
	return nil, false
}

// MarshalJSON writes an object whose keys keep column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Column)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal column %q: %w", field.Column, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r Result) Records() []Record {
	records := make([]Record, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(Record, 0, len(r.Columns))
		for i, column := range r.Columns {
			var value any
			if i < len(row) {
				value = row[i]
			}
			record = append(record, Field{Column: column, Value: value})
		}
		records = append(records, record)
	}
	return records
}

// Format renders rows as a JSON list of mappings, or the error text for a
// failed result.
func (r Result) Format() string {
	if r.Failed() {
		return r.Error
	}
	body, err := json.Marshal(r.Records())
	if err != nil {
		return fmt.Sprintf("An error occurred: %v", err)
	}
	return string(body)
}
