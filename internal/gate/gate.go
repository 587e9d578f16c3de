package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
)

const (
	ReadOnlyRefusal  = "Sorry, data modification or structural changes are not allowed in read-only mode."
	SensitiveRefusal = "Sensitive information like passwords, credit card numbers, or national ID numbers cannot be retrieved for security reasons. Please refine your query to request non-sensitive data."
)

var ErrEmptyQuery = errors.New("generated SQL query is empty")

type ReasonCode string

const (
	ReasonApproved             ReasonCode = "approved"
	ReasonRewritten            ReasonCode = "rewritten"
	ReasonNotSelect            ReasonCode = "not_select"
	ReasonMultipleStatements   ReasonCode = "multiple_statements"
	ReasonWriteClause          ReasonCode = "write_clause"
	ReasonDeniedFunction       ReasonCode = "denied_function"
	ReasonMalformed            ReasonCode = "malformed"
	ReasonSensitive            ReasonCode = "sensitive"
	ReasonClassifierUnparsable ReasonCode = "classifier_unparsable"
	ReasonRewriteRejected      ReasonCode = "rewrite_rejected"
)

// Decision is either approved with the query to run, or refused with a
// fixed message that never echoes the candidate.
type Decision struct {
	Approved       bool       `json:"approved"`
	Query          string     `json:"query,omitempty"`
	Refusal        string     `json:"refusal,omitempty"`
	Reason         ReasonCode `json:"reason"`
	AllowedColumns []string   `json:"allowed_columns,omitempty"`
}

func approve(query string, reason ReasonCode, allowed []string) Decision {
	return Decision{Approved: true, Query: query, Reason: reason, AllowedColumns: allowed}
}

func refuse(message string, reason ReasonCode) Decision {
	return Decision{Refusal: message, Reason: reason}
}

type Gate struct {
	classifier *Classifier
	logger     *slog.Logger
}

func New(completer llm.Completer, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{classifier: NewClassifier(completer), logger: logger}
}

// Check runs the syntax checkpoint, the deterministic denylist, then the
// model classifier. ErrEmptyQuery and completion failures are the only
// errors; every policy outcome is a Decision.
func (g *Gate) Check(ctx context.Context, candidate string, snapshot schema.Snapshot) (Decision, error) {
	decision, err := g.check(ctx, candidate, snapshot)
	if err != nil {
		return Decision{}, err
	}

	outcome := "approved"
	if !decision.Approved {
		outcome = "refused"
		g.logger.InfoContext(ctx, "query refused by gate",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("reason", string(decision.Reason)),
		)
	}
	observability.ObserveGateDecision(outcome, string(decision.Reason))
	return decision, nil
}

func (g *Gate) check(ctx context.Context, candidate string, snapshot schema.Snapshot) (Decision, error) {
	statement, reason, err := CheckSyntax(candidate, snapshot.Dialect)
	if err != nil {
		return Decision{}, err
	}
	if reason != ReasonApproved {
		return refuse(ReadOnlyRefusal, reason), nil
	}

	scan := scanSensitive(statement, snapshot)
	if scan.onlySensitive {
		return refuse(SensitiveRefusal, ReasonSensitive), nil
	}

	verdict, err := g.classifier.Classify(ctx, statement, snapshot, scan.hits)
	if err != nil {
		var parseErr *VerdictError
		if errors.As(err, &parseErr) {
			return refuse(SensitiveRefusal, ReasonClassifierUnparsable), nil
		}
		return Decision{}, err
	}

	switch verdict.Verdict {
	case VerdictSensitive:
		return refuse(SensitiveRefusal, ReasonSensitive), nil
	case VerdictSafe:
		if len(scan.hits) == 0 {
			return approve(statement, ReasonApproved, nil), nil
		}
		// Denylisted identifiers override a safe verdict; only an explicit
		// rewrite can clear them.
		if strings.TrimSpace(verdict.SQL) == "" {
			return refuse(SensitiveRefusal, ReasonSensitive), nil
		}
	}
	return g.checkRewrite(verdict, snapshot), nil
}

func (g *Gate) checkRewrite(verdict Verdict, snapshot schema.Snapshot) Decision {
	if strings.TrimSpace(verdict.SQL) == "" {
		return refuse(SensitiveRefusal, ReasonRewriteRejected)
	}
	rewritten, reason, err := CheckSyntax(verdict.SQL, snapshot.Dialect)
	if err != nil || reason != ReasonApproved {
		return refuse(SensitiveRefusal, ReasonRewriteRejected)
	}
	if scan := scanSensitive(rewritten, snapshot); len(scan.hits) > 0 {
		return refuse(SensitiveRefusal, ReasonRewriteRejected)
	}
	return approve(rewritten, ReasonRewritten, verdict.AllowedColumns)
}
