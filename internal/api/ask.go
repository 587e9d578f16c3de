package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/gate"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/memory"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
)

const maxAskBodyBytes = 1 << 20

type askRequest struct {
	Question    string     `json:"question"`
	SessionID   string     `json:"session_id"`
	ChatHistory [][]string `json:"chat_history"`
}

type askResponse struct {
	Answer    string        `json:"answer"`
	SessionID string        `json:"session_id"`
	SQL       string        `json:"sql,omitempty"`
	Refused   bool          `json:"refused"`
	Chart     *chartPayload `json:"chart,omitempty"`
}

type chartPayload struct {
	FileName  string `json:"file_name,omitempty"`
	URL       string `json:"url,omitempty"`
	ObjectKey string `json:"object_key,omitempty"`
	Error     string `json:"error,omitempty"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	sessionID := strings.TrimSpace(request.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !validSessionID(sessionID) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session_id must be 1-128 letters, digits, '.', '_' or '-'", false, nil)
		return
	}

	history := make([]memory.Turn, 0, len(request.ChatHistory))
	for i, pair := range request.ChatHistory {
		if len(pair) != 2 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CHAT_HISTORY", "chat_history entries must be [question, answer] pairs", false, map[string]any{"index": i})
			return
		}
		history = append(history, memory.Turn{Question: pair[0], Answer: pair[1]})
	}

	resp, err := deps.Assistant.Invoke(r.Context(), pipeline.Request{
		SessionID:   sessionKey(r, sessionID),
		Question:    request.Question,
		ChatHistory: history,
	})
	if err != nil {
		writePipelineError(r.Context(), deps.Logger, w, err)
		return
	}

	payload := askResponse{
		Answer:    resp.Answer,
		SessionID: sessionID,
		SQL:       resp.SQL,
		Refused:   resp.Refused,
	}
	if resp.Chart != nil {
		payload.Chart = &chartPayload{Error: resp.Chart.Error}
		if !resp.Chart.Failed() {
			payload.Chart = &chartPayload{
				FileName:  resp.Chart.FileName,
				URL:       "/v1/charts/" + resp.Chart.FileName,
				ObjectKey: resp.Chart.ObjectKey,
			}
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionFromPath(deps, w, r)
	if !ok {
		return
	}
	turns, err := deps.Assistant.History(r.Context(), sessionKey(r, sessionID))
	if err != nil {
		writePipelineError(r.Context(), deps.Logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "turns": turns})
}

func handleResetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionFromPath(deps, w, r)
	if !ok {
		return
	}
	if err := deps.Assistant.Reset(r.Context(), sessionKey(r, sessionID)); err != nil {
		writePipelineError(r.Context(), deps.Logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "session_id": sessionID})
}

func sessionFromPath(deps Dependencies, w http.ResponseWriter, r *http.Request) (string, bool) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return "", false
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", false
	}
	sessionID := r.PathValue("session")
	if !validSessionID(sessionID) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "invalid session id", false, nil)
		return "", false
	}
	return sessionID, true
}

func writePipelineError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrQuestionRequired):
		writeError(ctx, w, http.StatusBadRequest, "QUESTION_REQUIRED", err.Error(), false, nil)
	case errors.Is(err, memory.ErrSessionRequired):
		writeError(ctx, w, http.StatusBadRequest, "SESSION_REQUIRED", err.Error(), false, nil)
	case errors.Is(err, pipeline.ErrTimeout):
		writeError(ctx, w, http.StatusGatewayTimeout, "PIPELINE_TIMEOUT", "the question could not be answered in time", true, nil)
	case errors.Is(err, gate.ErrEmptyQuery):
		writeError(ctx, w, http.StatusUnprocessableEntity, "EMPTY_QUERY", "no SQL query could be generated for the question", true, nil)
	case errors.Is(err, llm.ErrGeneration):
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", "the language model is unavailable", true, nil)
	default:
		if logger != nil {
			logger.ErrorContext(ctx, "request failed",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.Any("error", err),
			)
		}
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to answer the question", true, nil)
	}
}
