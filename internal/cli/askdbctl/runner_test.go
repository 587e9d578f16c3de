package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunAskCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"There are 5 users.","session_id":"s1","refused":false}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--api-key", "k1",
		"ask", "--session", "s1", "How many", "users?",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/ask" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" {
		t.Fatalf("api key = %q", gotAPIKey)
	}
	if gotBody["question"] != "How many users?" || gotBody["session_id"] != "s1" {
		t.Fatalf("body = %v", gotBody)
	}
	if !strings.Contains(stdout.String(), "There are 5 users.") {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunSessionCommands(t *testing.T) {
	cases := []struct {
		args   []string
		method string
		path   string
	}{
		{[]string{"history", "--session", "s1"}, http.MethodGet, "/v1/sessions/s1/history"},
		{[]string{"reset", "--session", "s1"}, http.MethodDelete, "/v1/sessions/s1"},
		{[]string{"health"}, http.MethodGet, "/v1/health"},
		{[]string{"ready"}, http.MethodGet, "/v1/ready"},
	}
	for _, tc := range cases {
		var gotMethod, gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))

		code := Run(context.Background(), append([]string{"--base-url", srv.URL}, tc.args...), Options{})
		srv.Close()
		if code != 0 {
			t.Fatalf("%v: exit code = %d", tc.args, code)
		}
		if gotMethod != tc.method || gotPath != tc.path {
			t.Fatalf("%v: request = %s %s", tc.args, gotMethod, gotPath)
		}
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(`{"error_code":"PIPELINE_TIMEOUT"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "q"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "http 504") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{{"unknown"}, {"ask"}, {"history"}} {
		var stderr bytes.Buffer
		if code := Run(context.Background(), args, Options{Stderr: &stderr}); code != 2 {
			t.Fatalf("%v: exit code = %d", args, code)
		}
	}
}
