package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// exitError carries a non-zero exit code out of a cobra RunE.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			_, _ = fmt.Fprintln(stderr, exitErr.msg)
			return exitErr.code
		}
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	return 0
}

func newRootCommand(defaults Options, stdout io.Writer) *cobra.Command {
	var (
		baseURL string
		apiKey  string
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:           "askdbctl",
		Short:         "Ask questions of an askdb API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 90s)")

	newClient := func() *client {
		httpClient := defaults.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: timeout}
		}
		return &client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: strings.TrimSpace(apiKey), http: httpClient}
	}

	var session string
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question in natural language",
		Long: `Ask a question in natural language.

Examples:
  askdbctl ask "How many users signed up last week?"
  askdbctl ask --session s1 "Plot signups per day as a line chart"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"question": strings.Join(args, " ")}
			if session != "" {
				payload["session_id"] = session
			}
			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			return newClient().do(cmd.Context(), stdout, http.MethodPost, "/v1/ask", body)
		},
	}
	askCmd.Flags().StringVar(&session, "session", "", "session id to continue a conversation")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the turns recorded for a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, _ := cmd.Flags().GetString("session")
			return newClient().do(cmd.Context(), stdout, http.MethodGet, "/v1/sessions/"+url.PathEscape(session)+"/history", nil)
		},
	}
	historyCmd.Flags().String("session", "", "session id")
	_ = historyCmd.MarkFlagRequired("session")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear a session's history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, _ := cmd.Flags().GetString("session")
			return newClient().do(cmd.Context(), stdout, http.MethodDelete, "/v1/sessions/"+url.PathEscape(session), nil)
		},
	}
	resetCmd.Flags().String("session", "", "session id")
	_ = resetCmd.MarkFlagRequired("session")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "GET /v1/health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient().do(cmd.Context(), stdout, http.MethodGet, "/v1/health", nil)
		},
	}
	readyCmd := &cobra.Command{
		Use:   "ready",
		Short: "GET /v1/ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient().do(cmd.Context(), stdout, http.MethodGet, "/v1/ready", nil)
		},
	}

	root.AddCommand(askCmd, historyCmd, resetCmd, healthCmd, readyCmd)
	return root
}

func (c *client) do(ctx context.Context, stdout io.Writer, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &exitError{code: 1, msg: fmt.Sprintf("request failed: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &exitError{code: 1, msg: fmt.Sprintf("request failed: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &exitError{code: 1, msg: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode >= 400 {
		return &exitError{code: 1, msg: fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
