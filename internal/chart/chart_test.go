package chart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/sandbox"
	"github.com/askdb/askdb/internal/storage"
)

type scriptedCompleter struct {
	reply string
	err   error
	calls []llm.Request
}

func (s *scriptedCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.calls = append(s.calls, req)
	return s.reply, s.err
}

type fakeRunner struct {
	out   sandbox.Output
	err   error
	write bool
	jobs  []sandbox.Job
}

func (f *fakeRunner) Run(_ context.Context, job sandbox.Job) (sandbox.Output, error) {
	f.jobs = append(f.jobs, job)
	if f.write {
		if err := os.WriteFile(filepath.Join(job.OutputDir, job.FileName), []byte("png"), 0o644); err != nil {
			return sandbox.Output{}, err
		}
	}
	return f.out, f.err
}

type fakeStore struct {
	keys []string
	err  error
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, size int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	if f.err != nil {
		return storage.ObjectInfo{}, f.err
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return storage.ObjectInfo{}, err
	}
	f.keys = append(f.keys, key)
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (f *fakeStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func (f *fakeStore) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, storage.ErrObjectNotFound
}

func (f *fakeStore) Delete(context.Context, string) error { return nil }

const plotCode = "```python\nimport os\nimport matplotlib\nmatplotlib.use('Agg')\nimport matplotlib.pyplot as plt\nimport pandas as pd\ndf = pd.read_json(os.environ['DATA_PATH'])\nplt.bar(df['month'], df['signups'])\nplt.grid(True)\nplt.savefig(os.environ['OUTPUT_PATH'])\n```"

func signupsResult() query.Result {
	return query.Result{
		Columns: []string{"month", "signups"},
		Rows:    [][]any{{"2026-01", int64(4)}, {"2026-02", int64(7)}},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRenderSavesChart(t *testing.T) {
	completer := &scriptedCompleter{reply: "Here you go:\n" + plotCode + "\nEnjoy."}
	runner := &fakeRunner{write: true}
	store := &fakeStore{}
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	gen := NewGenerator(completer, runner, Config{OutputDir: dir, Timeout: time.Second}, discardLogger(),
		WithObjectStore(store), WithClock(func() time.Time { return now }))

	artifact := gen.Render(context.Background(), RenderInput{
		Question: "Show me a bar chart of signups by month",
		SQL:      "SELECT month, signups FROM signups_by_month",
		Result:   signupsResult(),
	})
	if artifact.Failed() {
		t.Fatalf("Render() error = %s", artifact.Error)
	}
	if !ValidFileName(artifact.FileName) || !strings.HasPrefix(artifact.FileName, "plot_20260304_") {
		t.Fatalf("file name = %q", artifact.FileName)
	}
	if artifact.FilePath != filepath.Join(dir, artifact.FileName) {
		t.Fatalf("file path = %q", artifact.FilePath)
	}
	if artifact.ObjectKey != "charts/2026/03/04/"+artifact.FileName || len(store.keys) != 1 {
		t.Fatalf("object key = %q, store keys = %v", artifact.ObjectKey, store.keys)
	}

	job := runner.jobs[0]
	if strings.Contains(job.Code, "```") || !strings.HasPrefix(job.Code, "import os") {
		t.Fatalf("code not extracted from fence: %q", job.Code)
	}
	if !bytes.Equal(job.Data, []byte(`[{"month":"2026-01","signups":4},{"month":"2026-02","signups":7}]`)) {
		t.Fatalf("job data = %s", job.Data)
	}

	prompt := completer.calls[0].Messages[1].Content
	if completer.calls[0].Task != llm.TaskChartCode {
		t.Fatalf("task = %q", completer.calls[0].Task)
	}
	for _, want := range []string{"Generate a bar chart using the matplotlib library", `{"month":"2026-01","signups":4}`, "OUTPUT_PATH"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestRenderEmptyResult(t *testing.T) {
	completer := &scriptedCompleter{}
	gen := NewGenerator(completer, &fakeRunner{}, Config{OutputDir: t.TempDir()}, discardLogger())
	artifact := gen.Render(context.Background(), RenderInput{Result: query.Result{Columns: []string{"a"}}})
	if artifact.Error != EmptyResultMessage {
		t.Fatalf("error = %q", artifact.Error)
	}
	if len(completer.calls) != 0 {
		t.Fatal("completion should not be requested for an empty result")
	}
}

func TestRenderReportsRuntimeError(t *testing.T) {
	runner := &fakeRunner{out: sandbox.Output{
		ExitCode: 1,
		Stderr:   "Traceback (most recent call last):\n  File \"main.py\", line 3\nKeyError: 'signups'\n",
	}}
	gen := NewGenerator(&scriptedCompleter{reply: plotCode}, runner, Config{OutputDir: t.TempDir()}, discardLogger())
	artifact := gen.Render(context.Background(), RenderInput{Question: "plot it", Result: signupsResult()})
	if !artifact.Failed() {
		t.Fatal("expected failed artifact")
	}
	if !strings.Contains(artifact.Error, "KeyError: 'signups'") {
		t.Fatalf("error = %q", artifact.Error)
	}
}

func TestRenderFailsClosed(t *testing.T) {
	cases := map[string]struct {
		completer *scriptedCompleter
		runner    *fakeRunner
		want      string
	}{
		"no fence":          {&scriptedCompleter{reply: "import os\nprint(1)"}, &fakeRunner{}, "no fenced python block"},
		"two fences":        {&scriptedCompleter{reply: plotCode + "\n" + plotCode}, &fakeRunner{}, "more than one"},
		"policy":            {&scriptedCompleter{reply: "```python\nimport subprocess\n```"}, &fakeRunner{}, "import subprocess"},
		"completion failed": {&scriptedCompleter{err: errors.New("upstream down")}, &fakeRunner{}, "upstream down"},
		"timeout":           {&scriptedCompleter{reply: plotCode}, &fakeRunner{out: sandbox.Output{TimedOut: true, ExitCode: -1}}, "timed out"},
		"runner error":      {&scriptedCompleter{reply: plotCode}, &fakeRunner{err: errors.New("docker unavailable")}, "docker unavailable"},
		"no output":         {&scriptedCompleter{reply: plotCode}, &fakeRunner{}, "no chart was saved"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			gen := NewGenerator(tc.completer, tc.runner, Config{OutputDir: t.TempDir()}, discardLogger())
			artifact := gen.Render(context.Background(), RenderInput{Question: "plot it", Result: signupsResult()})
			if !artifact.Failed() || !strings.Contains(artifact.Error, tc.want) {
				t.Fatalf("artifact = %+v, want error containing %q", artifact, tc.want)
			}
			if artifact.FileName != "" {
				t.Fatalf("failed artifact should not name a file: %+v", artifact)
			}
		})
	}
}

func TestRenderKeepsChartWhenPublishFails(t *testing.T) {
	gen := NewGenerator(&scriptedCompleter{reply: plotCode}, &fakeRunner{write: true}, Config{OutputDir: t.TempDir()}, discardLogger(),
		WithObjectStore(&fakeStore{err: errors.New("bucket missing")}))
	artifact := gen.Render(context.Background(), RenderInput{Question: "plot it", Result: signupsResult()})
	if artifact.Failed() || artifact.ObjectKey != "" {
		t.Fatalf("artifact = %+v", artifact)
	}
}

func TestIntentClassifier(t *testing.T) {
	cases := map[string]bool{
		"yes":        true,
		" YES\n":     true,
		" Yes.\n":    false,
		"'yes'":      false,
		"no":         false,
		"yes, a bar": false,
		"maybe":      false,
		"":           false,
	}
	for reply, want := range cases {
		completer := &scriptedCompleter{reply: reply}
		got := NewIntentClassifier(completer, discardLogger()).Wants(context.Background(), "Show me a visualization of members")
		if got != want {
			t.Fatalf("Wants() with reply %q = %v, want %v", reply, got, want)
		}
		if completer.calls[0].Task != llm.TaskVisualizationIntent {
			t.Fatalf("task = %q", completer.calls[0].Task)
		}
		if !strings.Contains(completer.calls[0].Messages[0].Content, `User input: "Show me a visualization of members"`) {
			t.Fatalf("prompt = %q", completer.calls[0].Messages[0].Content)
		}
	}
}

func TestIntentClassifierFailsClosed(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("timeout")}
	if NewIntentClassifier(completer, discardLogger()).Wants(context.Background(), "chart please") {
		t.Fatal("completion failure must select the plain path")
	}
}

func TestDetectType(t *testing.T) {
	cases := map[string]Type{
		"Show me a bar chart of signups by month":        TypeBar,
		"horizontal bar graph of revenue per region":     TypeHorizontalBar,
		"pie chart of order share by channel":            TypePie,
		"plot the trend of daily active users":           TypeLine,
		"scatter of price against rating":                TypeScatter,
		"histogram of order totals":                      TypeHistogram,
		"show me a visualization of members by country": TypeLine,
	}
	for question, want := range cases {
		if got := DetectType(question, TypeLine); got != want {
			t.Fatalf("DetectType(%q) = %q, want %q", question, got, want)
		}
	}
}

func TestParseType(t *testing.T) {
	got, err := ParseType("Horizontal_Bar")
	if err != nil || got != TypeHorizontalBar {
		t.Fatalf("ParseType() = %q, %v", got, err)
	}
	if _, err := ParseType("radar"); err == nil {
		t.Fatal("expected unsupported chart type error")
	}
}

func TestFileNames(t *testing.T) {
	name := NewFileName(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))
	if !ValidFileName(name) || !strings.HasPrefix(name, "plot_20261017_") {
		t.Fatalf("NewFileName() = %q", name)
	}
	for _, bad := range []string{"../plot_20261017_x.png", "plot_2026_abc.png", "plot_20261017_" + strings.Repeat("a", 36) + ".png"} {
		if ValidFileName(bad) {
			t.Fatalf("ValidFileName(%q) = true", bad)
		}
	}
}

func TestExtractCode(t *testing.T) {
	code, err := ExtractCode("Sure!\n```python\nprint(1)\n```\n")
	if err != nil || code != "print(1)\n" {
		t.Fatalf("ExtractCode() = %q, %v", code, err)
	}
	if code, err := ExtractCode("```\nprint(2)\n```"); err != nil || code != "print(2)\n" {
		t.Fatalf("untagged fence: %q, %v", code, err)
	}
	if _, err := ExtractCode("```sql\nSELECT 1\n```"); !errors.Is(err, ErrNoCodeBlock) {
		t.Fatalf("sql fence error = %v", err)
	}
	if _, err := ExtractCode("```python\n```"); !errors.Is(err, ErrNoCodeBlock) {
		t.Fatalf("empty fence error = %v", err)
	}
}

func TestFileNameDate(t *testing.T) {
	name := NewFileName(time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC))
	day, ok := FileNameDate(name)
	if !ok || !day.Equal(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("FileNameDate(%q) = %v, %v", name, day, ok)
	}
	if _, ok := FileNameDate("plot_20261399_" + strings.Repeat("0", 8) + "-0000-0000-0000-" + strings.Repeat("0", 12) + ".png"); ok {
		t.Fatal("invalid month accepted")
	}
}
