package chart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/askdb/askdb/internal/llm"
)

const intentPrompt = `You are an AI assistant responsible for determining whether the user is asking for any form of data visualization.
Data visualizations refer to visual representations of data such as charts, graphs, plots, or similar formats.

Visualizations may include specific types such as:
- Bar chart
- Line graph
- Pie chart
- Scatter plot
- Histogram
- Heatmap
- Or any other visual representation of data

Additionally, if the user simply requests a "visualization" or "visualizations" without specifying the type (e.g., "Show me a visualization of members"),
you should still respond with 'yes', as the user is clearly asking for some form of data visualization.

If the user's input indicates they are asking for a data visualization of any kind, respond with 'yes'.
If the user's input does not indicate a request for a data visualization, respond with 'no'.

Be concise and respond with only 'yes' or 'no'.

User input: "%s"
Visualization requested:`

// IntentClassifier decides whether a question asks for a chart.
type IntentClassifier struct {
	completer llm.Completer
	logger    *slog.Logger
}

func NewIntentClassifier(completer llm.Completer, logger *slog.Logger) *IntentClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentClassifier{completer: completer, logger: logger}
}

// Wants is true only when the model answers "yes". Any other reply, and any
// completion failure, selects the plain query path.
func (c *IntentClassifier) Wants(ctx context.Context, question string) bool {
	temperature := 0.0
	reply, err := c.completer.Complete(ctx, llm.Request{
		Task:        llm.TaskVisualizationIntent,
		Messages:    []llm.Message{llm.User(formatIntentPrompt(question))},
		Temperature: &temperature,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "visualization intent check failed", "error", err)
		return false
	}
	return IsAffirmative(reply)
}

func formatIntentPrompt(question string) string {
	return fmt.Sprintf(intentPrompt, question)
}

// IsAffirmative reports whether the trimmed, lowercased reply is exactly
// "yes". Punctuation or quoting around it counts as no.
func IsAffirmative(reply string) bool {
	return strings.ToLower(strings.TrimSpace(reply)) == "yes"
}
