package chart

import (
	"fmt"
	"strings"
)

const codeSystemPrompt = "You are an AI assistant that generates appropriate Python code to visualize data."

// Rows beyond this are not shown to the model; the script still reads all
// of them from DATA_PATH.
const promptRowLimit = 50

func buildCodePrompt(in RenderInput, chartType Type, library, records string, rowCount int) string {
	var b strings.Builder
	b.WriteString("Based on the question, the SQL query, its result, and the desired chart type, generate Python code that visualizes the data. The chart types and their use cases are:\n\n")
	b.WriteString("- Bar Graph: Compare categorical data or show changes over time with discrete categories.\n")
	b.WriteString("- Horizontal Bar Graph: Compare small categories or when there is a large disparity between values.\n")
	b.WriteString("- Scatter Plot: Identify relationships between two numerical variables or plot distributions.\n")
	b.WriteString("- Pie Chart: Show proportions or percentages within a whole.\n")
	b.WriteString("- Line Graph: Show trends and distributions over time (both axes must be continuous).\n")
	b.WriteString("- Histogram: Show the distribution of a single numerical variable.\n\n")

	fmt.Fprintf(&b, "Question: %s\n", in.Question)
	fmt.Fprintf(&b, "SQL Query: %s\n\n", in.SQL)
	if rowCount > promptRowLimit {
		fmt.Fprintf(&b, "The SQL query result has %d rows. The first %d are shown below as a list of dictionaries:\n", rowCount, promptRowLimit)
	} else {
		b.WriteString("The SQL query result is provided below as a list of dictionaries:\n")
	}
	b.WriteString(records)
	b.WriteString("\n\n")

	b.WriteString("Please follow these instructions:\n")
	b.WriteString("- Return exactly one fenced ```python code block and nothing else.\n")
	b.WriteString("- Load the full result with pandas: `df = pd.read_json(os.environ[\"DATA_PATH\"], orient=\"records\")`. Do not retype the data.\n")
	b.WriteString("- Import matplotlib and use a non-interactive backend: `matplotlib.use('Agg')` before importing pyplot.\n")
	fmt.Fprintf(&b, "- Generate a %s chart using the %s library.\n", chartType, library)
	b.WriteString("- Use the first column of the result for the x-axis and the second column for the y-axis, labelled with the column names.\n")
	b.WriteString("- Add a title and show gridlines on the canvas.\n")
	b.WriteString("- Do not use `plt.show()`. Save the chart with `plt.savefig(os.environ[\"OUTPUT_PATH\"], bbox_inches=\"tight\")`.\n")
	b.WriteString("- Only import from matplotlib, pandas, numpy, seaborn, json, os, datetime, uuid, math, statistics, collections, decimal.\n")
	b.WriteString("- Do not open files, access the network, or run other programs.\n")
	return b.String()
}
