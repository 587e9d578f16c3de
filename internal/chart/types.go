package chart

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeBar           Type = "bar"
	TypeHorizontalBar Type = "horizontal bar"
	TypeLine          Type = "line"
	TypePie           Type = "pie"
	TypeScatter       Type = "scatter"
	TypeHistogram     Type = "histogram"
)

func ParseType(raw string) (Type, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(raw, "_", " "))), " ")
	switch Type(normalized) {
	case TypeBar, TypeHorizontalBar, TypeLine, TypePie, TypeScatter, TypeHistogram:
		return Type(normalized), nil
	case "":
		return TypeBar, nil
	default:
		return "", fmt.Errorf("unsupported chart type %q", raw)
	}
}

// Checked in order; the first match wins.
var typeKeywords = []struct {
	chartType Type
	pattern   *regexp.Regexp
}{
	{TypeHorizontalBar, regexp.MustCompile(`(?i)\bhorizontal\s+bar`)},
	{TypeHistogram, regexp.MustCompile(`(?i)\bhistogram|\bdistribution\b`)},
	{TypePie, regexp.MustCompile(`(?i)\bpie\b|\bdonut\b|\bproportion|\bshare\b|\bpercentage`)},
	{TypeScatter, regexp.MustCompile(`(?i)\bscatter|\bcorrelat|\brelationship\b`)},
	{TypeLine, regexp.MustCompile(`(?i)\bline\b|\btrend|\bover time\b`)},
	{TypeBar, regexp.MustCompile(`(?i)\bbar\b|\bcolumn chart\b`)},
}

// DetectType picks the chart type named or implied by the question.
func DetectType(question string, fallback Type) Type {
	for _, keyword := range typeKeywords {
		if keyword.pattern.MatchString(question) {
			return keyword.chartType
		}
	}
	if fallback == "" {
		return TypeBar
	}
	return fallback
}

var fileNamePattern = regexp.MustCompile(`^plot_[0-9]{8}_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.png$`)

// NewFileName returns plot_<YYYYMMDD>_<uuid>.png.
func NewFileName(now time.Time) string {
	return fmt.Sprintf("plot_%s_%s.png", now.Format("20060102"), uuid.NewString())
}

func ValidFileName(name string) bool {
	return fileNamePattern.MatchString(name)
}

// FileNameDate returns the UTC day encoded in a chart file name.
func FileNameDate(name string) (time.Time, bool) {
	if !ValidFileName(name) {
		return time.Time{}, false
	}
	day, err := time.Parse("20060102", name[len("plot_"):len("plot_")+8])
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}
