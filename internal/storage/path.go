package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildChartObjectKey places a chart under charts/YYYY/MM/DD/ by its
// creation date in UTC.
func BuildChartObjectKey(fileName string, createdAt time.Time) (string, error) {
	if err := validatePathComponent(fileName, "file name"); err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		"charts",
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", ts.Month()),
		fmt.Sprintf("%02d", ts.Day()),
		fileName,
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
