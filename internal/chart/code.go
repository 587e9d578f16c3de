package chart

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrNoCodeBlock        = errors.New("reply contains no fenced python block")
	ErrMultipleCodeBlocks = errors.New("reply contains more than one fenced block")
)

var codeFencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// ExtractCode returns the body of the single fenced python block in reply.
// Prose around the block is discarded; zero or several blocks fail.
func ExtractCode(reply string) (string, error) {
	matches := codeFencePattern.FindAllStringSubmatch(reply, -1)
	switch {
	case len(matches) == 0:
		return "", ErrNoCodeBlock
	case len(matches) > 1:
		return "", ErrMultipleCodeBlocks
	}
	switch strings.ToLower(matches[0][1]) {
	case "", "python", "py", "python3":
	default:
		return "", ErrNoCodeBlock
	}
	code := strings.TrimSpace(matches[0][2])
	if code == "" {
		return "", ErrNoCodeBlock
	}
	return code + "\n", nil
}
