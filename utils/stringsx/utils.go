package stringsx

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

func ReduceNewlines(s string, maxNewlines int) string {
	if maxNewlines < 1 {
		return s
	}

	// Create the replacement string based on maxNewlines.
	replacement := strings.Repeat("\n", maxNewlines)

	// This pattern will match sequences of (maxNewlines+1) or more newlines, with spaces or tabs in between.
	pattern := regexp.MustCompile(fmt.Sprintf(`(\n[ \t]*){%d,}`, maxNewlines+1))
	s = pattern.ReplaceAllString(s, replacement)

	return s
}

var spaceRun = regexp.MustCompile(`[ \t\f\r]{2,}`)

// CollapseSpaces replaces runs of horizontal whitespace with a single space.
func CollapseSpaces(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}

// Truncate cuts s to at most max runes, appending suffix when it cuts.
func Truncate(s string, max int, suffix string) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + suffix
}
