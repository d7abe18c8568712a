// Package extractor finds failure signals in raw CI logs and returns the
// surrounding lines as merged context windows.
package extractor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// SectionSeparator is placed between two disjoint context windows
const SectionSeparator = "\n\n--- Next Error Section ---\n\n"

const ellipsis = "..."

// Keywords mark a line as a failure signal (case-insensitive substring match)
var Keywords = []string{
	"error",
	"exception",
	"traceback",
	"failed",
	"failure",
	"fatal",
	"critical",
	"exit code",
	"build failed",
	"panic:",
	"segmentation fault",
}

var (
	ansiPattern = regexp.MustCompile(`\x1b(?:\[[0-?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[@-Z\\-_])`)

	// 2024-01-31T12:00:00.123Z, 2024-01-31 12:00:00,123 +0100, optionally bracketed
	isoPrefixPattern = regexp.MustCompile(`^\[?\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|\s?[+-]\d{2}:?\d{2})?\]?(?:\s+|$)`)
	// [12:00:00] or [12:00:00.123]
	timePrefixPattern = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}(?:[.,]\d+)?\](?:\s+|$)`)

	multiSpacePattern = regexp.MustCompile(` {2,}`)
)

// Config controls the size of context windows and line cleaning
type Config struct {
	LinesBefore    int
	LinesAfter     int
	MaxLineLength  int
	IgnorePatterns []string
}

// DefaultConfig returns the default extraction configuration
func DefaultConfig() Config {
	return Config{
		LinesBefore:   50,
		LinesAfter:    10,
		MaxLineLength: 1000,
	}
}

// Section is one merged context window
type Section struct {
	// Start and End are zero-based line indexes, End exclusive
	Start int
	End   int
	// Lines holds the rendered "Line N: text" entries
	Lines []string
}

// Extractor is stateless after construction and safe for concurrent use
type Extractor struct {
	config   Config
	keywords []string
	ignore   []string
}

// New creates an extractor
func New(config Config) *Extractor {
	if config.LinesBefore < 0 {
		config.LinesBefore = 0
	}
	if config.LinesAfter < 0 {
		config.LinesAfter = 0
	}
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = DefaultConfig().MaxLineLength
	}

	ignore := make([]string, 0, len(config.IgnorePatterns))
	for _, p := range config.IgnorePatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			ignore = append(ignore, p)
		}
	}

	return &Extractor{
		config:   config,
		keywords: Keywords,
		ignore:   ignore,
	}
}

// Extract returns the rendered error context of log, or "" when nothing matched
func (e *Extractor) Extract(log string) string {
	sections := e.Sections(log)
	if len(sections) == 0 {
		return ""
	}

	rendered := make([]string, 0, len(sections))
	for _, s := range sections {
		rendered = append(rendered, strings.Join(s.Lines, "\n"))
	}
	return strings.Join(rendered, SectionSeparator)
}

// ErrorLines wraps Extract for payloads that carry a list of error blocks
func (e *Extractor) ErrorLines(log string) []string {
	if context := e.Extract(log); context != "" {
		return []string{context}
	}
	return []string{}
}

// Sections returns the merged context windows of log in line order
func (e *Extractor) Sections(log string) []Section {
	if log == "" {
		return nil
	}

	raw := strings.Split(log, "\n")
	lines := make([]string, len(raw))
	var matches []int
	for i, line := range raw {
		lines[i] = e.Clean(line)
		if e.IsMatch(lines[i]) {
			matches = append(matches, i)
		}
	}

	if len(matches) == 0 {
		return nil
	}

	windows := mergeWindows(matches, e.config.LinesBefore, e.config.LinesAfter, len(lines))

	sections := make([]Section, 0, len(windows))
	for _, w := range windows {
		section := Section{Start: w.start, End: w.end}
		for i := w.start; i < w.end; i++ {
			if lines[i] == "" {
				continue
			}
			section.Lines = append(section.Lines, fmt.Sprintf("Line %d: %s", i+1, lines[i]))
		}
		if len(section.Lines) > 0 {
			sections = append(sections, section)
		}
	}
	return sections
}

// IsMatch reports whether an already cleaned line is a failure signal
func (e *Extractor) IsMatch(line string) bool {
	lower := strings.ToLower(line)

	for _, p := range e.ignore {
		if strings.Contains(lower, p) {
			return false
		}
	}

	for _, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Clean normalises one log line. Clean(Clean(x)) == Clean(x).
func (e *Extractor) Clean(line string) string {
	line = ansiPattern.ReplaceAllString(line, "")
	line = printable(line)
	line = multiSpacePattern.ReplaceAllString(line, " ")
	line = strings.TrimSpace(line)

	for {
		stripped := isoPrefixPattern.ReplaceAllString(line, "")
		stripped = timePrefixPattern.ReplaceAllString(stripped, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == line {
			break
		}
		line = stripped
	}

	if len(line) > e.config.MaxLineLength {
		line = line[:e.config.MaxLineLength] + ellipsis
	}
	return line
}

// printable replaces everything outside printable ASCII, except tab, with a space
func printable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\t' || (r >= 32 && r <= 126) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

type window struct {
	start int
	end   int
}

// mergeWindows builds [i-before, i+after+1) around every match and merges
// windows that overlap or touch
func mergeWindows(matches []int, before, after, total int) []window {
	windows := make([]window, 0, len(matches))
	for _, i := range matches {
		windows = append(windows, window{
			start: max(0, i-before),
			end:   min(total, i+after+1),
		})
	}

	sort.Slice(windows, func(a, b int) bool { return windows[a].start < windows[b].start })

	merged := []window{windows[0]}
	for _, w := range windows[1:] {
		last := &merged[len(merged)-1]
		if w.start <= last.end {
			last.end = max(last.end, w.end)
			continue
		}
		merged = append(merged, w)
	}
	return merged
}
