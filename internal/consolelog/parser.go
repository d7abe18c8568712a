// Package consolelog recovers stage and parallel-branch boundaries from Jenkins
// console text. Parsing is deterministic and does no I/O.
package consolelog

import (
	"regexp"
	"strings"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// StageInfo is the structured description of one stage as reported by the
// pipeline REST API
type StageInfo struct {
	ID         string
	Name       string
	Status     string
	DurationMs int64
	Nodes      []FlowNode
}

// FlowNode is a node below a stage; more than one means the stage ran parallel branches
type FlowNode struct {
	ID         string
	Name       string
	Status     string
	DurationMs int64
}

const (
	markerStageStep    = "[Pipeline] stage"
	markerParallelStep = "[Pipeline] parallel"
	markerBlockEnd     = "[Pipeline] }"
	markerStageEnd     = "// stage"
	markerParallelEnd  = "// parallel"
	branchPrefix       = "Branch: "
)

var (
	// "[Pipeline] stage (Build)" from scripted pipelines
	inlineStageHeader = regexp.MustCompile(`^(?:\[Pipeline\] )?stage \((.+)\)\s*$`)
	// "[Pipeline] { (Build)" following a "[Pipeline] stage" line
	blockHeader = regexp.MustCompile(`^\[Pipeline\] \{ \((.+)\)\s*$`)
	// "[Pipeline] { (Branch: Unit)" or a bare "Branch: Unit"
	branchHeader = regexp.MustCompile(`(?:\{ \(Branch: (.+)\)|^\s*(?:\[Pipeline\] )?Branch: (.+?))\s*$`)
)

// Parse returns the stages of console. Structured stage info is used when
// present; otherwise the console text is scanned on its own.
func Parse(console string, stages []StageInfo) []types.Stage {
	if len(stages) > 0 {
		return ParseStructured(console, stages)
	}
	return Scan(console)
}

// ParseStructured slices console by the markers of each known stage. Markers
// that cannot be found yield an empty log, never an error.
func ParseStructured(console string, stages []StageInfo) []types.Stage {
	lines := splitLines(console)
	result := make([]types.Stage, 0, len(stages))

	for _, info := range stages {
		stage := types.Stage{
			Name:       info.Name,
			ID:         info.ID,
			Status:     info.Status,
			DurationMs: info.DurationMs,
		}

		start := findStageStart(lines, info.Name)

		if len(info.Nodes) <= 1 {
			stage.Log = sliceStage(lines, start)
			result = append(result, stage)
			continue
		}

		stage.IsParallel = true
		from := max(start, 0)
		for _, node := range info.Nodes {
			stage.Branches = append(stage.Branches, types.ParallelBranch{
				Name:       branchName(node.Name),
				ID:         node.ID,
				Status:     node.Status,
				DurationMs: node.DurationMs,
				Log:        sliceBranch(lines, from, node.Name),
			})
		}
		result = append(result, stage)
	}

	return result
}

func findStageStart(lines []string, name string) int {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := inlineStageHeader.FindStringSubmatch(trimmed); m != nil && m[1] == name {
			return i
		}
		if m := blockHeader.FindStringSubmatch(trimmed); m != nil && m[1] == name && i > 0 &&
			strings.TrimSpace(lines[i-1]) == markerStageStep {
			return i
		}
	}
	return -1
}

func sliceStage(lines []string, start int) string {
	if start < 0 {
		return ""
	}
	for end := start + 1; end < len(lines); end++ {
		if strings.Contains(lines[end], markerStageEnd) {
			return joinContent(lines[start+1 : end])
		}
	}
	return ""
}

func sliceBranch(lines []string, from int, name string) string {
	bare := branchName(name)
	header := regexp.MustCompile(`\{ \((?:` + regexp.QuoteMeta(branchPrefix) + `)?` + regexp.QuoteMeta(bare) + `\)` +
		`|` + regexp.QuoteMeta(branchPrefix) + regexp.QuoteMeta(bare) + `(?:\)|\s*$)`)

	for i := from; i < len(lines); i++ {
		if !header.MatchString(lines[i]) {
			continue
		}
		end := i + 1
		for ; end < len(lines); end++ {
			if strings.Contains(lines[end], markerBlockEnd) || strings.Contains(lines[end], markerParallelEnd) {
				break
			}
		}
		return joinContent(lines[i+1 : end])
	}
	return ""
}

func branchName(name string) string {
	return strings.TrimPrefix(name, branchPrefix)
}

// splitLines splits console text into lines without trailing carriage returns
func splitLines(console string) []string {
	if console == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(console, "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return lines
}

// joinContent drops structural pipeline markers and joins the remaining lines
func joinContent(lines []string) string {
	content := make([]string, 0, len(lines))
	for _, line := range lines {
		if isStructural(line) {
			continue
		}
		content = append(content, line)
	}
	return strings.Join(content, "\n")
}

func isStructural(line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == markerStageStep, trimmed == markerParallelStep, trimmed == markerBlockEnd:
		return true
	case strings.HasPrefix(trimmed, "[Pipeline] // "):
		return true
	case strings.HasPrefix(trimmed, "[Pipeline] { ("):
		return true
	}
	return false
}
