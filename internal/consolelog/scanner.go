package consolelog

import (
	"strings"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

type scanState int

const (
	stateOutside scanState = iota
	stateInStage
	stateInParallel
	stateInBranch
)

func (s scanState) String() string {
	switch s {
	case stateOutside:
		return "outside"
	case stateInStage:
		return "in-stage"
	case stateInParallel:
		return "in-parallel"
	case stateInBranch:
		return "in-branch"
	default:
		return "unknown"
	}
}

// scanner is the single-pass state machine used when no structured stage info exists.
// Stages or parallel blocks nested inside a branch are flattened into that branch.
type scanner struct {
	state        scanState
	pendingStage bool
	depth        int

	stage       *types.Stage
	stageLines  []string
	branch      *types.ParallelBranch
	branchLines []string

	result []types.Stage
}

// Scan recovers stages from console text alone
func Scan(console string) []types.Stage {
	sc := &scanner{}
	for _, line := range splitLines(console) {
		sc.step(line)
	}
	sc.flushStage()
	return sc.result
}

// step applies one input line to the state machine
func (sc *scanner) step(line string) {
	trimmed := strings.TrimSpace(line)
	header, isHeader := sc.stageHeader(trimmed)
	branch, isBranch := matchBranch(trimmed)

	switch sc.state {
	case stateOutside:
		if isHeader {
			sc.openStage(header)
		}

	case stateInStage:
		switch {
		case isHeader:
			sc.flushStage()
			sc.openStage(header)
		case trimmed == markerParallelStep:
			sc.state = stateInParallel
		case isBranch:
			sc.state = stateInParallel
			sc.openBranch(branch)
		case strings.Contains(trimmed, markerStageEnd):
			sc.flushStage()
		default:
			sc.appendStage(line)
		}

	case stateInParallel:
		switch {
		case isBranch:
			sc.openBranch(branch)
		case strings.Contains(trimmed, markerParallelEnd):
			sc.state = stateInStage
		case strings.Contains(trimmed, markerStageEnd):
			sc.flushStage()
		default:
			sc.appendStage(line)
		}

	case stateInBranch:
		switch {
		case isBranch && sc.depth == 0:
			sc.closeBranch()
			sc.openBranch(branch)
		case strings.HasPrefix(trimmed, "[Pipeline] {"):
			sc.depth++
		case trimmed == markerBlockEnd:
			if sc.depth == 0 {
				sc.closeBranch()
				sc.state = stateInParallel
				return
			}
			sc.depth--
		case strings.Contains(trimmed, markerParallelEnd) && sc.depth == 0:
			sc.closeBranch()
			sc.state = stateInStage
		default:
			sc.appendBranch(line)
		}
	}
}

// stageHeader recognises "stage (Name)" and the "[Pipeline] stage" + "[Pipeline] { (Name)" pair
func (sc *scanner) stageHeader(trimmed string) (string, bool) {
	pending := sc.pendingStage
	sc.pendingStage = trimmed == markerStageStep

	if sc.state == stateInBranch {
		return "", false
	}
	if m := inlineStageHeader.FindStringSubmatch(trimmed); m != nil {
		return m[1], true
	}
	if pending {
		if m := blockHeader.FindStringSubmatch(trimmed); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func matchBranch(trimmed string) (string, bool) {
	m := branchHeader.FindStringSubmatch(trimmed)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

func (sc *scanner) openStage(name string) {
	sc.stage = &types.Stage{Name: name}
	sc.stageLines = nil
	sc.state = stateInStage
}

func (sc *scanner) openBranch(name string) {
	sc.branch = &types.ParallelBranch{Name: name}
	sc.branchLines = nil
	sc.depth = 0
	sc.state = stateInBranch
}

func (sc *scanner) appendStage(line string) {
	if isStructural(line) {
		return
	}
	sc.stageLines = append(sc.stageLines, line)
}

func (sc *scanner) appendBranch(line string) {
	if isStructural(line) {
		return
	}
	sc.branchLines = append(sc.branchLines, line)
}

func (sc *scanner) closeBranch() {
	if sc.branch == nil || sc.stage == nil {
		sc.branch = nil
		return
	}
	sc.branch.Log = strings.Join(sc.branchLines, "\n")
	sc.stage.Branches = append(sc.stage.Branches, *sc.branch)
	sc.stage.IsParallel = true
	sc.branch = nil
	sc.branchLines = nil
}

// flushStage closes whatever is open and appends the stage to the result
func (sc *scanner) flushStage() {
	sc.closeBranch()
	if sc.stage != nil {
		sc.stage.Log = strings.Join(sc.stageLines, "\n")
		sc.result = append(sc.result, *sc.stage)
	}
	sc.stage = nil
	sc.stageLines = nil
	sc.depth = 0
	sc.state = stateOutside
}
