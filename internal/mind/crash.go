// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"regexp"
	"strings"
)

// CrashReason categorizes why a mind crashed, trimmed from the teacher's
// crashes.CrashReason to the subset meaningful for a mind subprocess: no
// worktree/trace-id linkage, since minds don't have worktrees.
type CrashReason string

const (
	CrashReasonPanic   CrashReason = "panic"
	CrashReasonOOM     CrashReason = "oom"
	CrashReasonSignal  CrashReason = "signal"
	CrashReasonUnknown CrashReason = "unknown"
)

var (
	panicPattern  = regexp.MustCompile(`(?i)panic:|goroutine \d+ \[`)
	oomPattern    = regexp.MustCompile(`(?i)out of memory|oom.?killed|cannot allocate memory`)
	signalPattern = regexp.MustCompile(`(?i)signal: (segmentation fault|killed|aborted|illegal instruction)`)
)

// classifyCrash scans the last N captured log lines and returns a short
// reason annotating the mind_idle/mind_stopped pair emitted on crash.
func classifyCrash(lines []string, exitCode int) CrashReason {
	tail := strings.Join(lines, "\n")
	switch {
	case panicPattern.MatchString(tail):
		return CrashReasonPanic
	case oomPattern.MatchString(tail):
		return CrashReasonOOM
	case signalPattern.MatchString(tail), exitCode < 0:
		return CrashReasonSignal
	default:
		return CrashReasonUnknown
	}
}
