// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// scriptJob describes one script-schedule invocation.
type scriptJob struct {
	Script  string
	WorkDir string
	Timeout time.Duration
	RunAs   string // OS username; empty means no isolation
}

// runScript runs job.Script under a bounded timeout, the same
// exec.CommandContext-with-timeout pattern the teacher's
// workflow.RealRunner uses for streaming command execution, reduced to
// a single bash -c invocation whose combined output becomes the
// schedule's message text. Empty/whitespace output is reported back as
// "" so the caller can treat it as a no-op, matching spec §4.7.
func runScript(ctx context.Context, job scriptJob) (string, error) {
	if job.Timeout <= 0 {
		job.Timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", job.Script)
	if job.WorkDir != "" {
		cmd.Dir = job.WorkDir
	}
	if job.RunAs != "" {
		if err := runAsUser(cmd, job.RunAs); err != nil {
			return "", fmt.Errorf("resolve run-as user %s: %w", job.RunAs, err)
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("script timed out after %s", job.Timeout)
		}
		return "", fmt.Errorf("%v: %s", err, strings.TrimSpace(out.String()))
	}

	return strings.TrimSpace(out.String()), nil
}
