// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package mind

import "os/exec"

// applyIsolation is a no-op on non-Unix platforms: process-credential
// isolation degrades to single-process kills, documented in the design
// notes as a platform difference rather than a feature gap to close.
func applyIsolation(cmd *exec.Cmd, cfg Config) {}

func chownForIsolation(path string, cfg Config) error { return nil }
