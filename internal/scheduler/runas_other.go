// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package scheduler

import "os/exec"

// runAsUser is a no-op on non-Unix platforms; see mind/isolation_other.go
// for the equivalent platform-difference note.
func runAsUser(cmd *exec.Cmd, username string) error { return nil }
