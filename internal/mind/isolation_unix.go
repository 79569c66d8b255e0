// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package mind

import (
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
)

// applyIsolation sets the spawned command's credential to the mind's
// dedicated OS user when isolation is enabled, the idiomatic Go equivalent
// of "run this process under a restricted user context."
func applyIsolation(cmd *exec.Cmd, cfg Config) {
	if !cfg.IsolationEnabled || cfg.IsolationUser == "" {
		return
	}
	u, err := user.Lookup(cfg.IsolationUser)
	if err != nil {
		return
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return
	}
	cmd.SysProcAttr.Credential = &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}
}

// chownForIsolation recursively hands the mind's state directory to its
// dedicated OS user/group so the isolated process can write to it.
func chownForIsolation(path string, cfg Config) error {
	if !cfg.IsolationEnabled || cfg.IsolationUser == "" {
		return nil
	}
	u, err := user.Lookup(cfg.IsolationUser)
	if err != nil {
		return err
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(p, uid, gid)
	})
}
