// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// reclaimOrphan is run before every spawn. It kills any process left over
// from a previous, uncleanly-terminated daemon run: first the PID recorded
// in state/<name>/mind.pid (if it's still alive and looks like the right
// executable), then, as a belt-and-braces check, whatever process is still
// bound to the mind's reserved port.
func reclaimOrphan(cfg Config) {
	if pid, ok := readPIDFile(cfg.StatePIDFile); ok {
		if processAlive(pid) && looksLikeExpectedExecutable(pid, cfg.Command) {
			syscall.Kill(-pid, syscall.SIGTERM)
			time.Sleep(500 * time.Millisecond)
			if processAlive(pid) {
				syscall.Kill(-pid, syscall.SIGKILL)
			}
		}
	}

	if !portHealthy(cfg.Port) {
		return
	}
	time.Sleep(500 * time.Millisecond)
	if !portHealthy(cfg.Port) {
		return
	}
	for _, pid := range pidsOwningPort(cfg.Port) {
		syscall.Kill(-pid, syscall.SIGTERM)
	}
	time.Sleep(500 * time.Millisecond)
	for _, pid := range pidsOwningPort(cfg.Port) {
		syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// killOrphanOnPort kills whatever process is still bound to port and
// answering /health, used after SleepManager stops a mind for sleep to
// catch a subprocess that ignored its SIGTERM/SIGKILL but somehow left
// the port listening (e.g. a grandchild it spawned).
func killOrphanOnPort(port int) {
	if !portHealthy(port) {
		return
	}
	for _, pid := range pidsOwningPort(port) {
		syscall.Kill(-pid, syscall.SIGTERM)
	}
	time.Sleep(500 * time.Millisecond)
	for _, pid := range pidsOwningPort(port) {
		syscall.Kill(-pid, syscall.SIGKILL)
	}
}

func readPIDFile(path string) (int, bool) {
	if path == "" {
		return 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// looksLikeExpectedExecutable checks /proc/<pid>/cmdline for the expected
// executable's basename. On failure to read (permissions, already gone,
// non-Linux), it conservatively assumes the PID is still the right
// process rather than risk leaving a real orphan running.
func looksLikeExpectedExecutable(pid int, command []string) bool {
	if len(command) == 0 {
		return true
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return true
	}
	cmdline := strings.ReplaceAll(string(data), "\x00", " ")
	want := command[0]
	if idx := strings.LastIndex(want, "/"); idx >= 0 {
		want = want[idx+1:]
	}
	return strings.Contains(cmdline, want)
}

// portHealthy reports whether something is listening on the mind's port
// and answering /health.
func portHealthy(port int) bool {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// pidsOwningPort parses /proc/net/tcp for sockets bound to port in the
// LISTEN state, then maps each inode back to a PID by scanning
// /proc/<pid>/fd symlinks. Linux-only; returns nil elsewhere.
func pidsOwningPort(port int) []int {
	inodes := listenInodes(port)
	if len(inodes) == 0 {
		return nil
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		fdDir := fmt.Sprintf("/proc/%d/fd", pid)
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(fdDir + "/" + fd.Name())
			if err != nil {
				continue
			}
			if inode, ok := socketInode(link); ok && inodes[inode] {
				pids = append(pids, pid)
				break
			}
		}
	}
	return pids
}

func socketInode(link string) (string, bool) {
	if !strings.HasPrefix(link, "socket:[") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(link, "socket:["), "]"), true
}

func listenInodes(port int) map[string]bool {
	f, err := os.Open("/proc/net/tcp")
	if err != nil {
		return nil
	}
	defer f.Close()

	hexPort := fmt.Sprintf("%04X", port)
	result := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		localAddr := fields[1] // "ADDR:PORT" hex
		st := fields[3]        // connection state, "0A" == LISTEN
		parts := strings.Split(localAddr, ":")
		if len(parts) != 2 || st != "0A" {
			continue
		}
		if strings.EqualFold(parts[1], hexPort) {
			result[fields[9]] = true // inode field
		}
	}
	return result
}
