// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOrphanReclamation covers spec seed scenario 6: a leftover process
// from a prior daemon lifetime is still bound to a mind's reserved port and
// answering /health when StartMind is called. Orphan reclamation must kill
// it before spawning the real mind.
//
// The orphan is the test binary itself, re-executed with a sentinel env var
// (the standard os/exec-test trick — see TestHelperProcess below) so no
// extra fixture binary needs to be built.
func TestOrphanReclamation(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("orphan reclamation's port->pid mapping is Linux-only (/proc/net/tcp)")
	}

	port := freePort(t)

	orphan := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	orphan.Env = append(os.Environ(),
		"VOLUTE_WANT_HELPER_PROCESS=1",
		fmt.Sprintf("VOLUTE_HELPER_PORT=%d", port),
	)
	orphan.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, orphan.Start())
	defer func() {
		// Best-effort cleanup if the test fails before reclamation runs.
		_ = syscall.Kill(-orphan.Process.Pid, syscall.SIGKILL)
		_ = orphan.Wait()
	}()

	require.Eventually(t, func() bool {
		return portHealthy(port)
	}, 5*time.Second, 20*time.Millisecond, "orphan never came up on its port")

	reclaimOrphan(Config{
		Port:    port,
		Command: []string{"run.sh"},
	})

	assert.Eventually(t, func() bool {
		return !portHealthy(port)
	}, 2*time.Second, 20*time.Millisecond, "orphan should no longer answer /health after reclamation")

	waitErr := make(chan error, 1)
	go func() { waitErr <- orphan.Wait() }()
	select {
	case <-waitErr:
	case <-time.After(2 * time.Second):
		t.Fatal("orphan process did not exit after reclamation")
	}
}

// TestHelperProcess is not a real test: it only runs its body when invoked
// as a re-exec'd subprocess with VOLUTE_WANT_HELPER_PROCESS set, standing in
// for a leftover mind process that is still answering /health.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("VOLUTE_WANT_HELPER_PROCESS") != "1" {
		return
	}
	port := os.Getenv("VOLUTE_HELPER_PORT")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: "127.0.0.1:" + port, Handler: mux}
	_ = srv.ListenAndServe()
}
