// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/volute/volute/internal/rotatinglog"
)

// fileSink appends routed messages to a rule's configured file
// destination via the same size-bounded RotatingLog every mind's
// captured output goes through, rather than a bespoke writer — spec
// §4's file-sink description ("append-only ... rotates when the active
// file exceeds a size threshold") is RotatingLog's contract verbatim.
type fileSink struct {
	mu    sync.Mutex
	logs  map[string]*rotatinglog.Log
	base  func(mind string) string
}

func newFileSink(base func(mind string) string) *fileSink {
	return &fileSink{logs: make(map[string]*rotatinglog.Log), base: base}
}

// append writes msg's flattened text to mind's rule-relative path,
// opening (or reusing) the RotatingLog for that resolved path.
func (s *fileSink) append(mind, relPath string, msg Message) error {
	full := filepath.Join(s.base(mind), relPath)

	s.mu.Lock()
	log, ok := s.logs[full]
	if !ok {
		log = rotatinglog.Open(rotatinglog.Config{Path: full})
		s.logs[full] = log
	}
	s.mu.Unlock()

	line := fmt.Sprintf("[%s] %s: %s", msg.Channel, msg.Sender, flattenText(msg.Content))
	return log.WriteLine(line)
}

// close releases every open file handle. Intended for Manager.Dispose.
func (s *fileSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, log := range s.logs {
		_ = log.Close()
		delete(s.logs, path)
	}
}
