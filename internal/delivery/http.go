// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Poster delivers a payload to a mind's local HTTP API and reports when
// the mind's NDJSON response stream signals completion.
type Poster interface {
	// Post sends payload to the mind listening on port. The returned
	// channel is closed when the response stream's "done" event arrives,
	// the stream ends, or ctx is canceled — whichever comes first. A
	// non-nil error means the POST itself failed (connection refused,
	// non-2xx status); the done channel is still returned closed so
	// callers can treat it uniformly.
	Post(ctx context.Context, port int, payload map[string]interface{}) (done <-chan struct{}, err error)
}

// httpPoster is the production Poster, POSTing to
// http://127.0.0.1:<port>/message exactly as MindManager's pending-context
// delivery does, but consuming the full NDJSON response stream to detect
// the "done" event used to decrement session activity.
type httpPoster struct {
	client http.Client
}

// NewHTTPPoster constructs the default Poster with the given per-request
// timeout bounding the whole POST + stream-read, per spec §5's "all HTTP
// requests ... may suspend."
func NewHTTPPoster(timeout time.Duration) Poster {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpPoster{client: http.Client{Timeout: timeout}}
}

func (p *httpPoster) Post(ctx context.Context, port int, payload map[string]interface{}) (<-chan struct{}, error) {
	done := make(chan struct{})

	body, err := json.Marshal(payload)
	if err != nil {
		close(done)
		return done, fmt.Errorf("delivery: marshal payload: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/message", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		close(done)
		return done, fmt.Errorf("delivery: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		close(done)
		return done, fmt.Errorf("delivery: post to mind: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		close(done)
		return done, fmt.Errorf("delivery: mind responded %s", resp.Status)
	}

	go func() {
		defer close(done)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var frame struct {
				Type string `json:"type"`
			}
			if jsonErr := json.Unmarshal(scanner.Bytes(), &frame); jsonErr == nil && frame.Type == "done" {
				return
			}
		}
	}()

	return done, nil
}
