// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/volute/volute/internal/routing"
	"github.com/volute/volute/internal/watcher"
)

// debounceKey is the single key every bucket's private Debouncer ever uses.
// Debouncer is keyed so one instance could in principle serve many
// independent timers; a bucket only ever needs one, so the key is a
// constant rather than something callers choose.
const debounceKey = "flush"

// bucket holds the batch buffer and session activity state for one
// (mind, session) pair, guarded by its own mutex so unrelated sessions
// never contend with each other — the same per-key locking granularity
// the teacher uses for per-service state in ServiceManager.
type bucket struct {
	mu            sync.Mutex
	buffer        []bufferedMessage
	debouncer     *watcher.Debouncer
	maxWaitTimer  *time.Timer
	activity      sessionActivity
}

func newBucket() *bucket {
	return &bucket{debouncer: watcher.NewDebouncer(time.Second)}
}

// cancelTimers stops any pending debounce/maxWait timers. Called with
// b.mu held, immediately before or after a flush so a stale timer never
// fires against an already-emptied buffer.
func (b *bucket) cancelTimers() {
	b.debouncer.Cancel(debounceKey)
	if b.maxWaitTimer != nil {
		b.maxWaitTimer.Stop()
		b.maxWaitTimer = nil
	}
}

func durSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// containsTrigger reports whether text contains any of triggers,
// case-insensitively.
func containsTrigger(text string, triggers []string) bool {
	lower := strings.ToLower(text)
	for _, t := range triggers {
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func flattenText(parts []ContentPart) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == "text" || p.Type == "" {
			sb.WriteString(p.Text)
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

// shouldInterrupt evaluates the new-speaker-interrupt law against the
// bucket's current activity state and the candidate message. Called with
// b.mu held.
func shouldInterrupt(a sessionActivity, spec routing.BatchSpec, channel, sender string) bool {
	if a.activeCount <= 0 {
		return false
	}
	if spec.MaxWait <= 0 {
		return false
	}
	now := time.Now()
	if a.lastDeliveredAt.IsZero() || now.Sub(a.lastDeliveredAt) > durSeconds(spec.MaxWait) {
		return false
	}
	if spec.Debounce > 0 && now.Sub(a.lastInterruptAt) <= durSeconds(spec.Debounce) {
		return false
	}
	if sender == "" {
		return false
	}
	if _, spoke := a.lastDeliverySenders[sender]; spoke {
		return false
	}
	if _, sameChannel := a.lastDeliveryChannels[channel]; !sameChannel {
		return false
	}
	return true
}

// recordDelivery updates the activity snapshot after a delivery (batch
// flush or immediate) whose senders/channels are given. Called with
// b.mu held.
func (b *bucket) recordDelivery(senders, channels []string) {
	b.activity.lastDeliveredAt = time.Now()
	b.activity.lastDeliverySenders = toSet(senders)
	b.activity.lastDeliveryChannels = toSet(channels)
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// buildBatchPayload constructs the combined flush payload for msgs,
// prefixing a "[Batch: ...]" header text block ahead of each buffered
// message's own content, per the wire contract the mind child API's
// /message handler expects.
func buildBatchPayload(msgs []bufferedMessage, sessionCfg routing.SessionConfig) map[string]interface{} {
	header := buildBatchHeader(msgs)
	content := instructionsPrelude(sessionCfg)
	content = append(content, ContentPart{Type: "text", Text: header})
	for _, m := range msgs {
		for _, p := range m.content {
			if p.Type == "text" || p.Type == "" {
				content = append(content, ContentPart{Type: "text", Text: fmt.Sprintf("%s: %s", m.sender, p.Text)})
				continue
			}
			content = append(content, p)
		}
	}

	last := msgs[len(msgs)-1]
	return map[string]interface{}{
		"content":   content,
		"channel":   last.channel,
		"sender":    last.sender,
		"autoReply": sessionCfg.AutoReply,
	}
}

// buildBatchHeader renders "[Batch: <channel> (#count messages)]" naming
// the distinct channels represented in msgs.
func buildBatchHeader(msgs []bufferedMessage) string {
	seen := make(map[string]struct{})
	var channels []string
	for _, m := range msgs {
		if _, ok := seen[m.channel]; !ok {
			seen[m.channel] = struct{}{}
			channels = append(channels, m.channel)
		}
	}
	return fmt.Sprintf("[Batch: %s (%d messages)]", strings.Join(channels, ", "), len(msgs))
}

func buildImmediatePayload(msg bufferedMessage, sessionCfg routing.SessionConfig) map[string]interface{} {
	content := append(instructionsPrelude(sessionCfg), msg.content...)
	return map[string]interface{}{
		"content":   content,
		"channel":   msg.channel,
		"sender":    msg.sender,
		"autoReply": sessionCfg.AutoReply,
	}
}

// instructionsPrelude renders sessionCfg.Instructions, if set, as a
// leading "[Session instructions: ...]" text block, per spec §4.9's
// immediate-path description ("optional instructions prepended as a
// [Session instructions: ...] text prelude").
func instructionsPrelude(sessionCfg routing.SessionConfig) []ContentPart {
	if sessionCfg.Instructions == "" {
		return nil
	}
	return []ContentPart{{Type: "text", Text: fmt.Sprintf("[Session instructions: %s]", sessionCfg.Instructions)}}
}
