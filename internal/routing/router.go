// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"strings"

	"github.com/google/uuid"
)

// Route decides where msg should go under cfg. It is a pure function:
// the same (cfg, msg) pair always yields the same Decision, with zero I/O
// and zero shared state — the law DeliveryManager's caller relies on
// ("routeAndDeliver is pure-in-config for the routing decision").
func Route(cfg Config, msg Message) Decision {
	for _, rule := range cfg.Rules {
		if !CompileGlob(rule.Channel).Match(msg.Channel) {
			continue
		}
		if rule.Mode == "mention" && !mentions(msg.Text) {
			return Decision{Routed: false, Reason: "mention-filtered"}
		}
		if rule.Destination == "file" {
			return Decision{Routed: true, Destination: "file", Path: rule.Path}
		}
		return mindDecision(cfg, rule.Session)
	}

	if cfg.GateUnmatchedOrDefault() {
		return Decision{Routed: true, Destination: "mind", Mode: "gated"}
	}
	// Unmatched fallback to the default session always delivers
	// immediately, bypassing any batch upgrade the session config would
	// otherwise apply to a matched rule.
	return Decision{Routed: true, Destination: "mind", Session: cfg.Default, Mode: "immediate"}
}

// mentions reports whether text references the mind by name. The spec
// leaves the exact mention grammar to the implementation; this checks for
// the literal "@mind" token case-insensitively, matching the trigger
// convention used throughout the routing examples in the spec ("@mind").
func mentions(text string) bool {
	return strings.Contains(strings.ToLower(text), "@mind")
}

func mindDecision(cfg Config, session string) Decision {
	if session == "$new" {
		session = "new-" + uuid.New().String()[:8]
	}

	mode := "immediate"
	if sc, ok := cfg.Sessions[session]; ok && sc.Delivery.Mode == "batch" {
		mode = "batch"
	}
	return Decision{Routed: true, Destination: "mind", Session: session, Mode: mode}
}
