// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"encoding/json"
	"fmt"
	"os"
)

// UnmarshalJSON accepts the polymorphic wire shape for a session's
// delivery field: either a bare string ("immediate" | "batch") or an
// object carrying a BatchSpec (optionally with its own "mode" field).
// An object with no explicit mode implies batch mode, since a BatchSpec
// object only makes sense as a batching configuration.
func (d *Delivery) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		d.Mode = asString
		return nil
	}

	var obj struct {
		Mode     string   `json:"mode"`
		Debounce float64  `json:"debounce"`
		MaxWait  float64  `json:"maxWait"`
		Triggers []string `json:"triggers"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("routing: invalid delivery value: %w", err)
	}
	d.Mode = obj.Mode
	if d.Mode == "" {
		d.Mode = "batch"
	}
	d.Batch = BatchSpec{Debounce: obj.Debounce, MaxWait: obj.MaxWait, Triggers: obj.Triggers}
	return nil
}

// MarshalJSON round-trips Delivery back to its object form. Always emits
// the object shape (never the bare string) so round-tripped config never
// silently loses a BatchSpec that happened to equal the zero value.
func (d Delivery) MarshalJSON() ([]byte, error) {
	obj := struct {
		Mode     string   `json:"mode,omitempty"`
		Debounce float64  `json:"debounce,omitempty"`
		MaxWait  float64  `json:"maxWait,omitempty"`
		Triggers []string `json:"triggers,omitempty"`
	}{Mode: d.Mode, Debounce: d.Batch.Debounce, MaxWait: d.Batch.MaxWait, Triggers: d.Batch.Triggers}
	return json.Marshal(obj)
}

// Load reads and parses a routes.json file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("routing: parse %s: %w", path, err)
	}
	return cfg, nil
}
