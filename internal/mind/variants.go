// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"strings"
	"sync"

	"github.com/volute/volute/internal/atomicfile"
)

// variantStore resolves a composite "base@variant" mind name to its
// underlying base mind. Minds absent from the store are treated as
// literal, non-variant names, so the common case is unaffected.
type variantStore struct {
	path string
	mu   sync.RWMutex
	base map[string]string // variant name -> base mind name
}

func newVariantStore(path string) *variantStore {
	vs := &variantStore{path: path, base: make(map[string]string)}
	var m map[string]string
	if err := atomicfile.ReadJSON(path, &m); err == nil {
		vs.base = m
	}
	return vs
}

// resolveVariant splits "base@variant" and, if "variant" is registered in
// variants.json, returns the base mind name it maps to; otherwise it
// returns name unchanged.
func (vs *variantStore) resolveVariant(name string) string {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if _, variant, ok := strings.Cut(name, "@"); ok {
		if base, known := vs.base[variant]; known {
			return base
		}
	}
	return name
}

// lookup returns the base mind registered for variant, if any.
func (vs *variantStore) lookup(variant string) (string, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	base, ok := vs.base[variant]
	return base, ok
}

func (vs *variantStore) set(variant, base string) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.base[variant] = base
	return atomicfile.WriteJSON(vs.path, vs.base)
}

func (vs *variantStore) remove(variant string) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.base, variant)
	return atomicfile.WriteJSON(vs.path, vs.base)
}
