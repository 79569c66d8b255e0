// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantStore_ResolvesAndFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variants.json")
	vs := newVariantStore(path)

	// Non-variant literal name passes through unchanged.
	assert.Equal(t, "alpha", vs.resolveVariant("alpha"))
	// "@variant" with no registered entry: treated literally.
	assert.Equal(t, "alpha@unknown", vs.resolveVariant("alpha@unknown"))

	require.NoError(t, vs.set("staging", "alpha"))
	assert.Equal(t, "alpha", vs.resolveVariant("alpha@staging"))

	reloaded := newVariantStore(path)
	assert.Equal(t, "alpha", reloaded.resolveVariant("alpha@staging"))

	require.NoError(t, vs.remove("staging"))
	assert.Equal(t, "alpha@staging", vs.resolveVariant("alpha@staging"))
}
