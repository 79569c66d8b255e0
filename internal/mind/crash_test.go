// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCrash(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
		code  int
		want  CrashReason
	}{
		{"panic", []string{"panic: runtime error: nil pointer", "goroutine 1 [running]:"}, 2, CrashReasonPanic},
		{"oom", []string{"fatal error: out of memory"}, 137, CrashReasonOOM},
		{"signal", []string{"signal: segmentation fault"}, -1, CrashReasonSignal},
		{"negative exit with no message", []string{"bye"}, -1, CrashReasonSignal},
		{"unknown", []string{"something went wrong"}, 1, CrashReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyCrash(tc.lines, tc.code))
		})
	}
}
