// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tgt, err := Parse("NVGPU")
	require.NoError(t, err)
	assert.True(t, tgt.IsGPU())
	assert.Equal(t, 1024, tgt.MaxThreadsPerBlock)
	assert.Equal(t, "NVGPU(threads=1024, warp=32)", tgt.String())

	tgt, err = Parse("host")
	require.NoError(t, err)
	assert.False(t, tgt.IsGPU())
	assert.Equal(t, "Host", tgt.String())

	_, err = Parse("tpu")
	require.Error(t, err)
	_, err = Parse("unknown")
	require.Error(t, err)
}
