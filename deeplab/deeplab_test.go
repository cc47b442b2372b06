// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package deeplab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/deeplab/backend/cpu"
	"github.com/born-ml/deeplab/deeplab"
	"github.com/born-ml/deeplab/tensor"
)

func smallConfig() deeplab.Config {
	cfg := deeplab.DefaultConfig()
	cfg.NumClasses = 4
	cfg.Depth = 50
	cfg.BaseWidth = 2
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := deeplab.DefaultConfig()
	assert.Equal(t, 21, cfg.NumClasses)
	assert.Equal(t, 101, cfg.Depth)
	assert.Equal(t, 16, cfg.OutputStride)
	assert.Equal(t, [3]int{1, 2, 4}, cfg.MultiGrid)
	require.NoError(t, cfg.Validate())

	rates, err := deeplab.AtrousRates(cfg.OutputStride)
	require.NoError(t, err)
	assert.Equal(t, [3]int{6, 12, 18}, rates)
}

func TestPredict(t *testing.T) {
	backend := cpu.New(cpu.WithParallel(cpu.Sequential()))
	m, err := deeplab.New(smallConfig(), backend)
	require.NoError(t, err)
	require.True(t, m.Training())

	images := tensor.Randn(tensor.Shape{2, 3, 33, 47}, backend)
	labels := deeplab.Predict(m, images)

	assert.Equal(t, tensor.Shape{2, 33, 47}, labels.Shape())
	for _, v := range labels.Data() {
		require.GreaterOrEqual(t, v, int32(0))
		require.Less(t, v, int32(4))
	}
	assert.True(t, m.Training(), "Predict restores training mode")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.OutputStride = 32
	_, err := deeplab.New(cfg, cpu.New())
	require.Error(t, err)
}
