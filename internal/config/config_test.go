package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 513, cfg.ImageSize)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.Equal(t, 300_000, cfg.NSteps)
	assert.Equal(t, 100, cfg.PrintEvery)
	assert.Equal(t, 1000, cfg.EvalEvery)
	assert.Equal(t, 0.0005, cfg.WeightDecay)
	assert.Zero(t, cfg.Momentum)
	assert.Equal(t, 16, cfg.OutputStride)
	assert.True(t, cfg.MixedPrecision)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DEEPLAB_IMAGE_DIR", " '/data/img' ")
	t.Setenv("DEEPLAB_STEPS", "30_000")
	t.Setenv("DEEPLAB_LR", "0.007")
	t.Setenv("DEEPLAB_AMP", "false")
	t.Setenv("DEEPLAB_OUTPUT_STRIDE", "8")
	t.Setenv("DEEPLAB_SEED", "42")

	cfg := Load()
	assert.Equal(t, "/data/img", cfg.ImageDir)
	assert.Equal(t, 30_000, cfg.NSteps)
	assert.Equal(t, 0.007, cfg.BaseLR)
	assert.False(t, cfg.MixedPrecision)
	assert.Equal(t, 8, cfg.OutputStride)
	assert.Equal(t, int64(42), cfg.Seed)
}

func TestApplyEnv_InvalidKeepsDefault(t *testing.T) {
	t.Setenv("DEEPLAB_BATCH_SIZE", "sixteen")
	t.Setenv("DEEPLAB_DEBUG", "maybe")

	cfg := Load()
	assert.Equal(t, 16, cfg.BatchSize)
	assert.False(t, cfg.Debug)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"batch", func(c *Config) { c.BatchSize = 0 }, "batch size"},
		{"steps", func(c *Config) { c.NSteps = -1 }, "steps"},
		{"stride", func(c *Config) { c.OutputStride = 32 }, "output stride"},
		{"lr", func(c *Config) { c.BaseLR = 0 }, "learning rate"},
		{"momentum", func(c *Config) { c.Momentum = 1 }, "momentum"},
		{"decay", func(c *Config) { c.WeightDecay = -1 }, "weight decay"},
		{"dirs", func(c *Config) { c.MaskDir = "" }, "directories"},
		{"save", func(c *Config) { c.SaveEvery = -5 }, "save interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	cfg.ImageDir, cfg.MaskDir, cfg.Synthetic = "", "", 8
	assert.NoError(t, cfg.Validate(), "synthetic data needs no directories")
}

func TestEnvVars(t *testing.T) {
	cfg := Default()
	vars := cfg.EnvVars()
	require.NotEmpty(t, vars)

	byName := map[string]EnvVar{}
	for _, v := range vars {
		assert.NotEmpty(t, v.Description, v.Name)
		byName[v.Name] = v
	}
	assert.Equal(t, 16, byName["DEEPLAB_BATCH_SIZE"].Value)
	assert.Equal(t, true, byName["DEEPLAB_AMP"].Value)
}

func TestLogLevel(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "INFO", cfg.LogLevel().String())
	cfg.Debug = true
	assert.Equal(t, "DEBUG", cfg.LogLevel().String())
}
