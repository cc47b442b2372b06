package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "deeplab version "+version+"\n", run(t, "version"))
	assert.Equal(t, "deeplab version "+version+"\n", run(t, "--version"))
}

func TestEnv(t *testing.T) {
	t.Setenv("DEEPLAB_STEPS", "1_000")

	out := run(t, "env")
	assert.Regexp(t, `DEEPLAB_STEPS\s+1000\s+Total training steps`, out)
	assert.Regexp(t, `DEEPLAB_OUTPUT_STRIDE\s+16\s`, out)
}

func TestSummary(t *testing.T) {
	out := run(t, "summary", "--depth", "50", "--base-width", "2", "--num-classes", "3", "--output-stride", "8")

	assert.Contains(t, out, "DeepLabv3-ResNet50, 3 classes, output stride 8, ASPP rates [12 24 36]")
	assert.Regexp(t, `backbone\.layer1\s+3\s+1\s+1\s`, out)
	assert.Regexp(t, `backbone\.layer3\s+6\s+1\s+2\s`, out)
	assert.Regexp(t, `backbone\.layer4\s+3\s+1\s+16\s`, out, "multi-grid 4 on dilation 4")
	assert.Regexp(t, `total\s+[\d,]+`, out)
}

func TestTrain_Synthetic(t *testing.T) {
	if testing.Short() {
		t.Skip("trains a small network")
	}
	dir := t.TempDir()

	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"train",
		"--synthetic", "4",
		"--image-size", "16",
		"--num-classes", "3",
		"--depth", "50",
		"--base-width", "2",
		"--batch-size", "2",
		"--steps", "2",
		"--print-every", "1",
		"--eval-every", "2",
		"--amp=false",
		"--checkpoint-dir", dir,
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	lines := regexp.MustCompile(`\[ 2/2 \]\[ 0\.000000 \]\[ \d+:\d\d:\d\d \]\[ Average mIoU: \d\.\d{4} \]`)
	assert.Regexp(t, lines, out.String())

	_, err := os.Stat(filepath.Join(dir, "step-0000002.safetensors"))
	require.NoError(t, err)

	evalOut := run(t, "eval", filepath.Join(dir, "step-0000002.safetensors"),
		"--synthetic", "4", "--image-size", "16", "--num-classes", "3", "--depth", "50", "--base-width", "2")
	assert.Regexp(t, `^\[ Average mIoU: \d\.\d{4} \]\n$`, evalOut)
}

func TestTrain_InvalidConfig(t *testing.T) {
	cmd := NewCLI()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"train", "--synthetic", "4", "--output-stride", "32"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output stride")
}
