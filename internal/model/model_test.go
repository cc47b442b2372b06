package model

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/deeplab/internal/autodiff"
	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/serialization"
	"github.com/born-ml/deeplab/internal/tensor"
)

type cpuBackend = *cpu.CPUBackend

func tinyConfig(outputStride int) Config {
	return Config{
		NumClasses:   3,
		Depth:        50,
		BaseWidth:    4,
		OutputStride: outputStride,
		MultiGrid:    [3]int{1, 2, 4},
	}
}

func TestDeepLabv3_OutputMatchesInputResolution(t *testing.T) {
	backend := cpu.New()
	m, err := New(tinyConfig(16), backend)
	require.NoError(t, err)
	m.SetTraining(false)

	x := tensor.Randn(tensor.Shape{2, 3, 224, 224}, backend)
	out := m.Forward(x)
	assert.Equal(t, tensor.Shape{2, 3, 224, 224}, out.Shape())
}

func TestDeepLabv3_OddInputSize(t *testing.T) {
	backend := cpu.New()
	m, err := New(tinyConfig(8), backend)
	require.NoError(t, err)
	m.SetTraining(false)

	x := tensor.Randn(tensor.Shape{1, 3, 57, 41}, backend)
	assert.Equal(t, tensor.Shape{1, 3, 57, 41}, m.Forward(x).Shape())
}

func TestASPP_ChannelsIndependentOfInput(t *testing.T) {
	backend := cpu.New()
	rates, err := AtrousRates(16)
	require.NoError(t, err)

	for _, in := range []int{1, 7, 64} {
		aspp := NewASPP("aspp", in, rates, backend)
		x := tensor.Randn(tensor.Shape{2, in, 9, 5}, backend)

		out := aspp.Forward(x)
		assert.Equal(t, tensor.Shape{2, 256 * 5, 9, 5}, out.Shape(), "in=%d", in)
		assert.Equal(t, 256*5, aspp.OutChannels())
	}
}

func TestImagePooling_BroadcastsGlobalContext(t *testing.T) {
	backend := cpu.New()
	p := NewImagePooling("image_pooling", 2, backend)
	p.SetTraining(false)

	out := p.Forward(tensor.Randn(tensor.Shape{1, 2, 4, 3}, backend))
	require.Equal(t, tensor.Shape{1, 256, 4, 3}, out.Shape())

	// Upsampling a 1x1 map is constant over the spatial grid.
	data := out.Data()
	for c := 0; c < 256; c++ {
		plane := data[c*12 : (c+1)*12]
		for _, v := range plane {
			assert.InDelta(t, plane[0], v, 1e-6)
		}
	}
}

func TestAtrousRates(t *testing.T) {
	rates, err := AtrousRates(16)
	require.NoError(t, err)
	assert.Equal(t, [3]int{6, 12, 18}, rates)

	rates, err = AtrousRates(8)
	require.NoError(t, err)
	assert.Equal(t, [3]int{12, 24, 36}, rates)

	_, err = AtrousRates(32)
	assert.Error(t, err)
}

func bottleneck(t *testing.T, r *ResNet[cpuBackend], layer, block int) *Bottleneck[cpuBackend] {
	t.Helper()
	b, ok := r.Layer(layer).Module(block).(*Bottleneck[cpuBackend])
	require.True(t, ok)
	return b
}

func TestResNet_OutputStride(t *testing.T) {
	tests := []struct {
		name         string
		outputStride int
		featureSize  int
		layer3       []int // dilations of layer3's blocks
		layer3Stride int
		layer4       []int
		layer4Stride int
	}{
		{"os32", 32, 2, []int{1, 1, 1, 1, 1, 1}, 2, []int{1, 2, 4}, 2},
		{"os16", 16, 4, []int{1, 1, 1, 1, 1, 1}, 2, []int{2, 4, 8}, 1},
		{"os8", 8, 8, []int{1, 2, 2, 2, 2, 2}, 1, []int{4, 8, 16}, 1},
	}

	backend := cpu.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResNet("backbone", ResNetConfig{
				Depth: 50, BaseWidth: 2, OutputStride: tt.outputStride, MultiGrid: [3]int{1, 2, 4},
			}, backend)
			require.NoError(t, err)

			for j, d := range tt.layer3 {
				assert.Equal(t, d, bottleneck(t, r, 3, j).Dilation(), "layer3.%d", j)
			}
			for j, d := range tt.layer4 {
				assert.Equal(t, d, bottleneck(t, r, 4, j).Dilation(), "layer4.%d", j)
			}
			assert.Equal(t, tt.layer3Stride, bottleneck(t, r, 3, 0).Stride())
			assert.Equal(t, tt.layer4Stride, bottleneck(t, r, 4, 0).Stride())

			out := r.Forward(tensor.Randn(tensor.Shape{1, 3, 64, 64}, backend))
			assert.Equal(t, tensor.Shape{1, 2 * 32, tt.featureSize, tt.featureSize}, out.Shape())
		})
	}
}

func TestResNet50_ParameterCount(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates a full-size backbone")
	}
	r, err := NewResNet("", ResNetConfig{Depth: 50, BaseWidth: 64, OutputStride: 32}, cpu.New())
	require.NoError(t, err)

	// torchvision resnet50 without its 2048x1000 classifier.
	assert.Equal(t, 25_557_032-2_049_000, nn.NumParameters[cpuBackend](r))
	assert.Equal(t, 2048, r.OutChannels())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no classes", func(c *Config) { c.NumClasses = 0 }},
		{"depth", func(c *Config) { c.Depth = 34 }},
		{"width", func(c *Config) { c.BaseWidth = 0 }},
		{"output stride", func(c *Config) { c.OutputStride = 32 }},
		{"multi-grid", func(c *Config) { c.MultiGrid = [3]int{1, -2, 4} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := New(cfg, cpu.New())
			assert.Error(t, err)
		})
	}
}

func TestDeepLabv3_StateDictNames(t *testing.T) {
	m, err := New(tinyConfig(16), cpu.New())
	require.NoError(t, err)
	sd := nn.StateDict[cpuBackend](m)

	for _, name := range []string{
		"backbone.conv1.weight",
		"backbone.bn1.running_mean",
		"backbone.layer1.0.downsample.0.weight",
		"backbone.layer1.0.downsample.1.running_var",
		"backbone.layer4.2.conv3.weight",
		"aspp.conv_block1.conv.weight",
		"aspp.conv_block4.bn.bias",
		"aspp.image_pooling.conv.weight",
		"conv_block.conv.weight",
		"fin_conv.weight",
		"fin_conv.bias",
	} {
		assert.Contains(t, sd, name)
	}
	assert.NotContains(t, sd, "backbone.layer1.1.downsample.0.weight")
	assert.NotContains(t, sd, "aspp.conv_block1.conv.bias", "ASPP convs have no bias")

	assert.Equal(t, tensor.Shape{3, 256, 1, 1}, sd["fin_conv.weight"].Shape())
	assert.Equal(t, tensor.Shape{256, 1280, 1, 1}, sd["conv_block.conv.weight"].Shape())
}

// classifierStateDict returns the backbone of m keyed the way an ImageNet
// classifier checkpoint is, plus the keys such checkpoints carry on top.
func classifierStateDict(m *DeepLabv3[cpuBackend]) map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	for name, t := range nn.StateDict[cpuBackend](m.Backbone()) {
		sd[strings.TrimPrefix(name, BackbonePrefix+".")] = t.Clone()
	}
	sd["fc.weight"] = tensor.MustNewRaw(tensor.Shape{10, 128}, tensor.Float32, tensor.CPU)
	sd["fc.bias"] = tensor.MustNewRaw(tensor.Shape{10}, tensor.Float32, tensor.CPU)
	sd["bn1.num_batches_tracked"] = tensor.MustNewRaw(tensor.Shape{1}, tensor.Int32, tensor.CPU)
	return sd
}

func TestLoadBackbone(t *testing.T) {
	backend := cpu.New()
	src, err := New(tinyConfig(16), backend)
	require.NoError(t, err)
	dst, err := New(tinyConfig(16), backend)
	require.NoError(t, err)

	headBefore := dst.Head().Parameters()[0].Tensor().Raw().Clone()
	require.NoError(t, dst.LoadBackbone(classifierStateDict(src)))

	want := nn.StateDict[cpuBackend](src.Backbone())
	for name, got := range nn.StateDict[cpuBackend](dst.Backbone()) {
		assert.Equal(t, want[name].AsFloat32(), got.AsFloat32(), name)
	}
	assert.Equal(t, headBefore.AsFloat32(), dst.Head().Parameters()[0].Tensor().Raw().AsFloat32(),
		"only the backbone is loaded")
}

func TestLoadBackbone_Errors(t *testing.T) {
	backend := cpu.New()
	m, err := New(tinyConfig(16), backend)
	require.NoError(t, err)

	sd := classifierStateDict(m)
	delete(sd, "layer2.1.bn2.weight")
	require.ErrorIs(t, m.LoadBackbone(sd), nn.ErrMissingKeys)

	sd = classifierStateDict(m)
	sd["layer5.0.conv1.weight"] = tensor.MustNewRaw(tensor.Shape{1}, tensor.Float32, tensor.CPU)
	require.ErrorIs(t, m.LoadBackbone(sd), nn.ErrUnexpectedKeys)

	sd = classifierStateDict(m)
	sd["conv1.weight"] = tensor.MustNewRaw(tensor.Shape{4, 3, 3, 3}, tensor.Float32, tensor.CPU)
	require.ErrorIs(t, m.LoadBackbone(sd), nn.ErrShapeMismatch)
}

func TestLoadPretrainedBackbone_File(t *testing.T) {
	backend := cpu.New()
	src, err := New(tinyConfig(16), backend)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "resnet.safetensors")
	require.NoError(t, serialization.WriteFile(path, classifierStateDict(src), nil, serialization.WriteOptions{}))

	dst, err := New(tinyConfig(16), backend)
	require.NoError(t, err)
	require.NoError(t, dst.LoadPretrainedBackbone(path, backend))

	want := src.Backbone().Parameters()
	for i, p := range dst.Backbone().Parameters() {
		assert.Equal(t, want[i].Tensor().Data(), p.Tensor().Data(), p.Name())
	}

	assert.Error(t, dst.LoadPretrainedBackbone(filepath.Join(t.TempDir(), "missing.safetensors"), backend))
}

func TestDeepLabv3_EveryParameterReceivesGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	cfg := tinyConfig(16)
	cfg.BaseWidth = 2
	cfg.NumClasses = 2
	m, err := New(cfg, backend)
	require.NoError(t, err)

	x := tensor.Randn(tensor.Shape{2, 3, 32, 32}, backend)
	targets := tensor.Zeros[int32](tensor.Shape{2, 32, 32}, backend)
	for i := range targets.Data() {
		targets.Data()[i] = int32(i % 2)
	}

	backend.Tape().StartRecording()
	loss := nn.NewCrossEntropy2D(nn.IgnoreIndex, backend).Forward(m.Forward(x), targets)
	grads, err := autodiff.Backward(loss, backend)
	require.NoError(t, err)

	for _, p := range m.Parameters() {
		g, ok := grads[p.Tensor().Raw()]
		if assert.True(t, ok, "no gradient for %s", p.Name()) {
			assert.Equal(t, p.Tensor().Shape(), g.Shape(), p.Name())
		}
	}
}
