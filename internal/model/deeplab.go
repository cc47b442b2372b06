package model

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// Config describes a DeepLabv3 network.
type Config struct {
	NumClasses   int
	Depth        int // backbone depth: 50, 101 or 152
	BaseWidth    int // backbone stem width, 64 for ImageNet weights
	OutputStride int // 8 or 16
	MultiGrid    [3]int
}

// DefaultConfig returns DeepLabv3-ResNet101 for the 21 PASCAL VOC classes at
// output stride 16.
func DefaultConfig() Config {
	return Config{
		NumClasses:   21,
		Depth:        101,
		BaseWidth:    64,
		OutputStride: 16,
		MultiGrid:    [3]int{1, 2, 4},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumClasses <= 0 {
		return fmt.Errorf("num classes must be positive, got %d", c.NumClasses)
	}
	if _, err := AtrousRates(c.OutputStride); err != nil {
		return err
	}
	return c.backbone().Validate()
}

func (c Config) backbone() ResNetConfig {
	return ResNetConfig{
		Depth:        c.Depth,
		BaseWidth:    c.BaseWidth,
		OutputStride: c.OutputStride,
		MultiGrid:    c.MultiGrid,
	}
}

// Module name prefixes.
const (
	BackbonePrefix = "backbone"
	ASPPPrefix     = "aspp"
)

// DeepLabv3 is the segmentation network: backbone, ASPP and head, with the
// logits upsampled to the input resolution.
type DeepLabv3[B tensor.Backend] struct {
	cfg      Config
	backbone *ResNet[B]
	aspp     *ASPP[B]
	head     *Head[B]
	children[B]

	training bool
}

// New builds a randomly initialised network.
func New[B tensor.Backend](cfg Config, backend B) (*DeepLabv3[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("deeplabv3: %w", err)
	}
	rates, _ := AtrousRates(cfg.OutputStride)

	backbone, err := NewResNet(BackbonePrefix, cfg.backbone(), backend)
	if err != nil {
		return nil, fmt.Errorf("deeplabv3: %w", err)
	}
	aspp := NewASPP(ASPPPrefix, backbone.OutChannels(), rates, backend)
	head := NewHead("", aspp.OutChannels(), cfg.NumClasses, backend)

	m := &DeepLabv3[B]{cfg: cfg, backbone: backbone, aspp: aspp, head: head, training: true}
	m.children = children[B]{backbone, aspp, head}
	return m, nil
}

// NewDeepLabv3ResNet101 builds the default ResNet-101 variant.
func NewDeepLabv3ResNet101[B tensor.Backend](numClasses, outputStride int, backend B) (*DeepLabv3[B], error) {
	cfg := DefaultConfig()
	cfg.NumClasses = numClasses
	cfg.OutputStride = outputStride
	return New(cfg, backend)
}

// Forward maps images (b, 3, H, W) to logits (b, NumClasses, H, W).
func (m *DeepLabv3[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	_, _, h, w := x.Shape().NCHW()
	features := m.backbone.Forward(x)
	logits := m.head.Forward(m.aspp.Forward(features))
	return nn.Interpolate(logits, h, w)
}

// SetTraining switches every batch norm between batch and running statistics.
func (m *DeepLabv3[B]) SetTraining(training bool) {
	m.training = training
	m.children.SetTraining(training)
}

// Training reports whether the network is in training mode.
func (m *DeepLabv3[B]) Training() bool { return m.training }

// Config returns the network configuration.
func (m *DeepLabv3[B]) Config() Config { return m.cfg }

// Backbone returns the feature extractor.
func (m *DeepLabv3[B]) Backbone() *ResNet[B] { return m.backbone }

// ASPP returns the pyramid pooling module.
func (m *DeepLabv3[B]) ASPP() *ASPP[B] { return m.aspp }

// Head returns the classification head.
func (m *DeepLabv3[B]) Head() *Head[B] { return m.head }
