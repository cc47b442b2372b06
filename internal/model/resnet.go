package model

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// expansion is the channel multiplier of a bottleneck block's last conv.
const expansion = 4

// stageBlocks lists the bottleneck count of layer1..layer4 per depth.
var stageBlocks = map[int][4]int{
	50:  {3, 4, 6, 3},
	101: {3, 4, 23, 3},
	152: {3, 8, 36, 3},
}

// ResNetConfig configures a bottleneck ResNet backbone.
type ResNetConfig struct {
	Depth     int // 50, 101 or 152
	BaseWidth int // stem width; 64 for the ImageNet architecture

	// OutputStride is the ratio of input to feature-map resolution: 32 keeps
	// every stride, 16 dilates layer4, 8 dilates layer3 and layer4.
	OutputStride int

	// MultiGrid holds unit rates multiplied into the dilation of the 3x3
	// conv of successive layer4 blocks. Zero entries count as 1.
	MultiGrid [3]int
}

// Validate checks the configuration.
func (c ResNetConfig) Validate() error {
	if _, ok := stageBlocks[c.Depth]; !ok {
		return fmt.Errorf("unsupported resnet depth %d (want 50, 101 or 152)", c.Depth)
	}
	if c.BaseWidth <= 0 {
		return fmt.Errorf("invalid base width %d", c.BaseWidth)
	}
	switch c.OutputStride {
	case 8, 16, 32:
	default:
		return fmt.Errorf("unsupported output stride %d (want 8, 16 or 32)", c.OutputStride)
	}
	for _, r := range c.MultiGrid {
		if r < 0 {
			return fmt.Errorf("invalid multi-grid rates %v", c.MultiGrid)
		}
	}
	return nil
}

// OutChannels returns the channel count of the backbone's feature map.
func (c ResNetConfig) OutChannels() int {
	return c.BaseWidth * 8 * expansion
}

// Bottleneck is a ResNet v1.5 bottleneck block: 1x1 reduce, 3x3 (carrying
// the stride and dilation), 1x1 expand, with a projected or identity
// shortcut.
type Bottleneck[B tensor.Backend] struct {
	conv1, conv2, conv3 *nn.Conv2D[B]
	bn1, bn2, bn3       *nn.BatchNorm2D[B]
	relu                *nn.ReLU[B]
	downsample          *nn.Sequential[B] // nil for identity shortcuts
	children[B]
}

// NewBottleneck creates a bottleneck block named prefix.
func NewBottleneck[B tensor.Backend](prefix string, inChannels, width, stride, dilation int, backend B) *Bottleneck[B] {
	outChannels := width * expansion
	b := &Bottleneck[B]{
		conv1: nn.NewConv2D(nn.Join(prefix, "conv1"), nn.Conv2DConfig{
			InChannels: inChannels, OutChannels: width, KernelSize: 1,
		}, backend),
		bn1: nn.NewBatchNorm2D(nn.Join(prefix, "bn1"), width, backend),
		conv2: nn.NewConv2D(nn.Join(prefix, "conv2"), nn.Conv2DConfig{
			InChannels: width, OutChannels: width, KernelSize: 3,
			Stride: stride, Padding: dilation, Dilation: dilation,
		}, backend),
		bn2: nn.NewBatchNorm2D(nn.Join(prefix, "bn2"), width, backend),
		conv3: nn.NewConv2D(nn.Join(prefix, "conv3"), nn.Conv2DConfig{
			InChannels: width, OutChannels: outChannels, KernelSize: 1,
		}, backend),
		bn3:  nn.NewBatchNorm2D(nn.Join(prefix, "bn3"), outChannels, backend),
		relu: nn.NewReLU[B](),
	}
	b.children = children[B]{b.conv1, b.bn1, b.conv2, b.bn2, b.conv3, b.bn3}

	if stride != 1 || inChannels != outChannels {
		ds := nn.Join(prefix, "downsample")
		b.downsample = nn.NewSequential[B](
			nn.NewConv2D(nn.Join(ds, "0"), nn.Conv2DConfig{
				InChannels: inChannels, OutChannels: outChannels, KernelSize: 1, Stride: stride,
			}, backend),
			nn.NewBatchNorm2D(nn.Join(ds, "1"), outChannels, backend),
		)
		b.children = append(b.children, b.downsample)
	}
	return b
}

// Forward runs the block.
func (b *Bottleneck[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := b.relu.Forward(b.bn1.Forward(b.conv1.Forward(x)))
	out = b.relu.Forward(b.bn2.Forward(b.conv2.Forward(out)))
	out = b.bn3.Forward(b.conv3.Forward(out))

	identity := x
	if b.downsample != nil {
		identity = b.downsample.Forward(x)
	}
	return b.relu.Forward(out.Add(identity))
}

// Dilation returns the dilation of the block's 3x3 conv.
func (b *Bottleneck[B]) Dilation() int { return b.conv2.Dilation() }

// Stride returns the stride of the block.
func (b *Bottleneck[B]) Stride() int { return b.conv2.Stride() }

// ResNet is a bottleneck ResNet without its classifier, used as a dense
// feature extractor.
type ResNet[B tensor.Backend] struct {
	cfg     ResNetConfig
	conv1   *nn.Conv2D[B]
	bn1     *nn.BatchNorm2D[B]
	relu    *nn.ReLU[B]
	maxpool *nn.MaxPool2D[B]
	layers  [4]*nn.Sequential[B]
	children[B]
}

// NewResNet builds the backbone. Parameter names are torchvision's, under
// prefix.
func NewResNet[B tensor.Backend](prefix string, cfg ResNetConfig, backend B) (*ResNet[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &ResNet[B]{
		cfg: cfg,
		conv1: nn.NewConv2D(nn.Join(prefix, "conv1"), nn.Conv2DConfig{
			InChannels: 3, OutChannels: cfg.BaseWidth, KernelSize: 7, Stride: 2, Padding: 3,
		}, backend),
		bn1:     nn.NewBatchNorm2D(nn.Join(prefix, "bn1"), cfg.BaseWidth, backend),
		relu:    nn.NewReLU[B](),
		maxpool: nn.NewMaxPool2D(3, 2, 1, backend),
	}
	r.children = children[B]{r.conv1, r.bn1}

	// Stride-4 after the stem; each later stage halves resolution until the
	// output stride is reached, then dilates instead.
	blocks := stageBlocks[cfg.Depth]
	inChannels := cfg.BaseWidth
	currentStride, dilation := 4, 1
	for i := 0; i < 4; i++ {
		width := cfg.BaseWidth << i
		stride := 1
		if i > 0 {
			stride = 2
		}
		prevDilation := dilation
		if currentStride*stride > cfg.OutputStride {
			dilation *= stride
			stride = 1
		} else {
			currentStride *= stride
		}

		name := nn.Join(prefix, fmt.Sprintf("layer%d", i+1))
		layer := nn.NewSequential[B]()
		for j := 0; j < blocks[i]; j++ {
			d := dilation
			if j == 0 {
				d = prevDilation
			}
			if i == 3 {
				d = dilation * unitRate(cfg.MultiGrid, j)
			}
			s := 1
			if j == 0 {
				s = stride
			}
			layer.Add(NewBottleneck(nn.Join(name, fmt.Sprint(j)), inChannels, width, s, d, backend))
			inChannels = width * expansion
		}
		r.layers[i] = layer
		r.children = append(r.children, layer)
	}
	return r, nil
}

func unitRate(grid [3]int, block int) int {
	if r := grid[block%len(grid)]; r > 0 {
		return r
	}
	return 1
}

// Forward maps an image batch to the final feature map.
func (r *ResNet[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x = r.maxpool.Forward(r.relu.Forward(r.bn1.Forward(r.conv1.Forward(x))))
	for _, layer := range r.layers {
		x = layer.Forward(x)
	}
	return x
}

// Layer returns layer1..layer4 by 1-based index.
func (r *ResNet[B]) Layer(i int) *nn.Sequential[B] {
	return r.layers[i-1]
}

// Config returns the backbone configuration.
func (r *ResNet[B]) Config() ResNetConfig {
	return r.cfg
}

// OutChannels returns the channel count of the feature map.
func (r *ResNet[B]) OutChannels() int {
	return r.cfg.OutChannels()
}
