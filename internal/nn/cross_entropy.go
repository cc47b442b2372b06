package nn

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/tensor"
)

// IgnoreIndex marks ground-truth pixels excluded from the loss (VOC
// object boundaries and padding).
const IgnoreIndex int32 = 255

// CrossEntropy2D computes pixel-wise cross-entropy for segmentation.
//
//	Loss = mean over pixels with target != ignore of -log_softmax(logits)[target]
//
// Usage:
//
//	criterion := nn.NewCrossEntropy2D(nn.IgnoreIndex, backend)
//	logits := model.Forward(images)            // [N, C, H, W]
//	loss := criterion.Forward(logits, masks)   // masks: [N, H, W] int32
//
// A batch whose pixels are all ignored yields a loss of 0 with zero
// gradient. When the backend records operations the loss is differentiable
// with respect to the logits.
type CrossEntropy2D[B tensor.Backend] struct {
	ignoreIndex int32
	backend     B
}

// NewCrossEntropy2D creates the loss with the given ignore label.
func NewCrossEntropy2D[B tensor.Backend](ignoreIndex int32, backend B) *CrossEntropy2D[B] {
	return &CrossEntropy2D[B]{ignoreIndex: ignoreIndex, backend: backend}
}

// Forward returns the scalar mean loss.
func (c *CrossEntropy2D[B]) Forward(
	logits *tensor.Tensor[float32, B],
	targets *tensor.Tensor[int32, B],
) *tensor.Tensor[float32, B] {
	ls, ts := logits.Shape(), targets.Shape()
	if len(ls) != 4 || len(ts) != 3 || ls[0] != ts[0] || ls[2] != ts[1] || ls[3] != ts[2] {
		panic(fmt.Sprintf("cross_entropy2d: logits %v do not match targets %v", ls, ts))
	}
	out := c.backend.CrossEntropy2D(logits.Raw(), targets.Raw(), c.ignoreIndex)
	return tensor.New[float32, B](out, c.backend)
}

// IgnoreIndex returns the ignored label.
func (c *CrossEntropy2D[B]) IgnoreIndex() int32 {
	return c.ignoreIndex
}
