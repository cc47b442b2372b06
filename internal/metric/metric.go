// Package metric implements segmentation metrics over predicted and
// ground-truth label maps.
package metric

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/tensor"
)

// ConfusionMatrix accumulates per-pixel (ground truth, prediction) counts.
// Pixels labelled with the ignore index are skipped.
type ConfusionMatrix struct {
	numClasses  int
	ignoreIndex int32
	counts      []int64 // [truth*numClasses + pred]
	total       int64
}

// NewConfusionMatrix creates an empty matrix.
func NewConfusionMatrix(numClasses int, ignoreIndex int32) *ConfusionMatrix {
	return &ConfusionMatrix{
		numClasses:  numClasses,
		ignoreIndex: ignoreIndex,
		counts:      make([]int64, numClasses*numClasses),
	}
}

// NumClasses returns the number of classes.
func (cm *ConfusionMatrix) NumClasses() int { return cm.numClasses }

// Reset clears all counts.
func (cm *ConfusionMatrix) Reset() {
	clear(cm.counts)
	cm.total = 0
}

// Update adds a batch of predicted and ground-truth labels.
func (cm *ConfusionMatrix) Update(pred, truth []int32) error {
	if len(pred) != len(truth) {
		return fmt.Errorf("label count mismatch: %d predictions, %d ground-truth labels", len(pred), len(truth))
	}
	n := int32(cm.numClasses)
	for i, g := range truth {
		if g == cm.ignoreIndex {
			continue
		}
		p := pred[i]
		if g < 0 || g >= n {
			return fmt.Errorf("ground-truth label %d out of range [0, %d)", g, n)
		}
		if p < 0 || p >= n {
			return fmt.Errorf("predicted label %d out of range [0, %d)", p, n)
		}
		cm.counts[int(g)*cm.numClasses+int(p)]++
		cm.total++
	}
	return nil
}

// Count returns how many pixels of class truth were predicted as pred.
func (cm *ConfusionMatrix) Count(truth, pred int) int64 {
	return cm.counts[truth*cm.numClasses+pred]
}

// Total returns the number of counted (non-ignored) pixels.
func (cm *ConfusionMatrix) Total() int64 { return cm.total }

// IoU returns intersection over union per class, and whether the class
// occurs at all (in prediction or ground truth).
func (cm *ConfusionMatrix) IoU() (iou []float64, present []bool) {
	iou = make([]float64, cm.numClasses)
	present = make([]bool, cm.numClasses)
	for c := 0; c < cm.numClasses; c++ {
		var rowSum, colSum int64
		for k := 0; k < cm.numClasses; k++ {
			rowSum += cm.Count(c, k)
			colSum += cm.Count(k, c)
		}
		inter := cm.Count(c, c)
		union := rowSum + colSum - inter
		if union == 0 {
			continue
		}
		iou[c] = float64(inter) / float64(union)
		present[c] = true
	}
	return iou, present
}

// MeanIoU averages IoU over the classes that occur. It is 0 when nothing
// has been counted.
func (cm *ConfusionMatrix) MeanIoU() float64 {
	iou, present := cm.IoU()
	var sum float64
	n := 0
	for c, ok := range present {
		if ok {
			sum += iou[c]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// PixelAccuracy returns the fraction of counted pixels predicted correctly.
func (cm *ConfusionMatrix) PixelAccuracy() float64 {
	if cm.total == 0 {
		return 0
	}
	var correct int64
	for c := 0; c < cm.numClasses; c++ {
		correct += cm.Count(c, c)
	}
	return float64(correct) / float64(cm.total)
}

// PixelMIoU scores a batch of logits against ground truth by mean IoU over
// the classes present in the batch.
type PixelMIoU struct {
	NumClasses  int
	IgnoreIndex int32
}

// Compute takes logits (N, C, H, W) and ground truth (N, H, W).
func Compute[B tensor.Backend](m PixelMIoU, logits *tensor.Tensor[float32, B], truth *tensor.Tensor[int32, B]) (float64, error) {
	ls, ts := logits.Shape(), truth.Shape()
	if len(ls) != 4 || len(ts) != 3 || ls[0] != ts[0] || ls[2] != ts[1] || ls[3] != ts[2] {
		return 0, fmt.Errorf("pixel miou: logits %v do not match ground truth %v", ls, ts)
	}
	if ls[1] != m.NumClasses {
		return 0, fmt.Errorf("pixel miou: %d logit channels, want %d", ls[1], m.NumClasses)
	}

	return m.Labels(logits.Argmax(1).Data(), truth.Data())
}

// Labels scores already decoded label maps.
func (m PixelMIoU) Labels(pred, truth []int32) (float64, error) {
	cm := NewConfusionMatrix(m.NumClasses, m.IgnoreIndex)
	if err := cm.Update(pred, truth); err != nil {
		return 0, fmt.Errorf("pixel miou: %w", err)
	}
	return cm.MeanIoU(), nil
}

// Mean is a running arithmetic mean.
type Mean struct {
	sum float64
	n   int
}

// Add records a value.
func (m *Mean) Add(v float64) {
	m.sum += v
	m.n++
}

// Value returns the mean of the recorded values, or 0 if there are none.
func (m *Mean) Value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// Count returns the number of recorded values.
func (m *Mean) Count() int { return m.n }

// Reset forgets all values.
func (m *Mean) Reset() { *m = Mean{} }
