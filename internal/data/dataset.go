// Package data loads segmentation samples and batches them into tensors.
//
// A Dataset returns preprocessed samples (normalised CHW image, label mask);
// a Loader draws them in (optionally shuffled) order, decodes each batch on a
// bounded worker pool and stacks it into [N,3,H,W] and [N,H,W] tensors.
package data

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/tensor"
)

// IgnoreLabel marks mask pixels excluded from loss and metrics.
const IgnoreLabel int32 = 255

// Sample is one preprocessed image and its label mask.
type Sample struct {
	Image  []float32 // [3, Height, Width]
	Mask   []int32   // [Height, Width]
	Height int
	Width  int
}

// Validate checks the buffer lengths against the dimensions.
func (s Sample) Validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("invalid sample size %dx%d", s.Height, s.Width)
	}
	if len(s.Image) != 3*s.Height*s.Width {
		return fmt.Errorf("image has %d values, want %d", len(s.Image), 3*s.Height*s.Width)
	}
	if len(s.Mask) != s.Height*s.Width {
		return fmt.Errorf("mask has %d values, want %d", len(s.Mask), s.Height*s.Width)
	}
	return nil
}

// Dataset is an indexable collection of samples. Get may be called
// concurrently.
type Dataset interface {
	Len() int
	Get(index int) (Sample, error)
}

// Batch is a stacked minibatch.
type Batch struct {
	Images  *tensor.RawTensor // float32 [N, 3, H, W]
	Masks   *tensor.RawTensor // int32 [N, H, W]
	Indices []int             // dataset indices, in batch order
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Indices) }

func stack(samples []Sample, indices []int) (*Batch, error) {
	h, w := samples[0].Height, samples[0].Width
	for i, s := range samples {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", indices[i], err)
		}
		if s.Height != h || s.Width != w {
			return nil, fmt.Errorf("sample %d is %dx%d, batch is %dx%d", indices[i], s.Height, s.Width, h, w)
		}
	}

	n := len(samples)
	images, err := tensor.NewRaw(tensor.Shape{n, 3, h, w}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	masks, err := tensor.NewRaw(tensor.Shape{n, h, w}, tensor.Int32, tensor.CPU)
	if err != nil {
		return nil, err
	}

	imgData, maskData := images.AsFloat32(), masks.AsInt32()
	for i, s := range samples {
		copy(imgData[i*3*h*w:], s.Image)
		copy(maskData[i*h*w:], s.Mask)
	}
	return &Batch{Images: images, Masks: masks, Indices: indices}, nil
}
