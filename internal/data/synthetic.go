package data

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
)

// Synthetic generates images of coloured rectangles on a noisy background.
// Each rectangle's label is its class; its one-pixel outline is IgnoreLabel,
// like the object boundaries in VOC masks. Samples are deterministic per
// index.
type Synthetic struct {
	n          int
	size       int
	numClasses int
	seed       int64
	transform  Transform
}

// NewSynthetic creates n samples of size x size pixels (size >= 8) over
// numClasses classes (class 0 is background).
func NewSynthetic(n, size, numClasses int, seed int64) (*Synthetic, error) {
	if n <= 0 || size < 8 || numClasses < 2 {
		return nil, fmt.Errorf("synthetic dataset: invalid n=%d size=%d classes=%d", n, size, numClasses)
	}
	return &Synthetic{
		n:          n,
		size:       size,
		numClasses: numClasses,
		seed:       seed,
		transform:  NewTransform(0, false),
	}, nil
}

// Len returns the number of samples.
func (s *Synthetic) Len() int { return s.n }

// Get renders sample index.
func (s *Synthetic) Get(index int) (Sample, error) {
	if index < 0 || index >= s.n {
		return Sample{}, fmt.Errorf("index %d out of range [0, %d)", index, s.n)
	}
	rng := rand.New(rand.NewSource(s.seed + int64(index)))

	img := image.NewRGBA(image.Rect(0, 0, s.size, s.size))
	mask := image.NewGray(img.Bounds())
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(32))
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}

	rects := 1 + rng.Intn(3)
	for r := 0; r < rects; r++ {
		class := int32(1 + rng.Intn(s.numClasses-1))
		c := s.classColor(class)
		x0, y0 := rng.Intn(s.size/2), rng.Intn(s.size/2)
		x1 := x0 + 4 + rng.Intn(s.size-x0-3)
		y1 := y0 + 4 + rng.Intn(s.size-y0-3)

		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				img.SetRGBA(x, y, c)
				label := class
				if x == x0 || y == y0 || x == x1-1 || y == y1-1 {
					label = IgnoreLabel
				}
				mask.SetGray(x, y, grayLabel(label))
			}
		}
	}
	return s.transform.Apply(img, mask, nil)
}

// classColor spreads class colours over the RGB cube.
func (s *Synthetic) classColor(class int32) color.RGBA {
	k := uint32(class) * 2654435761
	return color.RGBA{R: uint8(k >> 24), G: uint8(k >> 16), B: uint8(k >> 8), A: 255}
}
