package data

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"golang.org/x/image/draw"
)

// ImageNet channel statistics the pretrained backbone expects.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Transform resizes, optionally flips and normalises an image/mask pair.
type Transform struct {
	Size  int  // square output side; 0 keeps the source size
	HFlip bool // random horizontal flip
	Mean  [3]float32
	Std   [3]float32
}

// NewTransform returns a transform with ImageNet normalisation.
func NewTransform(size int, hflip bool) Transform {
	return Transform{Size: size, HFlip: hflip, Mean: ImageNetMean, Std: ImageNetStd}
}

// Apply produces a sample. Images are resized bilinearly and masks by
// nearest neighbour so labels are never blended. rng is only consulted when
// HFlip is set.
func (t Transform) Apply(img image.Image, mask *image.Gray, rng *rand.Rand) (Sample, error) {
	if !img.Bounds().Size().Eq(mask.Bounds().Size()) {
		return Sample{}, fmt.Errorf("image is %v, mask is %v", img.Bounds().Size(), mask.Bounds().Size())
	}

	rgba := toRGBA(img)
	if t.Size > 0 {
		rgba = resizeRGBA(rgba, t.Size, t.Size)
		mask = resizeMask(mask, t.Size, t.Size)
	}

	flip := t.HFlip && rng.Intn(2) == 1
	s := Sample{
		Image:  t.normalize(rgba),
		Mask:   maskLabels(mask),
		Height: rgba.Bounds().Dy(),
		Width:  rgba.Bounds().Dx(),
	}
	if flip {
		FlipHorizontal(&s)
	}
	return s, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

func resizeRGBA(src *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func resizeMask(src *image.Gray, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// normalize converts to CHW float32 with (x/255 - mean) / std per channel.
func (t Transform) normalize(img *image.RGBA) []float32 {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	plane := h * w
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				v := float32(row[4*x+c]) / 255
				out[c*plane+y*w+x] = (v - t.Mean[c]) / t.Std[c]
			}
		}
	}
	return out
}

func maskLabels(mask *image.Gray) []int32 {
	b := mask.Bounds()
	h, w := b.Dy(), b.Dx()
	out := make([]int32, h*w)
	for y := 0; y < h; y++ {
		row := mask.Pix[y*mask.Stride:]
		for x := 0; x < w; x++ {
			out[y*w+x] = int32(row[x])
		}
	}
	return out
}

// FlipHorizontal mirrors a sample left to right in place.
func FlipHorizontal(s *Sample) {
	h, w := s.Height, s.Width
	for c := 0; c < 3; c++ {
		for y := 0; y < h; y++ {
			row := s.Image[(c*h+y)*w : (c*h+y+1)*w]
			for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
	}
	for y := 0; y < h; y++ {
		row := s.Mask[y*w : (y+1)*w]
		for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
			row[i], row[j] = row[j], row[i]
		}
	}
}

// LabelImage converts a decoded mask to one label per pixel. Palette PNGs
// (VOC SegmentationClass) use the palette index, grayscale PNGs
// (SegmentationClassAug) the gray value.
func LabelImage(img image.Image) (*image.Gray, error) {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch m := img.(type) {
	case *image.Paletted:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				dst.Pix[y*dst.Stride+x] = m.ColorIndexAt(b.Min.X+x, b.Min.Y+y)
			}
		}
	case *image.Gray:
		draw.Draw(dst, dst.Bounds(), m, b.Min, draw.Src)
	case *image.Gray16:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				v := m.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				if v > 255 {
					return nil, fmt.Errorf("label %d at (%d,%d) does not fit in 8 bits", v, x, y)
				}
				dst.Pix[y*dst.Stride+x] = uint8(v)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported mask color model %T", img.ColorModel())
	}
	return dst, nil
}

// grayLabel is used by the synthetic dataset to paint labels.
func grayLabel(v int32) color.Gray { return color.Gray{Y: uint8(v)} }
