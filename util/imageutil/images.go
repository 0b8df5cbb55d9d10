package imageutil

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"

	"github.com/knights-analytics/bmt/util/fileutil"
)

// LoadImage reads and decodes a jpeg or png image from any supported file system.
func LoadImage(path string) (image.Image, error) {
	b, err := fileutil.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

type PreprocessStep interface {
	Apply(img image.Image) (image.Image, error)
}

// Preprocess applies steps in order.
func Preprocess(img image.Image, steps ...PreprocessStep) (image.Image, error) {
	var err error
	for _, step := range steps {
		img, err = step.Apply(img)
		if err != nil {
			return nil, fmt.Errorf("failed to apply preprocessing step: %w", err)
		}
	}
	return img, nil
}

type ResizePreprocessor struct {
	targetSize    int
	interpolation resize.InterpolationFunction
}

// ResizeStep scales the image so that its shorter side equals targetSize, keeping the aspect ratio.
func ResizeStep(targetSize int) *ResizePreprocessor {
	return &ResizePreprocessor{targetSize: targetSize, interpolation: resize.Bilinear}
}

// WithInterpolation swaps the default bilinear resampling.
func (s *ResizePreprocessor) WithInterpolation(interpolation resize.InterpolationFunction) *ResizePreprocessor {
	s.interpolation = interpolation
	return s
}

func (s *ResizePreprocessor) Apply(img image.Image) (image.Image, error) {
	if s.targetSize <= 0 {
		return nil, fmt.Errorf("invalid resize target %d", s.targetSize)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("cannot resize an empty image")
	}
	var newW, newH int
	if w < h {
		newW = s.targetSize
		newH = int(float32(h) * float32(s.targetSize) / float32(w))
	} else {
		newH = s.targetSize
		newW = int(float32(w) * float32(s.targetSize) / float32(h))
	}
	return resize.Resize(uint(newW), uint(newH), img, s.interpolation), nil
}

func CenterCropStep(targetWidth, targetHeight int) *CenterCropPreprocessor {
	return &CenterCropPreprocessor{targetWidth: targetWidth, targetHeight: targetHeight}
}

type CenterCropPreprocessor struct {
	targetWidth  int
	targetHeight int
}

func (s *CenterCropPreprocessor) Apply(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	if bounds.Dx() < s.targetWidth || bounds.Dy() < s.targetHeight {
		return nil, fmt.Errorf("image of %dx%d is smaller than the %dx%d crop", bounds.Dx(), bounds.Dy(), s.targetWidth, s.targetHeight)
	}
	x0 := bounds.Min.X + (bounds.Dx()-s.targetWidth)/2
	y0 := bounds.Min.Y + (bounds.Dy()-s.targetHeight)/2
	dst := image.NewRGBA(image.Rect(0, 0, s.targetWidth, s.targetHeight))
	for y := 0; y < s.targetHeight; y++ {
		for x := 0; x < s.targetWidth; x++ {
			dst.Set(x, y, img.At(x0+x, y0+y))
		}
	}
	return dst, nil
}

type NormalizationStep interface {
	Apply(r, g, b float32) (float32, float32, float32)
}

type PixelNormalizationPreprocessor struct {
	mean [3]float32
	std  [3]float32
}

func (s *PixelNormalizationPreprocessor) Apply(r, g, b float32) (float32, float32, float32) {
	r = (r - s.mean[0]) / s.std[0]
	g = (g - s.mean[1]) / s.std[1]
	b = (b - s.mean[2]) / s.std[2]
	return r, g, b
}

func PixelNormalizationStep(mean, std [3]float32) *PixelNormalizationPreprocessor {
	return &PixelNormalizationPreprocessor{mean: mean, std: std}
}

func ImagenetPixelNormalizationStep() *PixelNormalizationPreprocessor {
	return &PixelNormalizationPreprocessor{
		mean: [3]float32{0.485, 0.456, 0.406},
		std:  [3]float32{0.229, 0.224, 0.225},
	}
}

type RescalePreprocessor struct{}

func (s *RescalePreprocessor) Apply(r, g, b float32) (float32, float32, float32) {
	scale := float32(1.0 / 255.0)
	return r * scale, g * scale, b * scale
}

func RescaleStep() *RescalePreprocessor {
	return &RescalePreprocessor{}
}

// Layout is the memory order of a flattened image tensor.
type Layout int

const (
	// NCHW stores the three colour planes one after the other.
	NCHW Layout = iota
	// NHWC interleaves the channels of each pixel.
	NHWC
)

// ToFloat32 flattens an RGB image into a 3*h*w tensor of 0-255 channel values passed
// through the normalization steps.
func ToFloat32(img image.Image, layout Layout, steps ...NormalizationStep) []float32 {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	plane := h * w
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)
			for _, step := range steps {
				rf, gf, bf = step.Apply(rf, gf, bf)
			}
			i := y*w + x
			switch layout {
			case NHWC:
				out[3*i], out[3*i+1], out[3*i+2] = rf, gf, bf
			default:
				out[i], out[plane+i], out[2*plane+i] = rf, gf, bf
			}
		}
	}
	return out
}

// ToUint8 flattens an RGB image into a 3*h*w tensor of raw channel values.
func ToUint8(img image.Image, layout Layout) []uint8 {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	plane := h * w
	out := make([]uint8, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			r8, g8, b8 := uint8(r>>8), uint8(g>>8), uint8(b>>8)
			i := y*w + x
			switch layout {
			case NHWC:
				out[3*i], out[3*i+1], out[3*i+2] = r8, g8, b8
			default:
				out[i], out[plane+i], out[2*plane+i] = r8, g8, b8
			}
		}
	}
	return out
}
