package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"
)

// ErrInvalidImage marks bytes that could not be decoded as an image.
var ErrInvalidImage = errors.New("invalid image")

// Layout is the memory order of the model input tensor.
type Layout string

const (
	// NCHW is channel-major, as exported from PyTorch.
	NCHW Layout = "nchw"
	// NHWC is channel-last, as exported from Keras.
	NHWC Layout = "nhwc"
)

func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case NCHW:
		return NCHW, nil
	case NHWC:
		return NHWC, nil
	}
	return "", fmt.Errorf("unknown tensor layout %q", s)
}

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":           resize.NearestNeighbor,
	"bilinear":          resize.Bilinear,
	"bicubic":           resize.Bicubic,
	"mitchellnetravali": resize.MitchellNetravali,
	"lanczos2":          resize.Lanczos2,
	"lanczos3":          resize.Lanczos3,
}

func ParseInterpolation(s string) (resize.InterpolationFunction, error) {
	if f, ok := interpolations[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("unknown interpolation %q", s)
}

// Options describe how an image becomes a model input.
type Options struct {
	Size          int
	Layout        Layout
	Mean          [3]float32
	Std           [3]float32
	Interpolation resize.InterpolationFunction
}

// KerasOptions scales pixels to [0,1] in channel-last order.
func KerasOptions() Options {
	return Options{
		Size:          224,
		Layout:        NHWC,
		Mean:          [3]float32{0, 0, 0},
		Std:           [3]float32{1, 1, 1},
		Interpolation: resize.Bilinear,
	}
}

// TorchOptions applies the ImageNet statistics the ResNet backbone expects.
func TorchOptions() Options {
	return Options{
		Size:          224,
		Layout:        NCHW,
		Mean:          [3]float32{0.485, 0.456, 0.406},
		Std:           [3]float32{0.229, 0.224, 0.225},
		Interpolation: resize.Bilinear,
	}
}

// Shape is the input tensor shape including the batch dimension of 1.
func (o Options) Shape() []int64 {
	s := int64(o.Size)
	if o.Layout == NHWC {
		return []int64{1, s, s, 3}
	}
	return []int64{1, 3, s, s}
}

func (o Options) Len() int { return 3 * o.Size * o.Size }

func (o Options) validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("image size must be positive, got %d", o.Size)
	}
	if o.Layout != NCHW && o.Layout != NHWC {
		return fmt.Errorf("unknown tensor layout %q", o.Layout)
	}
	for c, s := range o.Std {
		if s == 0 {
			return fmt.Errorf("std for channel %d is zero", c)
		}
	}
	return nil
}

// Decode reads JPEG, PNG or GIF bytes.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty upload", ErrInvalidImage)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	return img, format, nil
}

// Tensor resizes img and returns the flattened input tensor for one image.
func Tensor(img image.Image, opts Options) ([]float32, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	size := opts.Size
	resized := resize.Resize(uint(size), uint(size), img, opts.Interpolation)
	bounds := resized.Bounds()
	if bounds.Dx() != size || bounds.Dy() != size {
		return nil, fmt.Errorf("resize produced %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), size, size)
	}

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			// NRGBA drops alpha without premultiplying.
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			rgb := [3]float32{
				(float32(c.R)/255.0 - opts.Mean[0]) / opts.Std[0],
				(float32(c.G)/255.0 - opts.Mean[1]) / opts.Std[1],
				(float32(c.B)/255.0 - opts.Mean[2]) / opts.Std[2],
			}

			pixel := y*size + x
			if opts.Layout == NHWC {
				copy(data[pixel*3:pixel*3+3], rgb[:])
				continue
			}
			data[pixel] = rgb[0]
			data[plane+pixel] = rgb[1]
			data[2*plane+pixel] = rgb[2]
		}
	}
	return data, nil
}

// FromBytes decodes and preprocesses an uploaded image.
func FromBytes(data []byte, opts Options) ([]float32, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Tensor(img, opts)
}
