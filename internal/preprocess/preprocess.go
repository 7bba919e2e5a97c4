// Package preprocess turns uploaded image bytes into the classifier's input tensor.
package preprocess

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"
	"github.com/Brownie44l1/xray-api/internal/model"

	"github.com/nfnt/resize"
)

// Decode reads JPEG or PNG bytes and returns an opaque RGB image. Grayscale
// and palette encodings are expanded and alpha is discarded, keeping the
// stored colour values. The format name is returned for logging.
func Decode(raw []byte) (*image.RGBA, string, error) {
	if len(raw) == 0 {
		return nil, "", apperrors.NewDecodeError("empty image", nil)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", apperrors.NewDecodeError("invalid image format. Supported: JPEG, PNG", err)
	}

	return toRGBA(img), format, nil
}

// toRGBA copies img into an opaque RGBA image. Colour values are taken
// unpremultiplied, so a translucent pixel keeps its stored RGB.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) && rgba.Opaque() {
		return rgba
	}

	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := out.PixOffset(x, y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// Resize scales img to exactly size x size, ignoring aspect ratio. An image
// that already has the target dimensions is returned as is.
func Resize(img *image.RGBA, size int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	resized := resize.Resize(uint(size), uint(size), img, resize.Bicubic)
	return toRGBA(resized)
}

// ToTensor normalizes 8-bit channels to [0,1] and lays the pixels out as
// NHWC with a leading batch dimension of 1.
func ToTensor(img *image.RGBA) model.Tensor {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	data := make([]float32, height*width*model.Channels)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			px := img.Pix[i : i+3 : i+3]
			base := (y*width + x) * model.Channels
			data[base+0] = float32(px[0]) / 255.0
			data[base+1] = float32(px[1]) / 255.0
			data[base+2] = float32(px[2]) / 255.0
		}
	}

	return model.Tensor{
		Shape: []int64{1, int64(height), int64(width), model.Channels},
		Data:  data,
	}
}

// Image runs the full preprocessing chain: decode, resize to the model's
// fixed edge, normalize.
func Image(raw []byte) (model.Tensor, error) {
	img, _, err := Decode(raw)
	if err != nil {
		return model.Tensor{}, err
	}
	return ToTensor(Resize(img, model.ImageSize)), nil
}
