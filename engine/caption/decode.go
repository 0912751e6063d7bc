package caption

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"

	// Registered decoders for the default extension allow-list.
	_ "image/gif"
	_ "image/png"

	"github.com/WessleyAI/mindpalace/engine/domain"
)

// JPEGQuality is used when re-encoding decoded images for the model.
const JPEGQuality = 90

// DecodeFile reads path and returns it as an opaque RGB bitmap. Transparent
// pixels are composited over white. Any failure wraps domain.ErrDecode.
func DecodeFile(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrDecode, path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrDecode, path, err)
	}
	return toRGB(src), nil
}

func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// EncodeJPEG encodes img as a baseline JPEG, which carries no alpha channel.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("%w: encode jpeg: %w", domain.ErrDecode, err)
	}
	return buf.Bytes(), nil
}

// LoadJPEG decodes path and re-encodes it as canonical RGB JPEG bytes.
func LoadJPEG(path string) ([]byte, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(img)
}
