package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"timelapse/internal/capture"
)

// DefaultCutoff is the gray level above which a pixel counts as lit.
const DefaultCutoff = 50

// GrayMetric measures light as the share of pixels whose gray level is above Cutoff.
type GrayMetric struct {
	Cutoff uint8
}

func (m GrayMetric) LightLevel(f capture.Frame) (float64, error) {
	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return 0, fmt.Errorf("decode frame: %w", err)
	}
	return LitFraction(img, m.Cutoff), nil
}

// LitFraction returns the share of pixels of img brighter than cutoff.
func LitFraction(img image.Image, cutoff uint8) float64 {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total <= 0 {
		return 0
	}
	lit := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y > cutoff {
				lit++
			}
		}
	}
	return float64(lit) / float64(total)
}

var _ capture.Metric = GrayMetric{}
