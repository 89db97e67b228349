package providers

import (
	"bytes"

	"github.com/disintegration/imaging"
)

// ProbeDimensions decodes a raster image and returns its width and height.
// SVG and unknown formats return an error.
func ProbeDimensions(data []byte) (int, int, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}
