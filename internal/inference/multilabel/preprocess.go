package multilabel

import (
	"bytes"
	"fmt"
	_ "image/gif"  // gif decoder
	_ "image/jpeg" // jpeg decoder
	_ "image/png"  // png decoder

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // bmp decoder
	_ "golang.org/x/image/webp" // webp decoder
)

// Preprocess decodes an image, resizes it to size x size and returns an
// NHWC float32 tensor with RGB channels scaled to [0,1].
func Preprocess(data []byte, size int) ([]float32, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid input size %d", size)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	resized := imaging.Resize(img, size, size, imaging.Linear)

	tensor := make([]float32, size*size*3)
	i := 0
	for y := range size {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+size*4]
		for x := 0; x < size*4; x += 4 {
			tensor[i] = float32(row[x]) / 255
			tensor[i+1] = float32(row[x+1]) / 255
			tensor[i+2] = float32(row[x+2]) / 255
			i += 3
		}
	}
	return tensor, nil
}
