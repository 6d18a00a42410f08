package slave

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// EncodeJPEG encodes img at the given quality, downscaling first so the
// longest edge is at most scaleLength pixels. scaleLength <= 0 keeps the
// source resolution. Upscaling never happens.
func EncodeJPEG(img image.Image, quality, scaleLength int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality %d out of range", quality)
	}
	img = scaleLongestEdge(img, scaleLength)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// scaleLongestEdge resizes img so max(width, height) == target, preserving
// aspect ratio. Uses the Catmull-Rom kernel; preview images survive the
// sharpening better than bilinear at the scale factors cameras produce.
func scaleLongestEdge(img image.Image, target int) image.Image {
	if target <= 0 {
		return img
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= target {
		return img
	}

	var dw, dh int
	if w >= h {
		dw = target
		dh = h * target / w
	} else {
		dh = target
		dw = w * target / h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}
