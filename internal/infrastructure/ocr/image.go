// Package ocr holds helpers shared by the OCR provider adapters.
package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

var ErrUnsupportedImage = errors.New("unsupported image")

// ImageSize reads the pixel dimensions from the image header.
func ImageSize(data []byte) (int, int, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: %s image has size %dx%d", ErrUnsupportedImage, format, cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, nil
}

// BoxFromPoints returns the axis-aligned box around the given polygon.
func BoxFromPoints(xs, ys []int) (x, y, w, h int) {
	if len(xs) == 0 || len(ys) == 0 {
		return 0, 0, 0, 0
	}
	minX, maxX := xs[0], xs[0]
	for _, v := range xs[1:] {
		minX = min(minX, v)
		maxX = max(maxX, v)
	}
	minY, maxY := ys[0], ys[0]
	for _, v := range ys[1:] {
		minY = min(minY, v)
		maxY = max(maxY, v)
	}
	return minX, minY, maxX - minX, maxY - minY
}
