// Package testutil provides small capture fixtures shared across package
// tests: synthetic textures, frame records and recorded-shot folders.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fourdrec/fourdrec/pkg/fourdframe"
)

// JPEG returns an encoded gradient texture of the given size.
func JPEG(t testing.TB, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 251),
				G: uint8(y * 241),
				B: uint8((x + y) * 239),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

// Record builds a valid frame record with the given triangle count and
// texture size. Vertex values are deterministic so tests can assert on them.
func Record(t testing.TB, triangles, texWidth, texHeight int) *fourdframe.Record {
	t.Helper()
	points := triangles * 3
	rec := &fourdframe.Record{
		Positions: make([]float32, points*3),
		UVs:       make([]float32, points*2),
		Texture:   JPEG(t, texWidth, texHeight),
	}
	for i := range rec.Positions {
		rec.Positions[i] = float32(i) * 0.25
	}
	for i := range rec.UVs {
		rec.UVs[i] = float32(i) * 0.125
	}
	return rec
}

// SaveRecord writes a frame record fixture to path.
func SaveRecord(t testing.TB, path string, rec *fourdframe.Record) {
	t.Helper()
	require.NoError(t, fourdframe.Save(path, rec))
}
