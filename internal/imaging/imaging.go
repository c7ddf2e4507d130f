// Package imaging validates and prepares source images for the VL
// runtime: decode, optional downscale, and PNG re-encode.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Prepared is a decoded source image ready for an inference request.
type Prepared struct {
	// Original file path, kept for logging.
	Path string
	// PNG-encoded pixel buffer handed to the runtime.
	PNG []byte
	// Final dimensions after any downscale.
	Width, Height int
	// Resized is set when the image was scaled down.
	Resized bool
	// Format as reported by the decoder (png, jpeg, bmp, tiff, gif).
	Format string
}

// Prepare reads and decodes the image at path, downscales it so the
// longest side does not exceed maxSide pixels, and re-encodes as PNG.
// maxSide <= 0 disables scaling. Any read or decode failure is
// returned as-is; callers classify it as an invalid image.
func Prepare(path string, maxSide int) (*Prepared, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("decode %s: empty image", path)
	}

	resized := false
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		nw, nh := fit(w, h, maxSide)
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img, w, h, resized = dst, nw, nh, true
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	return &Prepared{
		Path:    path,
		PNG:     buf.Bytes(),
		Width:   w,
		Height:  h,
		Resized: resized,
		Format:  format,
	}, nil
}

// fit scales (w, h) down so the longest side equals maxSide,
// preserving aspect ratio. Both results stay >= 1.
func fit(w, h, maxSide int) (int, int) {
	if w >= h {
		nh := h * maxSide / w
		if nh < 1 {
			nh = 1
		}
		return maxSide, nh
	}
	nw := w * maxSide / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxSide
}
