// Package imaging prepares photos for the chat channel: decode, bound to a
// maximum size, JPEG-encode, and wrap as a base64 data URI that fits under
// the channel's payload ceiling.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/zulandar/fieldchat/internal/config"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DataURIPrefix starts every encoded image body.
const DataURIPrefix = "data:image/jpeg;base64,"

// qualityStep is how far JPEG quality drops per attempt when the payload is
// over the ceiling.
const qualityStep = 10

var (
	// ErrTooLarge is returned when no allowed quality fits the payload ceiling.
	ErrTooLarge = errors.New("imaging: image too large for channel payload")
	// ErrTooManyPixels is returned before decoding when the declared
	// dimensions exceed the pixel ceiling.
	ErrTooManyPixels = errors.New("imaging: image dimensions too large")
)

// Options bounds the encoded output.
type Options struct {
	MaxWidth        int
	MaxHeight       int
	Quality         int // starting JPEG quality, 1-100
	MinQuality      int // lowest quality tried before giving up
	MaxPayloadBytes int // ceiling on the data URI length; 0 disables
	MaxPixels       int // ceiling on declared width*height; 0 disables
}

// FromConfig converts the image config section into Options.
func FromConfig(cfg config.ImageConfig) Options {
	return Options{
		MaxWidth:        cfg.MaxWidth,
		MaxHeight:       cfg.MaxHeight,
		Quality:         cfg.Quality,
		MinQuality:      cfg.MinQuality,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		MaxPixels:       cfg.MaxPixels,
	}
}

// Compressor turns an uploaded image into a data URI.
type Compressor struct {
	Opts Options
}

// NewCompressor creates a Compressor.
func NewCompressor(opts Options) *Compressor {
	return &Compressor{Opts: opts}
}

// Compress reads an image (JPEG, PNG, GIF or WebP) from r and returns a JPEG
// data URI no larger than the configured payload ceiling.
func (c *Compressor) Compress(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("imaging: read: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("imaging: decode: %w", err)
	}
	if limit := c.Opts.MaxPixels; limit > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(limit) {
		return "", fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("imaging: decode: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	img := Fit(src, c.Opts.MaxWidth, c.Opts.MaxHeight)

	q := clampQuality(c.Opts.Quality)
	floor := clampQuality(c.Opts.MinQuality)
	if floor > q {
		floor = q
	}
	var buf bytes.Buffer
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return "", fmt.Errorf("imaging: encode %s as jpeg: %w", format, err)
		}
		if c.Opts.MaxPayloadBytes <= 0 || EncodedLen(buf.Len()) <= c.Opts.MaxPayloadBytes {
			return DataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
		}
		if q == floor {
			return "", fmt.Errorf("%w: %d bytes at quality %d", ErrTooLarge, EncodedLen(buf.Len()), q)
		}
		q -= qualityStep
		if q < floor {
			q = floor
		}
	}
}

// EncodedLen is the data URI length for n bytes of JPEG.
func EncodedLen(n int) int {
	return len(DataURIPrefix) + base64.StdEncoding.EncodedLen(n)
}

// Fit scales src down so it fits within maxW x maxH, keeping the aspect
// ratio. Images already inside the bounds are only flattened onto white.
// A non-positive bound leaves that dimension unconstrained.
func Fit(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), maxW, maxH)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// FitSize returns the largest w x h with the same aspect ratio as the input
// that fits inside the bounds. It never scales up.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale == 1.0 {
		return w, h
	}
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	if maxW > 0 && nw > maxW {
		nw = maxW
	}
	if maxH > 0 && nh > maxH {
		nh = maxH
	}
	return nw, nh
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	}
	return q
}
