package storage

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"runtime"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/semaphore"

	_ "image/gif"

	_ "golang.org/x/image/webp"
)

const (
	// DefaultImageQuality is the JPEG quality used when none is configured.
	DefaultImageQuality = 85
	// DefaultMaxDimension bounds either image edge when no limit is set.
	DefaultMaxDimension = 2560
	// maxDecodePixels caps the decoded pixel count. Compressed payloads can
	// expand far beyond the upload size limit; anything declaring more pixels
	// passes through unoptimized.
	maxDecodePixels = 1 << 26
)

// OptimizeOptions bound one optimization pass.
type OptimizeOptions struct {
	// Quality is the JPEG quality, 1 to 100. Out of range uses the default.
	Quality int
	// MaxWidth/MaxHeight cap the output dimensions. Images already inside
	// the bounds are never upscaled.
	MaxWidth  int
	MaxHeight int
	// Format forces re-encoding into "jpeg" or "png". Empty keeps the
	// source format.
	Format string
}

// OptimizeResult reports what an optimization pass produced. Data is always
// usable: on any failure it is the original payload with Optimized false.
type OptimizeResult struct {
	Data      []byte
	Optimized bool
	Format    string
	Width     int
	Height    int
}

// ImageOptimizer downscales and re-encodes image payloads best-effort. The
// CPU-bound work runs behind a weighted semaphore so a burst of large images
// cannot starve the request-handling goroutines.
type ImageOptimizer struct {
	sem *semaphore.Weighted
}

// NewImageOptimizer builds an optimizer allowing maxParallel concurrent
// passes; values below one use GOMAXPROCS.
func NewImageOptimizer(maxParallel int64) *ImageOptimizer {
	if maxParallel < 1 {
		maxParallel = int64(runtime.GOMAXPROCS(0))
	}
	return &ImageOptimizer{sem: semaphore.NewWeighted(maxParallel)}
}

// Optimize runs one pass under the concurrency gate. A canceled context or
// any decode/encode failure returns the original bytes unchanged; the upload
// proceeds with them.
func (o *ImageOptimizer) Optimize(ctx context.Context, data []byte, opts OptimizeOptions) OptimizeResult {
	if len(data) == 0 {
		return OptimizeResult{Data: data}
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return OptimizeResult{Data: data}
	}
	defer o.sem.Release(1)
	return optimizeImage(data, opts)
}

func optimizeImage(data []byte, opts OptimizeOptions) OptimizeResult {
	original := OptimizeResult{Data: data}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || int64(cfg.Width)*int64(cfg.Height) > maxDecodePixels {
		return original
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return original
	}
	// Re-encoding a GIF would drop animation frames; leave them alone.
	if format == "gif" && opts.Format == "" {
		return original
	}

	target := opts.Format
	if target == "" {
		target = format
	}

	maxW := opts.MaxWidth
	if maxW <= 0 {
		maxW = DefaultMaxDimension
	}
	maxH := opts.MaxHeight
	if maxH <= 0 {
		maxH = DefaultMaxDimension
	}

	resized := img
	bounds := img.Bounds()
	scaled := bounds.Dx() > maxW || bounds.Dy() > maxH
	if scaled {
		resized = imaging.Fit(img, maxW, maxH, imaging.Lanczos)
	}

	quality := opts.Quality
	if quality < 1 || quality > 100 {
		quality = DefaultImageQuality
	}

	var buf bytes.Buffer
	switch target {
	case "jpeg", "jpg":
		target = "jpeg"
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality})
	case "png":
		err = png.Encode(&buf, resized)
	default:
		// No encoder for the source format (webp, bmp, tiff).
		return original
	}
	if err != nil {
		return original
	}

	// Adopt the pass only when it changed something for the better; a
	// same-format re-encode that grew the payload is not an optimization.
	if !scaled && target == format && buf.Len() >= len(data) {
		return original
	}

	out := resized.Bounds()
	return OptimizeResult{
		Data:      buf.Bytes(),
		Optimized: true,
		Format:    target,
		Width:     out.Dx(),
		Height:    out.Dy(),
	}
}
