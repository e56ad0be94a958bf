// Package compose assembles captured viewport tiles into one raster image
// and manages the singleton rendering resource that backs composition.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/pagestash/pagestash/schema"
	"pkt.systems/pslog"
)

// Compositor assembles an ordered tile sequence into one final image.
type Compositor interface {
	Compose(ctx context.Context, tiles []schema.Tile, width, totalHeight int) (schema.ImageBlob, error)
}

// Raster composes tiles on an in-process RGBA surface and encodes the
// result as PNG.
type Raster struct {
	scaler        xdraw.Scaler
	decodeTimeout time.Duration
	logger        pslog.Logger
}

// RasterOption tunes a Raster compositor.
type RasterOption func(*Raster)

// WithDecodeTimeout bounds the tile decode phase of one composition.
func WithDecodeTimeout(d time.Duration) RasterOption {
	return func(r *Raster) {
		if d > 0 {
			r.decodeTimeout = d
		}
	}
}

// WithLogger sets the compositor logger.
func WithLogger(logger pslog.Logger) RasterOption {
	return func(r *Raster) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRaster constructs the raster compositor.
func NewRaster(opts ...RasterOption) *Raster {
	r := &Raster{
		scaler:        xdraw.CatmullRom,
		decodeTimeout: schema.DefaultDecodeTimeout,
		logger:        pslog.Ctx(context.Background()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compose decodes every tile concurrently, then draws them strictly in
// index order at accumulated decoded heights. Decode completion of all
// tiles gates finalization; any single decode failure fails the whole
// composition and no partial image is returned.
func (r *Raster) Compose(ctx context.Context, tiles []schema.Tile, width, totalHeight int) (schema.ImageBlob, error) {
	if ctx == nil {
		return schema.ImageBlob{}, errors.New("missing context")
	}
	if len(tiles) == 0 {
		return schema.ImageBlob{}, fmt.Errorf("%w: no tiles", schema.ErrCompositionFailed)
	}
	if width <= 0 || totalHeight <= 0 {
		return schema.ImageBlob{}, fmt.Errorf("%w: invalid canvas %dx%d", schema.ErrCompositionFailed, width, totalHeight)
	}

	decodeCtx, cancel := context.WithTimeout(ctx, r.decodeTimeout)
	defer cancel()
	decoded, err := r.decodeAll(decodeCtx, tiles)
	if err != nil {
		return schema.ImageBlob{}, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, totalHeight))
	offsetY := 0
	for i, img := range decoded {
		img = r.fitWidth(img, width, tiles[i].Index)
		h := img.Bounds().Dy()
		dst := image.Rect(0, offsetY, width, offsetY+h)
		xdraw.Draw(canvas, dst, img, img.Bounds().Min, xdraw.Src)
		offsetY += h
	}
	if offsetY != totalHeight {
		r.logger.Debug("composed height differs from nominal", "composed", offsetY, "nominal", totalHeight)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return schema.ImageBlob{}, fmt.Errorf("%w: encode: %v", schema.ErrCompositionFailed, err)
	}
	return schema.ImageBlob{Format: schema.FormatPNG, Data: buf.Bytes()}, nil
}

// decodeAll decodes tiles concurrently. Order of completion is not
// guaranteed; results land in index slots and the lowest failing index
// wins when reporting an error.
func (r *Raster) decodeAll(ctx context.Context, tiles []schema.Tile) ([]image.Image, error) {
	decoded := make([]image.Image, len(tiles))
	errs := make([]error, len(tiles))
	var wg sync.WaitGroup
	for i := range tiles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img, _, err := image.Decode(bytes.NewReader(tiles[i].Image))
			decoded[i], errs[i] = img, err
		}(i)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: decode: %v", schema.ErrCompositionFailed, ctx.Err())
	}
	for i, err := range errs {
		if err != nil {
			return nil, &schema.TileDecodeError{Index: tiles[i].Index, Err: err}
		}
	}
	return decoded, nil
}

// fitWidth rescales a tile whose decoded width differs from the canvas
// width (browser chrome or zoom rounding). Height is preserved so the
// accumulated-offset placement stays truthful.
func (r *Raster) fitWidth(img image.Image, width, index int) image.Image {
	b := img.Bounds()
	if b.Dx() == width {
		return img
	}
	r.logger.Debug("rescaling tile to canvas width", "tile", index, "have", b.Dx(), "want", width)
	dst := image.NewRGBA(image.Rect(0, 0, width, b.Dy()))
	r.scaler.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
