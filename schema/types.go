package schema

import "fmt"

// SessionID identifies one capture session.
type SessionID string

// ImageFormat names the raster encoding of an ImageBlob.
type ImageFormat string

// FormatPNG is the single lossless format used end-to-end.
const FormatPNG ImageFormat = "png"

// ImageBlob is a self-describing raster payload. The capture core never
// touches the filesystem; downstream storage and OCR ingestion receive
// the blob as-is.
type ImageBlob struct {
	Format ImageFormat
	Data   []byte
}

// SurfaceExtent describes the scrollable surface as measured at session
// start. It is immutable for the lifetime of the session.
type SurfaceExtent struct {
	// TotalHeight is the full scrollable height in pixels.
	TotalHeight int
	// ViewportWidth and ViewportHeight are the visible area in pixels.
	ViewportWidth  int
	ViewportHeight int
	// InitialScrollOffset is the vertical offset found at session start,
	// restored before the session settles.
	InitialScrollOffset int
}

// Validate checks the extent invariant TotalHeight >= ViewportHeight >= 0.
func (e SurfaceExtent) Validate() error {
	if e.ViewportHeight < 0 || e.ViewportWidth < 0 {
		return fmt.Errorf("%w: negative viewport %dx%d", ErrExtentProbe, e.ViewportWidth, e.ViewportHeight)
	}
	if e.TotalHeight < e.ViewportHeight {
		return fmt.Errorf("%w: total height %d below viewport height %d", ErrExtentProbe, e.TotalHeight, e.ViewportHeight)
	}
	return nil
}

// TileCount returns how many viewport-height slices cover the surface.
func (e SurfaceExtent) TileCount() int {
	if e.ViewportHeight <= 0 {
		return 0
	}
	return (e.TotalHeight + e.ViewportHeight - 1) / e.ViewportHeight
}

// Tile is one captured viewport-height slice. Tiles are produced strictly
// in index order; Index determines the nominal vertical slot.
type Tile struct {
	Index int
	// Image holds the encoded raster bytes as returned by the snapshot
	// primitive.
	Image []byte
	// TargetOffsetY is the scroll offset the slice was captured at,
	// Index * ViewportHeight. The compositor places tiles by accumulated
	// decoded height, so this is nominal, not authoritative.
	TargetOffsetY int
}

// SessionStatus tracks the capture state machine.
type SessionStatus string

// Session states, in the order a tiled capture normally moves through them.
const (
	StatusIdle            SessionStatus = "idle"
	StatusProbingExtent   SessionStatus = "probing-extent"
	StatusCapturingSingle SessionStatus = "capturing-single"
	StatusCapturingTile   SessionStatus = "capturing-tile"
	StatusRetryingTile    SessionStatus = "retrying-tile"
	StatusComposing       SessionStatus = "composing"
	StatusRestoringScroll SessionStatus = "restoring-scroll"
	StatusDone            SessionStatus = "done"
	StatusFailed          SessionStatus = "failed"
)
