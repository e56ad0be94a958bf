// Package stash implements the page-save workflow that consumes the
// capture core. The full-page image is an optional enrichment: a capture
// failure is recorded on the saved page, never propagated.
package stash

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/pagestash/pagestash/capture"
	"github.com/pagestash/pagestash/internal/logx"
	"github.com/pagestash/pagestash/schema"
	"pkt.systems/pslog"
)

// Capturer produces a full-surface image for a page.
type Capturer interface {
	Capture(ctx context.Context, surface capture.Surface) (schema.ImageBlob, error)
}

// Deps captures optional dependencies for the stash service.
type Deps struct {
	Capturer Capturer
	Logger   pslog.Logger
}

// SavePageRequest describes one page save.
type SavePageRequest struct {
	URL     string
	Title   string
	Content string
	Tags    []string
	// Surface, when set together with a configured Capturer, enables the
	// full-page image enrichment.
	Surface capture.Surface
}

// SavedPage is the self-contained result payload handed to downstream
// storage and OCR ingestion.
type SavedPage struct {
	URL     string
	Title   string
	Content string
	Tags    []string
	SavedAt time.Time
	// Image is present only when capture succeeded.
	Image *schema.ImageBlob
	// ImageError carries the machine-readable reason when it did not.
	ImageError string
}

// Service runs the save workflow.
type Service struct {
	capturer Capturer
	logger   pslog.Logger
	now      func() time.Time
}

// NewService constructs the stash service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Service{
		capturer: deps.Capturer,
		logger:   logger,
		now:      time.Now,
	}
}

// SavePage assembles the saved-page payload and attempts the optional
// image capture. Capture failure of any kind leaves the non-image parts
// intact.
func (s *Service) SavePage(ctx context.Context, req SavePageRequest) (SavedPage, error) {
	if ctx == nil {
		return SavedPage{}, errors.New("missing context")
	}
	if strings.TrimSpace(req.URL) == "" {
		return SavedPage{}, errors.New("missing url")
	}
	log := logx.WithURL(ctx, req.URL)

	page := SavedPage{
		URL:     req.URL,
		Title:   req.Title,
		Content: req.Content,
		Tags:    req.Tags,
		SavedAt: s.now(),
	}

	switch {
	case s.capturer == nil:
		page.ImageError = "capture not configured"
	case req.Surface == nil:
		page.ImageError = "no capture surface"
	default:
		blob, err := s.capturer.Capture(ctx, req.Surface)
		if err != nil {
			log.Warn("page saved without image", "reason", err)
			page.ImageError = err.Error()
		} else {
			page.Image = &blob
			log.Info("page saved with image", "bytes", len(blob.Data))
		}
	}
	return page, nil
}

// ocrPayload mirrors the request shape the OCR/LLM enrichment service
// ingests.
type ocrPayload struct {
	Image        string   `json:"image,omitempty"`
	ImageFormat  string   `json:"imageFormat,omitempty"`
	URL          string   `json:"url"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	ExistingTags []string `json:"existingTags"`
}

// OCRPayload encodes the saved page for downstream OCR ingestion. The
// image travels as base64; an absent image simply omits the field.
func (p SavedPage) OCRPayload() ([]byte, error) {
	payload := ocrPayload{
		URL:          p.URL,
		Title:        p.Title,
		Content:      p.Content,
		ExistingTags: p.Tags,
	}
	if payload.ExistingTags == nil {
		payload.ExistingTags = []string{}
	}
	if p.Image != nil {
		payload.Image = base64.StdEncoding.EncodeToString(p.Image.Data)
		payload.ImageFormat = string(p.Image.Format)
	}
	return json.Marshal(payload)
}
