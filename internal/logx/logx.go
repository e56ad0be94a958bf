// Package logx centralizes logger annotation for capture flows.
package logx

import (
	"context"

	"github.com/pagestash/pagestash/schema"
	"pkt.systems/pslog"
)

// WithURL annotates the logger with the page URL if present.
func WithURL(ctx context.Context, url string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if url != "" {
		log = log.With("url", url)
	}
	return log
}

// WithSession annotates the logger with a capture session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithTile annotates the logger with a tile index.
func WithTile(log pslog.Logger, index int) pslog.Logger {
	return log.With("tile", index)
}
