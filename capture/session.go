package capture

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/pagestash/pagestash/internal/logx"
	"github.com/pagestash/pagestash/schema"
	"pkt.systems/pslog"
)

// session is the ephemeral state of one capture request. It lives from
// Capture entry to return and is mutated only by the orchestrator.
type session struct {
	id     schema.SessionID
	status schema.SessionStatus
	extent schema.SurfaceExtent
	tiles  []schema.Tile
	log    pslog.Logger
}

func newSession(logger pslog.Logger) *session {
	id := schema.SessionID(newID())
	return &session{
		id:     id,
		status: schema.StatusIdle,
		log:    logx.WithSession(logger, id),
	}
}

func (s *session) transition(status schema.SessionStatus) {
	s.status = status
	s.log.Debug("capture session state", "state", status)
}

func (s *session) transitionTile(status schema.SessionStatus, index, attempt int) {
	s.status = status
	s.log.Debug("capture session state", "state", status, "tile", index, "attempt", attempt)
}

func newID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "session-unknown"
	}
	return hex.EncodeToString(buf[:])
}
