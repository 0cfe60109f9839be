package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/maxpert/headcount/notify"
	"github.com/rs/zerolog/log"
)

// watchKeepAlive is how often an idle watch stream writes a blank line
const watchKeepAlive = 15 * time.Second

// ChangeSource lets HTTP clients follow accepted changes
type ChangeSource interface {
	Subscribe(filter notify.Filter) (<-chan notify.Change, func())
}

// handleWatch streams changes as newline-delimited JSON until the client
// disconnects. Repeat ?topic= to restrict topics.
func (h *AdminHandlers) handleWatch(w http.ResponseWriter, r *http.Request) {
	if h.components.Changes == nil {
		writeErrorResponse(w, http.StatusNotFound, "this process does not subscribe to changes")
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("Could not clear write deadline for watch stream")
	}

	changes, cancel := h.components.Changes.Subscribe(notify.Filter{Topics: r.URL.Query()["topic"]})
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Warn().Err(err).Msg("Watch stream does not support flushing")
		return
	}

	enc := json.NewEncoder(w)
	keepAlive := time.NewTicker(watchKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := enc.Encode(change); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
