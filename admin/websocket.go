package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maxpert/headcount/notify"
	"github.com/rs/zerolog/log"
)

const (
	wsPingInterval = 30 * time.Second
	wsPongWait     = 60 * time.Second
	wsWriteWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 1024,
}

// handleWatchSocket is the websocket form of handleWatch. Each change is one
// JSON text frame. Client frames are read only to process control messages.
func (h *AdminHandlers) handleWatchSocket(w http.ResponseWriter, r *http.Request) {
	if h.components.Changes == nil {
		writeErrorResponse(w, http.StatusNotFound, "this process does not subscribe to changes")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Watch socket upgrade failed")
		return
	}
	defer conn.Close()

	changes, cancel := h.components.Changes.Subscribe(notify.Filter{Topics: r.URL.Query()["topic"]})
	defer cancel()

	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case change, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(change); err != nil {
				log.Debug().Err(err).Msg("Watch socket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
