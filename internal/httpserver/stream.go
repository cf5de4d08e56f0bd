// internal/httpserver/stream.go
//
// GET /session/stream: pushes a snapshot to the client after every event
// (countdown ticks included) over a WebSocket.
// Frames are {"type":"snapshot","data":<Snapshot>}. The stream ends when the
// client disconnects or the session is torn down.

package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/keiba-duel/internal/game"
)

const writeWait = 5 * time.Second

type wsMsg struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == s.opts.ClientOrigin
		},
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	t := tableFrom(r)
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade")
		return
	}
	defer conn.Close()

	snaps, cancel := t.Subscribe()
	defer cancel()
	log.Debug().Str("session", t.ID()).Str("remote", r.RemoteAddr).Msg("ws: connect")

	// Reader: only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !send(conn, t.Snapshot()) {
		return
	}
	for {
		select {
		case <-gone:
			log.Debug().Str("session", t.ID()).Msg("ws: closed by client")
			return
		case snap, ok := <-snaps:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteJSON(wsMsg{Type: "closed"})
				return
			}
			if !send(conn, snap) {
				return
			}
		}
	}
}

func send(conn *websocket.Conn, snap game.Snapshot) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(wsMsg{Type: "snapshot", Data: snap}); err != nil {
		log.Warn().Err(err).Str("session", snap.ID).Msg("ws: write")
		return false
	}
	return true
}
