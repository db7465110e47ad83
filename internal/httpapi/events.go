package httpapi

import (
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/fieldworks/fieldsync/internal/fieldsync"
)

type syncCompletedEvent struct {
	Type   string               `json:"type"`
	At     string               `json:"at"`
	Result fieldsync.SyncResult `json:"result"`
}

// handleEvents streams sync-completed notifications over a websocket so
// UI clients can refresh lists without polling. The token travels in the
// access_token query parameter because browser websocket clients cannot
// set an Authorization header.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	if _, authErr := authorizeBearer(authHeader, s.cfg.JWTSecret, "", "applications:read", time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	events, unsubscribe := s.service.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case result, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			event := syncCompletedEvent{
				Type:   "syncCompleted",
				At:     time.Now().UTC().Format(time.RFC3339Nano),
				Result: result,
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}
