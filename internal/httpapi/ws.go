package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/creditdesk/chataudit/internal/logger"
)

const wsWriteTimeout = 5 * time.Second

// handleDashboardWS streams dashboard snapshots as they are published.
// The current snapshot is sent immediately on connect, then one
// message per cache update until the client or server goes away.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	team := mux.Vars(r)["team"]
	claims, authErr := authorizeBearer(bearerHeader(r), s.cfg.JWTSecret, team, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.L.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")
	logger.L.Debug("dashboard stream opened", "team", team, "subject", claims.Subject)

	ctx := r.Context()
	notify := s.cache.Subscribe()
	defer s.cache.Unsubscribe(notify)

	for {
		if snapshot, ok := s.cache.Get(); ok && snapshot.Team == team {
			snapshot.PageState = s.pageState()
			writeCtx, cancel := s.wsWriteContext(ctx)
			writeErr := wsjson.Write(writeCtx, conn, snapshot)
			cancel()
			if writeErr != nil {
				logger.L.Debug("dashboard stream write failed", "team", team, "error", writeErr)
				return
			}
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-notify:
		}
	}
}

func (s *Server) wsWriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, wsWriteTimeout)
}
