package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/cordum/rqadmin/core/admin"
	"github.com/cordum/rqadmin/core/infra/logging"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// queueSnapshot is pushed to stream clients on every tick.
type queueSnapshot struct {
	Time   string           `json:"time"`
	Queues []admin.QueueRow `json:"queues"`
	Error  string           `json:"error,omitempty"`
}

func (s *server) snapshot(ctx context.Context) queueSnapshot {
	snap := queueSnapshot{Time: time.Now().UTC().Format(time.RFC3339)}
	set, err := s.admin.Queues().All(ctx)
	if err != nil {
		snap.Error = err.Error()
		return snap
	}
	snap.Queues = set.Items()
	return snap
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}

	logging.Info("gateway", "ws connection attempt", "remote", r.RemoteAddr)
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info("gateway", "ws connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reads surface client close frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	for {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := ws.WriteJSON(s.snapshot(ctx)); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("gateway", "ws write failed", "error", err)
			}
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
