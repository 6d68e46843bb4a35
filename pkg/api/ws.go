package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// pollInterval is how often a subscribed connection re-reads the entity
// snapshot. spec.md's KV store interface (§4.7) exposes no pub/sub
// primitive — unlike tarsy's Postgres LISTEN/NOTIFY, which backs
// pkg/events/manager.go's push model — so this polls instead of
// subscribing, the same tradeoff tarsy itself falls back to for clients
// that connect before any NOTIFY fires (its catchup-query path).
const pollInterval = 2 * time.Second

// writeTimeout bounds how long a single send may block, mirroring
// tarsy's ConnectionManager.writeTimeout.
const writeTimeout = 5 * time.Second

// handleProgressWS upgrades to a websocket and pushes the entity snapshot
// every pollInterval, only resending when the snapshot's updated_at has
// advanced. It stops when the request context ends, a send fails, or a
// snapshot with phase "done" or "error" has been sent.
func (s *Server) handleProgressWS(c *gin.Context) {
	entityType := c.Param("entity_type")
	entityID := c.Param("entity_id")

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := c.Request.Context()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastUpdated time.Time
	for {
		body, err := s.snapshot(ctx, entityType, entityID)
		if err == nil {
			if updated, _ := body["updated_at"].(time.Time); updated.After(lastUpdated) {
				lastUpdated = updated
				if sendErr := s.sendJSON(ctx, conn, body); sendErr != nil {
					return
				}
				if phase, _ := body["phase"].(string); phase == "done" || phase == "error" {
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) sendJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
