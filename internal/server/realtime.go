package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	realtimeEventChange    = "change"
	realtimeEventHeartbeat = "heartbeat"
	realtimeEventReady     = "ready"
)

// handleRealtime streams table change events as Server-Sent Events until the
// client goes away. Events carry no row data; clients re-fetch the table.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	tables := parseTables(c.Query("tables"))
	ctx := c.Request.Context()
	events, cancel := h.realtime.Subscribe(ctx, tables)
	defer cancel()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventReady, gin.H{"tables": tables})
	c.Writer.Flush()

	h.logger.Debug("realtime stream opened", zap.Strings("tables", tables))
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(realtimeEventChange, event)
			return true
		case now := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": now.UTC()})
			return true
		}
	})
	h.logger.Debug("realtime stream closed", zap.Strings("tables", tables))
}

func parseTables(raw string) []string {
	var tables []string
	for _, part := range strings.Split(raw, ",") {
		if table := strings.TrimSpace(part); table != "" {
			tables = append(tables, table)
		}
	}
	return tables
}
