package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	streamEventCollection = "collection-change"
	streamEventHeartbeat  = "heartbeat"
	heartbeatInterval     = 25 * time.Second
)

// handleStream pushes the session's projection over SSE: the current state
// immediately, a fresh payload after every projection or selection change,
// and heartbeats to keep intermediaries from closing the connection.
func (h *httpHandler) handleStream(c *gin.Context) {
	session, ok := h.sessionFor(c)
	if !ok {
		return
	}
	query := c.Query("query")

	notifications := make(chan struct{}, 1)
	unregister := session.OnChange(func() {
		select {
		case notifications <- struct{}{}:
		default:
		}
	})
	defer unregister()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent(streamEventCollection, collectionResponse(session, query))
	c.Writer.Flush()

	// the stream outlives the session check in sessionFor, so every emission
	// re-verifies that this session is still the active one
	sessionLive := func() bool {
		current, err := h.engine.SessionFor(session.UserID())
		return err == nil && current == session
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-notifications:
			if !sessionLive() {
				return false
			}
			c.SSEvent(streamEventCollection, collectionResponse(session, query))
			return true
		case <-heartbeat.C:
			if !sessionLive() {
				return false
			}
			c.SSEvent(streamEventHeartbeat, time.Now().UTC().Unix())
			return true
		}
	})
}
