package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// sseWriter frames JSON payloads as Server-Sent Events. Each event is
// written as "data: <json>\n\n" and flushed immediately.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	f, ok := c.Writer.(http.Flusher)
	if !ok {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "streaming unsupported"})
		return nil, false
	}
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Status(http.StatusOK)
	f.Flush()
	return &sseWriter{w: c.Writer, f: f}, true
}

func (s *sseWriter) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleHeartbeat streams probe samples for one server until the client
// disconnects.
func (r *Router) handleHeartbeat(c *gin.Context) {
	name, ok := r.server(c)
	if !ok {
		return
	}
	if _, found := r.deps.Watchdog.Status(name); !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown server: " + name})
		return
	}
	sse, ok := newSSEWriter(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	for sample := range r.deps.Prober.Stream(ctx, name) {
		if err := sse.send(sample); err != nil {
			return
		}
	}
}

// handleJobEvents streams job progress snapshots. The first event is the
// job's current snapshot; the stream ends when the job finishes.
func (r *Router) handleJobEvents(c *gin.Context) {
	id := c.Param("id")
	events, cancel, found := r.deps.Jobs.Subscribe(id)
	if !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown job: " + id})
		return
	}
	defer cancel()

	sse, ok := newSSEWriter(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, open := <-events:
			if !open {
				return
			}
			if err := sse.send(snap); err != nil {
				return
			}
		}
	}
}
