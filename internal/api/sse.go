package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const heartbeatEvery = 60 // ticks without a data event, 30 s at the default 500 ms poll

// streamProgress serves one session's progress as Server-Sent Events. The
// session row is polled every streamPoll; a data event goes out only when
// the snapshot changed. Terminal status closes the stream with an
// `event: complete`; after streamTicks polls without one the stream closes
// with `event: timeout` and clients fall back to polling.
func (s *Server) streamProgress(c *gin.Context) {
	sessionID, ok := s.pathID(c, "session_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		s.respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return
	}
	send := func(event, data string) {
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}

	var lastPayload string
	quiet := 0
	for tick := 0; tick < s.streamTicks; tick++ {
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			send("error", `{"error": "Session not found"}`)
			return
		}

		payload, err := json.Marshal(snapshotOf(session))
		if err != nil {
			send("error", `{"error": "encode failed"}`)
			return
		}
		if string(payload) != lastPayload {
			send("", string(payload))
			lastPayload = string(payload)
			quiet = 0
		} else {
			quiet++
		}

		if session.Status.IsTerminal() {
			send("complete", string(payload))
			s.log.WithField("session_id", sessionID).Info("progress stream completed")
			return
		}

		// Quiet counter resets on every data event; the heartbeat only
		// covers stretches with no progress to report.
		if quiet > 0 && quiet%heartbeatEvery == 0 {
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.streamPoll):
		}
	}

	send("timeout", `{"error": "Stream timeout"}`)
	s.log.WithField("session_id", sessionID).Warn("progress stream timed out")
}
