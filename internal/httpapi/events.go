package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pulsewire/harvester/internal/ingest"
)

// heartbeatInterval keeps idle event streams alive through proxies that cut
// silent connections.
const heartbeatInterval = 15 * time.Second

// handleJobEvents streams a job's progress as server-sent events. The stream
// ends after the terminal event; a client reconnecting after the run finished
// receives the retained terminal event immediately.
func (s *Server) handleJobEvents(c echo.Context) error {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		return failValidation(c, map[string]string{"job_id": "is required"})
	}

	_, knownErr := s.controller.Registry().Get(jobID)
	_, finished := s.controller.Broker().Terminal(jobID)
	if knownErr != nil && !finished {
		return failNotFound(c, "Job not found")
	}

	events, cancel := s.controller.Broker().Subscribe(jobID)
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := writeSSE(resp, ingest.Event{
				JobID: jobID,
				Type:  ingest.EventHeartbeat,
			}); err != nil {
				return nil
			}
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSE(resp, event); err != nil {
				return nil
			}
			if event.Type == ingest.EventCompleted || event.Type == ingest.EventError {
				return nil
			}
		}
	}
}

func writeSSE(resp *echo.Response, event ingest.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
