package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/pipeline"
)

// handleRunEvents serves a Server-Sent Events stream of a run's audit
// entries. Entries already recorded are sent first, then new ones as they
// appear. A "done" event ends the stream once the run stops moving.
func (s *Server) handleRunEvents(c echo.Context) error {
	runID := c.Param("id")
	if _, err := s.svc.Status(runID); err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sendDone := func(reason string) {
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", reason)
		w.Flush()
	}

	sent := 0
	tick := time.NewTicker(s.pollInterval)
	defer tick.Stop()

	for {
		entries, err := s.svc.Audit(audit.ReadOpts{RunID: runID})
		if err != nil {
			sendDone("audit log unreadable")
			return nil
		}
		for _, e := range entries[min(sent, len(entries)):] {
			b, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: audit\ndata: %s\n\n", b)
		}
		sent = len(entries)
		w.Flush()

		info, err := s.svc.Status(runID)
		if err != nil {
			sendDone("run not found")
			return nil
		}
		if info.Status.Terminal(info.Node) || info.Status == pipeline.StatusWaitingForHuman {
			sendDone(string(info.Status))
			return nil
		}

		select {
		case <-c.Request().Context().Done():
			return nil
		case <-tick.C:
		}
	}
}
