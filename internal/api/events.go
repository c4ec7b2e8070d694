package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/lakerun/internal/engine"
	"github.com/seantiz/lakerun/internal/model"
)

// handleStreamEvents streams the status transitions of an operation being
// awaited as server-sent events. The stream ends with a "done" event when the
// wait finishes; subscribing after the wait finished yields "done" at once.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	kind := model.OperationKind(chi.URLParam(r, "kind"))
	switch kind {
	case model.KindContext, model.KindCommand, model.KindStatement, model.KindRun:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown operation kind")
		return
	}
	id := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.liftWriteDeadline(w)

	// Safe even if the wait completed between routing and this call: a
	// closed topic yields a closed channel and the loop exits immediately.
	ch, unsub := s.engine.Broker().Subscribe(engine.Topic(kind, id))
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("marshal status event", "error", err)
				continue
			}
			if err := writeSSEData(w, string(payload)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEData writes a payload as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix, as SSE requires.
func writeSSEData(w http.ResponseWriter, payload string) error {
	for _, seg := range strings.Split(payload, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
