package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bobarin/beatframe/internal/models"
)

// sseWriter frames progress events as server-sent events:
// "data: <json>\n\n" per event and "data: [DONE]\n\n" at the end.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, true
}

// Send implements pipeline.ProgressSink.
func (s *sseWriter) Send(ctx context.Context, ev models.ProgressEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.Done {
		return s.write([]byte("[DONE]"))
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	return s.write(data)
}

func (s *sseWriter) write(payload []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
