package web

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// eventStream writes server-sent events. Each event carries one JSON object.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ok      bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: flusher, ok: true}
}

// send writes one event. After the first write error the stream goes quiet;
// the operation behind it keeps running so session state stays consistent.
func (e *eventStream) send(event string, v any) {
	if !e.ok {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		e.ok = false
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		e.ok = false
		return
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
