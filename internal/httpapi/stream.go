package httpapi

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

const streamKeepAlive = 25 * time.Second

// streamAuditLogs sends the caller's tenant audit entries as Server-Sent
// Events while the connection stays open.
func (a *API) streamAuditLogs(w http.ResponseWriter, r *http.Request) {
	feed := a.deps.Audit.Feed()
	if feed == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	events := feed.Subscribe(r.Context(), currentSession(r).Tenant.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(": stream started\n\n")); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: audit\ndata: ")); err != nil {
				return
			}
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
		case <-ticker.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
