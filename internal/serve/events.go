package serve

import (
	"fmt"
	"net/http"
)

// handleEvents streams a server-sent "snapshot" event carrying the version
// number whenever the store publishes. The current version is sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, unsubscribe := s.source.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if snap := s.source.Current(); snap != nil {
		writeEvent(w, snap.Metadata.Version)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case version, ok := <-updates:
			if !ok {
				return
			}
			writeEvent(w, version)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, version uint64) {
	fmt.Fprintf(w, "event: snapshot\ndata: {\"version\":%d}\n\n", version)
}
