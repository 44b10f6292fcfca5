package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-engine/internal/appointment"
)

// ChangeSource streams published change events.
type ChangeSource interface {
	Subscribe(ctx context.Context, channels []string) (<-chan []byte, error)
}

const keepAliveInterval = 25 * time.Second

// changesHandler streams the caller's change events (as practitioner and as
// patient) as server-sent events.
func changesHandler(source ChangeSource, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
			return
		}

		id := caller(r).ID
		msgs, err := source.Subscribe(r.Context(), []string{
			appointment.PractitionerChannel(id),
			appointment.PatientChannel(id),
		})
		if err != nil {
			log.Warn().Err(err).Str("caller", id.String()).Msg("subscribe to changes")
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "change feed unavailable")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: change\ndata: %s\n\n", msg)
				flusher.Flush()
			}
		}
	}
}
