package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// errSinkFull marks a subscriber that cannot keep up; the broadcaster
// unsubscribes it on the next send.
var errSinkFull = errors.New("subscriber buffer full")

// chanSink bridges broadcast callbacks onto the SSE handler goroutine.
type chanSink struct {
	ch chan StreamEvent
}

func (s *chanSink) Send(ev StreamEvent) error {
	select {
	case s.ch <- ev:
		return nil
	default:
		return errSinkFull
	}
}

// SSEHandler serves one Server-Sent Events stream per request, subscribing
// the connection to the deal named in the query string. History is not
// replayed; connect before starting a run to observe it from the beginning.
func SSEHandler(b *Broadcaster, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dealID := r.URL.Query().Get("deal")
		if dealID == "" {
			http.Error(w, "deal query parameter required", http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sink := &chanSink{ch: make(chan StreamEvent, 64)}
		unsubscribe := b.Subscribe(dealID, sink)
		defer unsubscribe()

		logger.Debug("subscriber connected", zap.String("deal_id", dealID))
		for {
			select {
			case <-r.Context().Done():
				logger.Debug("subscriber disconnected", zap.String("deal_id", dealID))
				return
			case ev := <-sink.ch:
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
				flusher.Flush()
			}
		}
	})
}
