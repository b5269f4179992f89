package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dealdesk/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve live event streams and status probes over HTTP",
	Long: `Endpoints:

  GET  /stream?deal=<id>        SSE stream of trimmed pipeline events
  GET  /deals/<id>/status       run summary, stage markers, persona outputs
  POST /deals/<id>/run          start or resume the pipeline
  POST /deals/<id>/advance      stall probe (advances one unit if stalled)

Stream subscribers see only events from connection time forward; history is
served by the event store, not the stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		broadcaster := stream.NewBroadcaster(logger)
		orch, mgr, err := buildOrchestrator(cmd.Context(), cfg, broadcaster)
		if err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/stream", stream.SSEHandler(broadcaster, logger))

		mux.HandleFunc("/deals/", func(w http.ResponseWriter, r *http.Request) {
			parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
			if len(parts) != 3 {
				http.NotFound(w, r)
				return
			}
			dealID, action := parts[1], parts[2]

			switch {
			case r.Method == http.MethodGet && action == "status":
				runs, err := mgr.Runs(dealID)
				if err != nil {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				markers, err := mgr.Markers(dealID)
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				personas, err := mgr.PersonaOutputs(dealID)
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{
					"runs":     runs,
					"markers":  markers,
					"personas": personas,
				})

			case r.Method == http.MethodPost && action == "run":
				// Detach from the request context: serverless-style hosts
				// kill in-flight background work, which is exactly what the
				// advance probe recovers from.
				go func() {
					if err := orch.Run(cmd.Context(), dealID); err != nil {
						logger.Warn("run failed",
							zap.String("deal_id", dealID), zap.Error(err))
					}
				}()
				w.WriteHeader(http.StatusAccepted)

			case r.Method == http.MethodPost && action == "advance":
				advance, err := orch.AdvanceIfStalled(r.Context(), dealID)
				if err != nil {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]string{"advance": string(advance)})

			default:
				http.NotFound(w, r)
			}
		})

		logger.Info("serving", zap.String("addr", cfg.Serve.Addr))
		server := &http.Server{Addr: cfg.Serve.Addr, Handler: mux}
		return server.ListenAndServe()
	},
}
