package rest

import (
	"encoding/json"
	"net/http"

	"github.com/beatmap-tools/packgrab/internal/logctx"
	"github.com/beatmap-tools/packgrab/internal/progress"
	"github.com/beatmap-tools/packgrab/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

// statusResponse is the JSON shape served at /status.
type statusResponse struct {
	Total     int              `json:"total"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Active    []activeDownload `json:"active"`
}

type activeDownload struct {
	Pack       int     `json:"pack"`
	Percent    float64 `json:"percent"`
	Speed      float64 `json:"speed_bps"`
	Downloaded int64   `json:"downloaded"`
	Size       int64   `json:"size"`
}

// NewRouter builds the observation surface for a running batch:
// /status returns a JSON snapshot of the progress table and /metrics
// exposes the Prometheus registry.
func NewRouter(table *progress.Table, tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()

	r.Get("/status", statusHandler(table))
	r.Handle("/metrics", tel.Handler())

	return r
}

func statusHandler(table *progress.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := table.Snapshot()

		resp := statusResponse{
			Total:     snap.Counts.Total,
			Completed: snap.Counts.Completed,
			Failed:    snap.Counts.Failed,
			Active:    make([]activeDownload, 0, len(snap.Active)),
		}

		for _, a := range snap.Active {
			resp.Active = append(resp.Active, activeDownload{
				Pack:       a.Pack,
				Percent:    a.Percent,
				Speed:      a.Speed,
				Downloaded: a.Downloaded,
				Size:       a.Size,
			})
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logctx.LoggerFromContext(r.Context()).Error("failed to encode status response", "err", err)
		}
	}
}
