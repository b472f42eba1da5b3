package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/leadnexus/internal/ingest"
)

type IngestRequest struct {
	URLs []string `json:"urls"`
}

// JobView is the client-facing shape of a queued ingest job.
type JobView struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// handleIngest runs the batch inline, or queues it with ?async=true.
func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := ingest.ValidateURLs(req.URLs); err != nil {
			writeError(w, r, err)
			return
		}

		async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
		if async {
			if deps.Jobs == nil {
				httpError(w, http.StatusServiceUnavailable, "configuration_error", "async ingestion is not available")
				return
			}
			id, err := deps.Jobs.Enqueue(r.Context(), req.URLs)
			if err != nil {
				writeError(w, r, err)
				return
			}
			w.Header().Set("Location", "/jobs/"+id)
			writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": "queued"})
			return
		}

		res, err := deps.Ingester.Ingest(r.Context(), req.URLs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.JobStatus == nil {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		job, err := deps.JobStatus.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		v := JobView{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		}
		if job.ResultJSON != "" && json.Valid([]byte(job.ResultJSON)) {
			v.Result = json.RawMessage(job.ResultJSON)
		}
		writeJSON(w, http.StatusOK, v)
	}
}
