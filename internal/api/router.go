// Package api exposes the lead service over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/ingest"
	"github.com/kalambet/leadnexus/internal/leads"
	"github.com/kalambet/leadnexus/internal/metrics"
	"github.com/kalambet/leadnexus/internal/retrieval"
	"github.com/kalambet/leadnexus/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// LeadService is the lead management surface of leads.Service.
type LeadService interface {
	CreateLead(ctx context.Context, in leads.Input) (storage.Lead, error)
	GetLead(ctx context.Context, id string) (leads.Detail, error)
	ListLeads(ctx context.Context, category storage.Category, limit, offset int) (leads.Page, error)
	UpdateLead(ctx context.Context, id string, p leads.Patch) (storage.Lead, error)
	DeleteLead(ctx context.Context, id string) error
	AddRelationship(ctx context.Context, leadID1, leadID2, relationshipType string) (leads.RelationshipResult, error)
	Relationships(ctx context.Context, leadID string) ([]storage.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error
	QueryKnowledgeGraph(ctx context.Context, q leads.GraphQuery) (leads.GraphResult, error)
}

type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) (retrieval.Result, error)
	Similar(ctx context.Context, leadID string, k int) ([]storage.ScoredLead, error)
}

type Ingester interface {
	Ingest(ctx context.Context, urls []string) (ingest.Result, error)
}

// JobQueue queues ingest batches for the background worker.
type JobQueue interface {
	Enqueue(ctx context.Context, urls []string) (string, error)
}

type JobLookup interface {
	GetJob(ctx context.Context, id string) (storage.Job, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the collaborators behind the HTTP API. Jobs and JobStatus may
// be nil, which disables async ingestion and job lookup.
type Deps struct {
	Leads       LeadService
	Searcher    Searcher
	Ingester    Ingester
	Jobs        JobQueue
	JobStatus   JobLookup
	Health      Pinger
	Token       string
	CORSOrigins []string
}

// NewHandler builds the full router. Reads are public; writes require the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(deps.CORSOrigins),
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", metrics.Handler())

	r.Post("/leads/search", handleSearch(deps))
	r.Get("/leads", handleListLeads(deps))
	r.Get("/leads/{id}", handleGetLead(deps))
	r.Get("/leads/{id}/similar", handleSimilar(deps))
	r.Get("/leads/{id}/relationships", handleListRelationships(deps))
	r.Post("/graph/query", handleGraphQuery(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/leads/ingest", handleIngest(deps))
		r.Post("/leads", handleCreateLead(deps))
		r.Patch("/leads/{id}", handleUpdateLead(deps))
		r.Delete("/leads/{id}", handleDeleteLead(deps))
		r.Post("/relationships", handleAddRelationship(deps))
		r.Delete("/relationships/{id}", handleDeleteRelationship(deps))
	})

	return r
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if deps.Health != nil {
			if err := deps.Health.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// decodeJSON reads a size-limited JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds %d bytes", maxRequestBodySize)
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// intParam parses a non-negative integer query parameter. A missing value
// yields def.
func intParam(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, apperr.New(apperr.ValidationFailure, "%s must be a non-negative integer", key)
	}
	return v, nil
}
