package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/leadnexus/internal/leads"
	"github.com/kalambet/leadnexus/internal/retrieval"
	"github.com/kalambet/leadnexus/internal/storage"
)

// SearchRequest is the body of POST /leads/search.
type SearchRequest struct {
	Query    string `json:"query"`
	Category string `json:"category,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
}

type RelationshipRequest struct {
	LeadID1          string `json:"leadId1"`
	LeadID2          string `json:"leadId2"`
	RelationshipType string `json:"relationshipType"`
}

// GraphRequest is the body of POST /graph/query.
type GraphRequest struct {
	Query        string `json:"query"`
	MaxDepth     int    `json:"maxDepth,omitempty"`
	LeadCategory string `json:"leadCategory,omitempty"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		cat, err := storage.ParseCategory(req.Category)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Searcher.Search(r.Context(), retrieval.Query{
			Text:     req.Query,
			Category: cat,
			Page:     req.Page,
			PageSize: req.PageSize,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListLeads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat, err := storage.ParseCategory(r.URL.Query().Get("category"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		limit, err := intParam(r, "limit", leads.DefaultListLimit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		offset, err := intParam(r, "offset", 0)
		if err != nil {
			writeError(w, r, err)
			return
		}
		page, err := deps.Leads.ListLeads(r.Context(), cat, limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleGetLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Leads.GetLead(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleSimilar(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := intParam(r, "limit", retrieval.DefaultSimilar)
		if err != nil {
			writeError(w, r, err)
			return
		}
		similar, err := deps.Searcher.Similar(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": similar})
	}
}

func handleListRelationships(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rels, err := deps.Leads.Relationships(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rels})
	}
}

func handleGraphQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GraphRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		cat, err := storage.ParseCategory(req.LeadCategory)
		if err != nil {
			writeError(w, r, err)
			return
		}
		g, err := deps.Leads.QueryKnowledgeGraph(r.Context(), leads.GraphQuery{
			Query:    req.Query,
			MaxDepth: req.MaxDepth,
			Category: cat,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

func handleCreateLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in leads.Input
		if !decodeJSON(w, r, &in) {
			return
		}
		l, err := deps.Leads.CreateLead(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

func handleUpdateLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p leads.Patch
		if !decodeJSON(w, r, &p) {
			return
		}
		l, err := deps.Leads.UpdateLead(r.Context(), chi.URLParam(r, "id"), p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleDeleteLead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Leads.DeleteLead(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleAddRelationship(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RelationshipRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := deps.Leads.AddRelationship(r.Context(), req.LeadID1, req.LeadID2, req.RelationshipType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleDeleteRelationship(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Leads.DeleteRelationship(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
