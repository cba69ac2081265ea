// Package api exposes the advisor over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"toolscout/internal/advisor"
	"toolscout/internal/retrieval"
	"toolscout/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Asker is the advisor entry point the handlers call.
type Asker interface {
	Ask(ctx context.Context, req advisor.Request) (advisor.Answer, error)
}

// StatsProvider reports session population stats.
type StatsProvider interface {
	Stats(ctx context.Context) (session.Stats, error)
}

// CatalogInfo is the read-only catalog state the stats endpoint reports.
type CatalogInfo interface {
	Len() int
	Generation() uint64
	Categories() []string
}

// Deps holds everything the HTTP layer serves.
type Deps struct {
	Advisor  Asker
	Sessions StatsProvider
	Catalog  CatalogInfo
	// Reload re-reads the catalog file and rebuilds embeddings, returning
	// the new item count. Nil disables the admin endpoint.
	Reload func(ctx context.Context) (int, error)
}

// NewHandler returns the REST API handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/chat", handleChat(deps.Advisor))
	r.Get("/stats", handleStats(deps))
	r.Post("/admin/catalog/reload", handleReload(deps.Reload))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(a Asker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req advisor.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		answer, err := a.Ask(r.Context(), req)
		if err != nil {
			if errors.Is(err, retrieval.ErrEmbeddingUnavailable) {
				httpError(w, http.StatusServiceUnavailable, "embedding_unavailable", "embedding provider unavailable: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "answering failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(answer)
	}
}

// StatsResponse is the /stats payload.
type StatsResponse struct {
	Catalog  CatalogStats  `json:"catalog"`
	Sessions session.Stats `json:"sessions"`
}

type CatalogStats struct {
	Items      int    `json:"items"`
	Generation uint64 `json:"generation"`
	Categories int    `json:"categories"`
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Sessions.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading session stats: %v", err)
			return
		}

		resp := StatsResponse{
			Catalog: CatalogStats{
				Items:      deps.Catalog.Len(),
				Generation: deps.Catalog.Generation(),
				Categories: len(deps.Catalog.Categories()),
			},
			Sessions: sessions,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleReload(reload func(ctx context.Context) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reload == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "catalog reload not configured")
			return
		}

		n, err := reload(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "catalog reload failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"items": n})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
