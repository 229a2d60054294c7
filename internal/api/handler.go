// Package api binds the service operations to HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/search"
	"github.com/pankaj28843/docs-mcp-server/internal/service"
	"github.com/pankaj28843/docs-mcp-server/internal/trigger"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/logger"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		svc:    svc,
		logger: slog.Default().With("component", "api-handler"),
	}
}

type registerRequest struct {
	Name         string              `json:"name"`
	Source       config.SourceConfig `json:"source"`
	SyncInterval string              `json:"sync_interval,omitempty"`
	Watch        bool                `json:"watch,omitempty"`
}

func (h *Handler) RegisterTenant(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body"))
		return
	}
	cfg := config.TenantConfig{Name: req.Name, Source: req.Source, Watch: req.Watch}
	if req.SyncInterval != "" {
		d, err := time.ParseDuration(req.SyncInterval)
		if err != nil {
			h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid sync_interval %q", req.SyncInterval))
			return
		}
		cfg.SyncInterval = d
	}

	reg, err := h.svc.RegisterTenant(r.Context(), cfg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, reg)
}

func (h *Handler) DeregisterTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeregisterTenant(r.Context(), r.PathValue("tenant")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants := h.svc.ListTenants()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

func (h *Handler) DescribeIndex(w http.ResponseWriter, r *http.Request) {
	desc, err := h.svc.DescribeIndex(r.Context(), r.PathValue("tenant"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, desc)
}

// Search accepts q, k (or limit) and prefix. A missing q is an empty query.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	k := 0
	raw := params.Get("k")
	if raw == "" {
		raw = params.Get("limit")
	}
	if raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, r, apperrors.New(apperrors.ErrQuery, http.StatusBadRequest, "k must be a positive integer"))
			return
		}
		k = parsed
	}

	resp, err := h.svc.Search(r.Context(), r.PathValue("tenant"), params.Get("q"), k,
		search.Filters{URIPrefix: params.Get("prefix")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) SubmitSync(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.SubmitSync(r.Context(), r.PathValue("tenant"), trigger.SourceAPI)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, j)
}

func (h *Handler) SyncHistory(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.SyncHistory(r.Context(), r.PathValue("tenant"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.GetSyncStatus(r.Context(), r.PathValue("job"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, j)
}

func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.CancelSync(r.Context(), r.PathValue("job"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, j)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	var throttled *service.ThrottledError
	if errors.As(err, &throttled) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(throttled.RetryAfter.Seconds()))))
	}
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"kind":  string(apperrors.KindOf(err)),
	})
}
