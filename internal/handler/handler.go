package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/lender-rates/internal/export"
	"github.com/Dan9191/lender-rates/internal/middleware"
	"github.com/Dan9191/lender-rates/internal/models"
	"github.com/Dan9191/lender-rates/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const serviceName = "TopLenderGuide Rate API v2"

// Default day windows when the query omits days
const (
	defaultHistoryDays = 90
	defaultExportDays  = 365
)

// RateService is the business layer the handlers call
type RateService interface {
	RefreshRates(ctx context.Context) (*models.RefreshResult, error)
	LatestRates(ctx context.Context) ([]models.LenderRate, error)
	LastRefresh(ctx context.Context) (time.Time, error)
	LenderHistory(ctx context.Context, lenderID string, days int) ([]models.HistoryEntry, error)
	History(ctx context.Context, days int) ([]models.HistoryEntry, error)
	ExportHistory(ctx context.Context, days int) ([]models.HistoryEntry, error)
	Stats(ctx context.Context) (models.HistoryStats, error)
}

// NextRunner reports the next scheduled refresh
type NextRunner interface {
	NextRun() time.Time
}

// Handler serves the rate read API and the admin refresh trigger
type Handler struct {
	svc      RateService
	sched    NextRunner
	adminKey string
	log      *logrus.Logger
}

// NewHandler creates a handler over the rate service and scheduler
func NewHandler(svc RateService, sched NextRunner, adminKey string, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, sched: sched, adminKey: adminKey, log: log}
}

// Routes builds the router with public read routes and the key-protected admin route
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.CORS)

	// Public routes
	r.HandleFunc("/", h.Root).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/rates", h.GetRates).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/rates/{lender_id}", h.GetLenderHistory).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/history", h.GetHistory).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/export.csv", h.ExportCSV).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/stats", h.GetStats).Methods(http.MethodGet, http.MethodOptions)

	// Protected routes
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AuthMiddleware(h.adminKey, h.log))
	admin.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost, http.MethodOptions)

	return r
}

// Root reports liveness and the next scheduled run
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	var next *time.Time
	if h.sched != nil {
		if t := h.sched.NextRun(); !t.IsZero() {
			next = &t
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  serviceName,
		"next_run": next,
	})
}

// GetRates returns the latest snapshot for every lender
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.svc.LatestRates(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var updated *time.Time
	if len(rates) > 0 {
		t := rates[0].UpdatedAt
		for _, rate := range rates[1:] {
			if rate.UpdatedAt.After(t) {
				t = rate.UpdatedAt
			}
		}
		updated = &t
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updated_at": updated,
		"lenders":    rates,
	})
}

// GetLenderHistory returns one lender's daily history, newest first
func (h *Handler) GetLenderHistory(w http.ResponseWriter, r *http.Request) {
	lenderID := mux.Vars(r)["lender_id"]
	days, err := parseDays(r, defaultHistoryDays)
	if err != nil {
		h.writeError(w, err)
		return
	}

	history, err := h.svc.LenderHistory(r.Context(), lenderID, days)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lender_id": lenderID,
		"history":   history,
	})
}

// GetHistory returns every lender's history for the window plus overall stats
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r, defaultHistoryDays)
	if err != nil {
		h.writeError(w, err)
		return
	}

	history, err := h.svc.History(r.Context(), days)
	if err != nil {
		h.writeError(w, err)
		return
	}
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days_requested": days,
		"stats":          stats,
		"history":        history,
	})
}

// ExportCSV streams the history window as a CSV attachment
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r, defaultExportDays)
	if err != nil {
		h.writeError(w, err)
		return
	}

	history, err := h.svc.ExportHistory(r.Context(), days)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+export.FileName(days))
	w.WriteHeader(http.StatusOK)
	if err := export.WriteHistoryCSV(w, history); err != nil {
		h.log.WithError(err).Error("Failed to write CSV export")
	}
}

// GetStats returns aggregate history statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Refresh runs the pipeline immediately. The run is detached from the request
// so a disconnecting client cannot abort it halfway.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RefreshRates(context.WithoutCancel(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.WithField("run_id", result.RunID).Info("Manual refresh completed")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"run_id":  result.RunID,
		"updated": len(result.Lenders),
		"lenders": result.Lenders,
		"source":  result.Base.Source,
	})
}

func parseDays(r *http.Request, defaultVal int) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return defaultVal, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", service.ErrInvalidDays, raw)
	}
	return days, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDays):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), http.StatusBadRequest))
	case errors.Is(err, service.ErrLenderNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("Lender not found", http.StatusNotFound))
	default:
		h.log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("Internal server error", http.StatusInternalServerError))
	}
}

func errorBody(msg string, status int) map[string]any {
	return map[string]any{"error": msg, "status": status}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
