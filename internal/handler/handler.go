package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quizpulse/quizpulse/internal/analytics"
	appI18n "github.com/quizpulse/quizpulse/internal/i18n"
	"github.com/quizpulse/quizpulse/internal/model"
	"github.com/quizpulse/quizpulse/internal/store"
	"github.com/quizpulse/quizpulse/internal/syncer"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	syncer syncer.Runner // nil when scraping is not configured
}

// New creates a new Handler.
func New(s *store.Store, runner syncer.Runner) *Handler {
	return &Handler{store: s, syncer: runner}
}

// Routes registers all HTTP routes. Read endpoints get a short timeout; the
// sync endpoint waits for a full scrape cycle and needs a generous one.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/logout", h.handleLogout)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Get("/quizzes", h.handleQuizzes)
				r.Get("/quizzes/{quizID}/report", h.handleReport)
				r.Get("/quizzes/{quizID}/snapshots", h.handleSnapshots)
			})
			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Use(middleware.Timeout(15 * time.Minute))
				r.Post("/quizzes/{quizID}/sync", h.handleSync)
				r.Delete("/quizzes/{quizID}/snapshots", h.handleReset)
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/toggle", h.handleToggleUser)
			})
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func (h *Handler) handleQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.store.ListQuizzes(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quizzes": quizzes})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")

	history, err := h.store.LoadHistory(r.Context(), quizID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(history) == 0 {
		http.Error(w, appI18n.T(r.Context(), "NoSnapshots"), http.StatusNotFound)
		return
	}

	current := history[len(history)-1].Roster
	writeJSON(w, http.StatusOK, analytics.BuildReport(quizID, current, history))
}

func (h *Handler) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")

	info, err := h.store.GetQuizInfo(r.Context(), quizID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	infos, err := h.store.ListSnapshotInfos(r.Context(), quizID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"info": info, "snapshots": infos})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")

	if h.syncer == nil {
		http.Error(w, appI18n.T(r.Context(), "SyncNotConfigured"), http.StatusServiceUnavailable)
		return
	}
	res, err := h.syncer.Sync(r.Context(), quizID)
	if err != nil {
		slog.Error("sync failed", "quiz", quizID, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": res,
		"message": appI18n.Td(r.Context(), "SyncCompleted", map[string]any{
			"Students": res.Students,
			"Quiz":     res.QuizID,
			"Failed":   res.Failed,
		}),
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")

	deleted, err := h.store.ResetHistory(r.Context(), quizID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	user := model.UserFromContext(r.Context())
	slog.Info("history reset", "quiz", quizID, "deleted", deleted, "by", user.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": deleted,
		"message": appI18n.Tp(r.Context(), "HistoryCleared", int(deleted)),
	})
}
