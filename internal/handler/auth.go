package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/quizpulse/quizpulse/internal/i18n"
	"github.com/quizpulse/quizpulse/internal/model"
)

const bearerPrefix = "Bearer "

func bearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if !strings.HasPrefix(raw, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
}

// requireAuth is middleware that resolves the bearer token and stores the
// user in the request context.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		tok, err := h.store.GetToken(r.Context(), token)
		if err != nil {
			slog.Error("failed to look up token", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if tok == nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		user, err := h.store.GetUserByID(r.Context(), tok.UserID)
		if err != nil || user == nil || !user.Active {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil || !user.Active {
		http.Error(w, appI18n.T(r.Context(), "LoginError"), http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, appI18n.T(r.Context(), "LoginError"), http.StatusUnauthorized)
		return
	}

	token, err := h.store.CreateToken(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to create token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("user logged in", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        token,
		"role":         user.Role,
		"display_name": user.DisplayName,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := h.store.DeleteToken(r.Context(), token); err != nil {
			slog.Error("failed to delete token", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
