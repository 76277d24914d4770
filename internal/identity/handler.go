package identity

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-platform/aegis-iam/internal/observability"
	"github.com/aegis-platform/aegis-iam/internal/platform/httpx"
	"github.com/aegis-platform/aegis-iam/internal/sessions"
	"github.com/aegis-platform/aegis-iam/internal/shared"
)

// Guard wraps route-level permission checks.
type Guard interface {
	RequireAny(permissions ...string) func(http.Handler) http.Handler
	RequireAll(permissions ...string) func(http.Handler) http.Handler
}

// Handler manages authentication and account endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	sessions *sessions.Manager
	guard    Guard
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler builds Handler instance. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, sessionMgr *sessions.Manager, guard Guard, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, sessions: sessionMgr, guard: guard, metrics: metrics, validate: validator.New()}
}

// MountPublicRoutes registers the unauthenticated auth endpoints.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/auth/register", h.register)
	r.Post("/auth/login", h.login)
}

// MountProtectedRoutes registers endpoints that require a valid token.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Post("/auth/logout", h.logout)
	r.Get("/auth/me", h.me)
	r.Put("/auth/password", h.changePassword)
	r.Put("/auth/profile", h.updateProfile)
	r.Get("/auth/sessions", h.listSessions)

	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny("users:read", "admin:access"))
		r.Get("/users", h.list)
		r.Get("/users/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll("users:write"))
		r.Post("/users/{id}/roles/{roleID}", h.assignRole)
		r.Delete("/users/{id}/roles/{roleID}", h.removeRole)
		r.Post("/users/{id}/activate", h.activate)
		r.Post("/users/{id}/deactivate", h.deactivate)
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.logger.Warn("registration failed", "username", req.Username, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	ip := remoteIP(r)
	user, err := h.service.Authenticate(r.Context(), req.Identifier, req.Password, ip)
	if err != nil {
		h.metrics.ObserveLogin("failure")
		httpx.RespondError(w, err)
		return
	}
	issued, err := h.sessions.Issue(r.Context(), user.ID, ip, r.UserAgent())
	if err != nil {
		h.logger.Error("session issue failed", "user_id", user.ID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveLogin("success")
	httpx.JSON(w, http.StatusOK, map[string]any{
		"token":      issued.Token,
		"expires_at": issued.Session.ExpiresAt,
		"user":       user,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	session, ok := h.sessions.Validate(r.Context(), token)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
		return
	}
	if err := h.sessions.Revoke(r.Context(), session.ID); err != nil {
		h.logger.Error("logout failed", "session_id", session.ID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Get(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	if err := h.service.ChangePassword(r.Context(), shared.ActorFromContext(r.Context()), req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"changed": true})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	user, err := h.service.UpdateProfile(r.Context(), shared.ActorFromContext(r.Context()), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.ListForUser(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	req := ListUsersRequest{
		Role:    q.Get("role"),
		Search:  q.Get("search"),
		Page:    page,
		PerPage: perPage,
	}
	if v := q.Get("is_active"); v != "" {
		isActive := v == "true"
		req.IsActive = &isActive
	}
	users, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("user list failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       users,
		"pagination": shared.NewPagination(req.Page, req.PerPage, total),
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := h.parseID(w, r, "roleID")
	if !ok {
		return
	}
	user, err := h.service.AssignRole(r.Context(), userID, roleID)
	if err != nil {
		h.logger.Warn("role assignment failed", "user_id", userID, "role_id", roleID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := h.parseID(w, r, "roleID")
	if !ok {
		return
	}
	user, err := h.service.RemoveRole(r.Context(), userID, roleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Activate(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"active": true})
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Deactivate(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"active": false})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
