package roles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-platform/aegis-iam/internal/platform/httpx"
	"github.com/aegis-platform/aegis-iam/internal/shared"
)

// Guard wraps route-level permission checks.
type Guard interface {
	RequireAny(permissions ...string) func(http.Handler) http.Handler
	RequireAll(permissions ...string) func(http.Handler) http.Handler
}

// Handler manages role store endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    Guard
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validate: validator.New()}
}

// MountRoutes registers role store routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny("roles:read", "admin:access"))
		r.Get("/roles", h.list)
		r.Get("/roles/{id}", h.show)
		r.Get("/roles/{id}/grants/{permission}", h.hasPermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll("roles:write"))
		r.Post("/roles", h.create)
		r.Put("/roles/{id}", h.update)
		r.Post("/roles/{id}/permissions/{permissionID}", h.addPermission)
		r.Delete("/roles/{id}/permissions/{permissionID}", h.removePermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll("roles:delete"))
		r.Delete("/roles/{id}", h.remove)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.logger.Warn("role create failed", "name", req.Name, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	req := ListRolesRequest{
		HasPermission: q.Get("has_permission"),
		Search:        q.Get("search"),
		Page:          page,
		PerPage:       perPage,
	}
	if v := q.Get("is_system"); v != "" {
		isSystem := v == "true"
		req.IsSystem = &isSystem
	}
	result, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("role list failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       result,
		"pagination": shared.NewPagination(req.Page, req.PerPage, total),
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		h.logger.Warn("role update failed", "id", id, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Warn("role delete failed", "id", id, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) addPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := h.parseID(w, r, "permissionID")
	if !ok {
		return
	}
	role, err := h.service.AddPermission(r.Context(), roleID, permissionID)
	if err != nil {
		h.logger.Warn("role grant failed", "role_id", roleID, "permission_id", permissionID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) removePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := h.parseID(w, r, "permissionID")
	if !ok {
		return
	}
	role, err := h.service.RemovePermission(r.Context(), roleID, permissionID)
	if err != nil {
		h.logger.Warn("role revoke failed", "role_id", roleID, "permission_id", permissionID, "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) hasPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.parseID(w, r, "id")
	if !ok {
		return
	}
	granted, err := h.service.HasPermission(r.Context(), roleID, chi.URLParam(r, "permission"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"granted": granted})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+param)
		return 0, false
	}
	return id, true
}
