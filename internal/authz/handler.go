package authz

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/keystone-pm/keystone/internal/platform/httpx"
)

// Handler wires the decision endpoints. Both endpoints answer for the
// authenticated actor only; SUPER_ADMIN may ask on behalf of another
// principal by naming it in the request body.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers decision routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.handleCheck)
	r.Post("/access", h.handleAccess)
}

type checkRequest struct {
	PrincipalID   string `json:"principalId"`
	PrincipalKind string `json:"principalKind"`
	Category      string `json:"category" validate:"required"`
	Resource      string `json:"resource" validate:"required"`
	Action        string `json:"action" validate:"required"`
	Scope         *struct {
		Type string `json:"type" validate:"required"`
		ID   string `json:"id" validate:"required"`
	} `json:"scope"`
}

type accessRequest struct {
	PrincipalID   string `json:"principalId"`
	PrincipalKind string `json:"principalKind"`
	ResourceType  string `json:"resourceType" validate:"required"`
	ResourceID    string `json:"resourceId" validate:"required"`
}

type decisionResponse struct {
	Allowed bool `json:"allowed"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principal, ok := h.subject(w, r, req.PrincipalID, req.PrincipalKind)
	if !ok {
		return
	}

	check := CheckRequest{
		Principal: principal,
		Category:  ResourceCategory(req.Category),
		Resource:  req.Resource,
		Action:    PermissionAction(req.Action),
	}
	if req.Scope != nil {
		check.Scope = &Scope{Type: ScopeType(req.Scope.Type), ID: req.Scope.ID}
	}
	if err := check.Validate(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	allowed, err := h.service.HasPermission(r.Context(), check)
	if err != nil {
		// A scoped check naming a resource that does not exist is a
		// caller mistake, not an engine failure.
		if errors.Is(err, httpx.ErrNotFound) {
			httpx.RespondError(w, err)
			return
		}
		h.logger.Error("permission check", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, decisionResponse{Allowed: allowed})
}

func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principal, ok := h.subject(w, r, req.PrincipalID, req.PrincipalKind)
	if !ok {
		return
	}
	if !ValidScopeType(ScopeType(req.ResourceType)) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown resource type")
		return
	}

	allowed, err := h.service.CanAccess(r.Context(), principal, ScopeType(req.ResourceType), req.ResourceID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			httpx.RespondError(w, err)
			return
		}
		h.logger.Error("access check", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, decisionResponse{Allowed: allowed})
}

// subject resolves whose permissions the request asks about. A body naming
// a different principal is an impersonated check and requires the bypass
// role.
func (h *Handler) subject(w http.ResponseWriter, r *http.Request, bodyID, bodyKind string) (Principal, bool) {
	actor, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return Principal{}, false
	}
	if bodyID == "" || (bodyID == actor.ID && PrincipalKind(bodyKind) == actor.Kind) {
		return actor, true
	}
	if !CanImpersonate(NormalizeRole(string(actor.Kind))) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return Principal{}, false
	}
	subject := Principal{ID: bodyID, Kind: PrincipalKind(bodyKind)}
	if subject.Kind == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "principalKind is required when principalId is set")
		return Principal{}, false
	}
	return subject, true
}
