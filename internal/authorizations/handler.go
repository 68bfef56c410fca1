package authorizations

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clearpath-care/clearpath/internal/platform/httpx"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// Handler exposes ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	cache     *StatusCache
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, cache *StatusCache) *Handler {
	return &Handler{logger: logger, service: service, cache: cache, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/status", h.handleStatus)
	r.Get("/expiring", h.handleExpiring)
	r.Get("/high-utilization", h.handleHighUtilization)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/release", h.handleRelease)
	r.Post("/{id}/suspend", h.handleSuspend)
	r.Post("/{id}/reactivate", h.handleReactivate)
}

type createRequest struct {
	ClientID        int64  `json:"client_id" validate:"required"`
	ServiceTypeID   int64  `json:"service_type_id" validate:"required"`
	PayerReference  string `json:"payer_reference"`
	AuthorizedUnits int    `json:"authorized_units" validate:"required,gt=0"`
	StartDate       string `json:"start_date" validate:"required"`
	EndDate         string `json:"end_date" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "end_date must be YYYY-MM-DD")
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	auth, err := h.service.Create(r.Context(), actor, CreateInput{
		ClientID:        req.ClientID,
		ServiceTypeID:   req.ServiceTypeID,
		PayerReference:  req.PayerReference,
		AuthorizedUnits: req.AuthorizedUnits,
		StartDate:       start,
		EndDate:         end,
	})
	if err != nil {
		h.logger.Error("create authorization", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, auth)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	auth, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"authorization":       auth,
		"remaining_units":     auth.RemainingUnits(),
		"utilization_percent": auth.UtilizationPercent(),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	clientID, _ := strconv.ParseInt(r.URL.Query().Get("client_id"), 10, 64)
	serviceTypeID, _ := strconv.ParseInt(r.URL.Query().Get("service_type_id"), 10, 64)
	if clientID == 0 || serviceTypeID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "client_id and service_type_id required")
		return
	}
	summary, err := h.cache.Status(r.Context(), clientID, serviceTypeID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	auths, err := h.service.ExpiringWithin(r.Context(), days)
	if err != nil {
		h.logger.Error("list expiring authorizations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"authorizations": auths})
}

func (h *Handler) handleHighUtilization(w http.ResponseWriter, r *http.Request) {
	threshold, _ := strconv.ParseFloat(r.URL.Query().Get("threshold"), 64)
	auths, err := h.service.HighUtilization(r.Context(), threshold)
	if err != nil {
		h.logger.Error("list high utilization authorizations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"authorizations": auths})
}

type releaseRequest struct {
	Units int `json:"units" validate:"required,gt=0"`
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req releaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	auth, err := h.service.Release(r.Context(), actor, id, req.Units)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"authorization":   auth,
		"remaining_units": auth.RemainingUnits(),
	})
}

type suspendRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req suspendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	if err := h.service.Suspend(r.Context(), actor, id, req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "suspended"})
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	if err := h.service.Reactivate(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "active"})
}
