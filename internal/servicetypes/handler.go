package servicetypes

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clearpath-care/clearpath/internal/billing/units"
	"github.com/clearpath-care/clearpath/internal/platform/httpx"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// Handler exposes the service type catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Post("/{id}/rates", h.handleChangeRate)
}

type createRequest struct {
	BillingCode              string  `json:"billing_code" validate:"required"`
	Name                     string  `json:"name" validate:"required"`
	UnitIncrementMinutes     int     `json:"unit_increment_minutes" validate:"required,gt=0"`
	MinimumBillableMinutes   int     `json:"minimum_billable_minutes" validate:"required,gt=0"`
	RoundingThresholdMinutes int     `json:"rounding_threshold_minutes" validate:"required,gt=0"`
	MaxDailyUnits            *int    `json:"max_daily_units"`
	RequiresAuthorization    bool    `json:"requires_authorization"`
	RatePerUnit              float64 `json:"rate_per_unit" validate:"required,gt=0"`
	EffectiveFrom            string  `json:"effective_from"`
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
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	input := CreateInput{
		BillingCode: req.BillingCode,
		Name:        req.Name,
		Rules: units.Rules{
			IncrementMinutes:         req.UnitIncrementMinutes,
			MinimumBillableMinutes:   req.MinimumBillableMinutes,
			RoundingThresholdMinutes: req.RoundingThresholdMinutes,
		},
		MaxDailyUnits:         req.MaxDailyUnits,
		RequiresAuthorization: req.RequiresAuthorization,
		RatePerUnit:           req.RatePerUnit,
	}
	if req.EffectiveFrom != "" {
		ts, err := time.Parse("2006-01-02", req.EffectiveFrom)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "effective_from must be YYYY-MM-DD")
			return
		}
		input.EffectiveFrom = ts
	}
	st, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		h.logger.Error("create service type", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, st)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	st, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	types, err := h.service.List(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("list service types", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"service_types": types})
}

type updateRequest struct {
	Name                     string `json:"name" validate:"required"`
	UnitIncrementMinutes     int    `json:"unit_increment_minutes" validate:"required,gt=0"`
	MinimumBillableMinutes   int    `json:"minimum_billable_minutes" validate:"required,gt=0"`
	RoundingThresholdMinutes int    `json:"rounding_threshold_minutes" validate:"required,gt=0"`
	MaxDailyUnits            *int   `json:"max_daily_units"`
	Active                   bool   `json:"active"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req updateRequest
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
	err = h.service.Update(r.Context(), actor, id, UpdateInput{
		Name: req.Name,
		Rules: units.Rules{
			IncrementMinutes:         req.UnitIncrementMinutes,
			MinimumBillableMinutes:   req.MinimumBillableMinutes,
			RoundingThresholdMinutes: req.RoundingThresholdMinutes,
		},
		MaxDailyUnits: req.MaxDailyUnits,
		Active:        req.Active,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

type changeRateRequest struct {
	RatePerUnit   float64 `json:"rate_per_unit" validate:"required,gt=0"`
	EffectiveFrom string  `json:"effective_from"`
}

func (h *Handler) handleChangeRate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req changeRateRequest
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
	var effectiveFrom time.Time
	if req.EffectiveFrom != "" {
		effectiveFrom, err = time.Parse("2006-01-02", req.EffectiveFrom)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "effective_from must be YYYY-MM-DD")
			return
		}
	}
	rate, err := h.service.ChangeRate(r.Context(), actor, id, req.RatePerUnit, effectiveFrom)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rate)
}
