package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clearpath-care/clearpath/internal/platform/httpx"
	"github.com/clearpath-care/clearpath/internal/shared"
)

// Handler exposes billing endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	idem      *shared.IdempotencyStore
	validator *validator.Validate
}

// NewHandler builds Handler instance. idem may be nil, disabling the
// Idempotency-Key header on batch generation.
func NewHandler(logger *slog.Logger, service *Service, idem *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idem: idem, validator: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/generate", h.handleGenerate)
	r.Post("/generate-batch", h.handleGenerateBatch)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/void", h.handleVoid)
}

type generateRequest struct {
	SessionID int64 `json:"session_id" validate:"required"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
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
	entry, err := h.service.Generate(r.Context(), actor, req.SessionID)
	if err != nil {
		h.logger.Warn("billing generate failed",
			slog.Int64("session_id", req.SessionID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type generateBatchRequest struct {
	SessionIDs []int64 `json:"session_ids" validate:"required,min=1"`
}

func (h *Handler) handleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req generateBatchRequest
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
	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, "billing"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this batch was already processed")
				return
			}
			httpx.RespondError(w, err)
			return
		}
	}
	result, err := h.service.GenerateBatch(r.Context(), actor, req.SessionIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.ParsePage(q)
	filter := ListFilter{Status: q.Get("status"), Limit: page.Limit, Offset: page.Offset}
	filter.ClientID, _ = strconv.ParseInt(q.Get("client_id"), 10, 64)
	filter.ServiceTypeID, _ = strconv.ParseInt(q.Get("service_type_id"), 10, 64)
	if raw := q.Get("from"); raw != "" {
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			filter.From = ts
		}
	}
	if raw := q.Get("to"); raw != "" {
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			filter.To = ts
		}
	}
	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list billing entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries, "page": page.WithCount(len(entries))})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}
	var req voidRequest
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
	if err := h.service.Void(r.Context(), actor, id, req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "voided"})
}
