package approvals

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

// Handler exposes the approval queue endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pending", h.handleListPending)
	r.Post("/review", h.handleReviewBatch)
	r.Post("/{kind}/{recordID}/resubmit", h.handleResubmit)
	r.Post("/billing/{recordID}/advance", h.handleAdvanceBilling)
}

type refRequest struct {
	Kind     string `json:"kind" validate:"required"`
	RecordID int64  `json:"record_id" validate:"required"`
	Reason   string `json:"reason"`
}

type reviewRequest struct {
	Items     []refRequest `json:"items" validate:"required,min=1,dive"`
	Action    string       `json:"action" validate:"required,oneof=APPROVE REJECT REQUEST_REVISION"`
	Signature string       `json:"signature" validate:"required"`
	Comment   string       `json:"comment"`
}

func (h *Handler) handleReviewBatch(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
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
	input := BatchInput{
		Action:    Action(req.Action),
		Signature: req.Signature,
		Comment:   req.Comment,
		Refs:      make([]ItemRef, len(req.Items)),
		Reasons:   make([]string, len(req.Items)),
	}
	for i, item := range req.Items {
		input.Refs[i] = ItemRef{Kind: ItemKind(item.Kind), RecordID: item.RecordID}
		input.Reasons[i] = item.Reason
	}
	result, err := h.service.ReviewBatch(r.Context(), actor, input)
	if err != nil {
		h.logger.Warn("review batch rejected",
			slog.String("batch_id", result.BatchID.String()),
			slog.Any("error", err))
		status := statusForBatchError(err)
		httpx.JSON(w, status, result)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func statusForBatchError(err error) int {
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrIllegalTransition), errors.Is(err, shared.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.ParsePage(q)
	filter := ListFilter{Limit: page.Limit, Offset: page.Offset}
	for _, raw := range q["kind"] {
		filter.Kinds = append(filter.Kinds, ItemKind(raw))
	}
	filter.OwnerID, _ = strconv.ParseInt(q.Get("owner_id"), 10, 64)
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
	items, err := h.service.ListPending(r.Context(), filter)
	if err != nil {
		h.logger.Error("list pending approvals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "page": page.WithCount(len(items))})
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	kind := ItemKind(chi.URLParam(r, "kind"))
	recordID, err := strconv.ParseInt(chi.URLParam(r, "recordID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid record id")
		return
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	if err := h.service.Resubmit(r.Context(), actor, ItemRef{Kind: kind, RecordID: recordID}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(StatusPending)})
}

type advanceRequest struct {
	To     string `json:"to" validate:"required,oneof=BILLED PAID DISPUTED PENDING"`
	Reason string `json:"reason"`
}

func (h *Handler) handleAdvanceBilling(w http.ResponseWriter, r *http.Request) {
	recordID, err := strconv.ParseInt(chi.URLParam(r, "recordID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid record id")
		return
	}
	var req advanceRequest
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
	if err := h.service.AdvanceBilling(r.Context(), actor, recordID, Status(req.To), req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": req.To})
}
