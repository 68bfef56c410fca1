package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clearpath-care/clearpath/internal/platform/httpx"
)

// Handler exposes audit trail read endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleQuery)
	r.Get("/{kind}/{recordID}", h.handleTrail)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	actorID, _ := strconv.ParseInt(q.Get("actor_id"), 10, 64)
	filter := Filter{
		Kind:     q.Get("kind"),
		RecordID: q.Get("record_id"),
		ActorID:  actorID,
		Action:   Action(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := q.Get("from"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = ts
		}
	}
	if raw := q.Get("to"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = ts
		}
	}
	result, err := h.service.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("query audit log", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleTrail(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	recordID := chi.URLParam(r, "recordID")
	entries, err := h.service.Trail(r.Context(), kind, recordID)
	if err != nil {
		h.logger.Error("audit trail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}
