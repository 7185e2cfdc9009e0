package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian-ims/internal/platform/cache"
	"github.com/meridian-ims/meridian-ims/internal/platform/httpx"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Handler wires HTTP endpoints for movements, balances and replay reports.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	replay   *ReplayEngine
	lowStock *LowStockEngine
	reports  *cache.Versioned
	validate *validator.Validate
}

// NewHandler constructs inventory handler. The report cache may be nil, in
// which case summary and trend reads always hit the ledger.
func NewHandler(logger *slog.Logger, service *Service, replay *ReplayEngine, lowStock *LowStockEngine, reports *cache.Versioned) *Handler {
	return &Handler{logger: logger, service: service, replay: replay, lowStock: lowStock, reports: reports, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleCreateMovement)
	r.Get("/movements/{id}", h.handleGetMovement)
	r.Post("/movements/{id}/post", h.handlePostMovement)
	r.Post("/movements/{id}/cancel", h.handleCancelMovement)
	r.Post("/movements/post", h.handlePostNew)
	r.Get("/stock-card", h.handleStockCard)
	r.Get("/low-stock", h.handleLowStock)
	r.Get("/snapshot", h.handleSnapshot)
	r.Get("/snapshot/summary", h.handleSnapshotSummary)
	r.Get("/snapshot/export.csv", h.handleSnapshotCSV)
	r.Get("/snapshot/trend", h.handleTrend)
	r.Get("/reconcile", h.handleReconcile)
	r.Post("/variants/merge", h.handleMergeVariants)
}

type movementLineRequest struct {
	ProductID      int64   `json:"product_id" validate:"required,gt=0"`
	VariantID      int64   `json:"variant_id" validate:"gte=0"`
	FromLocationID int64   `json:"from_location_id" validate:"gte=0"`
	ToLocationID   int64   `json:"to_location_id" validate:"gte=0"`
	Qty            float64 `json:"qty" validate:"required,gt=0"`
	UnitCost       string  `json:"unit_cost"`
	LotID          int64   `json:"lot_id" validate:"gte=0"`
	OrderRef       string  `json:"order_ref"`
}

type movementRequest struct {
	Type  string                `json:"type" validate:"required,oneof=RECEIVE ISSUE TRANSFER ADJUST RETURN"`
	Note  string                `json:"note"`
	Lines []movementLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type mergeRequest struct {
	SourceVariantID int64 `json:"source_variant_id" validate:"required,gt=0"`
	TargetVariantID int64 `json:"target_variant_id" validate:"required,gt=0"`
}

func (h *Handler) handleCreateMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requirePoster(w, r)
	if !ok {
		return
	}
	input, ok := h.decodeMovement(w, r, actor)
	if !ok {
		return
	}
	mv, err := h.service.CreateMovement(r.Context(), input)
	if err != nil {
		h.respondError(w, "create movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) handlePostNew(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requirePoster(w, r)
	if !ok {
		return
	}
	input, ok := h.decodeMovement(w, r, actor)
	if !ok {
		return
	}
	mv, err := h.service.PostNew(r.Context(), input)
	if err != nil {
		h.respondError(w, "post movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) handleGetMovement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid movement id")
		return
	}
	mv, lines, err := h.service.GetMovement(r.Context(), id)
	if err != nil {
		h.respondError(w, "get movement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movement": mv, "lines": lines})
}

func (h *Handler) handlePostMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requirePoster(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid movement id")
		return
	}
	mv, err := h.service.PostMovement(r.Context(), id, actor.ID)
	if err != nil {
		h.respondError(w, "post movement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, mv)
}

func (h *Handler) handleCancelMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requirePoster(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid movement id")
		return
	}
	if err := h.service.CancelMovement(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, "cancel movement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(MovementStatusCancelled)})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, _ := strconv.ParseInt(q.Get("product_id"), 10, 64)
	variantID, _ := strconv.ParseInt(q.Get("variant_id"), 10, 64)
	locationID, _ := strconv.ParseInt(q.Get("location_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := StockCardFilter{
		ProductID:  productID,
		VariantID:  variantID,
		LocationID: locationID,
		From:       parseTimeParam(q.Get("from")),
		To:         parseTimeParam(q.Get("to")),
		Limit:      limit,
	}
	entries, err := h.service.StockCard(r.Context(), filter)
	if err != nil {
		h.respondError(w, "stock card", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	categoryID, _ := strconv.ParseInt(q.Get("category_id"), 10, 64)
	rows, pagination, err := h.lowStock.List(r.Context(), LowStockFilter{
		WarehouseID: warehouseID,
		CategoryID:  categoryID,
		Search:      q.Get("q"),
		Page:        page,
		PerPage:     perPage,
	})
	if err != nil {
		h.respondError(w, "low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rows, "pagination": pagination})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	cutoff, filter := h.snapshotParams(r)
	rows, err := h.replay.SnapshotAt(r.Context(), cutoff, filter)
	if err != nil {
		h.respondError(w, "snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"as_of":   cutoff.UTC().Format(time.RFC3339),
		"items":   rows,
		"summary": summarise(rows),
	})
}

func (h *Handler) handleSnapshotSummary(w http.ResponseWriter, r *http.Request) {
	cutoff, _ := h.snapshotParams(r)
	key, err := h.reports.BuildKey(r.Context(), "inventory", "summary", cutoff.UTC().Format("20060102T150405"))
	if err != nil {
		h.respondError(w, "snapshot summary", err)
		return
	}
	var summary SnapshotSummary
	err = h.reports.FetchJSON(r.Context(), key, &summary, func(ctx context.Context) (any, error) {
		return h.replay.SummaryAt(ctx, cutoff)
	})
	if err != nil {
		h.respondError(w, "snapshot summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"as_of":   cutoff.UTC().Format(time.RFC3339),
		"summary": summary,
	})
}

func (h *Handler) handleSnapshotCSV(w http.ResponseWriter, r *http.Request) {
	cutoff, filter := h.snapshotParams(r)
	rows, err := h.replay.SnapshotAt(r.Context(), cutoff, filter)
	if err != nil {
		h.respondError(w, "snapshot export", err)
		return
	}
	filename := fmt.Sprintf("stock-snapshot-%s.csv", cutoff.UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if err := WriteSnapshotCSV(w, cutoff, rows); err != nil {
		h.logger.Error("snapshot export stream", slog.Any("error", err))
	}
}

func (h *Handler) handleTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	months, _ := strconv.Atoi(q.Get("months"))
	if months <= 0 {
		months = 12
	}
	end := parseTimeParam(q.Get("end"))
	key, err := h.reports.BuildKey(r.Context(), "inventory", "trend", end.UTC().Format("200601"), strconv.Itoa(months))
	if err != nil {
		h.respondError(w, "trend", err)
		return
	}
	var series []MonthSummary
	err = h.reports.FetchJSON(r.Context(), key, &series, func(ctx context.Context) (any, error) {
		return h.replay.TrendSeries(ctx, end, months)
	})
	if err != nil {
		h.respondError(w, "trend", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"series": series})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	drift, err := h.replay.Reconcile(r.Context())
	if err != nil {
		h.respondError(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"clean": len(drift) == 0,
		"drift": drift,
	})
}

func (h *Handler) handleMergeVariants(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
		return
	}
	if actor.Role != shared.RoleAdmin {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "variant merge requires admin")
		return
	}
	var req mergeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.MergeVariants(r.Context(), req.SourceVariantID, req.TargetVariantID, actor.ID)
	if err != nil {
		h.respondError(w, "merge variants", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) requirePoster(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
		return shared.Actor{}, false
	}
	if !actor.CanPostStock() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "stock posting requires warehouse role")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) decodeMovement(w http.ResponseWriter, r *http.Request, actor shared.Actor) (PostInput, bool) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return PostInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return PostInput{}, false
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, in := range req.Lines {
		cost := decimal.Zero
		if in.UnitCost != "" {
			parsed, err := decimal.NewFromString(in.UnitCost)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit cost")
				return PostInput{}, false
			}
			cost = parsed
		}
		lines = append(lines, LineInput{
			ProductID:      in.ProductID,
			VariantID:      in.VariantID,
			FromLocationID: in.FromLocationID,
			ToLocationID:   in.ToLocationID,
			Qty:            in.Qty,
			UnitCost:       cost,
			LotID:          in.LotID,
			OrderRef:       in.OrderRef,
		})
	}
	return PostInput{
		Type:    MovementType(req.Type),
		Note:    req.Note,
		ActorID: actor.ID,
		Lines:   lines,
	}, true
}

func (h *Handler) snapshotParams(r *http.Request) (time.Time, SnapshotFilter) {
	q := r.URL.Query()
	cutoff := parseTimeParam(q.Get("as_of"))
	if cutoff.IsZero() {
		cutoff = time.Now().UTC()
	}
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	categoryID, _ := strconv.ParseInt(q.Get("category_id"), 10, 64)
	return cutoff, SnapshotFilter{
		WarehouseID: warehouseID,
		CategoryID:  categoryID,
		Search:      q.Get("q"),
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrUnknownRef), errors.Is(err, ErrMerge):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNegativeStock), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "State Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseTimeParam(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t
	}
	return time.Time{}
}
