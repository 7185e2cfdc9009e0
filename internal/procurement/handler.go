package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-ims/meridian-ims/internal/platform/httpx"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Handler wires HTTP endpoints for the document workflows.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pr", h.handleListPRs)
	r.Post("/pr", h.handleCreatePR)
	r.Get("/pr/{id}", h.handleGetPR)
	r.Put("/pr/{id}", h.handleUpdatePR)
	r.Post("/pr/{id}/submit", h.handleSubmitPR)
	r.Post("/pr/{id}/approve", h.handleDecidePR(true))
	r.Post("/pr/{id}/reject", h.handleDecidePR(false))
	r.Post("/pr/{id}/convert", h.handleConvertPR)
	r.Get("/pr/{id}/approvals", h.handleApprovals(docTypePR))
	r.Get("/pr/{id}/audit", h.handleAudit(docTypePR))

	r.Get("/po", h.handleListPOs)
	r.Get("/po/{id}", h.handleGetPO)
	r.Post("/po/{id}/submit", h.handleSubmitPO)
	r.Post("/po/{id}/approve", h.handleDecidePO(true))
	r.Post("/po/{id}/reject", h.handleDecidePO(false))
	r.Post("/po/{id}/send", h.handleSendPO)
	r.Get("/po/{id}/approvals", h.handleApprovals(docTypePO))
	r.Get("/po/{id}/audit", h.handleAudit(docTypePO))

	r.Get("/grn", h.handleListGRNs)
	r.Post("/grn", h.handleCreateGRN)
	r.Get("/grn/{id}", h.handleGetGRN)
	r.Post("/grn/{id}/post", h.handlePostGRN)
	r.Post("/grn/{id}/cancel", h.handleCancelGRN)
	r.Get("/grn/{id}/audit", h.handleAudit(docTypeGRN))
}

type prLineRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	VariantID int64   `json:"variant_id" validate:"gte=0"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	Note      string  `json:"note"`
}

type prRequest struct {
	SupplierID int64           `json:"supplier_id" validate:"required,gt=0"`
	Note       string          `json:"note"`
	NeededBy   time.Time       `json:"needed_by"`
	Lines      []prLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type decisionRequest struct {
	Note string `json:"note"`
}

type convertRequest struct {
	Currency     string           `json:"currency"`
	ExpectedDate time.Time        `json:"expected_date"`
	Note         string           `json:"note"`
	Prices       map[int64]string `json:"prices"`
}

type grnLineRequest struct {
	POLineID   int64   `json:"po_line_id" validate:"required,gt=0"`
	LocationID int64   `json:"location_id" validate:"required,gt=0"`
	Qty        float64 `json:"qty" validate:"required,gt=0"`
	UnitCost   string  `json:"unit_cost"`
	LotID      int64   `json:"lot_id" validate:"gte=0"`
}

type grnRequest struct {
	POID        int64            `json:"po_id" validate:"required,gt=0"`
	WarehouseID int64            `json:"warehouse_id" validate:"required,gt=0"`
	ReceivedAt  time.Time        `json:"received_at"`
	Note        string           `json:"note"`
	Lines       []grnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleListPRs(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r)
	items, total, err := h.service.repo.ListPRs(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list purchase requests", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req prRequest
	if !h.decode(w, r, &req) {
		return
	}
	pr, err := h.service.CreatePurchaseRequest(r.Context(), CreatePRInput{
		SupplierID: req.SupplierID,
		ActorID:    actor.ID,
		Note:       req.Note,
		NeededBy:   req.NeededBy,
		Lines:      prLinesFromRequest(req.Lines),
	})
	if err != nil {
		h.respondError(w, "create purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) handleGetPR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	pr, lines, err := h.service.GetPR(r.Context(), id)
	if err != nil {
		h.respondError(w, "get purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pr": pr, "lines": lines})
}

func (h *Handler) handleUpdatePR(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req prRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.service.UpdatePurchaseRequest(r.Context(), id, CreatePRInput{
		SupplierID: req.SupplierID,
		ActorID:    actor.ID,
		Note:       req.Note,
		NeededBy:   req.NeededBy,
		Lines:      prLinesFromRequest(req.Lines),
	})
	if err != nil {
		h.respondError(w, "update purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *Handler) handleSubmitPR(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.SubmitPurchaseRequest(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, "submit purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(PRStatusSubmitted)})
}

func (h *Handler) handleDecidePR(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.requireApprover(w, r)
		if !ok {
			return
		}
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}
		var req decisionRequest
		_ = httpx.DecodeJSON(r, &req)
		if err := h.service.DecidePurchaseRequest(r.Context(), id, actor.ID, approve, req.Note); err != nil {
			h.respondError(w, "decide purchase request", err)
			return
		}
		status := PRStatusApproved
		if !approve {
			status = PRStatusRejected
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": string(status)})
	}
}

func (h *Handler) handleConvertPR(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireApprover(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req convertRequest
	_ = httpx.DecodeJSON(r, &req)
	po, err := h.service.ConvertPRToPO(r.Context(), ConvertPRInput{
		PRID:         id,
		ActorID:      actor.ID,
		Currency:     req.Currency,
		ExpectedDate: req.ExpectedDate,
		Note:         req.Note,
		Prices:       req.Prices,
	})
	if err != nil {
		h.respondError(w, "convert purchase request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) handleListPOs(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r)
	items, total, err := h.service.repo.ListPOs(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list purchase orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleGetPO(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, lines, err := h.service.GetPO(r.Context(), id)
	if err != nil {
		h.respondError(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"po": po, "lines": lines})
}

func (h *Handler) handleSubmitPO(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.SubmitPurchaseOrder(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, "submit purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(POStatusSubmitted)})
}

func (h *Handler) handleDecidePO(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.requireApprover(w, r)
		if !ok {
			return
		}
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}
		var req decisionRequest
		_ = httpx.DecodeJSON(r, &req)
		if err := h.service.DecidePurchaseOrder(r.Context(), id, actor.ID, approve, req.Note); err != nil {
			h.respondError(w, "decide purchase order", err)
			return
		}
		status := POStatusApproved
		if !approve {
			status = POStatusRejected
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": string(status)})
	}
}

func (h *Handler) handleSendPO(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.SendPurchaseOrder(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, "send purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(POStatusSent)})
}

func (h *Handler) handleListGRNs(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r)
	items, total, err := h.service.repo.ListGRNs(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list goods receipts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleCreateGRN(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req grnRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]GRNLineInput, 0, len(req.Lines))
	for _, in := range req.Lines {
		lines = append(lines, GRNLineInput{
			POLineID:   in.POLineID,
			LocationID: in.LocationID,
			Qty:        in.Qty,
			UnitCost:   in.UnitCost,
			LotID:      in.LotID,
		})
	}
	grn, err := h.service.CreateGoodsReceipt(r.Context(), CreateGRNInput{
		POID:        req.POID,
		WarehouseID: req.WarehouseID,
		ActorID:     actor.ID,
		ReceivedAt:  req.ReceivedAt,
		Note:        req.Note,
		Lines:       lines,
	})
	if err != nil {
		h.respondError(w, "create goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grn)
}

func (h *Handler) handleGetGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	grn, lines, err := h.service.GetGRN(r.Context(), id)
	if err != nil {
		h.respondError(w, "get goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grn": grn, "lines": lines})
}

func (h *Handler) handlePostGRN(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
		return
	}
	if !actor.CanPostStock() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "posting a goods receipt requires warehouse role")
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.PostGoodsReceipt(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, "post goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(GRNStatusPosted)})
}

func (h *Handler) handleCancelGRN(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelGoodsReceipt(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, "cancel goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": string(GRNStatusCancelled)})
}

func (h *Handler) handleApprovals(module string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}
		logs, err := h.service.ApprovalHistory(r.Context(), module, id)
		if err != nil {
			h.respondError(w, "approval history", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"approvals": logs})
	}
}

func (h *Handler) handleAudit(module string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}
		logs, err := h.service.AuditTrail(r.Context(), module, id)
		if err != nil {
			h.respondError(w, "audit trail", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"audit": logs})
	}
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) requireApprover(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return shared.Actor{}, false
	}
	if !actor.CanApprove() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "approval requires purchasing role")
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "State Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func listFilterFromQuery(r *http.Request) ListFilter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return ListFilter{
		Status:  q.Get("status"),
		Search:  q.Get("q"),
		Page:    page,
		PerPage: perPage,
	}
}

func prLinesFromRequest(lines []prLineRequest) []PRLineInput {
	out := make([]PRLineInput, 0, len(lines))
	for _, in := range lines {
		out = append(out, PRLineInput{ProductID: in.ProductID, VariantID: in.VariantID, Qty: in.Qty, Note: in.Note})
	}
	return out
}
