package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian-ims/internal/platform/httpx"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Handler wires HTTP endpoints for catalog master data.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.handleListProducts)
	r.Post("/products", h.handleCreateProduct)
	r.Get("/products/{id}", h.handleGetProduct)
	r.Put("/products/{id}", h.handleUpdateProduct)
	r.Get("/products/{id}/variants", h.handleListVariants)
	r.Post("/products/{id}/variants", h.handleCreateVariant)
	r.Get("/locations", h.handleListLocations)
	r.Post("/lots", h.handleCreateLot)
}

type productRequest struct {
	SKU          string  `json:"sku" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	CategoryID   int64   `json:"category_id"`
	StockType    string  `json:"stock_type" validate:"omitempty,oneof=STOCKED MADE_TO_ORDER DROP_SHIP"`
	UnitCost     string  `json:"unit_cost"`
	ReorderPoint float64 `json:"reorder_point" validate:"gte=0"`
	IsActive     bool    `json:"is_active"`
}

type variantRequest struct {
	SKU           string  `json:"sku" validate:"required"`
	OptionSummary string  `json:"option_summary"`
	StockType     string  `json:"stock_type" validate:"omitempty,oneof=STOCKED MADE_TO_ORDER DROP_SHIP"`
	UnitCost      string  `json:"unit_cost"`
	ReorderPoint  float64 `json:"reorder_point" validate:"gte=0"`
}

type lotRequest struct {
	LotNumber      string    `json:"lot_number" validate:"required"`
	ExpiryDate     time.Time `json:"expiry_date"`
	ManufacturedAt time.Time `json:"manufactured_at"`
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	categoryID, _ := strconv.ParseInt(q.Get("category_id"), 10, 64)
	filter := ListFilter{
		Search:     q.Get("q"),
		CategoryID: categoryID,
		ActiveOnly: q.Get("active") == "1",
		Page:       page,
		PerPage:    perPage,
	}
	products, total, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      products,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.respondError(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	product, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	created, err := h.service.CreateProduct(r.Context(), product)
	if err != nil {
		h.respondError(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	product, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	product.ID = id
	if err := h.service.UpdateProduct(r.Context(), product); err != nil {
		h.respondError(w, "update product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) handleListVariants(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	variants, err := h.service.ListVariants(r.Context(), productID)
	if err != nil {
		h.respondError(w, "list variants", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": variants})
}

func (h *Handler) handleCreateVariant(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	var req variantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cost, err := parseCost(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit cost")
		return
	}
	created, err := h.service.CreateVariant(r.Context(), Variant{
		ProductID:     productID,
		SKU:           req.SKU,
		OptionSummary: req.OptionSummary,
		StockType:     StockType(req.StockType),
		UnitCost:      cost,
		ReorderPoint:  req.ReorderPoint,
	})
	if err != nil {
		h.respondError(w, "create variant", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	warehouseID, _ := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	locations, err := h.service.ListLocations(r.Context(), warehouseID)
	if err != nil {
		h.respondError(w, "list locations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": locations})
}

func (h *Handler) handleCreateLot(w http.ResponseWriter, r *http.Request) {
	var req lotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lot, err := h.service.CreateLot(r.Context(), Lot{LotNumber: req.LotNumber, ExpiryDate: req.ExpiryDate, ManufacturedAt: req.ManufacturedAt})
	if err != nil {
		h.respondError(w, "create lot", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) decodeProduct(w http.ResponseWriter, r *http.Request) (Product, bool) {
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return Product{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return Product{}, false
	}
	cost := decimal.Zero
	if req.UnitCost != "" {
		parsed, err := decimal.NewFromString(req.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit cost")
			return Product{}, false
		}
		cost = parsed
	}
	return Product{
		SKU:          req.SKU,
		Name:         req.Name,
		CategoryID:   req.CategoryID,
		StockType:    StockType(req.StockType),
		UnitCost:     cost,
		ReorderPoint: req.ReorderPoint,
		IsActive:     req.IsActive,
	}, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
