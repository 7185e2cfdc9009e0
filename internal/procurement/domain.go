package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase request lifecycle statuses.
type PRStatus string

const (
	PRStatusDraft     PRStatus = "DRAFT"
	PRStatusSubmitted PRStatus = "SUBMITTED"
	PRStatusApproved  PRStatus = "APPROVED"
	PRStatusRejected  PRStatus = "REJECTED"
	PRStatusConverted PRStatus = "CONVERTED"
)

// Editable reports whether header and lines may still change. A rejected
// request stays editable so the requester can fix and resubmit it.
func (s PRStatus) Editable() bool {
	return s == PRStatusDraft || s == PRStatusRejected
}

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft             POStatus = "DRAFT"
	POStatusSubmitted         POStatus = "SUBMITTED"
	POStatusApproved          POStatus = "APPROVED"
	POStatusRejected          POStatus = "REJECTED"
	POStatusSent              POStatus = "SENT"
	POStatusInProgress        POStatus = "IN_PROGRESS"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusReceived          POStatus = "RECEIVED"
)

// Receivable reports whether goods may still be received against the order.
func (s POStatus) Receivable() bool {
	switch s {
	case POStatusSent, POStatusInProgress, POStatusPartiallyReceived:
		return true
	}
	return false
}

// Goods receipt statuses. POSTED and CANCELLED are terminal.
type GRNStatus string

const (
	GRNStatusDraft     GRNStatus = "DRAFT"
	GRNStatusPosted    GRNStatus = "POSTED"
	GRNStatusCancelled GRNStatus = "CANCELLED"
)

// PurchaseRequest is the entry document of the procurement chain.
type PurchaseRequest struct {
	ID          int64     `json:"id"`
	Number      string    `json:"number"`
	SupplierID  int64     `json:"supplier_id"`
	RequestedBy int64     `json:"requested_by"`
	Status      PRStatus  `json:"status"`
	Note        string    `json:"note"`
	NeededBy    time.Time `json:"needed_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PRLine is one requested item. VariantID zero means the base product.
type PRLine struct {
	ID        int64   `json:"id"`
	PRID      int64   `json:"pr_id"`
	ProductID int64   `json:"product_id"`
	VariantID int64   `json:"variant_id"`
	Qty       float64 `json:"qty"`
	Note      string  `json:"note"`
}

// PurchaseOrder is the supplier-facing document created from an approved PR.
type PurchaseOrder struct {
	ID           int64     `json:"id"`
	Number       string    `json:"number"`
	PRID         int64     `json:"pr_id"`
	SupplierID   int64     `json:"supplier_id"`
	Status       POStatus  `json:"status"`
	Currency     string    `json:"currency"`
	ExpectedDate time.Time `json:"expected_date"`
	Note         string    `json:"note"`
	CreatedBy    int64     `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// POLine carries the ordered and cumulatively received quantity.
type POLine struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"po_id"`
	ProductID   int64           `json:"product_id"`
	VariantID   int64           `json:"variant_id"`
	Qty         float64         `json:"qty"`
	ReceivedQty float64         `json:"received_qty"`
	Price       decimal.Decimal `json:"price"`
	Note        string          `json:"note"`
}

// Remaining is the quantity still open for receiving.
func (l POLine) Remaining() float64 {
	return l.Qty - l.ReceivedQty
}

// GoodsReceipt records goods arriving against a purchase order.
type GoodsReceipt struct {
	ID          int64     `json:"id"`
	Number      string    `json:"number"`
	POID        int64     `json:"po_id"`
	SupplierID  int64     `json:"supplier_id"`
	WarehouseID int64     `json:"warehouse_id"`
	Status      GRNStatus `json:"status"`
	ReceivedAt  time.Time `json:"received_at"`
	Note        string    `json:"note"`
	PostedBy    int64     `json:"posted_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// GRNLine fulfills exactly one PO line into one location.
type GRNLine struct {
	ID         int64           `json:"id"`
	GRNID      int64           `json:"grn_id"`
	POLineID   int64           `json:"po_line_id"`
	ProductID  int64           `json:"product_id"`
	VariantID  int64           `json:"variant_id"`
	LocationID int64           `json:"location_id"`
	Qty        float64         `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	LotID      int64           `json:"lot_id"`
}

// ListFilter narrows document listings.
type ListFilter struct {
	Status  string
	Search  string
	Page    int
	PerPage int
}

// Domain errors.
var (
	ErrNotFound     = errors.New("procurement: not found")
	ErrValidation   = errors.New("procurement: invalid input")
	ErrInvalidState = errors.New("procurement: invalid state transition")
)
