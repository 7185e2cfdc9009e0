package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian-ims/internal/inventory"
	"github.com/meridian-ims/meridian-ims/internal/notify"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Sequence document types for the procurement chain.
const (
	docTypePR  = "PR"
	docTypePO  = "PO"
	docTypeGRN = "GRN"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPR(ctx context.Context, id int64) (PurchaseRequest, []PRLine, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error)
	ListPRs(ctx context.Context, filter ListFilter) ([]PurchaseRequest, int, error)
	ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error)
	ListGRNs(ctx context.Context, filter ListFilter) ([]GoodsReceipt, int, error)
	// ApproverIDs resolves the user set notified on document submission.
	ApproverIDs(ctx context.Context) ([]int64, error)
}

// InventoryPoster posts a movement batch on an externally owned inventory
// transaction. Satisfied by the inventory service.
type InventoryPoster interface {
	PostOn(ctx context.Context, tx inventory.TxRepository, input inventory.PostInput) (inventory.Movement, error)
}

// ApprovalPort records and lists approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
	Timeline(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// NotifyPort publishes workflow notifications. Delivery is external and
// best-effort; a publish failure never unwinds a committed transition.
type NotifyPort interface {
	Publish(ctx context.Context, n notify.Notification) error
}

// Service drives the PR, PO and GRN state machines.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPoster
	approvals   ApprovalPort
	audit       AuditPort
	notifier    NotifyPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inv InventoryPoster, approvals ApprovalPort, audit AuditPort, notifier NotifyPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, inventory: inv, approvals: approvals, audit: audit, notifier: notifier, idempotency: idem}
}

// PRLineInput describes one requested item.
type PRLineInput struct {
	ProductID int64
	VariantID int64
	Qty       float64
	Note      string
}

// CreatePRInput describes a purchase request payload.
type CreatePRInput struct {
	SupplierID int64
	ActorID    int64
	Note       string
	NeededBy   time.Time
	Lines      []PRLineInput
}

// ConvertPRInput converts an approved PR into a draft PO. Prices are keyed by
// PR line id; lines without a price default to zero.
type ConvertPRInput struct {
	PRID         int64
	ActorID      int64
	Currency     string
	ExpectedDate time.Time
	Note         string
	Prices       map[int64]string
}

// GRNLineInput receives against one PO line.
type GRNLineInput struct {
	POLineID   int64
	LocationID int64
	Qty        float64
	UnitCost   string
	LotID      int64
}

// CreateGRNInput describes a goods receipt payload.
type CreateGRNInput struct {
	POID        int64
	WarehouseID int64
	ActorID     int64
	ReceivedAt  time.Time
	Note        string
	Lines       []GRNLineInput
}

// CreatePurchaseRequest persists a DRAFT PR with its lines.
func (s *Service) CreatePurchaseRequest(ctx context.Context, input CreatePRInput) (PurchaseRequest, error) {
	lines, err := validatePRLines(input.Lines)
	if err != nil {
		return PurchaseRequest{}, err
	}
	var created PurchaseRequest
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, docTypePR)
		if err != nil {
			return err
		}
		pr := PurchaseRequest{
			Number:      number,
			SupplierID:  input.SupplierID,
			RequestedBy: input.ActorID,
			Status:      PRStatusDraft,
			Note:        input.Note,
			NeededBy:    input.NeededBy,
			CreatedAt:   time.Now().UTC(),
		}
		id, err := tx.InsertPR(ctx, pr)
		if err != nil {
			return err
		}
		pr.ID = id
		if err := tx.ReplacePRLines(ctx, id, lines); err != nil {
			return err
		}
		created = pr
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PR_CREATE", "purchase_request", created.ID, nil, map[string]any{"number": created.Number})
	return created, nil
}

// UpdatePurchaseRequest replaces header fields and lines. Allowed only while
// the PR is DRAFT or REJECTED.
func (s *Service) UpdatePurchaseRequest(ctx context.Context, prID int64, input CreatePRInput) error {
	lines, err := validatePRLines(input.Lines)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, _, err := tx.GetPRForUpdate(ctx, prID)
		if err != nil {
			return err
		}
		if !pr.Status.Editable() {
			return fmt.Errorf("%w: cannot edit PR in status %s", ErrInvalidState, pr.Status)
		}
		pr.SupplierID = input.SupplierID
		pr.Note = input.Note
		pr.NeededBy = input.NeededBy
		pr.UpdatedAt = time.Now().UTC()
		if err := tx.UpdatePRHeader(ctx, pr); err != nil {
			return err
		}
		return tx.ReplacePRLines(ctx, prID, lines)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, input.ActorID, "PR_UPDATE", "purchase_request", prID, nil, nil)
	return nil
}

// SubmitPurchaseRequest transitions DRAFT or REJECTED to SUBMITTED and
// notifies the approver set.
func (s *Service) SubmitPurchaseRequest(ctx context.Context, prID, actorID int64) error {
	var submitted PurchaseRequest
	var prior PRStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, _, err := tx.GetPRForUpdate(ctx, prID)
		if err != nil {
			return err
		}
		if !pr.Status.Editable() {
			return fmt.Errorf("%w: cannot submit PR in status %s", ErrInvalidState, pr.Status)
		}
		if err := tx.SetPRStatus(ctx, prID, PRStatusSubmitted); err != nil {
			return err
		}
		prior = pr.Status
		submitted = pr
		submitted.Status = PRStatusSubmitted
		return nil
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: docTypePR, RefID: docRef(docTypePR, prID), ActorID: actorID,
			Action: shared.ApprovalSubmit, Note: fmt.Sprintf("PR %s submitted", submitted.Number),
		})
	}
	s.recordAudit(ctx, actorID, "PR_SUBMIT", "purchase_request", prID,
		map[string]any{"status": string(prior)}, map[string]any{"status": string(PRStatusSubmitted)})
	s.publish(ctx, func() (notify.Notification, error) {
		approvers, err := s.repo.ApproverIDs(ctx)
		if err != nil {
			return notify.Notification{}, err
		}
		return prSubmittedEvent(submitted, approvers), nil
	})
	return nil
}

// DecidePurchaseRequest approves or rejects a SUBMITTED PR and notifies the
// requester.
func (s *Service) DecidePurchaseRequest(ctx context.Context, prID, actorID int64, approve bool, note string) error {
	next := PRStatusApproved
	action, approvalAction := "PR_APPROVE", shared.ApprovalApprove
	if !approve {
		next = PRStatusRejected
		action, approvalAction = "PR_REJECT", shared.ApprovalReject
	}
	var decided PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, _, err := tx.GetPRForUpdate(ctx, prID)
		if err != nil {
			return err
		}
		if pr.Status != PRStatusSubmitted {
			return fmt.Errorf("%w: cannot decide PR in status %s", ErrInvalidState, pr.Status)
		}
		if err := tx.SetPRStatus(ctx, prID, next); err != nil {
			return err
		}
		decided = pr
		decided.Status = next
		return nil
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: docTypePR, RefID: docRef(docTypePR, prID), ActorID: actorID, Action: approvalAction, Note: note,
		})
	}
	s.recordAudit(ctx, actorID, action, "purchase_request", prID,
		map[string]any{"status": string(PRStatusSubmitted)}, map[string]any{"status": string(next)})
	s.publish(ctx, func() (notify.Notification, error) {
		return prDecidedEvent(decided, approve, note), nil
	})
	return nil
}

// ConvertPRToPO creates a DRAFT purchase order carrying the approved PR's
// lines and marks the PR CONVERTED, in one transaction.
func (s *Service) ConvertPRToPO(ctx context.Context, input ConvertPRInput) (PurchaseOrder, error) {
	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, prLines, err := tx.GetPRForUpdate(ctx, input.PRID)
		if err != nil {
			return err
		}
		if pr.Status != PRStatusApproved {
			return fmt.Errorf("%w: cannot convert PR in status %s", ErrInvalidState, pr.Status)
		}
		number, err := tx.NextNumber(ctx, docTypePO)
		if err != nil {
			return err
		}
		po := PurchaseOrder{
			Number:       number,
			PRID:         pr.ID,
			SupplierID:   pr.SupplierID,
			Status:       POStatusDraft,
			Currency:     defaultString(input.Currency, "USD"),
			ExpectedDate: input.ExpectedDate,
			Note:         input.Note,
			CreatedBy:    input.ActorID,
			CreatedAt:    time.Now().UTC(),
		}
		poID, err := tx.InsertPO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		poLines := make([]POLine, 0, len(prLines))
		for _, line := range prLines {
			price, err := parsePrice(input.Prices[line.ID])
			if err != nil {
				return err
			}
			poLines = append(poLines, POLine{
				POID:      poID,
				ProductID: line.ProductID,
				VariantID: line.VariantID,
				Qty:       line.Qty,
				Price:     price,
				Note:      line.Note,
			})
		}
		if err := tx.InsertPOLines(ctx, poID, poLines); err != nil {
			return err
		}
		if err := tx.SetPRStatus(ctx, pr.ID, PRStatusConverted); err != nil {
			return err
		}
		created = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CREATE", "purchase_order", created.ID, nil,
		map[string]any{"number": created.Number, "from_pr": input.PRID})
	return created, nil
}

// SubmitPurchaseOrder transitions DRAFT or REJECTED to SUBMITTED.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, poID, actorID int64) error {
	var submitted PurchaseOrder
	var prior POStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, _, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft && po.Status != POStatusRejected {
			return fmt.Errorf("%w: cannot submit PO in status %s", ErrInvalidState, po.Status)
		}
		if err := tx.SetPOStatus(ctx, poID, POStatusSubmitted); err != nil {
			return err
		}
		prior = po.Status
		submitted = po
		submitted.Status = POStatusSubmitted
		return nil
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: docTypePO, RefID: docRef(docTypePO, poID), ActorID: actorID,
			Action: shared.ApprovalSubmit, Note: fmt.Sprintf("PO %s submitted", submitted.Number),
		})
	}
	s.recordAudit(ctx, actorID, "PO_SUBMIT", "purchase_order", poID,
		map[string]any{"status": string(prior)}, map[string]any{"status": string(POStatusSubmitted)})
	s.publish(ctx, func() (notify.Notification, error) {
		approvers, err := s.repo.ApproverIDs(ctx)
		if err != nil {
			return notify.Notification{}, err
		}
		return poSubmittedEvent(submitted, approvers), nil
	})
	return nil
}

// DecidePurchaseOrder approves or rejects a SUBMITTED PO.
func (s *Service) DecidePurchaseOrder(ctx context.Context, poID, actorID int64, approve bool, note string) error {
	next := POStatusApproved
	action, approvalAction := "PO_APPROVE", shared.ApprovalApprove
	if !approve {
		next = POStatusRejected
		action, approvalAction = "PO_REJECT", shared.ApprovalReject
	}
	var decided PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, _, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusSubmitted {
			return fmt.Errorf("%w: cannot decide PO in status %s", ErrInvalidState, po.Status)
		}
		if err := tx.SetPOStatus(ctx, poID, next); err != nil {
			return err
		}
		decided = po
		decided.Status = next
		return nil
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: docTypePO, RefID: docRef(docTypePO, poID), ActorID: actorID, Action: approvalAction, Note: note,
		})
	}
	s.recordAudit(ctx, actorID, action, "purchase_order", poID,
		map[string]any{"status": string(POStatusSubmitted)}, map[string]any{"status": string(next)})
	s.publish(ctx, func() (notify.Notification, error) {
		return poDecidedEvent(decided, approve, note), nil
	})
	return nil
}

// SendPurchaseOrder marks an APPROVED order as SENT to the supplier, opening
// it for receiving.
func (s *Service) SendPurchaseOrder(ctx context.Context, poID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, _, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusApproved {
			return fmt.Errorf("%w: cannot send PO in status %s", ErrInvalidState, po.Status)
		}
		return tx.SetPOStatus(ctx, poID, POStatusSent)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "PO_SEND", "purchase_order", poID,
		map[string]any{"status": string(POStatusApproved)}, map[string]any{"status": string(POStatusSent)})
	return nil
}

// CreateGoodsReceipt drafts a GRN against a receivable PO. Each line fulfills
// one PO line and may not exceed its remaining quantity.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateGRNInput) (GoodsReceipt, error) {
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	if input.WarehouseID == 0 {
		return GoodsReceipt{}, fmt.Errorf("%w: warehouse required", ErrValidation)
	}
	var created GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, poLines, err := tx.GetPOForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		if !po.Status.Receivable() {
			return fmt.Errorf("%w: cannot receive against PO in status %s", ErrInvalidState, po.Status)
		}
		byID := make(map[int64]POLine, len(poLines))
		for _, line := range poLines {
			byID[line.ID] = line
		}
		grnLines := make([]GRNLine, 0, len(input.Lines))
		for _, in := range input.Lines {
			poLine, ok := byID[in.POLineID]
			if !ok {
				return fmt.Errorf("%w: PO line %d does not belong to PO %d", ErrValidation, in.POLineID, input.POID)
			}
			if in.Qty <= 0 {
				return fmt.Errorf("%w: quantity must be positive", ErrValidation)
			}
			if in.Qty > poLine.Remaining()+1e-9 {
				return fmt.Errorf("%w: PO line %d has only %.3f remaining", ErrValidation, in.POLineID, poLine.Remaining())
			}
			if in.LocationID == 0 {
				return fmt.Errorf("%w: location required", ErrValidation)
			}
			cost, err := parsePrice(in.UnitCost)
			if err != nil {
				return err
			}
			if cost.IsZero() {
				cost = poLine.Price
			}
			grnLines = append(grnLines, GRNLine{
				POLineID:   in.POLineID,
				ProductID:  poLine.ProductID,
				VariantID:  poLine.VariantID,
				LocationID: in.LocationID,
				Qty:        in.Qty,
				UnitCost:   cost,
				LotID:      in.LotID,
			})
		}
		number, err := tx.NextNumber(ctx, docTypeGRN)
		if err != nil {
			return err
		}
		grn := GoodsReceipt{
			Number:      number,
			POID:        po.ID,
			SupplierID:  po.SupplierID,
			WarehouseID: input.WarehouseID,
			Status:      GRNStatusDraft,
			ReceivedAt:  defaultTime(input.ReceivedAt),
			Note:        input.Note,
			CreatedAt:   time.Now().UTC(),
		}
		id, err := tx.InsertGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = id
		if err := tx.InsertGRNLines(ctx, id, grnLines); err != nil {
			return err
		}
		if po.Status == POStatusSent {
			if err := tx.SetPOStatus(ctx, po.ID, POStatusInProgress); err != nil {
				return err
			}
		}
		created = grn
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, input.ActorID, "GRN_CREATE", "goods_receipt", created.ID, nil, map[string]any{"number": created.Number})
	return created, nil
}

// PostGoodsReceipt posts the GRN: the status change, the RECEIVE movement and
// the PO received-quantity updates all commit in one transaction. The GRN
// becomes terminal; receiving errors leave everything untouched.
func (s *Service) PostGoodsReceipt(ctx context.Context, grnID, actorID int64) error {
	var posted GoodsReceipt
	var key string
	insertedKey := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, lines, err := tx.GetGRNForUpdate(ctx, grnID)
		if err != nil {
			return err
		}
		if grn.Status != GRNStatusDraft {
			return fmt.Errorf("%w: cannot post GRN in status %s", ErrInvalidState, grn.Status)
		}
		// Remaining quantities were checked at draft time, but another GRN
		// against the same PO may have posted since. Recheck under the lock.
		_, poLines, err := tx.GetPOForUpdate(ctx, grn.POID)
		if err != nil {
			return err
		}
		remaining := make(map[int64]float64, len(poLines))
		for _, poLine := range poLines {
			remaining[poLine.ID] = poLine.Remaining()
		}
		for _, line := range lines {
			rem, ok := remaining[line.POLineID]
			if !ok {
				return fmt.Errorf("%w: PO line %d does not belong to PO %d", ErrValidation, line.POLineID, grn.POID)
			}
			if line.Qty > rem+1e-9 {
				return fmt.Errorf("%w: PO line %d has only %.3f remaining", ErrInvalidState, line.POLineID, rem)
			}
			remaining[line.POLineID] = rem - line.Qty
		}
		key = fmt.Sprintf("GRN:%s", grn.Number)
		if s.idempotency != nil {
			if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.grn"); err != nil {
				return err
			}
			insertedKey = true
		}

		movementLines := make([]inventory.LineInput, 0, len(lines))
		for _, line := range lines {
			movementLines = append(movementLines, inventory.LineInput{
				ProductID:    line.ProductID,
				VariantID:    line.VariantID,
				ToLocationID: line.LocationID,
				Qty:          line.Qty,
				UnitCost:     line.UnitCost,
				LotID:        line.LotID,
				OrderRef:     grn.Number,
			})
		}
		if _, err := s.inventory.PostOn(ctx, tx.InventoryTx(), inventory.PostInput{
			Type:      inventory.MovementTypeReceive,
			Note:      fmt.Sprintf("GRN %s", grn.Number),
			ActorID:   actorID,
			RefModule: "PROCUREMENT",
			RefID:     docRef(docTypeGRN, grn.ID).String(),
			Lines:     movementLines,
		}); err != nil {
			return err
		}

		for _, line := range lines {
			if err := tx.AddPOLineReceived(ctx, line.POLineID, line.Qty); err != nil {
				return err
			}
		}
		if err := s.refreshPOReceiptStatus(ctx, tx, grn.POID); err != nil {
			return err
		}
		if err := tx.SetGRNStatus(ctx, grnID, GRNStatusPosted, actorID); err != nil {
			return err
		}
		posted = grn
		posted.Status = GRNStatusPosted
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return err
	}
	s.recordAudit(ctx, actorID, "GRN_POST", "goods_receipt", grnID,
		map[string]any{"status": string(GRNStatusDraft)}, map[string]any{"status": string(GRNStatusPosted), "number": posted.Number})
	return nil
}

// CancelGoodsReceipt transitions a DRAFT GRN to CANCELLED.
func (s *Service) CancelGoodsReceipt(ctx context.Context, grnID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, _, err := tx.GetGRNForUpdate(ctx, grnID)
		if err != nil {
			return err
		}
		if grn.Status != GRNStatusDraft {
			return fmt.Errorf("%w: cannot cancel GRN in status %s", ErrInvalidState, grn.Status)
		}
		return tx.SetGRNStatus(ctx, grnID, GRNStatusCancelled, actorID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "GRN_CANCEL", "goods_receipt", grnID,
		map[string]any{"status": string(GRNStatusDraft)}, map[string]any{"status": string(GRNStatusCancelled)})
	return nil
}

// ApprovalHistory lists the submit/approve/reject trail of one document.
func (s *Service) ApprovalHistory(ctx context.Context, module string, docID int64) ([]shared.ApprovalLog, error) {
	if module != docTypePR && module != docTypePO {
		return nil, fmt.Errorf("%w: unknown approval module %q", ErrValidation, module)
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, module, docRef(module, docID))
}

// AuditTrail lists audit entries for one document, oldest first.
func (s *Service) AuditTrail(ctx context.Context, module string, docID int64) ([]shared.AuditLog, error) {
	entity := ""
	switch module {
	case docTypePR:
		entity = "purchase_request"
	case docTypePO:
		entity = "purchase_order"
	case docTypeGRN:
		entity = "goods_receipt"
	default:
		return nil, fmt.Errorf("%w: unknown audit module %q", ErrValidation, module)
	}
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.Timeline(ctx, entity, fmt.Sprintf("%d", docID), 100)
}

// GetPR loads one purchase request with lines.
func (s *Service) GetPR(ctx context.Context, id int64) (PurchaseRequest, []PRLine, error) {
	return s.repo.GetPR(ctx, id)
}

// GetPO loads one purchase order with lines.
func (s *Service) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return s.repo.GetPO(ctx, id)
}

// GetGRN loads one goods receipt with lines.
func (s *Service) GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	return s.repo.GetGRN(ctx, id)
}

// refreshPOReceiptStatus recomputes the order status from its lines after a
// receipt. Fully received orders close; anything partial stays open.
func (s *Service) refreshPOReceiptStatus(ctx context.Context, tx TxRepository, poID int64) error {
	po, lines, err := tx.GetPOForUpdate(ctx, poID)
	if err != nil {
		return err
	}
	fully := true
	for _, line := range lines {
		if line.Remaining() > 1e-9 {
			fully = false
			break
		}
	}
	next := POStatusPartiallyReceived
	if fully {
		next = POStatusReceived
	}
	if po.Status == next {
		return nil
	}
	return tx.SetPOStatus(ctx, poID, next)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, oldData, newData map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		OldData:  oldData,
		NewData:  newData,
	})
}

func (s *Service) publish(ctx context.Context, build func() (notify.Notification, error)) {
	if s.notifier == nil {
		return
	}
	n, err := build()
	if err != nil {
		return
	}
	_ = s.notifier.Publish(ctx, n)
}

func validatePRLines(inputs []PRLineInput) ([]PRLine, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	lines := make([]PRLine, 0, len(inputs))
	for _, in := range inputs {
		if in.ProductID == 0 {
			return nil, fmt.Errorf("%w: product required", ErrValidation)
		}
		if in.Qty <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
		lines = append(lines, PRLine{ProductID: in.ProductID, VariantID: in.VariantID, Qty: in.Qty, Note: in.Note})
	}
	return lines, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid price %q", ErrValidation, raw)
	}
	return price, nil
}

// docRef derives a stable uuid for approval and movement references.
func docRef(module string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", module, id)))
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value
}
