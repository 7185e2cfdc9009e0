package procurement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian-ims/internal/inventory"
	"github.com/meridian-ims/meridian-ims/internal/notify"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// fakeDocs keeps the whole procurement store in memory. WithTx snapshots the
// maps up front and restores them when the callback fails, mirroring a
// database rollback.
type fakeDocs struct {
	seq      map[string]int
	prs      map[int64]PurchaseRequest
	prLines  map[int64][]PRLine
	pos      map[int64]PurchaseOrder
	poLines  map[int64][]POLine
	grns     map[int64]GoodsReceipt
	grnLines map[int64][]GRNLine
	nextID   int64
	inv      *fakeInvTx
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		seq:      map[string]int{},
		prs:      map[int64]PurchaseRequest{},
		prLines:  map[int64][]PRLine{},
		pos:      map[int64]PurchaseOrder{},
		poLines:  map[int64][]POLine{},
		grns:     map[int64]GoodsReceipt{},
		grnLines: map[int64][]GRNLine{},
		inv:      newFakeInvTx(),
	}
}

type docsSnapshot struct {
	seq      map[string]int
	prs      map[int64]PurchaseRequest
	prLines  map[int64][]PRLine
	pos      map[int64]PurchaseOrder
	poLines  map[int64][]POLine
	grns     map[int64]GoodsReceipt
	grnLines map[int64][]GRNLine
	nextID   int64
	inv      invSnapshot
}

func (f *fakeDocs) snapshot() docsSnapshot {
	snap := docsSnapshot{
		seq:      map[string]int{},
		prs:      map[int64]PurchaseRequest{},
		prLines:  map[int64][]PRLine{},
		pos:      map[int64]PurchaseOrder{},
		poLines:  map[int64][]POLine{},
		grns:     map[int64]GoodsReceipt{},
		grnLines: map[int64][]GRNLine{},
		nextID:   f.nextID,
		inv:      f.inv.snapshot(),
	}
	for k, v := range f.seq {
		snap.seq[k] = v
	}
	for k, v := range f.prs {
		snap.prs[k] = v
	}
	for k, v := range f.prLines {
		snap.prLines[k] = append([]PRLine(nil), v...)
	}
	for k, v := range f.pos {
		snap.pos[k] = v
	}
	for k, v := range f.poLines {
		snap.poLines[k] = append([]POLine(nil), v...)
	}
	for k, v := range f.grns {
		snap.grns[k] = v
	}
	for k, v := range f.grnLines {
		snap.grnLines[k] = append([]GRNLine(nil), v...)
	}
	return snap
}

func (f *fakeDocs) restore(snap docsSnapshot) {
	f.seq = snap.seq
	f.prs = snap.prs
	f.prLines = snap.prLines
	f.pos = snap.pos
	f.poLines = snap.poLines
	f.grns = snap.grns
	f.grnLines = snap.grnLines
	f.nextID = snap.nextID
	f.inv.restore(snap.inv)
}

func (f *fakeDocs) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := f.snapshot()
	if err := fn(ctx, f); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeDocs) NextNumber(_ context.Context, docType string) (string, error) {
	f.seq[docType]++
	return fmt.Sprintf("%s-%04d", docType, f.seq[docType]), nil
}

func (f *fakeDocs) InsertPR(_ context.Context, pr PurchaseRequest) (int64, error) {
	f.nextID++
	pr.ID = f.nextID
	f.prs[pr.ID] = pr
	return pr.ID, nil
}

func (f *fakeDocs) UpdatePRHeader(_ context.Context, pr PurchaseRequest) error {
	stored, ok := f.prs[pr.ID]
	if !ok {
		return ErrNotFound
	}
	stored.SupplierID = pr.SupplierID
	stored.Note = pr.Note
	stored.NeededBy = pr.NeededBy
	stored.UpdatedAt = pr.UpdatedAt
	f.prs[pr.ID] = stored
	return nil
}

func (f *fakeDocs) ReplacePRLines(_ context.Context, prID int64, lines []PRLine) error {
	stored := make([]PRLine, 0, len(lines))
	for _, line := range lines {
		f.nextID++
		line.ID = f.nextID
		line.PRID = prID
		stored = append(stored, line)
	}
	f.prLines[prID] = stored
	return nil
}

func (f *fakeDocs) SetPRStatus(_ context.Context, prID int64, status PRStatus) error {
	pr, ok := f.prs[prID]
	if !ok {
		return ErrNotFound
	}
	pr.Status = status
	f.prs[prID] = pr
	return nil
}

func (f *fakeDocs) GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequest, []PRLine, error) {
	return f.GetPR(ctx, id)
}

func (f *fakeDocs) GetPR(_ context.Context, id int64) (PurchaseRequest, []PRLine, error) {
	pr, ok := f.prs[id]
	if !ok {
		return PurchaseRequest{}, nil, ErrNotFound
	}
	return pr, append([]PRLine(nil), f.prLines[id]...), nil
}

func (f *fakeDocs) InsertPO(_ context.Context, po PurchaseOrder) (int64, error) {
	f.nextID++
	po.ID = f.nextID
	f.pos[po.ID] = po
	return po.ID, nil
}

func (f *fakeDocs) InsertPOLines(_ context.Context, poID int64, lines []POLine) error {
	stored := make([]POLine, 0, len(lines))
	for _, line := range lines {
		f.nextID++
		line.ID = f.nextID
		line.POID = poID
		stored = append(stored, line)
	}
	f.poLines[poID] = stored
	return nil
}

func (f *fakeDocs) SetPOStatus(_ context.Context, poID int64, status POStatus) error {
	po, ok := f.pos[poID]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	f.pos[poID] = po
	return nil
}

func (f *fakeDocs) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return f.GetPO(ctx, id)
}

func (f *fakeDocs) GetPO(_ context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, ok := f.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, append([]POLine(nil), f.poLines[id]...), nil
}

func (f *fakeDocs) AddPOLineReceived(_ context.Context, poLineID int64, qty float64) error {
	for poID, lines := range f.poLines {
		for i, line := range lines {
			if line.ID == poLineID {
				lines[i].ReceivedQty += qty
				f.poLines[poID] = lines
				return nil
			}
		}
	}
	return ErrNotFound
}

func (f *fakeDocs) InsertGRN(_ context.Context, grn GoodsReceipt) (int64, error) {
	f.nextID++
	grn.ID = f.nextID
	f.grns[grn.ID] = grn
	return grn.ID, nil
}

func (f *fakeDocs) InsertGRNLines(_ context.Context, grnID int64, lines []GRNLine) error {
	stored := make([]GRNLine, 0, len(lines))
	for _, line := range lines {
		f.nextID++
		line.ID = f.nextID
		line.GRNID = grnID
		stored = append(stored, line)
	}
	f.grnLines[grnID] = stored
	return nil
}

func (f *fakeDocs) SetGRNStatus(_ context.Context, grnID int64, status GRNStatus, postedBy int64) error {
	grn, ok := f.grns[grnID]
	if !ok {
		return ErrNotFound
	}
	grn.Status = status
	if status == GRNStatusPosted {
		grn.PostedBy = postedBy
	}
	f.grns[grnID] = grn
	return nil
}

func (f *fakeDocs) GetGRNForUpdate(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	return f.GetGRN(ctx, id)
}

func (f *fakeDocs) GetGRN(_ context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	grn, ok := f.grns[id]
	if !ok {
		return GoodsReceipt{}, nil, ErrNotFound
	}
	return grn, append([]GRNLine(nil), f.grnLines[id]...), nil
}

func (f *fakeDocs) InventoryTx() inventory.TxRepository { return f.inv }

func (f *fakeDocs) ListPRs(_ context.Context, _ ListFilter) ([]PurchaseRequest, int, error) {
	return nil, 0, nil
}

func (f *fakeDocs) ListPOs(_ context.Context, _ ListFilter) ([]PurchaseOrder, int, error) {
	return nil, 0, nil
}

func (f *fakeDocs) ListGRNs(_ context.Context, _ ListFilter) ([]GoodsReceipt, int, error) {
	return nil, 0, nil
}

func (f *fakeDocs) ApproverIDs(_ context.Context) ([]int64, error) {
	return []int64{71, 72}, nil
}

// fakeInvTx is the slice of the ledger surface the posting engine drives
// while receiving goods.
type fakeInvTx struct {
	seq       int
	nextID    int64
	movements map[int64]inventory.Movement
	lines     map[int64][]inventory.MovementLine
	balances  map[inventory.BalanceKey]inventory.StockBalance
}

func newFakeInvTx() *fakeInvTx {
	return &fakeInvTx{
		movements: map[int64]inventory.Movement{},
		lines:     map[int64][]inventory.MovementLine{},
		balances:  map[inventory.BalanceKey]inventory.StockBalance{},
	}
}

type invSnapshot struct {
	seq       int
	nextID    int64
	movements map[int64]inventory.Movement
	lines     map[int64][]inventory.MovementLine
	balances  map[inventory.BalanceKey]inventory.StockBalance
}

func (f *fakeInvTx) snapshot() invSnapshot {
	snap := invSnapshot{
		seq:       f.seq,
		nextID:    f.nextID,
		movements: map[int64]inventory.Movement{},
		lines:     map[int64][]inventory.MovementLine{},
		balances:  map[inventory.BalanceKey]inventory.StockBalance{},
	}
	for k, v := range f.movements {
		snap.movements[k] = v
	}
	for k, v := range f.lines {
		snap.lines[k] = append([]inventory.MovementLine(nil), v...)
	}
	for k, v := range f.balances {
		snap.balances[k] = v
	}
	return snap
}

func (f *fakeInvTx) restore(snap invSnapshot) {
	f.seq = snap.seq
	f.nextID = snap.nextID
	f.movements = snap.movements
	f.lines = snap.lines
	f.balances = snap.balances
}

func (f *fakeInvTx) NextNumber(_ context.Context, docType string) (string, error) {
	f.seq++
	return fmt.Sprintf("%s-%04d", docType, f.seq), nil
}

func (f *fakeInvTx) InsertMovement(_ context.Context, mv inventory.Movement) (int64, error) {
	f.nextID++
	mv.ID = f.nextID
	f.movements[mv.ID] = mv
	return mv.ID, nil
}

func (f *fakeInvTx) InsertMovementLines(_ context.Context, movementID int64, lines []inventory.MovementLine) error {
	f.lines[movementID] = append([]inventory.MovementLine(nil), lines...)
	return nil
}

func (f *fakeInvTx) GetMovementForUpdate(_ context.Context, id int64) (inventory.Movement, []inventory.MovementLine, error) {
	mv, ok := f.movements[id]
	if !ok {
		return inventory.Movement{}, nil, inventory.ErrNotFound
	}
	return mv, f.lines[id], nil
}

func (f *fakeInvTx) SetMovementStatus(_ context.Context, id int64, status inventory.MovementStatus, postedAt time.Time) error {
	mv, ok := f.movements[id]
	if !ok {
		return inventory.ErrNotFound
	}
	mv.Status = status
	mv.PostedAt = postedAt
	f.movements[id] = mv
	return nil
}

func (f *fakeInvTx) ApplyBalanceDelta(_ context.Context, key inventory.BalanceKey, delta float64, unitCost decimal.Decimal) (inventory.StockBalance, error) {
	balance := f.balances[key]
	balance.BalanceKey = key
	if delta > 0 && !unitCost.IsZero() {
		oldQty := decimal.NewFromFloat(balance.Qty)
		addQty := decimal.NewFromFloat(delta)
		total := oldQty.Add(addQty)
		if total.IsPositive() {
			balance.AvgCost = balance.AvgCost.Mul(oldQty).Add(unitCost.Mul(addQty)).Div(total)
		}
	}
	balance.Qty += delta
	f.balances[key] = balance
	return balance, nil
}

func (f *fakeInvTx) EnsureLineRefs(_ context.Context, _ inventory.MovementLine) error { return nil }

func (f *fakeInvTx) GetVariantForMerge(_ context.Context, _ int64) (inventory.VariantRef, error) {
	return inventory.VariantRef{}, inventory.ErrNotFound
}

func (f *fakeInvTx) ReassignMovementLines(_ context.Context, _, _ int64, _ string) (int64, error) {
	return 0, nil
}

func (f *fakeInvTx) ListVariantBalances(_ context.Context, _ int64) ([]inventory.StockBalance, error) {
	return nil, nil
}

func (f *fakeInvTx) FoldBalanceInto(_ context.Context, _ inventory.StockBalance, _ int64) error {
	return nil
}

func (f *fakeInvTx) RetireVariant(_ context.Context, _ int64) error { return nil }

type fakeApprovals struct {
	logs []shared.ApprovalLog
}

func (f *fakeApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeApprovals) List(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, log := range f.logs {
		if log.Module == module && log.RefID == ref {
			out = append(out, log)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	sent []notify.Notification
}

func (f *fakeNotifier) Publish(_ context.Context, n notify.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

func newTestWorkflow() (*Service, *fakeDocs, *fakeApprovals, *fakeNotifier) {
	docs := newFakeDocs()
	approvals := &fakeApprovals{}
	notifier := &fakeNotifier{}
	poster := inventory.NewService(nil, nil, nil, inventory.ServiceConfig{AllowNegativeStock: true}, nil)
	svc := NewService(docs, poster, approvals, nil, notifier, nil)
	return svc, docs, approvals, notifier
}

func draftPR(t *testing.T, svc *Service) PurchaseRequest {
	t.Helper()
	pr, err := svc.CreatePurchaseRequest(context.Background(), CreatePRInput{
		SupplierID: 5,
		ActorID:    9,
		Note:       "restock",
		Lines: []PRLineInput{
			{ProductID: 1, Qty: 10},
			{ProductID: 2, VariantID: 20, Qty: 4},
		},
	})
	require.NoError(t, err)
	return pr
}

// approvedPO walks a PR through submit, approve, convert, submit, approve and
// send, returning the receivable order.
func approvedPO(t *testing.T, svc *Service, docs *fakeDocs) (PurchaseOrder, []POLine) {
	t.Helper()
	ctx := context.Background()
	pr := draftPR(t, svc)
	require.NoError(t, svc.SubmitPurchaseRequest(ctx, pr.ID, 9))
	require.NoError(t, svc.DecidePurchaseRequest(ctx, pr.ID, 71, true, "ok"))
	_, prLines, err := docs.GetPR(ctx, pr.ID)
	require.NoError(t, err)
	prices := map[int64]string{prLines[0].ID: "2.50", prLines[1].ID: "7.00"}
	po, err := svc.ConvertPRToPO(ctx, ConvertPRInput{PRID: pr.ID, ActorID: 71, Prices: prices})
	require.NoError(t, err)
	require.NoError(t, svc.SubmitPurchaseOrder(ctx, po.ID, 71))
	require.NoError(t, svc.DecidePurchaseOrder(ctx, po.ID, 72, true, ""))
	require.NoError(t, svc.SendPurchaseOrder(ctx, po.ID, 71))
	stored, lines, err := docs.GetPO(ctx, po.ID)
	require.NoError(t, err)
	return stored, lines
}

func TestPRLifecycleToConvertedPO(t *testing.T) {
	svc, docs, approvals, notifier := newTestWorkflow()
	ctx := context.Background()

	pr := draftPR(t, svc)
	require.Equal(t, "PR-0001", pr.Number)
	require.Equal(t, PRStatusDraft, pr.Status)

	require.NoError(t, svc.SubmitPurchaseRequest(ctx, pr.ID, 9))
	stored, _, err := docs.GetPR(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRStatusSubmitted, stored.Status)
	require.Len(t, notifier.sent, 1)
	require.Equal(t, EventPRSubmitted, notifier.sent[0].EventType)
	require.Equal(t, []int64{71, 72}, notifier.sent[0].TargetUserIDs)

	require.NoError(t, svc.DecidePurchaseRequest(ctx, pr.ID, 71, true, "budget fine"))
	stored, prLines, err := docs.GetPR(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRStatusApproved, stored.Status)
	require.Len(t, notifier.sent, 2)
	require.Equal(t, []int64{9}, notifier.sent[1].TargetUserIDs)

	po, err := svc.ConvertPRToPO(ctx, ConvertPRInput{
		PRID:    pr.ID,
		ActorID: 71,
		Prices:  map[int64]string{prLines[0].ID: "3.25"},
	})
	require.NoError(t, err)
	require.Equal(t, "PO-0001", po.Number)
	require.Equal(t, POStatusDraft, po.Status)
	require.Equal(t, "USD", po.Currency)

	stored, _, err = docs.GetPR(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRStatusConverted, stored.Status)

	_, poLines, err := docs.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, poLines, 2)
	require.True(t, poLines[0].Price.Equal(decimal.RequireFromString("3.25")))
	require.True(t, poLines[1].Price.IsZero())

	history, err := svc.ApprovalHistory(ctx, docTypePR, pr.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, shared.ApprovalSubmit, history[0].Action)
	require.Equal(t, shared.ApprovalApprove, history[1].Action)
	require.NotEmpty(t, approvals.logs)
}

func TestDecideRequiresSubmittedPR(t *testing.T) {
	svc, _, _, _ := newTestWorkflow()
	pr := draftPR(t, svc)

	err := svc.DecidePurchaseRequest(context.Background(), pr.ID, 71, true, "")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRejectedPRStaysEditableAndResubmits(t *testing.T) {
	svc, docs, _, notifier := newTestWorkflow()
	ctx := context.Background()
	pr := draftPR(t, svc)

	require.NoError(t, svc.SubmitPurchaseRequest(ctx, pr.ID, 9))
	require.NoError(t, svc.DecidePurchaseRequest(ctx, pr.ID, 71, false, "too much"))

	stored, _, err := docs.GetPR(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRStatusRejected, stored.Status)
	require.Equal(t, EventPRRejected, notifier.sent[len(notifier.sent)-1].EventType)

	err = svc.UpdatePurchaseRequest(ctx, pr.ID, CreatePRInput{
		SupplierID: 5,
		ActorID:    9,
		Lines:      []PRLineInput{{ProductID: 1, Qty: 3}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.SubmitPurchaseRequest(ctx, pr.ID, 9))

	stored, lines, err := docs.GetPR(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRStatusSubmitted, stored.Status)
	require.Len(t, lines, 1)

	history, err := svc.ApprovalHistory(ctx, "PR", pr.ID)
	require.NoError(t, err)
	var submits []shared.ApprovalLog
	for _, log := range history {
		if log.Action == shared.ApprovalSubmit {
			submits = append(submits, log)
		}
	}
	require.Len(t, submits, 2)
	require.Equal(t, shared.ApprovalReject, history[1].Action)
}

func TestConvertRequiresApprovedPR(t *testing.T) {
	svc, _, _, _ := newTestWorkflow()
	pr := draftPR(t, svc)

	_, err := svc.ConvertPRToPO(context.Background(), ConvertPRInput{PRID: pr.ID, ActorID: 71})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateGRNRequiresReceivablePO(t *testing.T) {
	svc, docs, _, _ := newTestWorkflow()
	ctx := context.Background()
	pr := draftPR(t, svc)
	require.NoError(t, svc.SubmitPurchaseRequest(ctx, pr.ID, 9))
	require.NoError(t, svc.DecidePurchaseRequest(ctx, pr.ID, 71, true, ""))
	po, err := svc.ConvertPRToPO(ctx, ConvertPRInput{PRID: pr.ID, ActorID: 71})
	require.NoError(t, err)
	_, poLines, err := docs.GetPO(ctx, po.ID)
	require.NoError(t, err)

	_, err = svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		POID:        po.ID,
		WarehouseID: 1,
		ActorID:     3,
		Lines:       []GRNLineInput{{POLineID: poLines[0].ID, LocationID: 10, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestGRNOverReceiptRejected(t *testing.T) {
	svc, docs, _, _ := newTestWorkflow()
	po, lines := approvedPO(t, svc, docs)

	_, err := svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID:        po.ID,
		WarehouseID: 1,
		ActorID:     3,
		Lines:       []GRNLineInput{{POLineID: lines[0].ID, LocationID: 10, Qty: lines[0].Qty + 1}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestPostGRNRechecksRemainingAcrossDrafts(t *testing.T) {
	svc, docs, _, _ := newTestWorkflow()
	ctx := context.Background()
	po, lines := approvedPO(t, svc, docs)

	// both drafts pass the creation check because nothing is received yet
	first, err := svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		POID:        po.ID,
		WarehouseID: 1,
		ActorID:     3,
		Lines:       []GRNLineInput{{POLineID: lines[0].ID, LocationID: 10, Qty: lines[0].Qty}},
	})
	require.NoError(t, err)
	second, err := svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		POID:        po.ID,
		WarehouseID: 1,
		ActorID:     3,
		Lines:       []GRNLineInput{{POLineID: lines[0].ID, LocationID: 10, Qty: lines[0].Qty}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.PostGoodsReceipt(ctx, first.ID, 3))
	err = svc.PostGoodsReceipt(ctx, second.ID, 3)
	require.ErrorIs(t, err, ErrInvalidState)

	stored, storedLines, err := docs.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.InDelta(t, lines[0].Qty, storedLines[0].ReceivedQty, 1e-9)
	require.NotEqual(t, POStatusReceived, stored.Status)

	balance := docs.inv.balances[inventory.BalanceKey{ProductID: lines[0].ProductID, LocationID: 10}]
	require.InDelta(t, lines[0].Qty, balance.Qty, 1e-9)

	storedGRN, _, err := docs.GetGRN(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, storedGRN.Status)
}

func TestPostGRNReceivesStockAndTracksPOProgress(t *testing.T) {
	svc, docs, _, _ := newTestWorkflow()
	ctx := context.Background()
	po, lines := approvedPO(t, svc, docs)

	grn, err := svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		POID:        po.ID,
		WarehouseID: 1,
		ActorID:     3,
		Lines:       []GRNLineInput{{POLineID: lines[0].ID, LocationID: 10, Qty: 6}},
	})
	require.NoError(t, err)
	require.Equal(t, "GRN-0001", grn.Number)

	stored, _, err := docs.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusInProgress, stored.Status)

	require.NoError(t, svc.PostGoodsReceipt(ctx, grn.ID, 3))

	storedGRN, grnLines, err := docs.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusPosted, storedGRN.Status)
	require.Equal(t, int64(3), storedGRN.PostedBy)
	// cost falls back to the PO line price
	require.True(t, grnLines[0].UnitCost.Equal(decimal.RequireFromString("2.50")))

	balance := docs.inv.balances[inventory.BalanceKey{ProductID: lines[0].ProductID, LocationID: 10}]
	require.InDelta(t, 6, balance.Qty, 1e-9)
	require.True(t, balance.AvgCost.Equal(decimal.RequireFromString("2.50")))

	stored, storedLines, err := docs.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusPartiallyReceived, stored.Status)
	require.InDelta(t, 6, storedLines[0].ReceivedQty, 1e-9)

	// receive the remainder of both lines, order closes
	second, err := svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		POID:        po.ID,
		WarehouseID: 1,
		ActorID:     3,
		Lines: []GRNLineInput{
			{POLineID: lines[0].ID, LocationID: 10, Qty: 4},
			{POLineID: lines[1].ID, LocationID: 10, Qty: 4, UnitCost: "6.50"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, svc.PostGoodsReceipt(ctx, second.ID, 3))

	stored, _, err = docs.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, stored.Status)

	variantKey := inventory.BalanceKey{ProductID: lines[1].ProductID, VariantID: lines[1].VariantID, LocationID: 10}
	require.InDelta(t, 4, docs.inv.balances[variantKey].Qty, 1e-9)
	require.True(t, docs.inv.balances[variantKey].AvgCost.Equal(decimal.RequireFromString("6.50")))
}

func TestPostGRNOnlyFromDraft(t *testing.T) {
	svc, docs, _, _ := newTestWorkflow()
	ctx := context.Background()
	po, lines := approvedPO(t, svc, docs)

	grn, err := svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		POID:        po.ID,
		WarehouseID: 1,
		ActorID:     3,
		Lines:       []GRNLineInput{{POLineID: lines[0].ID, LocationID: 10, Qty: 2}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.PostGoodsReceipt(ctx, grn.ID, 3))

	err = svc.PostGoodsReceipt(ctx, grn.ID, 3)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelGRNOnlyFromDraft(t *testing.T) {
	svc, docs, _, _ := newTestWorkflow()
	ctx := context.Background()
	po, lines := approvedPO(t, svc, docs)

	grn, err := svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		POID:        po.ID,
		WarehouseID: 1,
		ActorID:     3,
		Lines:       []GRNLineInput{{POLineID: lines[0].ID, LocationID: 10, Qty: 2}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.CancelGoodsReceipt(ctx, grn.ID, 3))

	stored, _, err := docs.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusCancelled, stored.Status)

	err = svc.PostGoodsReceipt(ctx, grn.ID, 3)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPostGRNRollsBackOnLedgerFailure(t *testing.T) {
	svc, docs, _, _ := newTestWorkflow()
	ctx := context.Background()
	po, lines := approvedPO(t, svc, docs)

	grn, err := svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		POID:        po.ID,
		WarehouseID: 1,
		ActorID:     3,
		Lines:       []GRNLineInput{{POLineID: lines[0].ID, LocationID: 10, Qty: 2}},
	})
	require.NoError(t, err)

	// corrupt the stored line so the posting engine rejects it
	stored := docs.grnLines[grn.ID]
	stored[0].Qty = -2
	docs.grnLines[grn.ID] = stored

	err = svc.PostGoodsReceipt(ctx, grn.ID, 3)
	require.Error(t, err)

	after, _, err := docs.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, after.Status)
	require.Empty(t, docs.inv.balances)

	_, poLines, err := docs.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Zero(t, poLines[0].ReceivedQty)
}
