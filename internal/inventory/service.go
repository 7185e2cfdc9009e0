package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, id int64) (Movement, []MovementLine, error)
	StockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IntegrationHandler receives posting events for downstream modules.
type IntegrationHandler interface {
	HandleMovementPosted(ctx context.Context, evt MovementPostedEvent) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AllowNegativeStock keeps the observed behaviour of letting an
	// over-issue drive a balance below zero. When false the whole batch is
	// rejected instead.
	AllowNegativeStock bool
}

// Service is the movement posting engine. It validates movement batches and
// applies them to balances atomically, one transaction per batch.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	allowNeg    bool
	integration IntegrationHandler
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig, integration IntegrationHandler) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, allowNeg: cfg.AllowNegativeStock, integration: integration}
}

// CreateMovement persists a DRAFT movement with its lines. Lines are shape
// checked here; reference existence is verified at posting time.
func (s *Service) CreateMovement(ctx context.Context, input PostInput) (Movement, error) {
	if len(input.Lines) == 0 {
		return Movement{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return Movement{}, fmt.Errorf("%w: invalid ref id", ErrValidation)
		}
	}
	lines := make([]MovementLine, 0, len(input.Lines))
	for _, in := range input.Lines {
		line := movementLineFromInput(in)
		if _, err := lineEffects(input.Type, line); err != nil {
			return Movement{}, err
		}
		lines = append(lines, line)
	}

	var created Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mv, err := s.insertDraft(ctx, tx, input, lines)
		if err != nil {
			return err
		}
		created = mv
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, input.ActorID, "MOVEMENT_CREATE", created.ID, nil, map[string]any{"number": created.Number, "type": string(created.Type)})
	return created, nil
}

// PostMovement transitions a DRAFT movement to POSTED, applying every line's
// balance effect in one transaction. Posting an already POSTED or CANCELLED
// movement is a hard error. On any line failure nothing is committed.
func (s *Service) PostMovement(ctx context.Context, movementID, actorID int64) (Movement, error) {
	var posted Movement
	var key string
	insertedKey := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mv, lines, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if mv.Status != MovementStatusDraft {
			return fmt.Errorf("%w: cannot post movement in status %s", ErrInvalidState, mv.Status)
		}
		key = fmt.Sprintf("MOV:%s", mv.Number)
		if s.idempotency != nil {
			if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
				return err
			}
			insertedKey = true
		}
		if err := s.applyLines(ctx, tx, mv.Type, lines); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.SetMovementStatus(ctx, mv.ID, MovementStatusPosted, now); err != nil {
			return err
		}
		mv.Status = MovementStatusPosted
		mv.PostedAt = now
		posted = mv
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Movement{}, err
	}
	s.afterPost(ctx, actorID, posted)
	return posted, nil
}

// PostNew creates and posts a movement in one transaction. Used when the
// caller has no reason to hold a draft, e.g. direct adjustments.
func (s *Service) PostNew(ctx context.Context, input PostInput) (Movement, error) {
	var posted Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mv, err := s.PostOn(ctx, tx, input)
		if err != nil {
			return err
		}
		posted = mv
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.afterPost(ctx, input.ActorID, posted)
	return posted, nil
}

// PostOn runs the full create-and-post pipeline on an already open
// transaction. Document workflows call it so their state change and the
// ledger write commit or roll back together.
func (s *Service) PostOn(ctx context.Context, tx TxRepository, input PostInput) (Movement, error) {
	if len(input.Lines) == 0 {
		return Movement{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	lines := make([]MovementLine, 0, len(input.Lines))
	for _, in := range input.Lines {
		line := movementLineFromInput(in)
		if _, err := lineEffects(input.Type, line); err != nil {
			return Movement{}, err
		}
		lines = append(lines, line)
	}
	mv, err := s.insertDraft(ctx, tx, input, lines)
	if err != nil {
		return Movement{}, err
	}
	if err := s.applyLines(ctx, tx, mv.Type, lines); err != nil {
		return Movement{}, err
	}
	now := time.Now().UTC()
	if err := tx.SetMovementStatus(ctx, mv.ID, MovementStatusPosted, now); err != nil {
		return Movement{}, err
	}
	mv.Status = MovementStatusPosted
	mv.PostedAt = now
	return mv, nil
}

// CancelMovement transitions a DRAFT movement to CANCELLED. Cancelled
// movements never touch balances.
func (s *Service) CancelMovement(ctx context.Context, movementID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mv, _, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if mv.Status != MovementStatusDraft {
			return fmt.Errorf("%w: cannot cancel movement in status %s", ErrInvalidState, mv.Status)
		}
		return tx.SetMovementStatus(ctx, mv.ID, MovementStatusCancelled, time.Time{})
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "MOVEMENT_CANCEL", movementID, map[string]any{"status": string(MovementStatusDraft)}, map[string]any{"status": string(MovementStatusCancelled)})
	return nil
}

// GetMovement loads one movement with its lines.
func (s *Service) GetMovement(ctx context.Context, id int64) (Movement, []MovementLine, error) {
	return s.repo.GetMovement(ctx, id)
}

// StockCard lists ledger entries for one balance key.
func (s *Service) StockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.ProductID == 0 || filter.LocationID == 0 {
		return nil, fmt.Errorf("%w: product and location required", ErrValidation)
	}
	return s.repo.StockCard(ctx, filter)
}

func (s *Service) insertDraft(ctx context.Context, tx TxRepository, input PostInput, lines []MovementLine) (Movement, error) {
	number := input.Number
	if number == "" {
		var err error
		number, err = tx.NextNumber(ctx, docTypeMovement)
		if err != nil {
			return Movement{}, err
		}
	}
	mv := Movement{
		Number:    number,
		Type:      input.Type,
		Status:    MovementStatusDraft,
		Note:      input.Note,
		RefModule: input.RefModule,
		RefID:     input.RefID,
		CreatedBy: input.ActorID,
		CreatedAt: time.Now().UTC(),
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Movement{}, err
	}
	mv.ID = id
	for i := range lines {
		lines[i].MovementID = id
	}
	if err := tx.InsertMovementLines(ctx, id, lines); err != nil {
		return Movement{}, err
	}
	return mv, nil
}

// applyLines verifies references and applies every balance effect. Failing a
// single line aborts the caller's transaction, so posting is all-or-nothing.
func (s *Service) applyLines(ctx context.Context, tx TxRepository, t MovementType, lines []MovementLine) error {
	for _, line := range lines {
		if err := tx.EnsureLineRefs(ctx, line); err != nil {
			return err
		}
		effects, err := lineEffects(t, line)
		if err != nil {
			return err
		}
		for _, effect := range effects {
			balance, err := tx.ApplyBalanceDelta(ctx, effect.key, effect.delta, effect.unitCost)
			if err != nil {
				return err
			}
			if !s.allowNeg && balance.Qty < -0.0001 {
				return fmt.Errorf("%w: product %d location %d would reach %.4f",
					ErrNegativeStock, effect.key.ProductID, effect.key.LocationID, balance.Qty)
			}
		}
	}
	return nil
}

func (s *Service) afterPost(ctx context.Context, actorID int64, mv Movement) {
	s.recordAudit(ctx, actorID, "MOVEMENT_POST", mv.ID,
		map[string]any{"status": string(MovementStatusDraft)},
		map[string]any{"status": string(MovementStatusPosted), "number": mv.Number, "type": string(mv.Type)})
	if s.integration != nil {
		evt := MovementPostedEvent{
			MovementID: mv.ID,
			Number:     mv.Number,
			Type:       mv.Type,
			PostedAt:   mv.PostedAt,
		}
		if err := s.integration.HandleMovementPosted(ctx, evt); err != nil {
			// Integration consumers are best-effort; the ledger write has
			// already committed.
			_ = err
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, oldData, newData map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "movement",
		EntityID: fmt.Sprintf("%d", entityID),
		OldData:  oldData,
		NewData:  newData,
	})
}

func movementLineFromInput(in LineInput) MovementLine {
	return MovementLine{
		ProductID:      in.ProductID,
		VariantID:      in.VariantID,
		FromLocationID: in.FromLocationID,
		ToLocationID:   in.ToLocationID,
		Qty:            in.Qty,
		UnitCost:       in.UnitCost,
		LotID:          in.LotID,
		OrderRef:       in.OrderRef,
	}
}

// docTypeMovement is the sequence document type for movement numbers.
const docTypeMovement = "MOV"
