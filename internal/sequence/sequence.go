// Package sequence issues document numbers backed by per-type counter rows.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DocType identifies a numbered document family.
type DocType string

const (
	DocTypePR       DocType = "PR"
	DocTypePO       DocType = "PO"
	DocTypeGRN      DocType = "GRN"
	DocTypeMovement DocType = "MOV"
)

// DefaultPadWidth is the counter width used when none is configured.
const DefaultPadWidth = 4

// Querier is the minimal query surface the generator needs. Both pgx.Tx and
// *pgxpool.Pool satisfy it; callers pass their open transaction so the
// increment commits or rolls back with the document insert.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Generator issues monotonically increasing numbers per document type and
// year/month prefix. Counters are atomic increment-and-read rows, so two
// concurrent creations of the same type serialize on the row and never share
// or skip a value.
type Generator struct {
	padWidth int
}

// NewGenerator constructs a Generator with the given counter pad width.
func NewGenerator(padWidth int) *Generator {
	if padWidth <= 0 {
		padWidth = DefaultPadWidth
	}
	return &Generator{padWidth: padWidth}
}

// Next increments and returns the formatted number for doc at the given
// instant, e.g. PR2608-0001. Numbers are never reused.
func (g *Generator) Next(ctx context.Context, q Querier, doc DocType, at time.Time) (string, error) {
	if g == nil {
		return "", errors.New("sequence: generator not initialised")
	}
	if doc == "" {
		return "", errors.New("sequence: doc type required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	year := at.Year() % 100
	month := int(at.Month())
	var value int64
	err := q.QueryRow(ctx, `INSERT INTO document_sequences (doc_type, period_year, period_month, value)
VALUES ($1, $2, $3, 1)
ON CONFLICT (doc_type, period_year, period_month)
DO UPDATE SET value = document_sequences.value + 1
RETURNING value`, string(doc), year, month).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("sequence: next %s: %w", doc, err)
	}
	return Format(doc, year, month, value, g.padWidth), nil
}

// Format renders a document number from its parts.
func Format(doc DocType, year, month int, value int64, padWidth int) string {
	if padWidth <= 0 {
		padWidth = DefaultPadWidth
	}
	return fmt.Sprintf("%s%02d%02d-%0*d", doc, year, month, padWidth, value)
}
