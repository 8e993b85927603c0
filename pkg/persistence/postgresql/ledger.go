package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukex/rentflow/pkg/models"
)

// LedgerRepository records firings; the primary key makes TryFire a single atomic insert.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) TryFire(ctx context.Context, key models.FiringKey, firedAt time.Time) (bool, error) {
	query := `
		INSERT INTO firing_ledger (workflow_id, entity_id, window_key, fired_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, key.WorkflowID, key.EntityID, key.WindowKey, firedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record firing %s: %w", key, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (r *LedgerRepository) Has(ctx context.Context, key models.FiringKey) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM firing_ledger WHERE workflow_id = $1 AND entity_id = $2 AND window_key = $3
		)`, key.WorkflowID, key.EntityID, key.WindowKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check firing %s: %w", key, err)
	}

	return exists, nil
}
