package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/lib/pq"
)

// EntityRepository stores the latest snapshot of each entity.
type EntityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEntityRepository(db *sql.DB, logger *slog.Logger) *EntityRepository {
	return &EntityRepository{db: db, logger: logger}
}

func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = time.Now().UTC()
	}

	dataJSON, err := json.Marshal(entity.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal entity data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entity_snapshots (entity_type, id, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`, entity.Type, entity.ID, dataJSON, entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save entity %s/%s: %w", entity.Type, entity.ID, err)
	}

	return nil
}

// FindByDateRange compares the calendar-date prefix of the field, read either as a top-level key or a dotted path.
func (r *EntityRepository) FindByDateRange(ctx context.Context, entityType, field string, from, to time.Time) ([]*models.Entity, error) {
	query := `
		SELECT id, entity_type, data, updated_at
		FROM (
			SELECT id, entity_type, data, updated_at,
				COALESCE(data->>($2::text), data #>> $3::text[]) AS field_value
			FROM entity_snapshots
			WHERE entity_type = $1
		) AS candidates
		WHERE field_value ~ '^\d{4}-\d{2}-\d{2}'
			AND substring(field_value from 1 for 10) BETWEEN $4 AND $5
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query,
		entityType,
		field,
		pq.Array(strings.Split(field, ".")),
		models.FormatDate(from),
		models.FormatDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entities := make([]*models.Entity, 0)

	for rows.Next() {
		var (
			entity   models.Entity
			dataJSON []byte
		)

		err := rows.Scan(&entity.ID, &entity.Type, &dataJSON, &entity.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}

		err = json.Unmarshal(dataJSON, &entity.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity %s: %w", entity.ID, err)
		}

		entities = append(entities, &entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}
