package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/rentflow/pkg/models"
)

// EntityRepository keeps the latest snapshot of each entity under entities/<type>/<id>.json.
type EntityRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewEntityRepository(root string) *EntityRepository {
	return &EntityRepository{dir: filepath.Join(root, "entities")}
}

func (er *EntityRepository) Save(_ context.Context, entity *models.Entity) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = time.Now().UTC()
	}

	path := filepath.Join(er.dir, segment(entity.Type), segment(entity.ID)+".json")

	err := writeJSON(path, entity)
	if err != nil {
		return fmt.Errorf("failed to save entity %s/%s: %w", entity.Type, entity.ID, err)
	}

	return nil
}

func (er *EntityRepository) FindByDateRange(_ context.Context, entityType, field string, from, to time.Time) ([]*models.Entity, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	files, err := listJSON(filepath.Join(er.dir, segment(entityType)))
	if err != nil {
		return nil, err
	}

	lower, upper := models.FormatDate(from), models.FormatDate(to)
	found := make([]*models.Entity, 0)

	for _, file := range files {
		var entity models.Entity

		err := readJSON(file, &entity)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity %s: %w", file, err)
		}

		value, ok := models.Lookup(entity.Data, field)
		if !ok {
			continue
		}

		date, ok := models.ParseDate(value)
		if !ok {
			continue
		}

		day := models.FormatDate(date)
		if day >= lower && day <= upper {
			found = append(found, &entity)
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })

	return found, nil
}
