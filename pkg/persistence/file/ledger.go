package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dukex/rentflow/pkg/models"
)

// LedgerRepository stores one marker file per firing key.
// Markers are created with O_EXCL so two processes sharing the directory cannot both fire.
type LedgerRepository struct {
	dir    string
	encode func(w io.Writer, entry models.FiringEntry) error
}

func NewLedgerRepository(root string) *LedgerRepository {
	return &LedgerRepository{dir: filepath.Join(root, "ledger"), encode: encodeEntry}
}

func encodeEntry(w io.Writer, entry models.FiringEntry) error {
	return json.NewEncoder(w).Encode(entry)
}

// TryFire creates the marker for key. A marker that could not be fully written is removed
// again, so a failed call never claims the firing and a later tick can retry it.
func (lr *LedgerRepository) TryFire(_ context.Context, key models.FiringKey, firedAt time.Time) (bool, error) {
	path := lr.path(key)

	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return false, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	marker, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to record firing %s: %w", key, err)
	}

	err = errors.Join(
		lr.encode(marker, models.FiringEntry{Key: key, FiredAt: firedAt.UTC()}),
		marker.Close(),
	)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			err = errors.Join(err, rmErr)
		}

		return false, fmt.Errorf("failed to write firing %s: %w", key, err)
	}

	return true, nil
}

func (lr *LedgerRepository) Has(_ context.Context, key models.FiringKey) (bool, error) {
	_, err := os.Stat(lr.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to check firing %s: %w", key, err)
	}

	return true, nil
}

func (lr *LedgerRepository) path(key models.FiringKey) string {
	return filepath.Join(lr.dir, segment(key.WorkflowID), segment(key.EntityID), segment(key.WindowKey)+".json")
}
