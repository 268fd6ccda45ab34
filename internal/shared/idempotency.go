package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/importdesk/importdesk/internal/platform/db"
)

// ErrIdempotencyConflict indicates a duplicate key racing an in-flight request.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyRepository remembers the outcome of keyed create requests.
type IdempotencyRepository interface {
	Lookup(ctx context.Context, key, module string) (string, bool, error)
	Save(ctx context.Context, key, module, result string) error
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	db db.DBTX
}

// NewIdempotencyStore constructs the store over a pool or an open transaction.
func NewIdempotencyStore(conn db.DBTX) *IdempotencyStore {
	return &IdempotencyStore{db: conn}
}

// Lookup returns the stored result for key within module.
func (s *IdempotencyStore) Lookup(ctx context.Context, key, module string) (string, bool, error) {
	if err := checkKey(s, key, module); err != nil {
		return "", false, err
	}
	var result string
	err := s.db.QueryRow(ctx, `SELECT result FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return result, true, nil
}

// Save records the result. A concurrent duplicate surfaces as a conflict.
func (s *IdempotencyStore) Save(ctx context.Context, key, module, result string) error {
	if err := checkKey(s, key, module); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, result, created_at) VALUES ($1, $2, $3, $4)`, key, module, result, time.Now())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Conflict(ErrIdempotencyConflict, "idempotency key %s already used", key)
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func checkKey(s *IdempotencyStore, key, module string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	return nil
}
