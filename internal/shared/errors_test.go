package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSample = errors.New("sample: over return")

func TestErrorKindMatching(t *testing.T) {
	err := fmt.Errorf("create return: %w", Validation(errSample, "line %d", 3))

	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, errSample)
	require.NotErrorIs(t, err, ErrConflict)
	require.Equal(t, KindValidation, KindOf(err))
	require.Contains(t, err.Error(), "line 3")
}

func TestPersistencePassesClassifiedErrors(t *testing.T) {
	notFound := NotFound(errSample, "invoice %s", "INV-1")
	require.Same(t, notFound, Persistence(notFound))

	raw := errors.New("connection reset")
	wrapped := Persistence(raw)
	require.ErrorIs(t, wrapped, ErrPersistence)
	require.ErrorIs(t, wrapped, raw)
	require.Equal(t, KindPersistence, KindOf(raw))
	require.NoError(t, Persistence(nil))
}
