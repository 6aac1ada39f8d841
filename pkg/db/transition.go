package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Guard is an extra predicate appended to a transition's WHERE clause.
type Guard struct {
	Expr string
	Args []any
}

// Transition describes a single-row update that only applies while the row is
// still in one of the expected states.
type Transition struct {
	Table       string
	ID          uuid.UUID
	StateColumn string
	From        []string
	Set         map[string]any
	Guards      []Guard
}

// ErrNoExpectedState is returned when a transition is built without any pre-state.
var ErrNoExpectedState = errors.New("transition requires at least one expected state")

// CompareAndTransition applies t and reports whether exactly one row moved.
// Zero rows means the row is missing or already left the expected states; callers
// reload and decide whether that is a no-op or a conflict.
func CompareAndTransition(ctx context.Context, tx *gorm.DB, t Transition) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	if strings.TrimSpace(t.Table) == "" || strings.TrimSpace(t.StateColumn) == "" {
		return false, errors.New("transition table and state column are required")
	}
	if t.ID == uuid.Nil {
		return false, errors.New("transition id is required")
	}
	if len(t.From) == 0 {
		return false, ErrNoExpectedState
	}
	if len(t.Set) == 0 {
		return false, errors.New("transition has nothing to set")
	}

	query := tx.WithContext(ctx).
		Table(t.Table).
		Where("id = ?", t.ID).
		Where(fmt.Sprintf("%s IN ?", t.StateColumn), t.From)
	for _, guard := range t.Guards {
		query = query.Where(guard.Expr, guard.Args...)
	}

	res := query.Updates(t.Set)
	if res.Error != nil {
		return false, fmt.Errorf("transition %s.%s: %w", t.Table, t.StateColumn, res.Error)
	}
	if res.RowsAffected > 1 {
		return false, fmt.Errorf("transition %s %s touched %d rows", t.Table, t.ID, res.RowsAffected)
	}
	return res.RowsAffected == 1, nil
}

// Strings converts typed string states into the []string a Transition expects.
func Strings[S ~string](states ...S) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return out
}
