package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const uniqueViolationCode = "23505"

// sqlite names the violated columns instead of the constraint.
const sqliteUniquePrefix = "UNIQUE constraint failed: "

// Unique names a unique constraint. Columns are table-qualified
// ("job_offers.job_id") and match drivers that only report the columns.
type Unique struct {
	Name    string
	Columns []string
}

// IsUniqueViolation reports whether err is a unique constraint violation. When
// c is set the violated constraint must be c.
func IsUniqueViolation(err error, c Unique) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode && matchesConstraint(pgErr.ConstraintName, c.Name)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolationCode && matchesConstraint(pqErr.Constraint, c.Name)
	}

	// sqlite and wrapped driver errors only expose text.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key value"):
		return c.Name == "" || strings.Contains(msg, `"`+c.Name+`"`)
	case strings.Contains(msg, sqliteUniquePrefix):
		if c.Name == "" {
			return true
		}
		_, columns, _ := strings.Cut(msg, sqliteUniquePrefix)
		return len(c.Columns) > 0 && strings.TrimSpace(columns) == strings.Join(c.Columns, ", ")
	}
	return false
}

func matchesConstraint(actual, want string) bool {
	return want == "" || actual == want
}
