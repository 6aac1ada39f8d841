package ledger

import (
	"errors"

	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"gorm.io/gorm"
)

// LoadError maps a failed lookup to NOT_FOUND or an internal error.
func LoadError(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load "+entity)
}

// WriteError wraps a failed write as an internal error.
func WriteError(err error, what string) error {
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, what)
}
