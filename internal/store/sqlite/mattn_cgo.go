//go:build cgo

package sqlite

import (
	"errors"

	mattn "github.com/mattn/go-sqlite3"
)

// mattnUniqueViolation reports whether err is a mattn/go-sqlite3 error
// and, if so, whether it is a unique or primary key constraint failure.
func mattnUniqueViolation(err error) (isMattn, unique bool) {
	var me mattn.Error
	if errors.As(err, &me) {
		return true, me.ExtendedCode == mattn.ErrConstraintUnique ||
			me.ExtendedCode == mattn.ErrConstraintPrimaryKey
	}
	return false, false
}
