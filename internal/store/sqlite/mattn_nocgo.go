//go:build !cgo

package sqlite

// mattnUniqueViolation reports whether err is a mattn/go-sqlite3 error
// and, if so, whether it is a unique or primary key constraint failure.
// Without cgo, mattn/go-sqlite3 is a stub that never returns its Error
// type, so there is nothing to match.
func mattnUniqueViolation(err error) (isMattn, unique bool) {
	return false, false
}
