package db

import "strings"

const sqliteUniquePrefix = "UNIQUE constraint failed: "

// IsUniqueViolation reports whether the provided error is a unique
// constraint violation. When constraintName is provided, the helper matches
// the Postgres constraint name in the error message, falling back to the
// table and column names sqlite reports instead of the index name.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName == "" {
		return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, sqliteUniquePrefix)
	}
	if strings.Contains(msg, constraintName) {
		return true
	}
	idx := strings.Index(msg, sqliteUniquePrefix)
	if idx < 0 {
		return false
	}
	// sqlite lists the violated columns as table.column pairs.
	for _, pair := range strings.Split(msg[idx+len(sqliteUniquePrefix):], ",") {
		table, column, ok := strings.Cut(strings.TrimSpace(pair), ".")
		if !ok {
			continue
		}
		if column != "" && strings.Contains(constraintName, column) {
			return true
		}
		if table != "" && strings.Contains(constraintName, table) {
			return true
		}
	}
	return false
}
