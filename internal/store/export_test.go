package store

import "database/sql"

// DB exposes the internal *sql.DB for tests.
func (s *SQLite) DB() *sql.DB {
	return s.db
}
