package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("ragsync mysql: db is required")
	// ErrTableNameRequired is returned when a table name is empty.
	ErrTableNameRequired = errors.New("ragsync mysql: table name is required")
	// ErrInvalidTableName is returned when a table name has disallowed characters.
	ErrInvalidTableName = errors.New("ragsync mysql: invalid table name")
	// ErrNoStatuses is returned when a status-scoped operation gets an empty list.
	ErrNoStatuses = errors.New("ragsync mysql: at least one status is required")
)
