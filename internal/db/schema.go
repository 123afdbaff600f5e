package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"
)

// Postgres truncates identifiers past NAMEDATALEN-1 bytes.
const maxIdentLen = 63

var ErrSchemaName = errors.New("db: schema name must be 1-63 bytes")

// EnsureSchema creates the archive schema if it does not exist.
func EnsureSchema(d *gorm.DB, schema string) error {
	q, err := quoteSchema(schema)
	if err != nil {
		return err
	}
	return d.Exec("CREATE SCHEMA IF NOT EXISTS " + q).Error
}

func quoteSchema(schema string) (string, error) {
	if schema == "" || len(schema) > maxIdentLen {
		return "", ErrSchemaName
	}
	return pgx.Identifier{schema}.Sanitize(), nil
}
