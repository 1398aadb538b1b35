package postgres

import (
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialector returns the PostgreSQL (pgx) dialector for dsn.
func Dialector(dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	return postgres.Open(dsn), nil
}
