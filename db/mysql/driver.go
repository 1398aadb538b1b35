package mysql

import (
	"errors"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Dialector returns the MySQL dialector for dsn. The DSN must carry
// parseTime=true so timestamp columns scan into time.Time.
func Dialector(dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, errors.New("mysql: empty dsn")
	}
	return mysql.New(mysql.Config{
		DSN: dsn,
		// utf8mb4 index prefix limit
		DefaultStringSize: 191,
	}), nil
}
