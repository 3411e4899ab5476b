package db

import (
	"errors"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to Postgres using DATABASE_URL.
func Open() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

// Migrate runs GORM auto-migrations for the core tables. Production deploys
// use the SQL migrations under db/migrations; this covers test databases.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("db connection is nil")
	}
	return conn.AutoMigrate(
		&User{},
		&Room{},
		&Membership{},
		&Competition{},
		&Round{},
		&Press{},
		&CategoryGame{},
		&Challenge{},
		&Trophy{},
		&UserTrophy{},
		&Event{},
	)
}
