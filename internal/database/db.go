package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vehirec/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger

	mu            sync.RWMutex
	vehiclesCache map[int64]models.Vehicle
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// каждое соединение к :memory: видит свою базу
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newDB(sqlDB, path, logger)
}

// NewFromSQL wraps an already opened handle, used with sqlmock in tests.
func NewFromSQL(sqlDB *sql.DB, logger *zerolog.Logger) *DB {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &DB{DB: sqlDB, logger: logger, vehiclesCache: make(map[int64]models.Vehicle)}
}

func newDB(sqlDB *sql.DB, path string, logger *zerolog.Logger) (*DB, error) {
	db := NewFromSQL(sqlDB, logger)
	if err := db.createTables(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	db.logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS clients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS vehicles (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            type TEXT NOT NULL,
            features TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            client_id INTEGER NOT NULL REFERENCES clients(id),
            vehicle_id INTEGER NOT NULL REFERENCES vehicles(id),
            date DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_client_id ON bookings(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_vehicle_id ON bookings(vehicle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
