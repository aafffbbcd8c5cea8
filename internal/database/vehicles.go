package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vehirec/internal/domain"
	"vehirec/internal/models"
)

func (db *DB) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	query := `INSERT INTO vehicles (name, type, features) VALUES (?, ?, ?)`
	result, err := db.ExecContext(ctx, query, v.Name, v.Type, v.Features)
	if err != nil {
		return fmt.Errorf("failed to create vehicle: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	v.ID = id
	db.cacheVehicle(*v)
	return nil
}

// UpsertVehicles inserts or updates vehicles by id in one transaction.
func (db *DB) UpsertVehicles(ctx context.Context, vehicles []models.Vehicle) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO vehicles (id, name, type, features) VALUES (?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type, features = excluded.features`
	for _, v := range vehicles {
		if v.ID == 0 {
			return fmt.Errorf("vehicle %q has invalid ID 0", v.Name)
		}
		if _, err := tx.ExecContext(ctx, query, v.ID, v.Name, v.Type, v.Features); err != nil {
			return fmt.Errorf("failed to upsert vehicle %d: %w", v.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vehicles: %w", err)
	}

	for _, v := range vehicles {
		db.cacheVehicle(v)
	}
	return nil
}

func (db *DB) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	db.mu.RLock()
	cached, ok := db.vehiclesCache[id]
	db.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	var v models.Vehicle
	query := `SELECT id, name, type, features FROM vehicles WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(&v.ID, &v.Name, &v.Type, &v.Features)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.UnknownIDError{Kind: domain.KindVehicle, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	db.cacheVehicle(v)
	return &v, nil
}

func (db *DB) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, type, features FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(&v.ID, &v.Name, &v.Type, &v.Features); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vehicles: %w", err)
	}

	db.mu.Lock()
	db.vehiclesCache = make(map[int64]models.Vehicle, len(vehicles))
	for _, v := range vehicles {
		db.vehiclesCache[v.ID] = v
	}
	db.mu.Unlock()

	return vehicles, nil
}

func (db *DB) cacheVehicle(v models.Vehicle) {
	db.mu.Lock()
	db.vehiclesCache[v.ID] = v
	db.mu.Unlock()
}
