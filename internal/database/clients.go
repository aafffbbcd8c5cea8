package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vehirec/internal/domain"
	"vehirec/internal/models"
)

func (db *DB) CreateClient(ctx context.Context, client *models.Client) error {
	query := `INSERT INTO clients (name, email) VALUES (?, ?)`
	result, err := db.ExecContext(ctx, query, client.Name, client.Email)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	client.ID = id
	return nil
}

func (db *DB) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	var c models.Client
	query := `SELECT id, name, email FROM clients WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.UnknownIDError{Kind: domain.KindClient, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

func (db *DB) ListClients(ctx context.Context) ([]models.Client, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, email FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		var c models.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}
	return clients, nil
}
