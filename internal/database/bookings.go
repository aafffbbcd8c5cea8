package database

import (
	"context"
	"fmt"

	"vehirec/internal/models"
)

func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `INSERT INTO bookings (client_id, vehicle_id, date) VALUES (?, ?, ?)`
	result, err := db.ExecContext(ctx, query, b.ClientID, b.VehicleID, b.Date)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	b.ID = id
	return nil
}

func (db *DB) ListBookings(ctx context.Context) ([]models.Booking, error) {
	query := `SELECT id, client_id, vehicle_id, date FROM bookings ORDER BY id`
	return db.queryBookings(ctx, query)
}

// GetClientBookings returns a client's bookings, most recent first.
func (db *DB) GetClientBookings(ctx context.Context, clientID int64) ([]models.Booking, error) {
	query := `SELECT id, client_id, vehicle_id, date FROM bookings WHERE client_id = ? ORDER BY date DESC, id DESC`
	return db.queryBookings(ctx, query, clientID)
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := rows.Scan(&b.ID, &b.ClientID, &b.VehicleID, &b.Date); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}
