package database

import (
	"context"
	"fmt"
	"time"

	"vehirec/internal/models"
)

// DemoDataset is the catalog shipped with the seed command:
// 8 vehicles, 5 clients and 9 bookings. Client 5 never booked anything.
func DemoDataset() models.Dataset {
	date := func(month time.Month, d int) time.Time {
		return time.Date(2024, month, d, 12, 0, 0, 0, time.UTC)
	}
	return models.Dataset{
		Clients: []models.Client{
			{ID: 1, Name: "Anna Petrova", Email: "anna@example.com"},
			{ID: 2, Name: "Boris Ivanov", Email: "boris@example.com"},
			{ID: 3, Name: "Carla Mendes", Email: "carla@example.com"},
			{ID: 4, Name: "David Kim", Email: "david@example.com"},
			{ID: 5, Name: "Elena Sokolova", Email: "elena@example.com"},
		},
		Vehicles: []models.Vehicle{
			{ID: 1, Name: "Toyota Corolla", Type: "sedan", Features: "ac,gps,bluetooth"},
			{ID: 2, Name: "Ford Ranger", Type: "pickup", Features: "4x4,towbar,ac"},
			{ID: 3, Name: "Honda Civic", Type: "sedan", Features: "ac,bluetooth,eco"},
			{ID: 4, Name: "Jeep Wrangler", Type: "suv", Features: "4x4,convertible,gps"},
			{ID: 5, Name: "Tesla Model 3", Type: "sedan", Features: "electric,autopilot,gps"},
			{ID: 6, Name: "Mercedes Sprinter", Type: "van", Features: "cargo,ac"},
			{ID: 7, Name: "Mazda CX-5", Type: "suv", Features: "ac,gps,bluetooth"},
			{ID: 8, Name: "VW Transporter", Type: "van", Features: "cargo,7 seats,bluetooth"},
		},
		Bookings: []models.Booking{
			{ID: 1, ClientID: 1, VehicleID: 1, Date: date(time.January, 10)},
			{ID: 2, ClientID: 1, VehicleID: 3, Date: date(time.February, 3)},
			{ID: 3, ClientID: 1, VehicleID: 7, Date: date(time.March, 15)},
			{ID: 4, ClientID: 2, VehicleID: 2, Date: date(time.January, 22)},
			{ID: 5, ClientID: 2, VehicleID: 4, Date: date(time.April, 1)},
			{ID: 6, ClientID: 3, VehicleID: 1, Date: date(time.February, 14)},
			{ID: 7, ClientID: 3, VehicleID: 5, Date: date(time.May, 9)},
			{ID: 8, ClientID: 4, VehicleID: 6, Date: date(time.March, 2)},
			{ID: 9, ClientID: 4, VehicleID: 8, Date: date(time.June, 18)},
		},
	}
}

// Seed writes a dataset with explicit ids. Rows that already exist are left untouched.
func (db *DB) Seed(ctx context.Context, ds models.Dataset) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, c := range ds.Clients {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO clients (id, name, email) VALUES (?, ?, ?)`,
			c.ID, c.Name, c.Email); err != nil {
			return fmt.Errorf("failed to seed client %d: %w", c.ID, err)
		}
	}
	for _, v := range ds.Vehicles {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO vehicles (id, name, type, features) VALUES (?, ?, ?, ?)`,
			v.ID, v.Name, v.Type, v.Features); err != nil {
			return fmt.Errorf("failed to seed vehicle %d: %w", v.ID, err)
		}
	}
	for _, b := range ds.Bookings {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO bookings (id, client_id, vehicle_id, date) VALUES (?, ?, ?, ?)`,
			b.ID, b.ClientID, b.VehicleID, b.Date); err != nil {
			return fmt.Errorf("failed to seed booking %d: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}

	db.logger.Info().
		Int("clients", len(ds.Clients)).
		Int("vehicles", len(ds.Vehicles)).
		Int("bookings", len(ds.Bookings)).
		Msg("Dataset seeded")
	return nil
}
