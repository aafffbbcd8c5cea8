package database

import (
	"context"

	"vehirec/internal/domain"
	"vehirec/internal/models"
)

// LoadDataset reads all three relations. Any empty relation is an EmptyDatasetError.
func (db *DB) LoadDataset(ctx context.Context) (*models.Dataset, error) {
	clients, err := db.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, &domain.EmptyDatasetError{Relation: "clients"}
	}

	vehicles, err := db.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	if len(vehicles) == 0 {
		return nil, &domain.EmptyDatasetError{Relation: "vehicles"}
	}

	bookings, err := db.ListBookings(ctx)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, &domain.EmptyDatasetError{Relation: "bookings"}
	}

	db.logger.Debug().
		Int("clients", len(clients)).
		Int("vehicles", len(vehicles)).
		Int("bookings", len(bookings)).
		Msg("Dataset loaded")

	return &models.Dataset{Clients: clients, Vehicles: vehicles, Bookings: bookings}, nil
}
