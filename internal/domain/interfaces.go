package domain

import (
	"context"

	"vehirec/internal/models"
)

// DatasetSource reads the relations the recommender is fitted on.
type DatasetSource interface {
	LoadDataset(ctx context.Context) (*models.Dataset, error)
}

type Repository interface {
	DatasetSource
	GetClient(ctx context.Context, id int64) (*models.Client, error)
	GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error)
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	GetClientBookings(ctx context.Context, clientID int64) ([]models.Booking, error)
}

// RecommendationCache stores computed lists. Get returns nil, nil on a miss.
type RecommendationCache interface {
	Get(ctx context.Context, key string) (*models.RecommendationList, error)
	Set(ctx context.Context, key string, list *models.RecommendationList) error
	Invalidate(ctx context.Context) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
