package service

import (
	"context"

	"vehirec/internal/domain"
	"vehirec/internal/models"

	"github.com/rs/zerolog"
)

// CatalogService exposes read access to vehicles and client booking history.
type CatalogService struct {
	repo   domain.Repository
	logger *zerolog.Logger
}

func NewCatalogService(repo domain.Repository, logger *zerolog.Logger) *CatalogService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CatalogService{repo: repo, logger: logger}
}

func (s *CatalogService) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	vehicles, err := s.repo.ListVehicles(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list vehicles")
		return nil, err
	}
	return vehicles, nil
}

func (s *CatalogService) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	return s.repo.GetVehicle(ctx, id)
}

// ClientBookings returns the client's bookings, most recent first.
func (s *CatalogService) ClientBookings(ctx context.Context, clientID int64) ([]models.Booking, error) {
	if _, err := s.repo.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	bookings, err := s.repo.GetClientBookings(ctx, clientID)
	if err != nil {
		s.logger.Error().Err(err).Int64("client_id", clientID).Msg("failed to get client bookings")
		return nil, err
	}
	return bookings, nil
}
