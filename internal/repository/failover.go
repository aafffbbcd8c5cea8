package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"vehirec/internal/domain"
	"vehirec/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverRecommendationCache serves from primary until it fails, then from fallback,
// retrying the primary once per recoveryInterval.
type FailoverRecommendationCache struct {
	primary  domain.RecommendationCache
	fallback domain.RecommendationCache
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverRecommendationCache(primary, fallback domain.RecommendationCache, logger *zerolog.Logger) *FailoverRecommendationCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverRecommendationCache{primary: primary, fallback: fallback, logger: logger}
}

func (r *FailoverRecommendationCache) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary recommendation cache failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverRecommendationCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverRecommendationCache) Get(ctx context.Context, key string) (*models.RecommendationList, error) {
	if r.usePrimary() {
		list, err := r.primary.Get(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return list, nil
		}
		r.markDown(err)
	}
	return r.fallback.Get(ctx, key)
}

func (r *FailoverRecommendationCache) Set(ctx context.Context, key string, list *models.RecommendationList) error {
	if r.usePrimary() {
		err := r.primary.Set(ctx, key, list)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Set(ctx, key, list)
}

// Invalidate clears both layers so a recovered primary cannot serve stale lists.
func (r *FailoverRecommendationCache) Invalidate(ctx context.Context) error {
	if err := r.fallback.Invalidate(ctx); err != nil {
		return err
	}
	if err := r.primary.Invalidate(ctx); err != nil {
		r.markDown(err)
	}
	return nil
}
