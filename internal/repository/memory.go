package repository

import (
	"context"
	"sync"
	"time"

	"vehirec/internal/models"
)

type memoryEntry struct {
	list      models.RecommendationList
	expiresAt time.Time
}

type MemoryRecommendationCache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRecommendationCache(ttl time.Duration) *MemoryRecommendationCache {
	return &MemoryRecommendationCache{ttl: ttl, now: time.Now}
}

func (r *MemoryRecommendationCache) Get(ctx context.Context, key string) (*models.RecommendationList, error) {
	val, ok := r.entries.Load(key)
	if !ok {
		return nil, nil
	}
	entry := val.(memoryEntry)
	if r.ttl > 0 && r.now().After(entry.expiresAt) {
		r.entries.Delete(key)
		return nil, nil
	}
	list := entry.list
	list.Items = append([]models.Recommendation(nil), entry.list.Items...)
	return &list, nil
}

func (r *MemoryRecommendationCache) Set(ctx context.Context, key string, list *models.RecommendationList) error {
	stored := *list
	stored.Items = append([]models.Recommendation(nil), list.Items...)
	r.entries.Store(key, memoryEntry{list: stored, expiresAt: r.now().Add(r.ttl)})
	return nil
}

func (r *MemoryRecommendationCache) Invalidate(ctx context.Context) error {
	r.entries.Range(func(key, _ any) bool {
		r.entries.Delete(key)
		return true
	})
	return nil
}
