// Package cache provides short-TTL caches fronting the durable store for
// data that is read far more often than it changes: per-user custom_data
// (1h) and device push tokens (12h).
package cache

import (
	"context"
	"time"

	"github.com/ashureev/chatfabric/internal/domain"
	"github.com/ashureev/chatfabric/internal/store"
	"github.com/jellydator/ttlcache/v3"
)

const (
	customDataTTL  = 1 * time.Hour
	deviceTokenTTL = 12 * time.Hour
)

// Service wraps the two caches used by the offline queue flush and the
// GET_HISTORY/GET_LAST_MESSAGES_READ annotation path.
type Service struct {
	repo        store.Repository
	customData  *ttlcache.Cache[string, domain.CustomData]
	deviceToken *ttlcache.Cache[string, []domain.DeviceToken]
}

// NewService constructs the cache layer over repo.
func NewService(repo store.Repository) *Service {
	s := &Service{
		repo:        repo,
		customData:  ttlcache.New(ttlcache.WithTTL[string, domain.CustomData](customDataTTL)),
		deviceToken: ttlcache.New(ttlcache.WithTTL[string, []domain.DeviceToken](deviceTokenTTL)),
	}
	go s.customData.Start()
	go s.deviceToken.Start()
	return s
}

// Stop releases the caches' background eviction goroutines.
func (s *Service) Stop() {
	s.customData.Stop()
	s.deviceToken.Stop()
}

// CustomData returns appUserID's cached custom_data, fetching and caching
// it on a miss.
func (s *Service) CustomData(ctx context.Context, appUserID string) (domain.CustomData, error) {
	if item := s.customData.Get(appUserID); item != nil {
		return item.Value(), nil
	}
	data, err := s.repo.FetchCustomData(ctx, appUserID)
	if err != nil {
		return nil, err
	}
	s.customData.Set(appUserID, data, ttlcache.DefaultTTL)
	return data, nil
}

// DeviceTokens returns appUserID's cached push tokens, fetching and
// caching them on a miss.
func (s *Service) DeviceTokens(ctx context.Context, appUserID string) ([]domain.DeviceToken, error) {
	if item := s.deviceToken.Get(appUserID); item != nil {
		return item.Value(), nil
	}
	tokens, err := s.repo.FetchDeviceTokens(ctx, appUserID)
	if err != nil {
		return nil, err
	}
	s.deviceToken.Set(appUserID, tokens, ttlcache.DefaultTTL)
	return tokens, nil
}
