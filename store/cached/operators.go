// Package cached wraps stores with go-repository-cache read-through caching.
package cached

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-charter-sync/core"
)

const operatorCacheKeyPrefix = "charter-sync::operator::v1"

// OperatorStore serves operator lookups by external id from cache. Upserts
// always reach the base store and evict the cached profile.
type OperatorStore struct {
	base  core.OperatorStore
	cache repositorycache.CacheService
}

func NewOperatorStore(base core.OperatorStore, cacheService repositorycache.CacheService) (*OperatorStore, error) {
	if base == nil {
		return nil, fmt.Errorf("cached: base operator store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("cached: operator cache service is required")
	}
	return &OperatorStore{base: base, cache: cacheService}, nil
}

// NewCacheService builds an in-process cache service with the given TTL.
func NewCacheService(cfg core.CacheConfig) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if cfg.OperatorTTL > 0 {
		config.TTL = cfg.OperatorTTL
	}
	return repositorycache.NewCacheService(config)
}

// OperatorCacheKey is charter-sync::operator::v1::<external id>, path escaped.
func OperatorCacheKey(externalOperatorID string) (string, error) {
	externalOperatorID = strings.TrimSpace(externalOperatorID)
	if externalOperatorID == "" {
		return "", fmt.Errorf("cached: external operator id is required")
	}
	return operatorCacheKeyPrefix + "::" + url.PathEscape(externalOperatorID), nil
}

func (s *OperatorStore) GetByExternalID(ctx context.Context, externalOperatorID string) (core.OperatorProfile, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.OperatorProfile{}, fmt.Errorf("cached: operator store is not configured")
	}
	key, err := OperatorCacheKey(externalOperatorID)
	if err != nil {
		return core.OperatorProfile{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.OperatorProfile, error) {
		return s.base.GetByExternalID(ctx, strings.TrimSpace(externalOperatorID))
	})
}

// Upsert skips the write when the cached profile already carries the same
// details, which is the common case for repeated quote and chat events.
func (s *OperatorStore) Upsert(ctx context.Context, in core.UpsertOperatorInput) (core.OperatorProfile, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.OperatorProfile{}, fmt.Errorf("cached: operator store is not configured")
	}
	key, err := OperatorCacheKey(in.ExternalOperatorID)
	if err != nil {
		return core.OperatorProfile{}, core.BadInputError(err.Error(), nil)
	}
	if existing, getErr := s.GetByExternalID(ctx, in.ExternalOperatorID); getErr == nil && sameOperator(existing, in) {
		return existing, nil
	}
	profile, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.OperatorProfile{}, err
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return core.OperatorProfile{}, err
	}
	return profile, nil
}

func sameOperator(existing core.OperatorProfile, in core.UpsertOperatorInput) bool {
	name := strings.TrimSpace(in.CompanyName)
	email := strings.TrimSpace(in.ContactEmail)
	return (name == "" || name == existing.CompanyName) && (email == "" || email == existing.ContactEmail)
}

var _ core.OperatorStore = (*OperatorStore)(nil)
