// Package apikeys implements API key authentication, authorization, and
// rate limiting (SPEC_FULL §4.9), following the admission order cerebra's
// internal/middleware/middleware.go AuthMiddleware and RateLimitMiddleware
// apply in sequence (look up key → enforce per-key request limits), but
// recast as a plain Go service the HTTP layer calls rather than gin
// handlers directly, so the admission rules are unit-testable without a
// router.
package apikeys

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/internal/cache"
	"github.com/banton/medical-patients-sub003/internal/store"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

// keyCacheTTL bounds how stale a cached key lookup may be (SPEC_FULL §4.9:
// "an in-process cache may accelerate reads but must reconcile on write").
const keyCacheTTL = 60 * time.Second

const (
	demoMaxPatientsPerRequest = 500
	demoMaxRequestsPerMinute  = 10
	demoMaxRequestsPerHour    = 100
	demoMaxRequestsPerDay     = 200
)

// Authenticator resolves a raw key header value to an APIKey record and
// enforces admission rules 1-5 of SPEC_FULL §4.9.
type Authenticator struct {
	store        store.KeyStore
	limiter      RateLimiter
	cache        cache.Cache
	legacyKey    string
	legacyRecord *models.APIKey
}

// New constructs an Authenticator. legacyKey, if non-empty, is accepted as
// an equivalent to an unlimited, active, non-demo key (SPEC_FULL §6
// LEGACY_API_KEY) without a corresponding store row.
func New(st store.KeyStore, limiter RateLimiter, legacyKey string) *Authenticator {
	return &Authenticator{
		store:     st,
		limiter:   limiter,
		cache:     cache.NoOp{},
		legacyKey: legacyKey,
		legacyRecord: &models.APIKey{
			ID:       "legacy",
			Key:      legacyKey,
			Name:     "legacy",
			IsActive: true,
			Limits:   KeyLimits(false),
		},
	}
}

// SetCache wires a reference-data cache into the Authenticator to
// accelerate key lookups. Passing nil or cache.NoOp{} (the default) simply
// disables acceleration; Resolve falls back to the store on every call.
func (a *Authenticator) SetCache(c cache.Cache) {
	if c == nil {
		c = cache.NoOp{}
	}
	a.cache = c
}

// KeyLimits returns the default limits for a provisioned key: restricted
// demo limits when isDemo is true, effectively unlimited otherwise (zero
// means "no cap" per models.KeyLimits' omitempty convention).
func KeyLimits(isDemo bool) models.KeyLimits {
	if !isDemo {
		return models.KeyLimits{MaxRequestsPerMinute: 120, MaxRequestsPerHour: 2000}
	}
	return models.KeyLimits{
		MaxPatientsPerRequest: demoMaxPatientsPerRequest,
		MaxRequestsPerDay:     demoMaxRequestsPerDay,
		MaxRequestsPerMinute:  demoMaxRequestsPerMinute,
		MaxRequestsPerHour:    demoMaxRequestsPerHour,
	}
}

// ExtractKey pulls the raw key value from either the X-API-Key header or an
// "Authorization: Bearer <key>" header, matching SPEC_FULL §6.
func ExtractKey(apiKeyHeader, authorizationHeader string) string {
	if apiKeyHeader != "" {
		return apiKeyHeader
	}
	return strings.TrimPrefix(authorizationHeader, "Bearer ")
}

// Resolve implements admission rule 1: look up the key, or accept the
// configured legacy singleton, or reject with UNAUTHORIZED.
func (a *Authenticator) Resolve(ctx context.Context, rawKey string) (*models.APIKey, error) {
	if rawKey == "" {
		return nil, apierror.New(apierror.CodeUnauthorized, "missing API key")
	}
	if a.legacyKey != "" && rawKey == a.legacyKey {
		return a.legacyRecord, nil
	}

	key, err := a.resolveFromCacheOrStore(ctx, rawKey)
	if err != nil {
		return nil, apierror.New(apierror.CodeUnauthorized, "invalid API key")
	}
	if !key.IsActive {
		return nil, apierror.New(apierror.CodeUnauthorized, "API key is inactive")
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(time.Now().UTC()) {
		return nil, apierror.New(apierror.CodeUnauthorized, "API key has expired")
	}
	return key, nil
}

func keyCacheKey(rawKey string) string {
	return "apikey:" + rawKey
}

// resolveFromCacheOrStore checks the cache before falling back to the
// store, populating the cache on a store hit. A cache miss or decode
// failure is never treated as an authentication failure: it just means the
// lookup falls through to the store, per the cache's never-fail contract.
func (a *Authenticator) resolveFromCacheOrStore(ctx context.Context, rawKey string) (*models.APIKey, error) {
	if cached, ok := a.cache.Get(ctx, keyCacheKey(rawKey)); ok {
		var key models.APIKey
		if err := json.Unmarshal([]byte(cached), &key); err == nil {
			return &key, nil
		}
	}

	key, err := a.store.GetKeyByValue(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	if encoded, encErr := json.Marshal(key); encErr == nil {
		a.cache.Set(ctx, keyCacheKey(rawKey), string(encoded), keyCacheTTL)
	}
	return key, nil
}

// Admit implements admission rules 2-4: demo constraints, sliding-window
// rate limits, and the daily/per-request quota. It does not mutate
// counters; call RecordUsage after the request is admitted.
func (a *Authenticator) Admit(ctx context.Context, key *models.APIKey, requestedPatients int) *apierror.Error {
	if key.IsDemo && requestedPatients > demoMaxPatientsPerRequest {
		return apierror.Newf(apierror.CodeQuotaExceeded, "demo keys are limited to %d patients per request", demoMaxPatientsPerRequest)
	}
	if limit := key.Limits.MaxPatientsPerRequest; limit > 0 && requestedPatients > limit {
		return apierror.Newf(apierror.CodeQuotaExceeded, "this key is limited to %d patients per request", limit)
	}

	if limit := key.Limits.MaxRequestsPerMinute; limit > 0 {
		allowed, retryAfter, err := a.limiter.Allow(ctx, key.ID+":minute", time.Minute, limit)
		if err == nil && !allowed {
			return rateLimited(retryAfter)
		}
	}
	if limit := key.Limits.MaxRequestsPerHour; limit > 0 {
		allowed, retryAfter, err := a.limiter.Allow(ctx, key.ID+":hour", time.Hour, limit)
		if err == nil && !allowed {
			return rateLimited(retryAfter)
		}
	}

	if limit := key.Limits.MaxRequestsPerDay; limit > 0 {
		resetDailyCounterIfDue(key)
		if key.Counters.DailyRequests >= int64(limit) {
			retryAfter := time.Until(key.Counters.DailyResetAt)
			return apierror.Newf(apierror.CodeQuotaExceeded, "daily request quota of %d exceeded, resets in %s", limit, retryAfter.Round(time.Second))
		}
	}

	return nil
}

func rateLimited(retryAfter time.Duration) *apierror.Error {
	return apierror.Newf(apierror.CodeRateLimited, "rate limit exceeded").WithDetails(fmt.Sprintf("retry_after_seconds=%d", int(retryAfter.Seconds())))
}

// resetDailyCounterIfDue advances DailyResetAt by 24h (UTC midnight-aligned
// on first initialization) and zeroes DailyRequests when the reset time has
// passed, per SPEC_FULL §4.9 rule 4.
func resetDailyCounterIfDue(key *models.APIKey) {
	now := time.Now().UTC()
	if key.Counters.DailyResetAt.IsZero() {
		key.Counters.DailyResetAt = nextUTCMidnight(now)
		return
	}
	for !now.Before(key.Counters.DailyResetAt) {
		key.Counters.DailyRequests = 0
		key.Counters.DailyResetAt = key.Counters.DailyResetAt.Add(24 * time.Hour)
	}
}

func nextUTCMidnight(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next
}

// RecordUsage implements admission rule 5: atomically increment the
// durable counters. patientsGenerated is 0 for rejected/in-flight requests
// and the produced count once a job completes successfully. The legacy
// singleton has no store row and its usage is not persisted.
func (a *Authenticator) RecordUsage(ctx context.Context, key *models.APIKey, patientsGenerated int) error {
	if key.ID == a.legacyRecord.ID {
		return nil
	}
	resetDailyCounterIfDue(key)
	key.Counters.TotalRequests++
	key.Counters.DailyRequests++
	key.Counters.TotalPatientsGenerated += int64(patientsGenerated)
	key.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveKey(ctx, key); err != nil {
		return err
	}
	// Reconcile the cache on write: drop the now-stale entry rather than
	// update it in place, so the next Resolve re-fetches the authoritative
	// counters from the store.
	a.cache.Delete(ctx, keyCacheKey(key.Key))
	return nil
}

// EnsureDemoKey provisions the well-known demo key record at startup if it
// does not already exist, the way cerebra's router builds its default
// model registry once at construction rather than lazily on first request.
func EnsureDemoKey(ctx context.Context, st store.KeyStore, demoKeyValue string) error {
	if demoKeyValue == "" {
		return nil
	}
	if _, err := st.GetKeyByValue(ctx, demoKeyValue); err == nil {
		return nil
	}
	now := time.Now().UTC()
	demo := &models.APIKey{
		ID:        "demo",
		Key:       demoKeyValue,
		Name:      "Demo Key",
		IsActive:  true,
		IsDemo:    true,
		Limits:    KeyLimits(true),
		Counters:  models.KeyCounters{DailyResetAt: nextUTCMidnight(now)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return st.SaveKey(ctx, demo)
}
