// Package store defines the durable persistence interfaces for jobs and API
// keys (SPEC_FULL §6 "Persisted state layout") and provides two
// implementations: an in-memory store (non-durable, used by tests and
// single-process deployments without a database) and a PostgreSQL-backed
// store grounded on aegis's internal/backup/store.go (PgStore).
package store

import (
	"context"

	"github.com/banton/medical-patients-sub003/pkg/models"
)

// JobStore persists generation jobs. Implementations must be safe for
// concurrent use.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// ListJobs returns jobs in insertion order. If tenantKeyID is non-empty,
	// results are restricted to that tenant.
	ListJobs(ctx context.Context, tenantKeyID string) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// KeyStore persists API keys.
type KeyStore interface {
	SaveKey(ctx context.Context, key *models.APIKey) error
	GetKeyByID(ctx context.Context, id string) (*models.APIKey, error)
	GetKeyByValue(ctx context.Context, key string) (*models.APIKey, error)
	ListKeys(ctx context.Context) ([]*models.APIKey, error)
	DeleteKey(ctx context.Context, id string) error
}

// Store bundles both persistence interfaces plus a reachability check for
// the health endpoint (SPEC_FULL §6 GET /api/v1/health).
type Store interface {
	JobStore
	KeyStore
	Ping(ctx context.Context) error
}
