package store

import (
	"context"
	"sort"
	"sync"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

// MemoryStore is a non-durable, in-process Store for tests and
// single-process deployments without a configured DATABASE_URL. It follows
// the same map-plus-RWMutex shape as aegis's BackupManager in-memory job
// table, generalized to hold both jobs and keys.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	keys map[string]*models.APIKey // keyed by ID
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
		keys: make(map[string]*models.APIKey),
	}
}

func (m *MemoryStore) SaveJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apierror.NotFound("job %q not found", id)
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryStore) ListJobs(ctx context.Context, tenantKeyID string) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if tenantKeyID != "" && j.TenantKeyID != tenantKeyID {
			continue
		}
		cp := *j
		jobs = append(jobs, &cp)
	}
	sortJobsByCreatedAt(jobs)
	return jobs, nil
}

func (m *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return apierror.NotFound("job %q not found", id)
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) SaveKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.keys[key.ID] = &cp
	return nil
}

func (m *MemoryStore) GetKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, apierror.NotFound("api key %q not found", id)
	}
	cp := *k
	return &cp, nil
}

func (m *MemoryStore) GetKeyByValue(ctx context.Context, value string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if k.Key == value {
			cp := *k
			return &cp, nil
		}
	}
	return nil, apierror.NotFound("api key not found")
}

func (m *MemoryStore) ListKeys(ctx context.Context) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]*models.APIKey, 0, len(m.keys))
	for _, k := range m.keys {
		cp := *k
		keys = append(keys, &cp)
	}
	sortKeysByCreatedAt(keys)
	return keys, nil
}

func (m *MemoryStore) DeleteKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[id]; !ok {
		return apierror.NotFound("api key %q not found", id)
	}
	delete(m.keys, id)
	return nil
}

// Ping always succeeds: the in-memory store has no external dependency to
// check.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func sortJobsByCreatedAt(jobs []*models.Job) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
}

func sortKeysByCreatedAt(keys []*models.APIKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
}
