package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// PgStore implements Store using PostgreSQL via pgxpool, following aegis's
// PgStore: whitelisted column lists, ON CONFLICT upserts, and a shared
// scannable interface for row/rows scanning.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore constructs a PgStore. Callers must have already run the
// `jobs`/`api_keys` table migrations described in SPEC_FULL §6.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobCols = `id, tenant_key_id, status, progress, phase_description, priority,
	config_json, output_formats_json, output_files_json, use_encryption,
	partial, deleted, created_at, updated_at, completed_at, error_json, summary_json`

func (s *PgStore) SaveJob(ctx context.Context, job *models.Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return apierror.Generation("pgstore: marshal job config: %v", err)
	}
	formatsJSON, err := json.Marshal(job.OutputFormats)
	if err != nil {
		return apierror.Generation("pgstore: marshal output formats: %v", err)
	}
	filesJSON, err := json.Marshal(job.OutputFiles)
	if err != nil {
		return apierror.Generation("pgstore: marshal output files: %v", err)
	}
	errJSON, err := json.Marshal(job.Error)
	if err != nil {
		return apierror.Generation("pgstore: marshal job error: %v", err)
	}
	summaryJSON, err := json.Marshal(job.Summary)
	if err != nil {
		return apierror.Generation("pgstore: marshal job summary: %v", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			status=$3, progress=$4, phase_description=$5, priority=$6,
			config_json=$7, output_formats_json=$8, output_files_json=$9,
			use_encryption=$10, partial=$11, deleted=$12, updated_at=$14,
			completed_at=$15, error_json=$16, summary_json=$17`,
		job.ID, job.TenantKeyID, string(job.Status), job.Progress, job.PhaseDescription, string(job.Priority),
		configJSON, formatsJSON, filesJSON, job.UseEncryption,
		job.Partial, job.Deleted, job.CreatedAt, job.UpdatedAt, job.CompletedAt, errJSON, summaryJSON)
	if err != nil {
		return apierror.Storage("pgstore: save job: %v", err)
	}
	return nil
}

func (s *PgStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = $1 AND NOT deleted`, id)
	return scanJob(row)
}

func (s *PgStore) ListJobs(ctx context.Context, tenantKeyID string) ([]*models.Job, error) {
	var rows pgx.Rows
	var err error
	if tenantKeyID != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+jobCols+` FROM jobs WHERE tenant_key_id = $1 AND NOT deleted ORDER BY created_at ASC`, tenantKeyID)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+jobCols+` FROM jobs WHERE NOT deleted ORDER BY created_at ASC`)
	}
	if err != nil {
		return nil, apierror.Storage("pgstore: list jobs: %v", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.Storage("pgstore: list jobs: %v", err)
	}
	return jobs, nil
}

func (s *PgStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET deleted = true WHERE id = $1`, id)
	if err != nil {
		return apierror.Storage("pgstore: delete job: %v", err)
	}
	return nil
}

func scanJob(row scannable) (*models.Job, error) {
	var job models.Job
	var status, priority string
	var configJSON, formatsJSON, filesJSON, errJSON, summaryJSON []byte

	err := row.Scan(
		&job.ID, &job.TenantKeyID, &status, &job.Progress, &job.PhaseDescription, &priority,
		&configJSON, &formatsJSON, &filesJSON, &job.UseEncryption,
		&job.Partial, &job.Deleted, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt, &errJSON, &summaryJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apierror.NotFound("job not found")
		}
		return nil, apierror.Storage("pgstore: scan job: %v", err)
	}

	job.Status = models.JobStatus(status)
	job.Priority = models.Priority(priority)
	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return nil, apierror.Storage("pgstore: decode job config: %v", err)
	}
	if err := json.Unmarshal(formatsJSON, &job.OutputFormats); err != nil {
		return nil, apierror.Storage("pgstore: decode output formats: %v", err)
	}
	if err := json.Unmarshal(filesJSON, &job.OutputFiles); err != nil {
		return nil, apierror.Storage("pgstore: decode output files: %v", err)
	}
	if len(errJSON) > 0 && string(errJSON) != "null" {
		if err := json.Unmarshal(errJSON, &job.Error); err != nil {
			return nil, apierror.Storage("pgstore: decode job error: %v", err)
		}
	}
	if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
		if err := json.Unmarshal(summaryJSON, &job.Summary); err != nil {
			return nil, apierror.Storage("pgstore: decode job summary: %v", err)
		}
	}
	return &job, nil
}

const keyCols = `id, key, name, email, is_active, is_demo, limits_json, counters_json,
	expires_at, metadata_json, created_at, updated_at`

func (s *PgStore) SaveKey(ctx context.Context, key *models.APIKey) error {
	limitsJSON, err := json.Marshal(key.Limits)
	if err != nil {
		return apierror.Generation("pgstore: marshal key limits: %v", err)
	}
	countersJSON, err := json.Marshal(key.Counters)
	if err != nil {
		return apierror.Generation("pgstore: marshal key counters: %v", err)
	}
	metadataJSON, err := json.Marshal(key.Metadata)
	if err != nil {
		return apierror.Generation("pgstore: marshal key metadata: %v", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO api_keys (`+keyCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			name=$3, email=$4, is_active=$5, is_demo=$6, limits_json=$7,
			counters_json=$8, expires_at=$9, metadata_json=$10, updated_at=$12`,
		key.ID, key.Key, key.Name, key.Email, key.IsActive, key.IsDemo, limitsJSON, countersJSON,
		key.ExpiresAt, metadataJSON, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		return apierror.Storage("pgstore: save key: %v", err)
	}
	return nil
}

func (s *PgStore) GetKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+keyCols+` FROM api_keys WHERE id = $1`, id)
	return scanKey(row)
}

func (s *PgStore) GetKeyByValue(ctx context.Context, value string) (*models.APIKey, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+keyCols+` FROM api_keys WHERE key = $1`, value)
	return scanKey(row)
}

func (s *PgStore) ListKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+keyCols+` FROM api_keys ORDER BY created_at ASC`)
	if err != nil {
		return nil, apierror.Storage("pgstore: list keys: %v", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		k, scanErr := scanKey(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.Storage("pgstore: list keys: %v", err)
	}
	return keys, nil
}

func (s *PgStore) DeleteKey(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return apierror.Storage("pgstore: delete key: %v", err)
	}
	return nil
}

func scanKey(row scannable) (*models.APIKey, error) {
	var key models.APIKey
	var limitsJSON, countersJSON, metadataJSON []byte

	err := row.Scan(
		&key.ID, &key.Key, &key.Name, &key.Email, &key.IsActive, &key.IsDemo, &limitsJSON, &countersJSON,
		&key.ExpiresAt, &metadataJSON, &key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apierror.NotFound("api key not found")
		}
		return nil, apierror.Storage("pgstore: scan key: %v", err)
	}

	if err := json.Unmarshal(limitsJSON, &key.Limits); err != nil {
		return nil, apierror.Storage("pgstore: decode key limits: %v", err)
	}
	if err := json.Unmarshal(countersJSON, &key.Counters); err != nil {
		return nil, apierror.Storage("pgstore: decode key counters: %v", err)
	}
	if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
		if err := json.Unmarshal(metadataJSON, &key.Metadata); err != nil {
			return nil, apierror.Storage("pgstore: decode key metadata: %v", err)
		}
	}
	return &key, nil
}
