// Package jobs implements the job controller (SPEC_FULL §4.7): the
// pending→running→completed/failed/cancelled state machine, progress
// reporting, output rendering, crash recovery, and retention enforcement.
// It owns the durable store and the in-process queue/worker pool the same
// way aegis's BackupManager owns its job/record maps and the storage
// backend, generalized from "schedule and execute backups" to "schedule and
// execute casualty-generation runs".
package jobs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/internal/eventgen"
	"github.com/banton/medical-patients-sub003/internal/jobqueue"
	"github.com/banton/medical-patients-sub003/internal/output"
	"github.com/banton/medical-patients-sub003/internal/simulator"
	"github.com/banton/medical-patients-sub003/internal/store"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

// Controller submits, tracks, and executes generation jobs.
type Controller struct {
	store      store.JobStore
	queue      *jobqueue.Queue
	pool       *jobqueue.Pool
	simulator  *simulator.Simulator
	outputRoot string
	jobTimeout time.Duration
	retention  time.Duration
	batchSize  int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs a Controller and starts its worker pool. Call Shutdown to
// stop accepting new work and wait for in-flight jobs to observe ctx
// cancellation.
func New(ctx context.Context, st store.JobStore, sim *simulator.Simulator, outputRoot string, workerPoolSize, batchSize, jobTimeoutSeconds, retentionDays int) *Controller {
	c := &Controller{
		store:      st,
		queue:      jobqueue.New(),
		simulator:  sim,
		outputRoot: outputRoot,
		jobTimeout: time.Duration(jobTimeoutSeconds) * time.Second,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
		batchSize:  batchSize,
		cancels:    make(map[string]context.CancelFunc),
	}
	c.pool = jobqueue.NewPool(c.queue, workerPoolSize, c.runJob)
	c.pool.Start(ctx)
	return c
}

// SubmitJob persists a pending job and enqueues it for execution. It never
// runs the job synchronously.
func (c *Controller) SubmitJob(ctx context.Context, tenantKeyID string, cfg models.Configuration, formats []models.OutputFormat, useEncryption bool, encryptionPassword string, priority models.Priority) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:               "job-" + uuid.NewString(),
		TenantKeyID:      tenantKeyID,
		Status:           models.JobPending,
		Progress:         0,
		PhaseDescription: "Queued",
		Priority:         priority,
		Config:           cfg,
		OutputFormats:    formats,
		UseEncryption:    useEncryption,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if job.Priority == "" {
		job.Priority = models.PriorityNormal
	}

	if err := c.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	if useEncryption {
		pendingPasswords.put(job.ID, encryptionPassword)
	}
	c.queue.Push(job.ID, job.Priority)
	return job, nil
}

// GetJob returns the job if it belongs to tenantKeyID (or tenantKeyID is
// empty, for admin callers), NOT_FOUND otherwise.
func (c *Controller) GetJob(ctx context.Context, tenantKeyID, jobID string) (*models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if tenantKeyID != "" && job.TenantKeyID != tenantKeyID {
		return nil, apierror.NotFound("job %q not found", jobID)
	}
	return job, nil
}

// ListJobs returns tenantKeyID's jobs, newest first.
func (c *Controller) ListJobs(ctx context.Context, tenantKeyID string) ([]*models.Job, error) {
	jobs, err := c.store.ListJobs(ctx, tenantKeyID)
	if err != nil {
		return nil, err
	}
	reversed := make([]*models.Job, len(jobs))
	for i, j := range jobs {
		reversed[len(jobs)-1-i] = j
	}
	return reversed, nil
}

// CancelJob requests cooperative cancellation of a pending or running job.
func (c *Controller) CancelJob(ctx context.Context, tenantKeyID, jobID string) error {
	job, err := c.GetJob(ctx, tenantKeyID, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.JobCompleted, models.JobFailed, models.JobCancelled:
		return apierror.Conflict("job %q is already in a terminal state (%s)", jobID, job.Status)
	}

	c.mu.Lock()
	cancel, hasWorker := c.cancels[jobID]
	c.mu.Unlock()
	if hasWorker {
		cancel()
		return nil
	}

	// Not yet picked up by a worker: transition directly.
	job.Status = models.JobCancelled
	job.UpdatedAt = time.Now().UTC()
	return c.store.SaveJob(ctx, job)
}

// RecoverOrphanedJobs transitions any `running` job with no live worker to
// `failed` (reason "orphaned"). Call once at startup before the worker pool
// begins draining the queue.
func (c *Controller) RecoverOrphanedJobs(ctx context.Context) (int, error) {
	jobs, err := c.store.ListJobs(ctx, "")
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, job := range jobs {
		if job.Status != models.JobRunning {
			continue
		}
		job.Status = models.JobFailed
		job.Error = &models.JobError{Code: string(apierror.CodeGeneration), Message: "orphaned", Details: "job was running when the process restarted"}
		job.UpdatedAt = time.Now().UTC()
		if err := c.store.SaveJob(ctx, job); err != nil {
			log.Printf("jobs: failed to recover orphaned job %s: %v", job.ID, err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		log.Printf("jobs: recovered %d orphaned job(s) to failed", recovered)
	}
	return recovered, nil
}

// RequeuePendingJobs pushes every still-pending job onto the queue. Call at
// startup after RecoverOrphanedJobs so jobs that were queued but not yet
// picked up before a restart are not lost.
func (c *Controller) RequeuePendingJobs(ctx context.Context) (int, error) {
	jobs, err := c.store.ListJobs(ctx, "")
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, job := range jobs {
		if job.Status != models.JobPending {
			continue
		}
		c.queue.Push(job.ID, job.Priority)
		requeued++
	}
	return requeued, nil
}

// EnforceRetention deletes output directories (and marks records
// deleted=true) for completed jobs whose CompletedAt is older than the
// configured retention window.
func (c *Controller) EnforceRetention(ctx context.Context) (int, error) {
	return EnforceRetentionFor(ctx, c.store, c.outputRoot, c.retention)
}

// EnforceRetentionFor implements the same sweep as (*Controller).EnforceRetention
// against a bare JobStore and output root, with no Controller (and therefore
// no worker pool) required. This lets a one-shot caller such as the admin
// CLI's "cleanup" command run the identical sweep the background retention
// loop runs, without standing up a simulator just to construct a Controller.
func EnforceRetentionFor(ctx context.Context, st store.JobStore, outputRoot string, retention time.Duration) (int, error) {
	jobs, err := st.ListJobs(ctx, "")
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-retention)
	deleted := 0
	for _, job := range jobs {
		if job.Deleted || job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			continue
		}
		dir := filepath.Join(outputRoot, "job_"+job.ID)
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("jobs: retention: failed to remove %s: %v", dir, err)
			continue
		}
		job.Deleted = true
		job.UpdatedAt = time.Now().UTC()
		if err := st.SaveJob(ctx, job); err != nil {
			log.Printf("jobs: retention: failed to mark %s deleted: %v", job.ID, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		log.Printf("jobs: retention: deleted %d expired job director(ies)", deleted)
	}
	return deleted, nil
}

// StartRetentionLoop runs EnforceRetention on a fixed interval until ctx is
// cancelled.
func (c *Controller) StartRetentionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.EnforceRetention(ctx); err != nil {
					log.Printf("jobs: retention loop error: %v", err)
				}
			}
		}
	}()
}

func (c *Controller) jobDir(jobID string) string {
	return filepath.Join(c.outputRoot, "job_"+jobID)
}

// OutputRoot returns the filesystem root job artifacts are written under,
// for HTTP handlers that need to locate a job's download directory.
func (c *Controller) OutputRoot() string {
	return c.outputRoot
}

// runJob is the jobqueue.Handler run by worker goroutines.
func (c *Controller) runJob(ctx context.Context, jobID string) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("jobs: worker could not load job %s: %v", jobID, err)
		return
	}
	if job.Status == models.JobCancelled {
		return
	}

	workCtx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	c.mu.Lock()
	c.cancels[jobID] = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.cancels, jobID)
		c.mu.Unlock()
	}()

	started := time.Now().UTC()
	job.Status = models.JobRunning
	job.Progress = 5
	job.PhaseDescription = "Initializing"
	job.UpdatedAt = started
	if err := c.store.SaveJob(workCtx, job); err != nil {
		log.Printf("jobs: worker failed to mark job %s running: %v", jobID, err)
		return
	}

	result, cancelled, runErr := c.execute(workCtx, job, started)
	completedAt := time.Now().UTC()
	job.UpdatedAt = completedAt

	switch {
	case workCtx.Err() == context.DeadlineExceeded:
		job.Status = models.JobFailed
		job.Error = &models.JobError{Code: string(apierror.CodeGeneration), Message: "timeout", Details: "job exceeded its soft deadline"}
	case cancelled:
		job.Status = models.JobCancelled
		job.Partial = true
	case runErr != nil:
		apiErr, ok := apierror.As(runErr)
		if !ok {
			apiErr = apierror.Generation("%v", runErr)
		}
		job.Status = models.JobFailed
		job.Error = &models.JobError{Code: string(apiErr.Code), Message: apiErr.Message, Details: apiErr.Details}
	default:
		job.Status = models.JobCompleted
		job.Progress = 100
		job.PhaseDescription = "Done"
		job.CompletedAt = &completedAt
		job.OutputFiles = result.fileNames
		job.Summary = result.summary
	}

	if err := c.store.SaveJob(workCtx, job); err != nil {
		log.Printf("jobs: worker failed to save final state for job %s: %v", jobID, err)
	}
}

type executionResult struct {
	fileNames []string
	summary   *models.JobSummary
}

// defaultStreamBatchSize is the patient batch size used when a Controller
// is constructed with batchSize <= 0.
const defaultStreamBatchSize = 500

// streamTarget is one requested output format's in-progress artifact: an
// open StreamWriter over either a real file (most formats) or, for formats
// whose container must be assembled whole (xlsx's zip), a buffer finalized
// via output.Finalizer once streaming ends.
type streamTarget struct {
	name    string
	path    string
	file    *os.File
	buf     *bufio.Writer
	sw      output.StreamWriter
	visible bool
}

// execute runs the full generation pipeline for job: event generation,
// streamed patient simulation directly into per-format output writers, and
// archival. It checks workCtx between phases and between patient batches
// for cooperative cancellation. Patients are never held in memory for the
// whole job (SPEC_FULL §5): each batch the simulator produces is handed to
// every open StreamWriter and then discarded.
func (c *Controller) execute(workCtx context.Context, job *models.Job, started time.Time) (executionResult, bool, error) {
	cfg := job.Config
	seed := cfg.Seed
	if seed == 0 {
		seed = started.UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	events, err := eventgen.Generate(cfg, rng)
	if err != nil {
		return executionResult{}, false, err
	}

	if workCtx.Err() != nil {
		return executionResult{}, true, nil
	}

	requestedFormats := job.OutputFormats
	haveJSON := false
	for _, f := range requestedFormats {
		if f == models.FormatJSON {
			haveJSON = true
		}
	}
	writeFormats := requestedFormats
	if !haveJSON {
		// patients.json is always rendered to disk so the timeline/statistics
		// endpoints can read it regardless of which formats the caller asked
		// to download; it is just not added to the visible output_files list
		// below unless the caller actually requested it.
		writeFormats = append(append([]models.OutputFormat{}, requestedFormats...), models.FormatJSON)
	}

	dir := c.jobDir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return executionResult{}, false, apierror.Storage("jobs: create output dir: %v", err)
	}

	targets := make([]*streamTarget, 0, len(writeFormats))
	defer func() {
		for _, t := range targets {
			if t.file != nil {
				t.file.Close()
			}
		}
	}()
	for _, f := range writeFormats {
		name, err := output.ArtifactName(f)
		if err != nil {
			return executionResult{}, false, err
		}
		t := &streamTarget{name: name, path: filepath.Join(dir, name), visible: name != "patients.json" || haveJSON}
		if f == models.FormatXLSX {
			sw, err := output.NewStreamWriter(f, io.Discard)
			if err != nil {
				return executionResult{}, false, err
			}
			t.sw = sw
		} else {
			file, err := os.Create(t.path)
			if err != nil {
				return executionResult{}, false, apierror.Storage("jobs: create %s: %v", name, err)
			}
			t.file = file
			t.buf = bufio.NewWriter(file)
			sw, err := output.NewStreamWriter(f, t.buf)
			if err != nil {
				return executionResult{}, false, err
			}
			t.sw = sw
		}
		targets = append(targets, t)
	}

	batchSize := c.batchSize
	if batchSize <= 0 {
		batchSize = defaultStreamBatchSize
	}
	updateEvery := progressUpdateStride(cfg.TotalPatients)
	if batchSize < updateEvery {
		updateEvery = batchSize
	}
	lastSaved := time.Now()
	onProgress := func(done, total int) {
		if done%updateEvery != 0 && done != total {
			return
		}
		if time.Since(lastSaved) < 200*time.Millisecond && done != total {
			return
		}
		lastSaved = time.Now()
		pct := 5 + 90*float64(done)/float64(max(total, 1))
		job.Progress = pct
		job.PhaseDescription = fmt.Sprintf("Generating patient %d/%d", done, total)
		job.UpdatedAt = time.Now().UTC()
		_ = c.store.SaveJob(workCtx, job)
	}
	cancelled := func() bool { return workCtx.Err() != nil }

	acc := newSummaryAccumulator()
	onBatch := func(batch []models.Patient) error {
		for _, t := range targets {
			if err := t.sw.WriteBatch(batch); err != nil {
				return err
			}
		}
		acc.addBatch(batch)
		return nil
	}

	if err := c.simulator.SimulateStream(job.ID, cfg, events, batchSize, onBatch, onProgress, cancelled); err != nil {
		return executionResult{}, false, err
	}
	if workCtx.Err() != nil {
		return executionResult{}, true, nil
	}

	job.Progress = 95
	job.PhaseDescription = "Finalizing output"
	job.UpdatedAt = time.Now().UTC()
	_ = c.store.SaveJob(workCtx, job)

	fileNames := make([]string, 0, len(targets)+1)
	archiveSources := make(map[string]string, len(targets))
	for _, t := range targets {
		if err := t.sw.Close(); err != nil {
			return executionResult{}, false, err
		}
		if fin, ok := t.sw.(output.Finalizer); ok {
			b, err := fin.Bytes()
			if err != nil {
				return executionResult{}, false, err
			}
			if err := os.WriteFile(t.path, b, 0o644); err != nil {
				return executionResult{}, false, apierror.Storage("jobs: write %s: %v", t.name, err)
			}
		} else {
			if err := t.buf.Flush(); err != nil {
				return executionResult{}, false, apierror.Storage("jobs: flush %s: %v", t.name, err)
			}
			if err := t.file.Close(); err != nil {
				return executionResult{}, false, apierror.Storage("jobs: close %s: %v", t.name, err)
			}
			t.file = nil
		}
		if t.visible {
			fileNames = append(fileNames, t.name)
			archiveSources[t.name] = t.path
		}
	}

	job.PhaseDescription = "Bundling artifacts"
	job.UpdatedAt = time.Now().UTC()
	_ = c.store.SaveJob(workCtx, job)

	archiveName := output.ArchiveName(job.ID)
	archivePath := filepath.Join(dir, archiveName)
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return executionResult{}, false, apierror.Storage("jobs: create archive: %v", err)
	}
	if err := output.BuildArchiveStream(archiveFile, archiveSources); err != nil {
		archiveFile.Close()
		return executionResult{}, false, err
	}
	if err := archiveFile.Close(); err != nil {
		return executionResult{}, false, apierror.Storage("jobs: close archive: %v", err)
	}

	if job.UseEncryption {
		// The archive is the one point where the whole-job byte stream is
		// reassembled in memory: AES-GCM sealing (internal/output.Encrypt)
		// needs the complete ciphertext input, and its footprint is the
		// compressed artifact size, not the simulated patient graph that
		// produced it.
		raw, err := os.ReadFile(archivePath)
		if err != nil {
			return executionResult{}, false, apierror.Storage("jobs: read archive for encryption: %v", err)
		}
		password := jobEncryptionPassword(job)
		encrypted, err := output.Encrypt(raw, password)
		if err != nil {
			return executionResult{}, false, err
		}
		if err := os.WriteFile(archivePath, encrypted, 0o644); err != nil {
			return executionResult{}, false, apierror.Storage("jobs: write encrypted archive: %v", err)
		}
	}
	fileNames = append(fileNames, archiveName)

	summary := acc.summary(time.Since(started))
	return executionResult{fileNames: fileNames, summary: summary}, false, nil
}

// summaryAccumulator builds a JobSummary incrementally from simulator
// batches instead of requiring the full patient slice in memory.
type summaryAccumulator struct {
	total    int
	byTriage map[models.Triage]int
	kia      int
	rtd      int
	role4    int
}

func newSummaryAccumulator() *summaryAccumulator {
	return &summaryAccumulator{byTriage: map[models.Triage]int{}}
}

func (a *summaryAccumulator) addBatch(patients []models.Patient) {
	for _, p := range patients {
		a.total++
		a.byTriage[p.Triage]++
		switch p.FinalStatus {
		case models.StatusKIA:
			a.kia++
		case models.StatusRTD:
			a.rtd++
		case models.StatusRemainsRole4:
			a.role4++
		}
	}
}

func (a *summaryAccumulator) summary(elapsed time.Duration) *models.JobSummary {
	return &models.JobSummary{
		TotalPatients:   a.total,
		ByTriage:        a.byTriage,
		KIACount:        a.kia,
		RTDCount:        a.rtd,
		Role4Count:      a.role4,
		DurationSeconds: elapsed.Seconds(),
	}
}

// progressUpdateStride implements SPEC_FULL §4.7's update-frequency table.
func progressUpdateStride(total int) int {
	switch {
	case total <= 10:
		return 1
	case total <= 100:
		return 5
	case total <= 1000:
		return 10
	default:
		return 50
	}
}

// jobEncryptionPassword retrieves the password SubmitJob stashed in
// pendingPasswords: the password travels out-of-band from the request and
// is never persisted in the job record itself.
func jobEncryptionPassword(job *models.Job) string {
	return pendingPasswords.take(job.ID)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
