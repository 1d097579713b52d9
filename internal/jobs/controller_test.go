package jobs

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banton/medical-patients-sub003/internal/catalog"
	"github.com/banton/medical-patients-sub003/internal/evac"
	"github.com/banton/medical-patients-sub003/internal/protocol"
	"github.com/banton/medical-patients-sub003/internal/simulator"
	"github.com/banton/medical-patients-sub003/internal/store"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

func testEvacConfig() models.EvacuationConfig {
	facilities := []models.Facility{
		models.FacilityPOI, models.FacilityRole1, models.FacilityRole2, models.FacilityRole3, models.FacilityRole4,
	}
	r := models.EvacTimeRange{MinHours: 0.01, MaxHours: 0.02}
	evacTimes := map[models.Facility]map[models.Triage]models.EvacTimeRange{}
	for _, f := range facilities {
		evacTimes[f] = map[models.Triage]models.EvacTimeRange{models.TriageT1: r, models.TriageT2: r, models.TriageT3: r}
	}
	transitTimes := map[models.Facility]map[models.Facility]map[models.Triage]models.EvacTimeRange{}
	for i := 0; i < len(facilities)-1; i++ {
		from, to := facilities[i], facilities[i+1]
		transitTimes[from] = map[models.Facility]map[models.Triage]models.EvacTimeRange{
			to: {models.TriageT1: r, models.TriageT2: r, models.TriageT3: r},
		}
	}
	return models.EvacuationConfig{
		EvacuationTimes: evacTimes,
		TransitTimes:    transitTimes,
		KIAModifier:     map[models.Triage]float64{models.TriageT1: 1.0, models.TriageT2: 1.0, models.TriageT3: 1.0},
		RTDModifier:     map[models.Triage]float64{models.TriageT1: 1.0, models.TriageT2: 1.0, models.TriageT3: 1.0},
	}
}

func testConfig(total int) models.Configuration {
	return models.Configuration{
		TotalPatients:  total,
		DaysOfFighting: 1,
		BaseDate:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		InjuryMix: map[models.InjuryType]float64{
			models.InjuryBattle:    0.6,
			models.InjuryNonBattle: 0.3,
			models.InjuryDisease:   0.1,
		},
		Fronts: []models.FrontConfig{
			{ID: "north", CasualtyRate: 1, NationalityDistribution: []models.NationalityWeight{{Country: "USA", Weight: 1}}},
		},
		Intensity:  models.IntensityLow,
		Tempo:      models.TempoSustained,
		Evacuation: testEvacConfig(),
		Seed:       42,
	}
}

func newTestController(t *testing.T) (*Controller, store.JobStore, string) {
	t.Helper()
	evacMgr, err := evac.New(testEvacConfig())
	if err != nil {
		t.Fatalf("evac.New: %v", err)
	}
	sim := simulator.New(catalog.New(), evacMgr, protocol.New())
	st := store.NewMemoryStore()
	outputRoot := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := New(ctx, st, sim, outputRoot, 2, 500, 30, 7)
	return c, st, outputRoot
}

func waitForTerminal(t *testing.T, c *Controller, jobID string) *models.Job {
	t.Helper()
	return waitForTerminalWithin(t, c, jobID, 5*time.Second)
}

func waitForTerminalWithin(t *testing.T, c *Controller, jobID string, timeout time.Duration) *models.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := c.GetJob(context.Background(), "", jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		switch job.Status {
		case models.JobCompleted, models.JobFailed, models.JobCancelled:
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return nil
}

func TestSubmitJob_RunsToCompletion(t *testing.T) {
	c, _, outputRoot := newTestController(t)
	ctx := context.Background()

	job, err := c.SubmitJob(ctx, "tenant-1", testConfig(5), []models.OutputFormat{models.FormatJSON, models.FormatCSV}, false, "", models.PriorityNormal)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.Status != models.JobPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}

	final := waitForTerminal(t, c, job.ID)
	if final.Status != models.JobCompleted {
		t.Fatalf("expected completed, got %s (%+v)", final.Status, final.Error)
	}
	if final.Summary == nil || final.Summary.TotalPatients != 5 {
		t.Fatalf("expected summary with 5 patients, got %+v", final.Summary)
	}
	if len(final.OutputFiles) == 0 {
		t.Fatal("expected output files recorded")
	}

	dir := filepath.Join(outputRoot, "job_"+job.ID)
	for _, name := range final.OutputFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected output file %s on disk: %v", name, err)
		}
	}
}

func TestSubmitJob_SmallBatchSizeStreamsCompleteOutput(t *testing.T) {
	evacMgr, err := evac.New(testEvacConfig())
	if err != nil {
		t.Fatalf("evac.New: %v", err)
	}
	sim := simulator.New(catalog.New(), evacMgr, protocol.New())
	st := store.NewMemoryStore()
	outputRoot := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// batchSize=2 against a patient count not evenly divisible by it (7)
	// exercises both full and trailing partial batches through the
	// streaming writers.
	c := New(ctx, st, sim, outputRoot, 2, 2, 30, 7)

	job, err := c.SubmitJob(ctx, "tenant-1", testConfig(7), []models.OutputFormat{models.FormatJSON, models.FormatCSV}, false, "", models.PriorityNormal)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	final := waitForTerminal(t, c, job.ID)
	if final.Status != models.JobCompleted {
		t.Fatalf("expected completed, got %s (%+v)", final.Status, final.Error)
	}
	if final.Summary == nil || final.Summary.TotalPatients != 7 {
		t.Fatalf("expected summary with 7 patients, got %+v", final.Summary)
	}

	dir := filepath.Join(outputRoot, "job_"+job.ID)

	jsonData, err := os.ReadFile(filepath.Join(dir, "patients.json"))
	if err != nil {
		t.Fatalf("read patients.json: %v", err)
	}
	var patients []models.Patient
	if err := json.Unmarshal(jsonData, &patients); err != nil {
		t.Fatalf("patients.json is not valid JSON: %v", err)
	}
	if len(patients) != 7 {
		t.Fatalf("expected 7 patients in patients.json, got %d", len(patients))
	}

	csvData, err := os.ReadFile(filepath.Join(dir, "patients.csv"))
	if err != nil {
		t.Fatalf("read patients.csv: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(csvData)).ReadAll()
	if err != nil {
		t.Fatalf("patients.csv is not valid CSV: %v", err)
	}
	if len(rows) != 8 { // header + 7 patients
		t.Fatalf("expected 8 csv rows (header + 7 patients), got %d", len(rows))
	}

	archivePath := filepath.Join(dir, "job_"+job.ID+".zip")
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["patients.json"] || !names["patients.csv"] {
		t.Fatalf("expected archive to contain both requested formats, got %v", names)
	}
}

func TestSubmitJob_EncryptedArchive(t *testing.T) {
	c, _, outputRoot := newTestController(t)
	ctx := context.Background()

	job, err := c.SubmitJob(ctx, "tenant-1", testConfig(3), []models.OutputFormat{models.FormatJSON}, true, "correct horse battery staple", models.PriorityNormal)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	final := waitForTerminal(t, c, job.ID)
	if final.Status != models.JobCompleted {
		t.Fatalf("expected completed, got %s (%+v)", final.Status, final.Error)
	}

	dir := filepath.Join(outputRoot, "job_"+job.ID)
	archivePath := filepath.Join(dir, "job_"+job.ID+".zip")
	data, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("expected encrypted archive on disk: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty encrypted archive")
	}
}

func TestGetJob_WrongTenantReturnsNotFound(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	job, err := c.SubmitJob(ctx, "tenant-1", testConfig(1), []models.OutputFormat{models.FormatJSON}, false, "", models.PriorityLow)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	if _, err := c.GetJob(ctx, "tenant-2", job.ID); err == nil {
		t.Fatal("expected not-found error for mismatched tenant")
	}
}

func TestListJobs_NewestFirst(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	first, err := c.SubmitJob(ctx, "tenant-1", testConfig(1), []models.OutputFormat{models.FormatJSON}, false, "", models.PriorityLow)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	waitForTerminal(t, c, first.ID)
	time.Sleep(5 * time.Millisecond)
	second, err := c.SubmitJob(ctx, "tenant-1", testConfig(1), []models.OutputFormat{models.FormatJSON}, false, "", models.PriorityLow)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	waitForTerminal(t, c, second.ID)

	jobs, err := c.ListJobs(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != second.ID || jobs[1].ID != first.ID {
		t.Fatalf("expected newest-first order [%s,%s], got %v", second.ID, first.ID, jobIDs(jobs))
	}
}

func jobIDs(jobs []*models.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

func TestCancelJob_PendingJobNotYetPickedUp(t *testing.T) {
	// A Controller built with no store-backed queue drain (cancels map only,
	// no pool started) models a job that is pending and has not been picked
	// up by any worker: CancelJob must transition it directly to cancelled
	// without going through the cooperative-cancel path.
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	_ = st.SaveJob(ctx, &models.Job{ID: "pending-1", TenantKeyID: "tenant-1", Status: models.JobPending, CreatedAt: now, UpdatedAt: now})

	c := &Controller{store: st, cancels: map[string]context.CancelFunc{}}
	if err := c.CancelJob(ctx, "tenant-1", "pending-1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	job, _ := st.GetJob(ctx, "pending-1")
	if job.Status != models.JobCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
}

func TestCancelJob_RunningJobIsCooperativelyCancelled(t *testing.T) {
	c, st, _ := newTestController(t)
	ctx := context.Background()

	// Large enough that simulation takes long enough in wall-clock time for
	// the test goroutine to observe "running" and call CancelJob before the
	// worker finishes on its own.
	cfg := testConfig(500000)
	job, err := c.SubmitJob(ctx, "tenant-1", cfg, []models.OutputFormat{models.FormatJSON}, false, "", models.PriorityNormal)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		j, _ := st.GetJob(ctx, job.ID)
		if j != nil && j.Status == models.JobRunning {
			break
		}
		time.Sleep(1 * time.Millisecond)
	}
	if err := c.CancelJob(ctx, "tenant-1", job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	final := waitForTerminalWithin(t, c, job.ID, 15*time.Second)
	if final.Status != models.JobCancelled && final.Status != models.JobCompleted {
		t.Fatalf("expected cancelled (or completed if cancellation lost the race), got %s", final.Status)
	}
}

func TestRecoverOrphanedJobs_TransitionsRunningToFailed(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	_ = st.SaveJob(ctx, &models.Job{ID: "orphan-1", Status: models.JobRunning, CreatedAt: time.Now(), UpdatedAt: time.Now()})
	_ = st.SaveJob(ctx, &models.Job{ID: "pending-1", Status: models.JobPending, CreatedAt: time.Now(), UpdatedAt: time.Now()})

	c := &Controller{store: st}
	recovered, err := c.RecoverOrphanedJobs(ctx)
	if err != nil {
		t.Fatalf("RecoverOrphanedJobs: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered job, got %d", recovered)
	}

	job, _ := st.GetJob(ctx, "orphan-1")
	if job.Status != models.JobFailed || job.Error == nil || job.Error.Message != "orphaned" {
		t.Errorf("expected orphan-1 to be failed with reason orphaned, got %+v", job)
	}

	stillPending, _ := st.GetJob(ctx, "pending-1")
	if stillPending.Status != models.JobPending {
		t.Errorf("expected pending-1 to be untouched, got %s", stillPending.Status)
	}
}

func TestEnforceRetention_DeletesExpiredCompletedJobs(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	outputRoot := t.TempDir()

	old := time.Now().Add(-10 * 24 * time.Hour)
	dir := filepath.Join(outputRoot, "job_expired-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	_ = st.SaveJob(ctx, &models.Job{ID: "expired-1", Status: models.JobCompleted, CompletedAt: &old, CreatedAt: old, UpdatedAt: old})

	recent := time.Now()
	_ = st.SaveJob(ctx, &models.Job{ID: "fresh-1", Status: models.JobCompleted, CompletedAt: &recent, CreatedAt: recent, UpdatedAt: recent})

	c := &Controller{store: st, outputRoot: outputRoot, retention: 7 * 24 * time.Hour}
	deleted, err := c.EnforceRetention(ctx)
	if err != nil {
		t.Fatalf("EnforceRetention: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted job, got %d", deleted)
	}

	expired, _ := st.GetJob(ctx, "expired-1")
	if !expired.Deleted {
		t.Error("expected expired-1 to be marked deleted")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("expected expired-1's output directory to be removed")
	}

	fresh, _ := st.GetJob(ctx, "fresh-1")
	if fresh.Deleted {
		t.Error("expected fresh-1 to be untouched")
	}
}
