package main

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/banton/medical-patients-sub003/internal/store"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

// setupTestStore resets the package-level store and output format before
// each test, mirroring the way PersistentPreRunE would populate them in a
// real invocation.
func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	st = store.NewMemoryStore()
	outputFormat = "json"
	return st
}

func testCmd() *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(context.Background())
	return c
}

func TestCreateKeyCmd_ProvisionsAnActiveKey(t *testing.T) {
	setupTestStore(t)
	createKeyName = "alice"
	createKeyEmail = ""
	createKeyDemo = false
	createKeyExpiresInDays = 0
	createKeyMaxPatientsReq = 0
	createKeyMaxPerMinute = 0
	createKeyMaxPerHour = 0
	createKeyMaxPerDay = 0

	if err := createKeyCmd.RunE(testCmd(), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	keys, err := st.ListKeys(context.Background())
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if !keys[0].IsActive || keys[0].Name != "alice" {
		t.Fatalf("unexpected key record: %+v", keys[0])
	}
}

func TestCreateKeyCmd_MissingNameIsValidationError(t *testing.T) {
	setupTestStore(t)
	createKeyName = ""
	err := createKeyCmd.RunE(testCmd(), nil)
	if err == nil {
		t.Fatal("expected error for missing --name")
	}
	ce, ok := err.(*cliErr)
	if !ok || ce.code != exitValidation {
		t.Fatalf("expected validation exit code, got %v", err)
	}
}

func TestShowKeyCmd_UnknownIDReturnsNotFoundExitCode(t *testing.T) {
	setupTestStore(t)
	err := showKeyCmd.RunE(testCmd(), []string{"nonexistent"})
	if err == nil {
		t.Fatal("expected error")
	}
	ce, ok := err.(*cliErr)
	if !ok || ce.code != exitNotFound {
		t.Fatalf("expected NOT_FOUND exit code, got %v", err)
	}
}

func TestDeactivateThenActivateKeyCmd_TogglesIsActive(t *testing.T) {
	s := setupTestStore(t)
	key := &models.APIKey{ID: "k1", Key: "secret", Name: "bob", IsActive: true}
	if err := s.SaveKey(context.Background(), key); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	if err := deactivateKeyCmd.RunE(testCmd(), []string{"k1"}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	reloaded, _ := s.GetKeyByID(context.Background(), "k1")
	if reloaded.IsActive {
		t.Fatal("expected key to be inactive after deactivate")
	}

	if err := activateKeyCmd.RunE(testCmd(), []string{"k1"}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	reloaded, _ = s.GetKeyByID(context.Background(), "k1")
	if !reloaded.IsActive {
		t.Fatal("expected key to be active after activate")
	}
}

func TestDeleteKeyCmd_RemovesKeyFromStore(t *testing.T) {
	s := setupTestStore(t)
	key := &models.APIKey{ID: "k1", Key: "secret", Name: "bob", IsActive: true}
	if err := s.SaveKey(context.Background(), key); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	if err := deleteKeyCmd.RunE(testCmd(), []string{"k1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetKeyByID(context.Background(), "k1"); err == nil {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestLimitsCmd_UpdatesOnlyChangedFlags(t *testing.T) {
	s := setupTestStore(t)
	key := &models.APIKey{ID: "k1", Key: "secret", Limits: models.KeyLimits{MaxRequestsPerMinute: 10, MaxRequestsPerHour: 100}}
	if err := s.SaveKey(context.Background(), key); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	cmd := testCmd()
	cmd.Flags().AddFlagSet(limitsCmd.Flags())
	if err := cmd.Flags().Set("max-requests-per-minute", "50"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	limitsMaxPerMinute = 50

	if err := limitsCmd.RunE(cmd, []string{"k1"}); err != nil {
		t.Fatalf("limits: %v", err)
	}
	reloaded, _ := s.GetKeyByID(context.Background(), "k1")
	if reloaded.Limits.MaxRequestsPerMinute != 50 {
		t.Fatalf("expected updated per-minute limit, got %d", reloaded.Limits.MaxRequestsPerMinute)
	}
	if reloaded.Limits.MaxRequestsPerHour != 100 {
		t.Fatalf("expected untouched per-hour limit to remain 100, got %d", reloaded.Limits.MaxRequestsPerHour)
	}
}

func TestExtendCmd_RequiresPositiveDays(t *testing.T) {
	setupTestStore(t)
	extendDays = 0
	err := extendCmd.RunE(testCmd(), []string{"k1"})
	if err == nil {
		t.Fatal("expected validation error for --days 0")
	}
	ce, ok := err.(*cliErr)
	if !ok || ce.code != exitValidation {
		t.Fatalf("expected validation exit code, got %v", err)
	}
}

func TestExtendCmd_PushesExpirationForward(t *testing.T) {
	s := setupTestStore(t)
	key := &models.APIKey{ID: "k1", Key: "secret"}
	if err := s.SaveKey(context.Background(), key); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	extendDays = 30

	if err := extendCmd.RunE(testCmd(), []string{"k1"}); err != nil {
		t.Fatalf("extend: %v", err)
	}
	reloaded, _ := s.GetKeyByID(context.Background(), "k1")
	if reloaded.ExpiresAt == nil || !reloaded.ExpiresAt.After(time.Now().UTC().Add(29*24*time.Hour)) {
		t.Fatalf("expected expiration roughly 30 days out, got %+v", reloaded.ExpiresAt)
	}
}

func TestRotateCmd_ChangesKeySecretButKeepsID(t *testing.T) {
	s := setupTestStore(t)
	key := &models.APIKey{ID: "k1", Key: "old-secret"}
	if err := s.SaveKey(context.Background(), key); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	if err := rotateCmd.RunE(testCmd(), []string{"k1"}); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	reloaded, _ := s.GetKeyByID(context.Background(), "k1")
	if reloaded.Key == "old-secret" {
		t.Fatal("expected rotate to change the key secret")
	}
	if reloaded.ID != "k1" {
		t.Fatalf("expected ID to remain k1, got %q", reloaded.ID)
	}
}

func TestStatsCmd_AggregatesAcrossKeysAndJobs(t *testing.T) {
	s := setupTestStore(t)
	if err := s.SaveKey(context.Background(), &models.APIKey{ID: "k1", Key: "a", IsActive: true, IsDemo: true, Counters: models.KeyCounters{TotalPatientsGenerated: 5}}); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if err := s.SaveJob(context.Background(), &models.Job{ID: "job-1", Status: models.JobCompleted}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	if err := statsCmd.RunE(testCmd(), nil); err != nil {
		t.Fatalf("stats: %v", err)
	}
}

func TestCleanupCmd_ReportsDeletedCount(t *testing.T) {
	s := setupTestStore(t)
	past := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if err := s.SaveJob(context.Background(), &models.Job{ID: "job-old", Status: models.JobCompleted, CompletedAt: &past}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	cleanupRetentionDays = 7

	if err := cleanupCmd.RunE(testCmd(), nil); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	reloaded, err := s.GetJob(context.Background(), "job-old")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !reloaded.Deleted {
		t.Fatal("expected job to be marked deleted after cleanup")
	}
}
