package eventgen

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/banton/medical-patients-sub003/pkg/models"
)

func baseConfig() models.Configuration {
	return models.Configuration{
		TotalPatients:    500,
		DaysOfFighting:   3,
		BaseDate:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Intensity:        models.IntensityMedium,
		WarfareScenarios: map[string]bool{"conventional": true},
	}
}

func TestGenerate_PatientCountSumsToTotal(t *testing.T) {
	cfg := baseConfig()
	rng := rand.New(rand.NewSource(42))

	events, err := Generate(cfg, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sum := 0
	for _, e := range events {
		if e.PatientCount < 1 {
			t.Errorf("event %s has non-positive patient_count %d", e.EventID, e.PatientCount)
		}
		sum += e.PatientCount
	}
	if sum != cfg.TotalPatients {
		t.Errorf("expected total patient_count %d, got %d", cfg.TotalPatients, sum)
	}
}

func TestGenerate_EventsAreSortedByTimestamp(t *testing.T) {
	cfg := baseConfig()
	rng := rand.New(rand.NewSource(7))

	events, err := Generate(cfg, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("events not sorted: %v before %v at index %d", events[i].Timestamp, events[i-1].Timestamp, i)
		}
	}
}

func TestGenerate_NoActiveScenariosFallsBackToSustained(t *testing.T) {
	cfg := baseConfig()
	cfg.WarfareScenarios = map[string]bool{}
	rng := rand.New(rand.NewSource(1))

	events, err := Generate(cfg, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0
	for _, e := range events {
		sum += e.PatientCount
		if e.WarfareType != "baseline" {
			t.Errorf("expected baseline warfare type with no active scenarios, got %q", e.WarfareType)
		}
	}
	if sum != cfg.TotalPatients {
		t.Errorf("expected total %d, got %d", cfg.TotalPatients, sum)
	}
}

func TestGenerate_EventsStayWithinHorizon(t *testing.T) {
	cfg := baseConfig()
	rng := rand.New(rand.NewSource(99))

	events, err := Generate(cfg, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	horizonEnd := cfg.BaseDate.Add(time.Duration(cfg.DaysOfFighting) * 24 * time.Hour)
	for _, e := range events {
		if e.Timestamp.Before(cfg.BaseDate) || e.Timestamp.After(horizonEnd) {
			t.Errorf("event %s timestamp %v outside horizon [%v,%v]", e.EventID, e.Timestamp, cfg.BaseDate, horizonEnd)
		}
	}
}

func TestGenerate_SpecialEventReservesPatientsAndFlagsMassCasualty(t *testing.T) {
	cfg := baseConfig()
	cfg.SpecialEvents = []models.SpecialEventConfig{
		{Type: "ambush", MinPatients: 80, MaxPatients: 80, MassThreshold: 50, Probability: 1.0},
	}
	rng := rand.New(rand.NewSource(3))

	events, err := Generate(cfg, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	sum := 0
	for _, e := range events {
		sum += e.PatientCount
		if e.SpecialEventType == "ambush" {
			found = true
			if !e.IsMassCasualty {
				t.Errorf("expected ambush event with 80 patients to be flagged mass casualty")
			}
			if e.PatientCount != 80 {
				t.Errorf("expected special event patient count 80 (total %d exceeds reservation), got %d", cfg.TotalPatients, e.PatientCount)
			}
		}
	}
	if !found {
		t.Fatal("expected a special event with Probability 1.0 to be generated each day")
	}
	if sum != cfg.TotalPatients {
		t.Errorf("expected total %d, got %d", cfg.TotalPatients, sum)
	}
}

func TestGenerate_OverReservedSpecialEventsAreScaledDown(t *testing.T) {
	cfg := baseConfig()
	cfg.TotalPatients = 50
	cfg.DaysOfFighting = 5
	cfg.SpecialEvents = []models.SpecialEventConfig{
		{Type: "offensive", MinPatients: 40, MaxPatients: 40, MassThreshold: 10, Probability: 1.0},
	}
	rng := rand.New(rand.NewSource(11))

	events, err := Generate(cfg, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0
	for _, e := range events {
		sum += e.PatientCount
	}
	if sum != cfg.TotalPatients {
		t.Errorf("expected scaled-down total %d, got %d", cfg.TotalPatients, sum)
	}
}

func TestGenerate_RejectsNonPositiveTotalPatients(t *testing.T) {
	cfg := baseConfig()
	cfg.TotalPatients = 0
	rng := rand.New(rand.NewSource(1))

	if _, err := Generate(cfg, rng); err == nil {
		t.Fatal("expected error for non-positive total_patients")
	}
}

func TestRedistributeRemainder_SumsExactly(t *testing.T) {
	weights := []float64{1, 2, 3, 4.5, 0}
	for _, total := range []int{0, 1, 7, 100, 1000003} {
		counts := redistributeRemainder(weights, total)
		sum := 0
		for _, c := range counts {
			sum += c
		}
		if sum != total {
			t.Errorf("total %d: expected sum %d, got %d (%v)", total, total, sum, counts)
		}
	}
}

func TestRedistributeRemainder_AllZeroWeightsAssignFirst(t *testing.T) {
	counts := redistributeRemainder([]float64{0, 0, 0}, 10)
	if counts[0] != 10 {
		t.Errorf("expected all-zero weights to assign total to first bin, got %v", counts)
	}
}

// TestGenerate_NoEventSpansADayBoundary exercises a sustained-shape,
// multi-day, high-density configuration where nearly every 5-minute bin
// receives at least one patient, the exact condition under which coalescing
// would otherwise merge the whole horizon into a single event.
func TestGenerate_NoEventSpansADayBoundary(t *testing.T) {
	cfg := baseConfig()
	cfg.TotalPatients = 5000
	cfg.DaysOfFighting = 4
	rng := rand.New(rand.NewSource(77))

	events, err := Generate(cfg, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) < cfg.DaysOfFighting {
		t.Fatalf("expected at least one event per day of fighting, got %d events for %d days", len(events), cfg.DaysOfFighting)
	}

	for _, e := range events {
		dayStart := time.Date(e.Timestamp.Year(), e.Timestamp.Month(), e.Timestamp.Day(), 0, 0, 0, 0, e.Timestamp.Location())
		dayEnd := dayStart.Add(24 * time.Hour)
		if e.Timestamp.Before(dayStart) || !e.Timestamp.Before(dayEnd) {
			t.Fatalf("event %s timestamp %v not within its own day [%v,%v)", e.EventID, e.Timestamp, dayStart, dayEnd)
		}
	}
}

// TestGenerate_ConfiguredSurgeHoursProduceClusteredEvents reproduces the
// three-surges-a-day scenario: with warfare scenario "artillery" (shape
// "surge") and Surge.HoursOfDay = [6, 14, 22], most patients should land in
// events timestamped within an hour of one of those three hours.
func TestGenerate_ConfiguredSurgeHoursProduceClusteredEvents(t *testing.T) {
	cfg := baseConfig()
	cfg.TotalPatients = 300
	cfg.DaysOfFighting = 1
	cfg.WarfareScenarios = map[string]bool{"artillery": true}
	cfg.Surge = models.SurgeConfig{HoursOfDay: []float64{6, 14, 22}, Multiplier: 4.0, WindowHours: 1.0}
	rng := rand.New(rand.NewSource(5))

	events, err := Generate(cfg, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	surgeHours := cfg.Surge.HoursOfDay
	near := func(hour float64) bool {
		for _, h := range surgeHours {
			d := math.Abs(hour - h)
			if d > 12 {
				d = 24 - d
			}
			if d <= 1.0 {
				return true
			}
		}
		return false
	}

	total := 0
	nearSurge := 0
	massCasualty := false
	for _, e := range events {
		hour := e.Timestamp.Sub(cfg.BaseDate).Hours()
		total += e.PatientCount
		if near(hour) {
			nearSurge += e.PatientCount
		}
		if e.IsMassCasualty {
			massCasualty = true
		}
	}

	if got := float64(nearSurge) / float64(total); got < 0.6 {
		t.Errorf("expected >=60%% of patients within 1h of a surge hour, got %.2f (%d/%d)", got, nearSurge, total)
	}
	if !massCasualty {
		t.Error("expected at least one mass-casualty event from the configured surge")
	}
}
