package simulator

import (
	"testing"
	"time"

	"github.com/banton/medical-patients-sub003/internal/catalog"
	"github.com/banton/medical-patients-sub003/internal/evac"
	"github.com/banton/medical-patients-sub003/internal/protocol"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

func testEvacConfig() models.EvacuationConfig {
	facilities := []models.Facility{
		models.FacilityPOI, models.FacilityRole1, models.FacilityRole2, models.FacilityRole3, models.FacilityRole4,
	}
	r := models.EvacTimeRange{MinHours: 0.5, MaxHours: 2}
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

func newTestSimulator(t *testing.T) *Simulator {
	t.Helper()
	evacMgr, err := evac.New(testEvacConfig())
	if err != nil {
		t.Fatalf("evac.New: %v", err)
	}
	return New(catalog.New(), evacMgr, protocol.New())
}

func testConfig() models.Configuration {
	return models.Configuration{
		TotalPatients:  10,
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
		Evacuation: testEvacConfig(),
	}
}

func TestSimulate_ProducesOnePatientPerEventSlot(t *testing.T) {
	s := newTestSimulator(t)
	cfg := testConfig()
	events := []models.CasualtyEvent{
		{EventID: "e1", Timestamp: cfg.BaseDate, PatientCount: 4},
		{EventID: "e2", Timestamp: cfg.BaseDate.Add(time.Hour), PatientCount: 6},
	}

	patients, err := s.Simulate("job-1", cfg, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patients) != 10 {
		t.Fatalf("expected 10 patients, got %d", len(patients))
	}
	for i, p := range patients {
		if p.ID != i+1 {
			t.Errorf("expected sequential ids, patient %d has id %d", i, p.ID)
		}
		if p.FinalStatus == "" {
			t.Errorf("patient %d missing final status", p.ID)
		}
		if len(p.Timeline) == 0 {
			t.Errorf("patient %d has empty timeline", p.ID)
		}
		if p.Timeline[0].EventType != models.EventArrival || p.Timeline[0].Facility != models.FacilityPOI {
			t.Errorf("patient %d expected first event to be POI arrival, got %+v", p.ID, p.Timeline[0])
		}
	}
}

func TestSimulate_DeterministicForSameJobID(t *testing.T) {
	s := newTestSimulator(t)
	cfg := testConfig()
	events := []models.CasualtyEvent{{EventID: "e1", Timestamp: cfg.BaseDate, PatientCount: 5}}

	p1, err := s.Simulate("job-42", cfg, events)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := s.Simulate("job-42", cfg, events)
	if err != nil {
		t.Fatal(err)
	}
	for i := range p1 {
		if p1[i].FinalStatus != p2[i].FinalStatus || p1[i].Triage != p2[i].Triage || len(p1[i].Timeline) != len(p2[i].Timeline) {
			t.Errorf("expected deterministic output for same job id, patient %d differs: %+v vs %+v", i, p1[i], p2[i])
		}
	}
}

func TestSimulate_DifferentJobIDsCanDiffer(t *testing.T) {
	s := newTestSimulator(t)
	cfg := testConfig()
	events := []models.CasualtyEvent{{EventID: "e1", Timestamp: cfg.BaseDate, PatientCount: 20}}

	p1, err := s.Simulate("job-a", cfg, events)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := s.Simulate("job-b", cfg, events)
	if err != nil {
		t.Fatal(err)
	}

	identical := true
	for i := range p1 {
		if p1[i].Triage != p2[i].Triage || p1[i].Nationality != p2[i].Nationality {
			identical = false
			break
		}
	}
	if identical {
		t.Error("expected different job ids to plausibly produce different samples across 20 patients")
	}
}

func TestSimulate_RejectsConfigWithNoFronts(t *testing.T) {
	s := newTestSimulator(t)
	cfg := testConfig()
	cfg.Fronts = nil

	if _, err := s.Simulate("job-1", cfg, nil); err == nil {
		t.Fatal("expected error for configuration with no fronts")
	}
}

func TestSimulate_TerminalStatusIsKIAOrRTD(t *testing.T) {
	s := newTestSimulator(t)
	cfg := testConfig()
	events := []models.CasualtyEvent{{EventID: "e1", Timestamp: cfg.BaseDate, PatientCount: 30}}

	patients, err := s.Simulate("job-terminal", cfg, events)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range patients {
		if p.FinalStatus != models.StatusKIA && p.FinalStatus != models.StatusRTD && p.FinalStatus != models.StatusRemainsRole4 {
			t.Errorf("patient %d has unexpected final status %q", p.ID, p.FinalStatus)
		}
	}
}
