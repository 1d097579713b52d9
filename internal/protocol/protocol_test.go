package protocol

import (
	"testing"

	"github.com/banton/medical-patients-sub003/pkg/models"
)

func TestSelect_KnownCodeReturnsFacilityApplicableTopK(t *testing.T) {
	s := New()
	out := s.Select("BI-GSW-EXT", "Gunshot wound, extremity", models.FacilityPOI, models.TriageT2, 1)
	if len(out) == 0 {
		t.Fatal("expected at least one treatment")
	}
	if len(out) > facilityTopK[models.FacilityPOI] {
		t.Errorf("expected at most %d treatments at POI, got %d", facilityTopK[models.FacilityPOI], len(out))
	}
	for _, name := range out {
		if name == "Vascular repair" {
			t.Errorf("vascular repair is not applicable at POI, got it in %v", out)
		}
	}
}

func TestSelect_T1RankingPrefersHighEffectivenessEarly(t *testing.T) {
	s := New()
	out := s.Select("BI-GSW-EXT", "Gunshot wound, extremity", models.FacilityPOI, models.TriageT1, 0.5)
	if out[0] == "" {
		t.Fatal("expected a top treatment")
	}
}

func TestSelect_UnknownCodeFallsBackToKeyword(t *testing.T) {
	s := New()
	out := s.Select("ZZZ-UNKNOWN", "Severe thermal burn to face", models.FacilityRole1, models.TriageT2, 1)
	if len(out) == 0 {
		t.Fatal("expected keyword-matched fallback treatments")
	}
	found := false
	for _, name := range out {
		if name == "Burn wound dressing" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected burn-keyword fallback, got %v", out)
	}
}

func TestSelect_NoMatchAtAllFallsBackToGenericSupportiveCare(t *testing.T) {
	s := New()
	out := s.Select("ZZZ-UNKNOWN", "Completely unrecognized condition text", models.FacilityRole2, models.TriageT3, 2)
	if len(out) != 1 || out[0] != genericSupportiveCare {
		t.Errorf("expected generic supportive care fallback, got %v", out)
	}
}

func TestSelect_ContraindicationDropsCandidate(t *testing.T) {
	s := New()
	out := s.Select("BI-BURN-THERM", "Thermal burn", models.FacilityRole2, models.TriageT2, 8, "tourniquet-in-place")
	for _, name := range out {
		if name == "Escharotomy" {
			t.Errorf("expected escharotomy to be filtered by contraindication, got %v", out)
		}
	}
}

func TestSelect_Role4AllowsMoreCandidatesThanPOI(t *testing.T) {
	s := New()
	poi := s.Select("BI-FRAG-MULTI", "Multiple fragment wounds", models.FacilityPOI, models.TriageT2, 1)
	role4 := s.Select("BI-FRAG-MULTI", "Multiple fragment wounds", models.FacilityRole4, models.TriageT2, 1)
	if len(role4) < len(poi) {
		t.Errorf("expected Role4 top-k (%d) >= POI top-k (%d)", len(role4), len(poi))
	}
}
