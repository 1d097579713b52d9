package catalog

import (
	"math/rand"
	"testing"

	"github.com/banton/medical-patients-sub003/pkg/models"
)

func TestSampleIdentity_KnownNationality(t *testing.T) {
	c := New()
	rng := rand.New(rand.NewSource(1))

	id := c.SampleIdentity(rng, "USA")
	if id.GivenName == "" || id.FamilyName == "" {
		t.Errorf("expected a populated identity, got %+v", id)
	}
}

func TestSampleIdentity_UnknownNationalityFallsBackToGeneric(t *testing.T) {
	c := New()
	rng := rand.New(rand.NewSource(1))

	id := c.SampleIdentity(rng, "ZZZ")
	found := false
	for _, g := range c.genericIdentities {
		if g.identity == id {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected identity %+v to come from the generic table", id)
	}
}

func TestSampleInjury_ReturnsCodeForType(t *testing.T) {
	c := New()
	rng := rand.New(rand.NewSource(7))

	tests := []models.InjuryType{models.InjuryBattle, models.InjuryNonBattle, models.InjuryDisease}
	for _, it := range tests {
		code, display := c.SampleInjury(rng, it)
		if code == "" || display == "" {
			t.Errorf("injury type %s: expected non-empty code/display, got %q/%q", it, code, display)
		}
	}
}

func TestCodesAreSorted(t *testing.T) {
	c := New()
	codes := c.Codes(models.InjuryBattle)
	for i := 1; i < len(codes); i++ {
		if codes[i-1] > codes[i] {
			t.Errorf("expected sorted codes, got %v", codes)
		}
	}
}

func TestWeightedIndex_ZeroTotalReturnsFirst(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	idx := weightedIndex(rng, []float64{0, 0, 0})
	if idx != 0 {
		t.Errorf("expected index 0 for all-zero weights, got %d", idx)
	}
}
