// Package protocol implements treatment/protocol selection (SPEC_FULL §4.4):
// for a diagnosed condition at a given facility, rank the facility's
// candidate treatments by a weighted utility score and return the top-k.
// The utility-ranking shape (weighted linear combination of normalized
// factors, picking the highest-scoring candidates) follows cerebra's
// router model-selection scorer, generalized from "pick a model" to "pick
// a treatment set".
package protocol

import (
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/banton/medical-patients-sub003/pkg/models"
)

// Candidate is one treatment option for a diagnosis code.
type Candidate struct {
	Treatment            string
	Facilities           []models.Facility
	Appropriateness      float64
	Contraindications    []string
	EffectivenessBase    float64
	GoldenHourThresholdH float64
	DecayRatePerH        float64
}

var facilityTopK = map[models.Facility]int{
	models.FacilityPOI:   2,
	models.FacilityRole1: 3,
	models.FacilityRole2: 5,
	models.FacilityRole3: 6,
	models.FacilityRole4: 4,
}

const genericSupportiveCare = "Supportive care"

// Selector ranks and selects treatments against a protocol table.
// Zero value is not usable; construct with New.
type Selector struct {
	byCode map[string][]Candidate

	mu      sync.Mutex
	fellBack map[string]bool // diagnosis codes that have already logged a keyword-matching fallback
}

// New builds a Selector from the bundled protocol table.
func New() *Selector {
	return &Selector{
		byCode:   buildProtocolTable(),
		fellBack: make(map[string]bool),
	}
}

// Select ranks candidate treatments for diagnosisCode at facility/triage and
// returns the top-k treatment names, most appropriate first. display is the
// diagnosis's human-readable text, used for keyword-matching fallback when
// diagnosisCode has no table entry. activeConditions lists contraindication
// tags currently applicable to the patient (e.g. "thermal-burn"); candidates
// whose Contraindications intersect it are dropped.
func (s *Selector) Select(diagnosisCode, display string, facility models.Facility, triage models.Triage, hoursSinceInjury float64, activeConditions ...string) []string {
	candidates, ok := s.byCode[diagnosisCode]
	if !ok {
		candidates = s.keywordFallback(diagnosisCode, display)
	}

	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !appliesToFacility(c, facility) {
			continue
		}
		if contraindicated(c, activeConditions) {
			continue
		}
		filtered = append(filtered, c)
	}

	if len(filtered) == 0 {
		return []string{genericSupportiveCare}
	}

	wApp, wTime, wRisk := weightsFor(triage)
	type scored struct {
		name  string
		score float64
	}
	scores := make([]scored, len(filtered))
	for i, c := range filtered {
		timeFactor := math.Exp(-c.DecayRatePerH * math.Max(0, hoursSinceInjury-c.GoldenHourThresholdH))
		risk := 1 - c.EffectivenessBase
		util := wApp*c.Appropriateness + wTime*timeFactor - wRisk*risk
		scores[i] = scored{name: c.Treatment, score: util}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	k := facilityTopK[facility]
	if k == 0 || k > len(scores) {
		k = len(scores)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = scores[i].name
	}
	return out
}

func appliesToFacility(c Candidate, facility models.Facility) bool {
	if len(c.Facilities) == 0 {
		return true
	}
	for _, f := range c.Facilities {
		if f == facility {
			return true
		}
	}
	return false
}

func contraindicated(c Candidate, active []string) bool {
	if len(c.Contraindications) == 0 || len(active) == 0 {
		return false
	}
	for _, tag := range c.Contraindications {
		for _, cond := range active {
			if tag == cond {
				return true
			}
		}
	}
	return false
}

// weightsFor returns {w_app, w_time, w_risk}; T1 overrides w_time to 0.5,
// redistributing the remainder across w_app/w_risk in their default ratio.
func weightsFor(triage models.Triage) (wApp, wTime, wRisk float64) {
	if triage == models.TriageT1 {
		return 0.35, 0.5, 0.15
	}
	return 0.5, 0.3, 0.2
}

var keywordTable = []struct {
	keyword   string
	treatment []string
}{
	{"burn", []string{"Burn wound dressing", "Fluid resuscitation (Parkland)", "Escharotomy"}},
	{"fracture", []string{"Splinting", "Analgesia", "Orthopedic reduction"}},
	{"gastrointestinal", []string{"Oral rehydration", "Antiemetic", "IV fluids"}},
	{"respiratory", []string{"Supplemental oxygen", "Bronchodilator", "Antibiotics"}},
	{"stress", []string{"Rest and reassurance", "Brief psychological intervention"}},
	{"laceration", []string{"Wound irrigation", "Suture/staple closure", "Tetanus prophylaxis"}},
	{"amputation", []string{"Tourniquet application", "Stump dressing", "Surgical revision"}},
	{"blast", []string{"Airway assessment", "Hemorrhage control", "Neuro observation"}},
	{"vehicle", []string{"Spinal precautions", "Trauma survey", "Analgesia"}},
	{"heat", []string{"Active cooling", "IV fluids"}},
	{"cold", []string{"Passive rewarming", "Dry insulation"}},
}

// keywordFallback is used once per (code, display) when the protocol table
// has no entry; it logs the gap once and matches on display text.
func (s *Selector) keywordFallback(code, display string) []Candidate {
	s.mu.Lock()
	if !s.fellBack[code] {
		s.fellBack[code] = true
		log.Printf("protocol: no table entry for diagnosis code %q, falling back to keyword matching on %q", code, display)
	}
	s.mu.Unlock()

	lower := strings.ToLower(display)
	for _, kw := range keywordTable {
		if strings.Contains(lower, kw.keyword) {
			candidates := make([]Candidate, len(kw.treatment))
			for i, t := range kw.treatment {
				candidates[i] = Candidate{Treatment: t, Appropriateness: 0.6, EffectivenessBase: 0.55}
			}
			return candidates
		}
	}
	return nil
}

func buildProtocolTable() map[string][]Candidate {
	all5 := []models.Facility{
		models.FacilityPOI, models.FacilityRole1, models.FacilityRole2, models.FacilityRole3, models.FacilityRole4,
	}
	pointOfInjuryUp := []models.Facility{models.FacilityPOI, models.FacilityRole1, models.FacilityRole2}
	surgicalUp := []models.Facility{models.FacilityRole2, models.FacilityRole3, models.FacilityRole4}

	return map[string][]Candidate{
		"BI-GSW-EXT": {
			{"Tourniquet application", []models.Facility{models.FacilityPOI, models.FacilityRole1}, 0.95, nil, 0.9, 1, 0.3},
			{"Wound packing", pointOfInjuryUp, 0.8, nil, 0.75, 2, 0.2},
			{"Surgical debridement", surgicalUp, 0.85, nil, 0.8, 6, 0.1},
			{"Vascular repair", []models.Facility{models.FacilityRole3, models.FacilityRole4}, 0.9, nil, 0.85, 8, 0.08},
			{"IV fluid resuscitation", all5, 0.6, nil, 0.55, 4, 0.15},
		},
		"BI-GSW-TORSO": {
			{"Chest seal application", pointOfInjuryUp, 0.9, nil, 0.85, 1, 0.3},
			{"Needle decompression", pointOfInjuryUp, 0.75, []string{"no-tension-pneumothorax"}, 0.7, 1, 0.25},
			{"Damage control surgery", surgicalUp, 0.92, nil, 0.88, 4, 0.1},
			{"Blood transfusion", []models.Facility{models.FacilityRole2, models.FacilityRole3, models.FacilityRole4}, 0.85, nil, 0.8, 3, 0.12},
		},
		"BI-FRAG-MULTI": {
			{"Wound irrigation", all5, 0.7, nil, 0.65, 2, 0.2},
			{"Surgical debridement", surgicalUp, 0.85, nil, 0.8, 6, 0.1},
			{"Broad-spectrum antibiotics", all5, 0.6, nil, 0.6, 12, 0.05},
			{"Staged wound closure", []models.Facility{models.FacilityRole3, models.FacilityRole4}, 0.75, nil, 0.7, 24, 0.05},
		},
		"BI-BLAST-TBI": {
			{"Airway/breathing/circulation survey", pointOfInjuryUp, 0.9, nil, 0.85, 1, 0.3},
			{"Neuro observation", []models.Facility{models.FacilityRole1, models.FacilityRole2, models.FacilityRole3}, 0.7, nil, 0.65, 2, 0.1},
			{"CT imaging", []models.Facility{models.FacilityRole3, models.FacilityRole4}, 0.85, nil, 0.8, 6, 0.08},
			{"Neurosurgical consult", []models.Facility{models.FacilityRole4}, 0.9, nil, 0.85, 12, 0.05},
		},
		"BI-BURN-THERM": {
			{"Burn wound dressing", all5, 0.8, nil, 0.75, 1, 0.15},
			{"Fluid resuscitation (Parkland)", []models.Facility{models.FacilityRole1, models.FacilityRole2, models.FacilityRole3}, 0.85, nil, 0.8, 2, 0.1},
			{"Escharotomy", []models.Facility{models.FacilityRole2, models.FacilityRole3, models.FacilityRole4}, 0.7, []string{"tourniquet-in-place"}, 0.65, 6, 0.08},
		},
		"BI-AMPUT-TRAUM": {
			{"Tourniquet application", []models.Facility{models.FacilityPOI, models.FacilityRole1}, 0.95, nil, 0.9, 1, 0.3},
			{"Stump dressing", pointOfInjuryUp, 0.8, nil, 0.75, 2, 0.2},
			{"Surgical revision", surgicalUp, 0.85, nil, 0.8, 8, 0.08},
		},
		"NBI-FX-LIMB": {
			{"Splinting", all5, 0.85, nil, 0.8, 2, 0.1},
			{"Analgesia", all5, 0.7, nil, 0.65, 1, 0.15},
			{"Orthopedic reduction", surgicalUp, 0.8, nil, 0.75, 12, 0.05},
		},
		"NBI-SPRAIN": {
			{"Rest, ice, compression, elevation", all5, 0.75, nil, 0.7, 4, 0.1},
			{"Analgesia", all5, 0.6, nil, 0.55, 1, 0.15},
		},
		"NBI-LACERATION": {
			{"Wound irrigation", all5, 0.7, nil, 0.65, 2, 0.2},
			{"Suture/staple closure", pointOfInjuryUp, 0.85, nil, 0.8, 6, 0.08},
			{"Tetanus prophylaxis", all5, 0.5, nil, 0.5, 24, 0.02},
		},
		"NBI-VEHICLE": {
			{"Spinal precautions", pointOfInjuryUp, 0.8, nil, 0.75, 1, 0.2},
			{"Trauma survey", all5, 0.75, nil, 0.7, 2, 0.15},
			{"Analgesia", all5, 0.6, nil, 0.55, 1, 0.15},
		},
		"NBI-BURN-NONCOMBAT": {
			{"Burn wound dressing", all5, 0.75, nil, 0.7, 1, 0.15},
			{"Analgesia", all5, 0.6, nil, 0.55, 1, 0.15},
		},
		"DIS-GI": {
			{"Oral rehydration", all5, 0.7, nil, 0.65, 4, 0.1},
			{"IV fluids", []models.Facility{models.FacilityRole1, models.FacilityRole2, models.FacilityRole3, models.FacilityRole4}, 0.8, nil, 0.75, 8, 0.08},
			{"Antiemetic", all5, 0.55, nil, 0.5, 2, 0.1},
		},
		"DIS-RESP": {
			{"Supplemental oxygen", all5, 0.8, nil, 0.75, 2, 0.1},
			{"Bronchodilator", all5, 0.65, nil, 0.6, 1, 0.15},
			{"Antibiotics", []models.Facility{models.FacilityRole2, models.FacilityRole3, models.FacilityRole4}, 0.6, nil, 0.6, 24, 0.03},
		},
		"DIS-HEAT": {
			{"Active cooling", all5, 0.85, nil, 0.8, 1, 0.2},
			{"IV fluids", all5, 0.75, nil, 0.7, 2, 0.1},
		},
		"DIS-COLD": {
			{"Passive rewarming", all5, 0.8, nil, 0.75, 2, 0.1},
			{"Dry insulation", all5, 0.6, nil, 0.55, 1, 0.1},
		},
		"DIS-DERM": {
			{"Topical treatment", all5, 0.6, nil, 0.55, 12, 0.05},
			{"Antihistamine", all5, 0.5, nil, 0.5, 6, 0.05},
		},
		"DIS-PSYCH": {
			{"Rest and reassurance", all5, 0.7, nil, 0.65, 4, 0.05},
			{"Brief psychological intervention", []models.Facility{models.FacilityRole2, models.FacilityRole3, models.FacilityRole4}, 0.65, nil, 0.6, 24, 0.03},
		},
	}
}
