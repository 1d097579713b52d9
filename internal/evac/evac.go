// Package evac implements the evacuation time manager (SPEC_FULL §4.6).
// It validates an EvacuationConfig once at construction — failing fast the
// way aegis's database.Migrate and backup.NewLocalStorage fail fast on a
// broken precondition rather than deferring the check to first use — and
// then exposes uniform-sampling accessors to the simulator.
package evac

import (
	"fmt"
	"math/rand"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

// facilityOrder is the fixed evacuation chain, POI first, Role4 last.
var facilityOrder = []models.Facility{
	models.FacilityPOI,
	models.FacilityRole1,
	models.FacilityRole2,
	models.FacilityRole3,
	models.FacilityRole4,
}

var triages = []models.Triage{models.TriageT1, models.TriageT2, models.TriageT3}

// Manager exposes validated evacuation and transit timing for the patient
// flow simulator. It is immutable after New and safe for concurrent use.
type Manager struct {
	cfg models.EvacuationConfig
}

// New validates cfg and returns a Manager, or a CONFIG_ERROR-flavored
// *apierror.Error if any required cell is missing or malformed.
func New(cfg models.EvacuationConfig) (*Manager, error) {
	for _, f := range facilityOrder {
		byTriage, ok := cfg.EvacuationTimes[f]
		if !ok {
			return nil, configError("evacuation time table missing facility %s", f)
		}
		for _, tr := range triages {
			rng, ok := byTriage[tr]
			if !ok {
				return nil, configError("evacuation time table missing %s/%s", f, tr)
			}
			if err := validateRange(rng); err != nil {
				return nil, configError("evacuation time %s/%s: %v", f, tr, err)
			}
		}
	}

	for i := 0; i < len(facilityOrder)-1; i++ {
		from, to := facilityOrder[i], facilityOrder[i+1]
		byTo, ok := cfg.TransitTimes[from]
		if !ok {
			return nil, configError("transit time table missing route %s->%s", from, to)
		}
		byTriage, ok := byTo[to]
		if !ok {
			return nil, configError("transit time table missing route %s->%s", from, to)
		}
		for _, tr := range triages {
			rng, ok := byTriage[tr]
			if !ok {
				return nil, configError("transit time %s->%s/%s missing", from, to, tr)
			}
			if err := validateRange(rng); err != nil {
				return nil, configError("transit time %s->%s/%s: %v", from, to, tr, err)
			}
		}
	}

	for _, tr := range triages {
		m, ok := cfg.KIAModifier[tr]
		if !ok || m <= 0 {
			return nil, configError("kia_modifier for %s must be a positive real, got %v", tr, m)
		}
		m, ok = cfg.RTDModifier[tr]
		if !ok || m <= 0 {
			return nil, configError("rtd_modifier for %s must be a positive real, got %v", tr, m)
		}
	}

	return &Manager{cfg: cfg}, nil
}

func validateRange(r models.EvacTimeRange) error {
	if r.MinHours < 0 || r.MaxHours < 0 {
		return fmt.Errorf("hours must be non-negative (min=%v, max=%v)", r.MinHours, r.MaxHours)
	}
	if r.MinHours > r.MaxHours {
		return fmt.Errorf("min_hours %v > max_hours %v", r.MinHours, r.MaxHours)
	}
	return nil
}

func configError(format string, args ...any) error {
	return apierror.Newf(apierror.CodeValidation, "evac: "+format, args...)
}

// EvacuationHours draws a uniform sample from the configured [min,max] for
// (facility, triage).
func (m *Manager) EvacuationHours(rng *rand.Rand, facility models.Facility, triage models.Triage) float64 {
	r := m.cfg.EvacuationTimes[facility][triage]
	return sampleUniform(rng, r)
}

// TransitHours draws a uniform sample from the configured [min,max] for the
// from->to route at the given triage. Returns a STORAGE/VALIDATION error if
// the route is absent (should not happen after New succeeds, but callers
// may pass unvalidated facility pairs).
func (m *Manager) TransitHours(rng *rand.Rand, from, to models.Facility, triage models.Triage) (float64, error) {
	byTo, ok := m.cfg.TransitTimes[from]
	if !ok {
		return 0, apierror.Newf(apierror.CodeValidation, "evac: no transit route from %s", from)
	}
	byTriage, ok := byTo[to]
	if !ok {
		return 0, apierror.Newf(apierror.CodeValidation, "evac: no transit route %s->%s", from, to)
	}
	r, ok := byTriage[triage]
	if !ok {
		return 0, apierror.Newf(apierror.CodeValidation, "evac: no transit route %s->%s/%s", from, to, triage)
	}
	return sampleUniform(rng, r), nil
}

// KIAModifier returns the configured KIA rate modifier for triage.
func (m *Manager) KIAModifier(triage models.Triage) float64 {
	return m.cfg.KIAModifier[triage]
}

// RTDModifier returns the configured RTD rate modifier for triage.
func (m *Manager) RTDModifier(triage models.Triage) float64 {
	return m.cfg.RTDModifier[triage]
}

// DefaultConfig returns the evacuation and transit timing table the server
// uses when no deployment-specific override is supplied. SPEC_FULL §4.6
// names the formula shape (uniform sampling over a [min,max] window per
// facility/triage and per transit leg) but not concrete hour values, so
// this table is a synthetic default: evacuation dwell time and transit
// time both shrink moving rearward from POI to Role4, and KIA/RTD
// modifiers scale with triage urgency the same way baseKIARate/baseRTDRate
// do in internal/simulator.
func DefaultConfig() models.EvacuationConfig {
	evacRanges := map[models.Facility]map[models.Triage]models.EvacTimeRange{
		models.FacilityPOI:   {models.TriageT1: {MinHours: 0.25, MaxHours: 1}, models.TriageT2: {MinHours: 0.5, MaxHours: 2}, models.TriageT3: {MinHours: 1, MaxHours: 4}},
		models.FacilityRole1: {models.TriageT1: {MinHours: 0.5, MaxHours: 2}, models.TriageT2: {MinHours: 1, MaxHours: 4}, models.TriageT3: {MinHours: 2, MaxHours: 8}},
		models.FacilityRole2: {models.TriageT1: {MinHours: 2, MaxHours: 8}, models.TriageT2: {MinHours: 4, MaxHours: 24}, models.TriageT3: {MinHours: 8, MaxHours: 48}},
		models.FacilityRole3: {models.TriageT1: {MinHours: 12, MaxHours: 48}, models.TriageT2: {MinHours: 24, MaxHours: 96}, models.TriageT3: {MinHours: 48, MaxHours: 168}},
		models.FacilityRole4: {models.TriageT1: {MinHours: 48, MaxHours: 336}, models.TriageT2: {MinHours: 72, MaxHours: 504}, models.TriageT3: {MinHours: 96, MaxHours: 720}},
	}

	transitRanges := map[models.Facility]map[models.Facility]map[models.Triage]models.EvacTimeRange{
		models.FacilityPOI: {models.FacilityRole1: {
			models.TriageT1: {MinHours: 0.1, MaxHours: 0.5}, models.TriageT2: {MinHours: 0.25, MaxHours: 1}, models.TriageT3: {MinHours: 0.5, MaxHours: 2},
		}},
		models.FacilityRole1: {models.FacilityRole2: {
			models.TriageT1: {MinHours: 0.5, MaxHours: 2}, models.TriageT2: {MinHours: 1, MaxHours: 3}, models.TriageT3: {MinHours: 2, MaxHours: 6},
		}},
		models.FacilityRole2: {models.FacilityRole3: {
			models.TriageT1: {MinHours: 1, MaxHours: 4}, models.TriageT2: {MinHours: 2, MaxHours: 6}, models.TriageT3: {MinHours: 4, MaxHours: 12},
		}},
		models.FacilityRole3: {models.FacilityRole4: {
			models.TriageT1: {MinHours: 2, MaxHours: 8}, models.TriageT2: {MinHours: 4, MaxHours: 12}, models.TriageT3: {MinHours: 8, MaxHours: 24},
		}},
	}

	return models.EvacuationConfig{
		EvacuationTimes: evacRanges,
		TransitTimes:    transitRanges,
		KIAModifier:     map[models.Triage]float64{models.TriageT1: 1.5, models.TriageT2: 1.0, models.TriageT3: 0.5},
		RTDModifier:     map[models.Triage]float64{models.TriageT1: 0.5, models.TriageT2: 1.0, models.TriageT3: 1.5},
	}
}

// Config returns the validated evacuation configuration this Manager was
// constructed with, for the read-only evacuation-times endpoint (SPEC_FULL
// §6 GET /api/v1/timeline/configuration/evacuation-times).
func (m *Manager) Config() models.EvacuationConfig {
	return m.cfg
}

// FacilityOrder returns the fixed evacuation chain, POI first.
func FacilityOrder() []models.Facility {
	out := make([]models.Facility, len(facilityOrder))
	copy(out, facilityOrder)
	return out
}

// Next returns the next facility after f in the chain, and false if f is
// Role4 (the terminal facility).
func Next(f models.Facility) (models.Facility, bool) {
	for i, cur := range facilityOrder {
		if cur == f && i+1 < len(facilityOrder) {
			return facilityOrder[i+1], true
		}
	}
	return "", false
}

func sampleUniform(rng *rand.Rand, r models.EvacTimeRange) float64 {
	if r.MaxHours <= r.MinHours {
		return r.MinHours
	}
	return r.MinHours + rng.Float64()*(r.MaxHours-r.MinHours)
}
