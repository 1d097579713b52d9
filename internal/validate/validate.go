// Package validate implements configuration validation and normalization
// (SPEC_FULL §4.1), following cerebra's pkg/config Validate() pattern:
// a dedicated method that walks every required invariant and accumulates
// failures rather than stopping at the first one, so a caller gets the
// complete picture of what is wrong with a request in one round trip.
package validate

import (
	"fmt"
	"math"
	"sort"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

const injurySumTolerance = 1e-6

var allowedInjuryTypes = map[models.InjuryType]bool{
	models.InjuryBattle:    true,
	models.InjuryNonBattle: true,
	models.InjuryDisease:   true,
}

var allowedFormats = map[models.OutputFormat]bool{
	models.FormatJSON: true,
	models.FormatCSV:  true,
	models.FormatXLSX: true,
	models.FormatXML:  true,
	models.FormatFHIR: true,
}

// KnownWarfareScenarios is the set of scenario ids the temporal event
// generator knows how to shape (SPEC_FULL §4.2). Unknown ids fail
// validation per §4.1.
var KnownWarfareScenarios = map[string]bool{
	"conventional": true,
	"artillery":    true,
	"urban":        true,
	"asymmetric":   true,
	"armor":        true,
	"air_assault":  true,
}

// ConfigResolver looks up a previously-stored configuration by id, used
// when a GenerationRequest references one instead of inlining it.
type ConfigResolver interface {
	ResolveConfig(id string) (*models.Configuration, bool)
}

// Validate checks a GenerationRequest against every rule in SPEC_FULL §4.1
// and returns a normalized Configuration plus the list of accumulated
// errors. If len(errors) > 0 the Configuration return value is invalid and
// must not be used.
func Validate(req models.GenerationRequest, maxPatients int, resolver ConfigResolver) (*models.Configuration, []*apierror.Error) {
	var errs []*apierror.Error

	haveID := req.ConfigurationID != ""
	haveInline := req.Configuration != nil
	switch {
	case haveID == haveInline:
		errs = append(errs, apierror.Validation("exactly one of configuration_id or configuration must be set"))
		return nil, errs
	case haveID:
		cfg, ok := resolver.ResolveConfig(req.ConfigurationID)
		if !ok {
			errs = append(errs, apierror.Validation("unknown configuration_id %q", req.ConfigurationID))
			return nil, errs
		}
		req.Configuration = cfg
	}

	if len(req.OutputFormats) == 0 {
		errs = append(errs, apierror.Validation("at least one output_format is required"))
	}
	for _, f := range req.OutputFormats {
		if !allowedFormats[f] {
			errs = append(errs, apierror.Validation("unknown output format %q", f))
		}
	}
	if req.UseEncryption && len(req.EncryptionPassword) < 8 {
		errs = append(errs, apierror.Validation("encryption_password must be at least 8 characters when use_encryption is set"))
	}
	if req.Priority != "" {
		switch req.Priority {
		case models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
		default:
			errs = append(errs, apierror.Validation("unknown priority %q", req.Priority))
		}
	}

	cfg := *req.Configuration

	if cfg.TotalPatients < 1 || cfg.TotalPatients > maxPatients {
		errs = append(errs, apierror.Validation("total_patients must be between 1 and %d, got %d", maxPatients, cfg.TotalPatients))
	}
	if cfg.DaysOfFighting < 1 {
		errs = append(errs, apierror.Validation("days_of_fighting must be >= 1, got %d", cfg.DaysOfFighting))
	}

	normalizedMix, mixErrs := validateInjuryMix(cfg.InjuryMix)
	errs = append(errs, mixErrs...)
	cfg.InjuryMix = normalizedMix

	frontErrs := validateFronts(cfg.Fronts)
	errs = append(errs, frontErrs...)
	sort.Slice(cfg.Fronts, func(i, j int) bool { return cfg.Fronts[i].ID < cfg.Fronts[j].ID })

	for scenario, active := range cfg.WarfareScenarios {
		if active && !KnownWarfareScenarios[scenario] {
			errs = append(errs, apierror.Validation("unknown warfare scenario %q", scenario))
		}
	}

	errs = append(errs, validateEvacuationConfig(cfg.Evacuation)...)

	if cfg.Intensity == "" {
		cfg.Intensity = models.IntensityMedium
	}
	if cfg.Tempo == "" {
		cfg.Tempo = models.TempoSustained
	}
	if cfg.BypassProbability == 0 {
		cfg.BypassProbability = 0.03
	}

	errs = append(errs, validateSurgeConfig(cfg.Surge)...)

	if len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

func validateInjuryMix(mix map[models.InjuryType]float64) (map[models.InjuryType]float64, []*apierror.Error) {
	var errs []*apierror.Error
	if len(mix) == 0 {
		errs = append(errs, apierror.Validation("injury_mix must not be empty"))
		return mix, errs
	}

	sum := 0.0
	for k, v := range mix {
		if !allowedInjuryTypes[k] {
			errs = append(errs, apierror.Validation("unknown injury_mix key %q", k))
		}
		if v < 0 {
			errs = append(errs, apierror.Validation("injury_mix[%q] must be >= 0, got %v", k, v))
		}
		sum += v
	}
	if math.Abs(sum-1.0) > injurySumTolerance {
		errs = append(errs, apierror.Validation("injury_mix values must sum to 1.0 (±1e-6), got %v", sum))
		return mix, errs
	}

	normalized := make(map[models.InjuryType]float64, len(mix))
	for k, v := range mix {
		normalized[k] = v / sum
	}
	return normalized, errs
}

func validateFronts(fronts []models.FrontConfig) []*apierror.Error {
	var errs []*apierror.Error
	if len(fronts) == 0 {
		errs = append(errs, apierror.Validation("at least one front is required"))
		return errs
	}

	anyPositive := false
	for _, f := range fronts {
		if f.CasualtyRate < 0 {
			errs = append(errs, apierror.Validation("front %q casualty_rate must be >= 0, got %v", f.ID, f.CasualtyRate))
		}
		if f.CasualtyRate > 0 {
			anyPositive = true
		}
		if len(f.NationalityDistribution) == 0 {
			errs = append(errs, apierror.Validation("front %q must have a non-empty nationality_distribution", f.ID))
		}
		for _, nw := range f.NationalityDistribution {
			if nw.Weight <= 0 {
				errs = append(errs, apierror.Validation("front %q nationality %q weight must be positive, got %v", f.ID, nw.Country, nw.Weight))
			}
		}
	}
	if !anyPositive {
		errs = append(errs, apierror.Validation("at least one front must have casualty_rate > 0"))
	}
	return errs
}

func validateEvacuationConfig(cfg models.EvacuationConfig) []*apierror.Error {
	var errs []*apierror.Error
	facilities := []models.Facility{
		models.FacilityPOI, models.FacilityRole1, models.FacilityRole2, models.FacilityRole3, models.FacilityRole4,
	}
	triages := []models.Triage{models.TriageT1, models.TriageT2, models.TriageT3}

	for _, f := range facilities {
		byTriage, ok := cfg.EvacuationTimes[f]
		if !ok {
			errs = append(errs, apierror.Validation("evacuation config missing facility %s", f))
			continue
		}
		for _, tr := range triages {
			r, ok := byTriage[tr]
			if !ok {
				errs = append(errs, apierror.Validation("evacuation config missing %s/%s", f, tr))
				continue
			}
			if err := checkRange(r); err != nil {
				errs = append(errs, apierror.Validation("evacuation config %s/%s: %v", f, tr, err))
			}
		}
	}

	for i := 0; i < len(facilities)-1; i++ {
		from, to := facilities[i], facilities[i+1]
		byTo, ok := cfg.TransitTimes[from]
		if !ok {
			errs = append(errs, apierror.Validation("evacuation config missing transit route %s->%s", from, to))
			continue
		}
		byTriage, ok := byTo[to]
		if !ok {
			errs = append(errs, apierror.Validation("evacuation config missing transit route %s->%s", from, to))
			continue
		}
		for _, tr := range triages {
			r, ok := byTriage[tr]
			if !ok {
				errs = append(errs, apierror.Validation("evacuation config missing transit %s->%s/%s", from, to, tr))
				continue
			}
			if err := checkRange(r); err != nil {
				errs = append(errs, apierror.Validation("evacuation config transit %s->%s/%s: %v", from, to, tr, err))
			}
		}
	}

	for _, tr := range triages {
		if m, ok := cfg.KIAModifier[tr]; !ok || m <= 0 {
			errs = append(errs, apierror.Validation("kia_modifier for %s must be a positive real", tr))
		}
		if m, ok := cfg.RTDModifier[tr]; !ok || m <= 0 {
			errs = append(errs, apierror.Validation("rtd_modifier for %s must be a positive real", tr))
		}
	}

	return errs
}

// validateSurgeConfig checks an optionally-set SurgeConfig. A zero-valued
// SurgeConfig is left for eventgen to default at generation time, so only
// explicitly-set, out-of-range fields are rejected here.
func validateSurgeConfig(cfg models.SurgeConfig) []*apierror.Error {
	var errs []*apierror.Error
	for _, hod := range cfg.HoursOfDay {
		if hod < 0 || hod >= 24 {
			errs = append(errs, apierror.Validation("surge.hours_of_day entry must be in [0, 24), got %v", hod))
		}
	}
	if cfg.Multiplier < 0 {
		errs = append(errs, apierror.Validation("surge.multiplier must be >= 0, got %v", cfg.Multiplier))
	}
	if cfg.WindowHours < 0 {
		errs = append(errs, apierror.Validation("surge.window_hours must be >= 0, got %v", cfg.WindowHours))
	}
	return errs
}

func checkRange(r models.EvacTimeRange) error {
	if r.MinHours < 0 || r.MaxHours < 0 {
		return fmt.Errorf("hours must be non-negative")
	}
	if r.MinHours > r.MaxHours {
		return fmt.Errorf("min_hours > max_hours")
	}
	return nil
}
