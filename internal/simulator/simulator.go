// Package simulator implements the patient flow simulator (SPEC_FULL §4.3):
// for every CasualtyEvent it instantiates patients and walks each one
// through the POI→Role1→Role2→Role3→Role4 evacuation chain as a small state
// machine, terminating at KIA or RTD. The per-resource state walk mirrors
// aegis's recovery manager (internal/recovery/manager.go), generalized from
// "restore one resource at a time" to "advance one patient at a time".
package simulator

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/internal/catalog"
	"github.com/banton/medical-patients-sub003/internal/evac"
	"github.com/banton/medical-patients-sub003/internal/protocol"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

// defaultTriageWeights gives the fallback triage distribution per injury
// type (SPEC_FULL §4.3); no per-scenario override is currently modeled in
// Configuration, so this table is always used.
var defaultTriageWeights = map[models.InjuryType]map[models.Triage]float64{
	models.InjuryBattle:    {models.TriageT1: 0.4, models.TriageT2: 0.4, models.TriageT3: 0.2},
	models.InjuryNonBattle: {models.TriageT1: 0.2, models.TriageT2: 0.3, models.TriageT3: 0.5},
	models.InjuryDisease:   {models.TriageT1: 0.1, models.TriageT2: 0.3, models.TriageT3: 0.6},
}

// baseKIARate and baseRTDRate are synthetic per-facility/injury-type risk
// constants; SPEC_FULL leaves the exact values as a design decision (no
// numeric table is specified), chosen to decay from POI to Role4 and to
// scale roughly with injury severity.
var baseKIARate = map[models.Facility]map[models.InjuryType]float64{
	models.FacilityPOI:   {models.InjuryBattle: 0.08, models.InjuryNonBattle: 0.01, models.InjuryDisease: 0.005},
	models.FacilityRole1: {models.InjuryBattle: 0.04, models.InjuryNonBattle: 0.005, models.InjuryDisease: 0.002},
	models.FacilityRole2: {models.InjuryBattle: 0.02, models.InjuryNonBattle: 0.002, models.InjuryDisease: 0.001},
	models.FacilityRole3: {models.InjuryBattle: 0.01, models.InjuryNonBattle: 0.001, models.InjuryDisease: 0.0005},
	models.FacilityRole4: {models.InjuryBattle: 0.005, models.InjuryNonBattle: 0.0005, models.InjuryDisease: 0.0002},
}

var baseRTDRate = map[models.Facility]map[models.InjuryType]float64{
	models.FacilityPOI:   {models.InjuryBattle: 0.02, models.InjuryNonBattle: 0.10, models.InjuryDisease: 0.15},
	models.FacilityRole1: {models.InjuryBattle: 0.05, models.InjuryNonBattle: 0.25, models.InjuryDisease: 0.35},
	models.FacilityRole2: {models.InjuryBattle: 0.08, models.InjuryNonBattle: 0.35, models.InjuryDisease: 0.45},
	models.FacilityRole3: {models.InjuryBattle: 0.10, models.InjuryNonBattle: 0.40, models.InjuryDisease: 0.50},
}

const transitKIAModifierFactor = 0.5

// Simulator ties together the reference catalog, evacuation timing, and
// treatment selection to produce fully-populated patients from a timeline
// of CasualtyEvents.
type Simulator struct {
	catalog   *catalog.Catalog
	evac      *evac.Manager
	protocols *protocol.Selector
}

// New constructs a Simulator. All three dependencies are immutable and
// shared across jobs.
func New(cat *catalog.Catalog, evacMgr *evac.Manager, protoSel *protocol.Selector) *Simulator {
	return &Simulator{catalog: cat, evac: evacMgr, protocols: protoSel}
}

// ProgressFunc is invoked after each patient is fully simulated, reporting
// how many of the configuration's total patients are done so far.
type ProgressFunc func(done, total int)

// BatchFunc receives one batch of freshly-simulated patients. The slice is
// reused by the caller's next batch once BatchFunc returns, so implementations
// that need to retain data must copy it rather than hold the slice.
type BatchFunc func(batch []models.Patient) error

// Simulate walks every event's patients through the evacuation chain.
// jobID seeds per-patient determinism: the same jobID and cfg always
// produce the same patients, independent of how work is batched.
func (s *Simulator) Simulate(jobID string, cfg models.Configuration, events []models.CasualtyEvent) ([]models.Patient, error) {
	return s.SimulateWithProgress(jobID, cfg, events, nil, nil)
}

// SimulateWithProgress behaves like Simulate but calls onProgress after each
// patient and checks cancelled (if non-nil) between patients, stopping early
// and returning the patients produced so far when cancelled reports true. It
// materializes the whole result in memory and exists for small jobs and
// tests; SimulateStream is the streaming equivalent production callers use.
func (s *Simulator) SimulateWithProgress(jobID string, cfg models.Configuration, events []models.CasualtyEvent, onProgress ProgressFunc, cancelled func() bool) ([]models.Patient, error) {
	all := make([]models.Patient, 0, cfg.TotalPatients)
	err := s.SimulateStream(jobID, cfg, events, cfg.TotalPatients, func(batch []models.Patient) error {
		all = append(all, batch...)
		return nil
	}, onProgress, cancelled)
	return all, err
}

// SimulateStream walks every event's patients through the evacuation chain
// the same way SimulateWithProgress does, but hands finished patients to
// onBatch in batchSize-sized groups instead of accumulating the whole job in
// memory (SPEC_FULL §5: peak memory per job is O(batch_size × patient_size +
// timeline depth)). onBatch is also called once more with any partial batch
// left over at the end, or when cancelled stops the run early.
func (s *Simulator) SimulateStream(jobID string, cfg models.Configuration, events []models.CasualtyEvent, batchSize int, onBatch BatchFunc, onProgress ProgressFunc, cancelled func() bool) error {
	if len(cfg.Fronts) == 0 {
		return apierror.Validation("simulator: configuration has no fronts")
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	batch := make([]models.Patient, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := onBatch(batch); err != nil {
			return err
		}
		batch = make([]models.Patient, 0, batchSize)
		return nil
	}

	nextID := 1
	done := 0

	for _, event := range events {
		for i := 0; i < event.PatientCount; i++ {
			if cancelled != nil && cancelled() {
				return flush()
			}
			id := nextID
			nextID++
			rng := rand.New(rand.NewSource(seedFor(jobID, id)))

			batch = append(batch, s.simulatePatient(rng, cfg, event, id))
			done++
			if onProgress != nil {
				onProgress(done, cfg.TotalPatients)
			}
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}

	return flush()
}

// simulatePatient produces one fully-simulated patient for event, seeded by
// rng (already derived from jobID and id by the caller).
func (s *Simulator) simulatePatient(rng *rand.Rand, cfg models.Configuration, event models.CasualtyEvent, id int) models.Patient {
	front := s.sampleFront(rng, cfg.Fronts)
	nationality := s.sampleNationality(rng, front.NationalityDistribution)
	injuryType := s.sampleInjuryType(rng, cfg.InjuryMix)
	code, display := s.catalog.SampleInjury(rng, injuryType)
	identity := s.catalog.SampleIdentity(rng, nationality)
	triage := sampleTriage(rng, injuryType)

	jitter := time.Duration(rng.Float64() * 5 * float64(time.Minute))
	injuryTimestamp := event.Timestamp.Add(jitter)

	timeline, treatments, finalStatus, lastFacility := s.simulateFlow(rng, cfg.BypassProbability, triage, injuryType, code, injuryTimestamp)

	return models.Patient{
		ID:              id,
		Nationality:     nationality,
		FrontID:         front.ID,
		Triage:          triage,
		InjuryType:      injuryType,
		Diagnoses:       []models.Diagnosis{{Code: code, Display: display, Treatments: treatments}},
		GivenName:       identity.GivenName,
		FamilyName:      identity.FamilyName,
		Gender:          identity.Gender,
		InjuryTimestamp: injuryTimestamp,
		Timeline:        timeline,
		FinalStatus:     finalStatus,
		LastFacility:    lastFacility,
	}
}

// seedFor derives a deterministic per-patient seed from (jobID, patientID)
// so concurrent batches never depend on scheduling order.
func seedFor(jobID string, patientID int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", jobID, patientID)
	return int64(h.Sum64())
}

func (s *Simulator) sampleFront(rng *rand.Rand, fronts []models.FrontConfig) models.FrontConfig {
	weights := make([]float64, len(fronts))
	for i, f := range fronts {
		weights[i] = f.CasualtyRate
	}
	return fronts[weightedIndex(rng, weights)]
}

func (s *Simulator) sampleNationality(rng *rand.Rand, dist []models.NationalityWeight) string {
	if len(dist) == 0 {
		return "UNK"
	}
	weights := make([]float64, len(dist))
	for i, nw := range dist {
		weights[i] = nw.Weight
	}
	return dist[weightedIndex(rng, weights)].Country
}

func (s *Simulator) sampleInjuryType(rng *rand.Rand, mix map[models.InjuryType]float64) models.InjuryType {
	types := make([]models.InjuryType, 0, len(mix))
	for t := range mix {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	weights := make([]float64, len(types))
	for i, t := range types {
		weights[i] = mix[t]
	}
	return types[weightedIndex(rng, weights)]
}

func sampleTriage(rng *rand.Rand, injuryType models.InjuryType) models.Triage {
	table := defaultTriageWeights[injuryType]
	order := []models.Triage{models.TriageT1, models.TriageT2, models.TriageT3}
	weights := make([]float64, len(order))
	for i, tr := range order {
		weights[i] = table[tr]
	}
	return order[weightedIndex(rng, weights)]
}

func weightedIndex(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	r := rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r < cum {
			return i
		}
	}
	return len(weights) - 1
}

// simulateFlow advances a single patient through the evacuation chain and
// returns its timeline, the accumulated treatment list, final status, and
// last facility reached.
func (s *Simulator) simulateFlow(rng *rand.Rand, bypassProbability float64, triage models.Triage, injuryType models.InjuryType, diagnosisCode string, injuryTimestamp time.Time) ([]models.TimelineEvent, []string, models.FinalStatus, models.Facility) {
	var timeline []models.TimelineEvent
	var treatments []string

	facility := models.FacilityPOI
	t := injuryTimestamp

	for step := 0; step < len(evac.FacilityOrder()); step++ {
		hoursSinceInjury := t.Sub(injuryTimestamp).Hours()
		timeline = append(timeline, models.TimelineEvent{
			EventType:        models.EventArrival,
			Facility:         facility,
			Timestamp:        t,
			HoursSinceInjury: hoursSinceInjury,
			Triage:           triage,
		})

		evacHours := s.evac.EvacuationHours(rng, facility, triage)
		pKiaEvac := baseKIARate[facility][injuryType] * s.evac.KIAModifier(triage)

		if rng.Float64() < pKiaEvac {
			dt := rng.Float64() * evacHours
			kiaTime := t.Add(time.Duration(dt * float64(time.Hour)))
			timeline = append(timeline, models.TimelineEvent{
				EventType:        models.EventKIA,
				Facility:         facility,
				Timestamp:        kiaTime,
				HoursSinceInjury: kiaTime.Sub(injuryTimestamp).Hours(),
				Triage:           triage,
			})
			return timeline, treatments, models.StatusKIA, facility
		}

		if facility != models.FacilityRole4 {
			pRtd := baseRTDRate[facility][injuryType] * s.evac.RTDModifier(triage)
			if rng.Float64() < pRtd {
				dt := rng.Float64() * evacHours
				rtdTime := t.Add(time.Duration(dt * float64(time.Hour)))
				timeline = append(timeline, models.TimelineEvent{
					EventType:        models.EventRTD,
					Facility:         facility,
					Timestamp:        rtdTime,
					HoursSinceInjury: rtdTime.Sub(injuryTimestamp).Hours(),
					Triage:           triage,
				})
				return timeline, treatments, models.StatusRTD, facility
			}
		}

		evacDuration := evacHours
		timeline = append(timeline, models.TimelineEvent{
			EventType:               models.EventEvacuationStart,
			Facility:                facility,
			Timestamp:               t,
			HoursSinceInjury:        hoursSinceInjury,
			Triage:                  triage,
			EvacuationDurationHours: &evacDuration,
		})

		treatments = append(treatments, s.protocols.Select(diagnosisCode, "", facility, triage, hoursSinceInjury)...)

		if facility == models.FacilityRole4 {
			rtdTime := t.Add(time.Duration(evacHours * float64(time.Hour)))
			timeline = append(timeline, models.TimelineEvent{
				EventType:        models.EventRTD,
				Facility:         facility,
				Timestamp:        rtdTime,
				HoursSinceInjury: rtdTime.Sub(injuryTimestamp).Hours(),
				Triage:           triage,
			})
			return timeline, treatments, models.StatusRTD, facility
		}

		next, ok := evac.Next(facility)
		if !ok {
			return timeline, treatments, models.StatusRemainsRole4, facility
		}

		bypassed := false
		if facility == models.FacilityPOI && rng.Float64() < bypassProbability {
			if afterNext, ok2 := evac.Next(next); ok2 {
				bypassed = true
				next = afterNext
			}
		}

		transitHours, err := s.transitHours(rng, facility, next, triage, bypassed)
		if err != nil {
			return timeline, treatments, models.StatusRemainsRole4, facility
		}

		pKiaTransit := pKiaEvac * transitKIAModifierFactor
		if rng.Float64() < pKiaTransit {
			dt := rng.Float64() * transitHours
			kiaTime := t.Add(time.Duration(evacHours*float64(time.Hour)) + time.Duration(dt*float64(time.Hour)))
			timeline = append(timeline, models.TimelineEvent{
				EventType:        models.EventKIA,
				Facility:         facility,
				Timestamp:        kiaTime,
				HoursSinceInjury: kiaTime.Sub(injuryTimestamp).Hours(),
				Triage:           triage,
			})
			return timeline, treatments, models.StatusKIA, facility
		}

		transitDuration := transitHours
		transitStartTime := t.Add(time.Duration(evacHours * float64(time.Hour)))
		timeline = append(timeline, models.TimelineEvent{
			EventType:            models.EventTransitStart,
			Facility:             facility,
			Timestamp:            transitStartTime,
			HoursSinceInjury:     transitStartTime.Sub(injuryTimestamp).Hours(),
			Triage:               triage,
			TransitDurationHours: &transitDuration,
		})

		t = transitStartTime.Add(time.Duration(transitHours * float64(time.Hour)))
		facility = next
	}

	return timeline, treatments, models.StatusRemainsRole4, facility
}

// transitHours samples the configured transit window for facility->next. A
// bypassed POI->Role2 leg has no directly configured route, so it is
// approximated as the sum of the two adjacent legs it replaces
// (POI->Role1 and Role1->Role2).
func (s *Simulator) transitHours(rng *rand.Rand, facility, next models.Facility, triage models.Triage, bypassed bool) (float64, error) {
	if !bypassed {
		return s.evac.TransitHours(rng, facility, next, triage)
	}
	mid, ok := evac.Next(facility)
	if !ok {
		return s.evac.TransitHours(rng, facility, next, triage)
	}
	h1, err := s.evac.TransitHours(rng, facility, mid, triage)
	if err != nil {
		return 0, err
	}
	h2, err := s.evac.TransitHours(rng, mid, next, triage)
	if err != nil {
		return 0, err
	}
	return h1 + h2, nil
}
