// Package catalog loads demographic identity tables and the injury code
// catalog at process start, the way cerebra's router builds its default
// model registry (buildDefaultModelRegistry) and pricing table
// (buildDefaultPricing): a handful of package-level builder functions
// populate value maps once, and the resulting Catalog is passed by value
// into every constructor that needs it rather than read from a global.
//
// A Catalog is immutable after construction and therefore safe for
// concurrent read access without locking.
package catalog

import (
	"math/rand"
	"sort"

	"github.com/banton/medical-patients-sub003/pkg/models"
)

// Identity is a sampled person identity.
type Identity struct {
	GivenName  string
	FamilyName string
	Gender     string
}

type weightedIdentity struct {
	identity Identity
	weight   float64
}

type weightedInjury struct {
	code    string
	display string
	weight  float64
}

// Catalog is the read-only reference-data bundle for demographics and
// injuries. Construct once at startup with New and share the value.
type Catalog struct {
	identitiesByNationality map[string][]weightedIdentity
	genericIdentities       []weightedIdentity
	injuriesByType          map[models.InjuryType][]weightedInjury
}

// New builds a Catalog from the bundled reference tables below. It never
// fails: unknown nationalities fall back to the generic identity table at
// sample time, not at construction time.
func New() *Catalog {
	c := &Catalog{
		identitiesByNationality: buildIdentityTables(),
		genericIdentities:       buildGenericIdentities(),
		injuriesByType:          buildInjuryTables(),
	}
	return c
}

// SampleIdentity draws a weighted-random identity for the given nationality
// code, falling back to the generic table when the nationality is unknown.
func (c *Catalog) SampleIdentity(rng *rand.Rand, nationality string) Identity {
	table, ok := c.identitiesByNationality[nationality]
	if !ok || len(table) == 0 {
		table = c.genericIdentities
	}
	return table[weightedIndex(rng, identityWeights(table))].identity
}

// SampleInjury draws a weighted-random injury code and display string for
// the given injury type, in the stable code-sorted order the table was
// built with.
func (c *Catalog) SampleInjury(rng *rand.Rand, injuryType models.InjuryType) (code, display string) {
	table := c.injuriesByType[injuryType]
	if len(table) == 0 {
		return "UNSPECIFIED", "Unspecified condition"
	}
	entry := table[weightedIndex(rng, injuryWeights(table))]
	return entry.code, entry.display
}

// Codes returns the sorted list of injury codes for a given injury type,
// used by tests and the evacuation-times/reference endpoints that need a
// stable iteration order.
func (c *Catalog) Codes(injuryType models.InjuryType) []string {
	table := c.injuriesByType[injuryType]
	codes := make([]string, len(table))
	for i, e := range table {
		codes[i] = e.code
	}
	sort.Strings(codes)
	return codes
}

func identityWeights(table []weightedIdentity) []float64 {
	w := make([]float64, len(table))
	for i, e := range table {
		w[i] = e.weight
	}
	return w
}

func injuryWeights(table []weightedInjury) []float64 {
	w := make([]float64, len(table))
	for i, e := range table {
		w[i] = e.weight
	}
	return w
}

// weightedIndex performs a weighted-random selection over non-negative
// weights, returning the last index if floating point rounding leaves a
// small remainder (mirrors the simulator's own weighted-sample helper).
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

func buildGenericIdentities() []weightedIdentity {
	return []weightedIdentity{
		{Identity{"Alex", "Smith", "male"}, 1},
		{Identity{"Sam", "Jones", "female"}, 1},
		{Identity{"Jordan", "Taylor", "male"}, 1},
		{Identity{"Casey", "Brown", "female"}, 1},
	}
}

func buildIdentityTables() map[string][]weightedIdentity {
	return map[string][]weightedIdentity{
		"USA": {
			{Identity{"James", "Miller", "male"}, 3},
			{Identity{"Michael", "Davis", "male"}, 3},
			{Identity{"Mary", "Wilson", "female"}, 2},
			{Identity{"Patricia", "Moore", "female"}, 2},
		},
		"GBR": {
			{Identity{"Oliver", "Clarke", "male"}, 3},
			{Identity{"Harry", "Evans", "male"}, 2},
			{Identity{"Olivia", "Hughes", "female"}, 2},
			{Identity{"Amelia", "Edwards", "female"}, 2},
		},
		"UKR": {
			{Identity{"Oleksandr", "Kovalenko", "male"}, 3},
			{Identity{"Andriy", "Shevchenko", "male"}, 3},
			{Identity{"Olena", "Boyko", "female"}, 2},
			{Identity{"Kateryna", "Tkachenko", "female"}, 2},
		},
		"POL": {
			{Identity{"Jakub", "Kowalski", "male"}, 3},
			{Identity{"Piotr", "Nowak", "male"}, 2},
			{Identity{"Anna", "Wojcik", "female"}, 2},
			{Identity{"Maria", "Kaminski", "female"}, 2},
		},
	}
}

func buildInjuryTables() map[models.InjuryType][]weightedInjury {
	return map[models.InjuryType][]weightedInjury{
		models.InjuryBattle: {
			{"BI-GSW-EXT", "Gunshot wound, extremity", 5},
			{"BI-GSW-TORSO", "Gunshot wound, torso", 3},
			{"BI-FRAG-MULTI", "Multiple fragment wounds", 4},
			{"BI-BLAST-TBI", "Blast traumatic brain injury", 2},
			{"BI-BURN-THERM", "Thermal burn", 2},
			{"BI-AMPUT-TRAUM", "Traumatic amputation", 1},
		},
		models.InjuryNonBattle: {
			{"NBI-FX-LIMB", "Limb fracture, non-combat", 4},
			{"NBI-SPRAIN", "Sprain/strain", 5},
			{"NBI-LACERATION", "Laceration", 4},
			{"NBI-VEHICLE", "Vehicle accident trauma", 2},
			{"NBI-BURN-NONCOMBAT", "Non-combat burn", 1},
		},
		models.InjuryDisease: {
			{"DIS-GI", "Acute gastrointestinal illness", 4},
			{"DIS-RESP", "Respiratory infection", 4},
			{"DIS-HEAT", "Heat injury", 2},
			{"DIS-COLD", "Cold injury", 2},
			{"DIS-DERM", "Dermatological condition", 3},
			{"DIS-PSYCH", "Combat stress reaction", 2},
		},
	}
}
