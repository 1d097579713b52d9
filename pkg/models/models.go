// Package models defines the core data structures used across the
// casualty generation service: requests, configuration, patients,
// timelines, jobs, and API keys.
package models

import "time"

// Facility is a military echelon of medical care, ordered POI..Role4.
type Facility string

const (
	FacilityPOI   Facility = "POI"
	FacilityRole1 Facility = "Role1"
	FacilityRole2 Facility = "Role2"
	FacilityRole3 Facility = "Role3"
	FacilityRole4 Facility = "Role4"
)

// Triage is the urgency class assigned to a patient; T1 is most urgent.
type Triage string

const (
	TriageT1 Triage = "T1"
	TriageT2 Triage = "T2"
	TriageT3 Triage = "T3"
)

// InjuryType categorizes why a patient entered the evacuation chain.
type InjuryType string

const (
	InjuryBattle    InjuryType = "Battle Injury"
	InjuryNonBattle InjuryType = "Non-Battle Injury"
	InjuryDisease   InjuryType = "Disease"
)

// FinalStatus is the terminal outcome of a patient's timeline.
type FinalStatus string

const (
	StatusKIA          FinalStatus = "KIA"
	StatusRTD          FinalStatus = "RTD"
	StatusRemainsRole4 FinalStatus = "Remains_Role4"
)

// Intensity scales the base hourly casualty arrival rate.
type Intensity string

const (
	IntensityLow     Intensity = "low"
	IntensityMedium  Intensity = "medium"
	IntensityHigh    Intensity = "high"
	IntensityExtreme Intensity = "extreme"
)

// Tempo shapes how casualty intensity evolves over the horizon.
type Tempo string

const (
	TempoSustained   Tempo = "sustained"
	TempoEscalating  Tempo = "escalating"
	TempoSurge       Tempo = "surge"
	TempoDeclining   Tempo = "declining"
	TempoIntermittent Tempo = "intermittent"
)

// OutputFormat is a requested artifact encoding.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
	FormatXLSX OutputFormat = "xlsx"
	FormatXML  OutputFormat = "xml"
	FormatFHIR OutputFormat = "fhir"
)

// Priority controls the order in which pending jobs are dequeued.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// NationalityWeight is a single country-code/weight pair in a front's
// nationality distribution.
type NationalityWeight struct {
	Country string  `json:"country"`
	Weight  float64 `json:"weight"`
}

// FrontConfig describes one combat front: its relative casualty rate and
// the nationality mix of casualties produced on it.
type FrontConfig struct {
	ID                      string              `json:"id"`
	CasualtyRate            float64             `json:"casualty_rate"`
	NationalityDistribution []NationalityWeight `json:"nationality_distribution"`
}

// EvacTimeRange is a uniform sampling window, in hours.
type EvacTimeRange struct {
	MinHours float64 `json:"min_hours"`
	MaxHours float64 `json:"max_hours"`
}

// EvacuationConfig describes evacuation and transit durations by facility
// and triage, plus KIA/RTD rate modifiers.
type EvacuationConfig struct {
	// EvacuationTimes[facility][triage] = range.
	EvacuationTimes map[Facility]map[Triage]EvacTimeRange `json:"evacuation_times"`
	// TransitTimes[from][to][triage] = range.
	TransitTimes map[Facility]map[Facility]map[Triage]EvacTimeRange `json:"transit_times"`
	KIAModifier  map[Triage]float64 `json:"kia_modifier"`
	RTDModifier  map[Triage]float64 `json:"rtd_modifier"`
}

// SpecialEventConfig describes a discrete mass-casualty-style injection.
type SpecialEventConfig struct {
	Type          string  `json:"type"`
	MinPatients   int     `json:"min_patients"`
	MaxPatients   int     `json:"max_patients"`
	MassThreshold int     `json:"mass_casualty_threshold"`
	Probability   float64 `json:"probability"`
}

// EnvironmentalConfig describes multiplicative intensity modifiers applied
// to selected hour bands.
type EnvironmentalConfig struct {
	NightOperations bool `json:"night_operations"`
	AdverseWeather  bool `json:"adverse_weather"`
}

// SurgeConfig configures the "surge" temporal shape: k casualty spikes per
// day centered on HoursOfDay, each WindowHours wide, scaled by Multiplier
// relative to the baseline rate. Zero-valued fields are replaced with the
// historical two-spike default at generation time.
type SurgeConfig struct {
	HoursOfDay  []float64 `json:"hours_of_day"`
	Multiplier  float64   `json:"multiplier"`
	WindowHours float64   `json:"window_hours"`
}

// Configuration is the fully validated, normalized generation request body.
type Configuration struct {
	TotalPatients       int                    `json:"total_patients"`
	DaysOfFighting      int                    `json:"days_of_fighting"`
	BaseDate            time.Time              `json:"base_date"`
	InjuryMix           map[InjuryType]float64 `json:"injury_mix"`
	Fronts              []FrontConfig          `json:"fronts"`
	WarfareScenarios    map[string]bool        `json:"warfare_scenarios"`
	Intensity           Intensity              `json:"intensity"`
	Tempo               Tempo                  `json:"tempo"`
	Environmental       EnvironmentalConfig     `json:"environmental"`
	SpecialEvents       []SpecialEventConfig    `json:"special_events"`
	Surge               SurgeConfig            `json:"surge"`
	Evacuation          EvacuationConfig        `json:"evacuation"`
	BypassProbability   float64                 `json:"bypass_probability"`
	Seed                int64                   `json:"seed"`
}

// GenerationRequest is the raw HTTP request body for POST /generation.
// Exactly one of ConfigurationID or Configuration must be set.
type GenerationRequest struct {
	ConfigurationID    string         `json:"configuration_id,omitempty"`
	Configuration      *Configuration `json:"configuration,omitempty"`
	OutputFormats      []OutputFormat `json:"output_formats"`
	UseEncryption      bool           `json:"use_encryption"`
	EncryptionPassword string         `json:"encryption_password,omitempty"`
	Priority           Priority       `json:"priority,omitempty"`
}

// CasualtyEvent is a timestamped batch of casualties produced by the
// temporal event generator.
type CasualtyEvent struct {
	EventID             string    `json:"event_id"`
	Timestamp           time.Time `json:"timestamp"`
	PatientCount        int       `json:"patient_count"`
	WarfareType         string    `json:"warfare_type"`
	IsMassCasualty      bool      `json:"is_mass_casualty"`
	EnvironmentalFactors []string `json:"environmental_factors,omitempty"`
	SpecialEventType    string    `json:"special_event_type,omitempty"`
}

// TimelineEventType enumerates the kinds of events on a patient timeline.
type TimelineEventType string

const (
	EventArrival         TimelineEventType = "arrival"
	EventEvacuationStart  TimelineEventType = "evacuation_start"
	EventTransitStart     TimelineEventType = "transit_start"
	EventKIA              TimelineEventType = "kia"
	EventRTD              TimelineEventType = "rtd"
)

// TimelineEvent is a single entry in a patient's movement timeline.
type TimelineEvent struct {
	EventType               TimelineEventType `json:"event_type"`
	Facility                Facility          `json:"facility"`
	Timestamp               time.Time         `json:"timestamp"`
	HoursSinceInjury         float64           `json:"hours_since_injury"`
	Triage                   Triage            `json:"triage"`
	EvacuationDurationHours *float64          `json:"evacuation_duration_hours,omitempty"`
	TransitDurationHours    *float64          `json:"transit_duration_hours,omitempty"`
}

// Diagnosis is a single diagnosed condition with its selected treatments.
type Diagnosis struct {
	Code        string   `json:"code"`
	Display     string   `json:"display"`
	Treatments  []string `json:"treatments,omitempty"`
}

// Patient is a single synthetic casualty and its complete record.
type Patient struct {
	ID               int             `json:"id"`
	Nationality      string          `json:"nationality"`
	FrontID          string          `json:"front_id"`
	Triage           Triage          `json:"triage"`
	InjuryType       InjuryType      `json:"injury_type"`
	Diagnoses        []Diagnosis     `json:"diagnoses"`
	GivenName        string          `json:"given_name,omitempty"`
	FamilyName       string          `json:"family_name,omitempty"`
	Gender           string          `json:"gender,omitempty"`
	InjuryTimestamp  time.Time       `json:"injury_timestamp"`
	Timeline         []TimelineEvent `json:"timeline"`
	FinalStatus      FinalStatus     `json:"final_status"`
	LastFacility     Facility        `json:"last_facility"`
}

// JobError describes the error that caused a job to fail.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// JobSummary is a small aggregate attached to a completed job.
type JobSummary struct {
	TotalPatients   int            `json:"total_patients"`
	KIACount        int            `json:"kia_count"`
	RTDCount        int            `json:"rtd_count"`
	Role4Count      int            `json:"remains_role4_count"`
	ByTriage        map[Triage]int `json:"by_triage"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// Job is an asynchronous generation run owned by an API key.
type Job struct {
	ID              string         `json:"id" db:"id"`
	TenantKeyID     string         `json:"-" db:"tenant_key_id"`
	Status          JobStatus      `json:"status" db:"status"`
	Progress        float64        `json:"progress" db:"progress"`
	PhaseDescription string        `json:"phase_description" db:"phase_description"`
	Priority        Priority       `json:"priority" db:"priority"`
	Config          Configuration  `json:"config" db:"config"`
	OutputFormats   []OutputFormat `json:"output_formats" db:"output_formats"`
	OutputFiles     []string       `json:"output_files" db:"output_files"`
	UseEncryption   bool           `json:"use_encryption" db:"use_encryption"`
	Partial         bool           `json:"partial" db:"partial"`
	Deleted         bool           `json:"deleted" db:"deleted"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Error           *JobError      `json:"error,omitempty" db:"error"`
	Summary         *JobSummary    `json:"summary,omitempty" db:"summary"`
}

// KeyLimits bounds what a given API key is permitted to request.
type KeyLimits struct {
	MaxPatientsPerRequest int `json:"max_patients_per_request,omitempty"`
	MaxRequestsPerDay     int `json:"max_requests_per_day,omitempty"`
	MaxRequestsPerMinute  int `json:"max_requests_per_minute"`
	MaxRequestsPerHour    int `json:"max_requests_per_hour"`
}

// KeyCounters tracks usage for a given API key.
type KeyCounters struct {
	TotalRequests         int64     `json:"total_requests"`
	TotalPatientsGenerated int64    `json:"total_patients_generated"`
	DailyRequests         int64     `json:"daily_requests"`
	DailyResetAt          time.Time `json:"daily_reset_at"`
}

// APIKey is a multi-tenant admission credential.
type APIKey struct {
	ID        string      `json:"id" db:"id"`
	Key       string      `json:"key" db:"key"`
	Name      string      `json:"name" db:"name"`
	Email     string      `json:"email,omitempty" db:"email"`
	IsActive  bool        `json:"is_active" db:"is_active"`
	IsDemo    bool        `json:"is_demo" db:"is_demo"`
	Limits    KeyLimits   `json:"limits" db:"limits"`
	Counters  KeyCounters `json:"counters" db:"counters"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// JobStatistics is the aggregated per-job report returned by the
// timeline statistics endpoint.
type JobStatistics struct {
	JobID           string             `json:"job_id"`
	TotalPatients   int                `json:"total_patients"`
	ByTriage        map[Triage]int     `json:"by_triage"`
	ByFacility      map[Facility]int   `json:"by_last_facility"`
	ByStatus        map[FinalStatus]int `json:"by_final_status"`
	MeanHoursToOutcome   float64       `json:"mean_hours_to_outcome"`
	MedianHoursToOutcome float64       `json:"median_hours_to_outcome"`
	MaxHoursToOutcome    float64       `json:"max_hours_to_outcome"`
}
