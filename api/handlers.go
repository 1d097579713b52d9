// Package api implements the HTTP surface of the casualty generation
// service (SPEC_FULL §6): job submission, job lookup, cancellation,
// artifact download, and per-patient/aggregate timeline reporting. Route
// registration and response shaping follow aegis's api/handlers.go
// (Handler struct wrapping the domain managers, RegisterRoutes building
// route groups under a versioned prefix), with admission handled by
// internal/middleware.Auth rather than the inline APIKeyAuth aegis used.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/internal/apikeys"
	"github.com/banton/medical-patients-sub003/internal/evac"
	"github.com/banton/medical-patients-sub003/internal/jobs"
	"github.com/banton/medical-patients-sub003/internal/middleware"
	"github.com/banton/medical-patients-sub003/internal/store"
	"github.com/banton/medical-patients-sub003/internal/validate"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

// noopConfigResolver never resolves a configuration_id: this service does
// not persist named configurations separately from jobs (SPEC_FULL §6's
// persisted state layout has only jobs and api_keys tables), so every
// request must inline its Configuration.
type noopConfigResolver struct{}

func (noopConfigResolver) ResolveConfig(string) (*models.Configuration, bool) { return nil, false }

// internalPatientsFile is the always-written JSON artifact the timeline
// endpoints read from, independent of which formats the caller requested
// for download (internal/jobs.Controller writes it unconditionally).
const internalPatientsFile = "patients.json"

// Handler holds references to the job controller, API key authenticator,
// evacuation manager, and durable store, and provides HTTP handler methods.
type Handler struct {
	jobs        *jobs.Controller
	auth        *apikeys.Authenticator
	evacManager *evac.Manager
	store       store.Store
	maxPatients int
	startTime   time.Time
	ready       func() bool
}

// NewHandler constructs a Handler. ready reports whether the reference
// catalog has finished loading and the worker pool has started (SPEC_FULL
// §6 GET /api/v1/ready).
func NewHandler(jobsController *jobs.Controller, auth *apikeys.Authenticator, evacManager *evac.Manager, st store.Store, maxPatients int, ready func() bool) *Handler {
	return &Handler{
		jobs:        jobsController,
		auth:        auth,
		evacManager: evacManager,
		store:       st,
		maxPatients: maxPatients,
		startTime:   time.Now().UTC(),
		ready:       ready,
	}
}

// RegisterRoutes sets up all API routes on the given Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	v1.GET("/health", h.Health)
	v1.GET("/ready", h.Ready)

	generation := v1.Group("/generation")
	generation.Use(middleware.Auth(h.auth, h.requestedPatients))
	generation.POST("/", h.SubmitGeneration)

	jobsGroup := v1.Group("/jobs")
	jobsGroup.Use(middleware.Auth(h.auth, nil))
	{
		jobsGroup.GET("", h.ListJobs)
		jobsGroup.GET("/:id", h.GetJob)
		jobsGroup.POST("/:id/cancel", h.CancelJob)
	}

	downloads := v1.Group("/downloads")
	downloads.Use(middleware.Auth(h.auth, nil))
	downloads.GET("/:id", h.DownloadJob)

	timeline := v1.Group("/timeline")
	timeline.Use(middleware.Auth(h.auth, nil))
	{
		timeline.GET("/jobs/:id/patients/:pid", h.GetPatientTimeline)
		timeline.GET("/jobs/:id/statistics", h.GetJobStatistics)
		timeline.GET("/configuration/evacuation-times", h.GetEvacuationTimes)
	}
}

// requestedPatients peeks at the request body's total_patients so Auth can
// enforce per-request patient caps (admission rules 2/4) before the handler
// runs. Gin's c.ShouldBindJSON in the handler re-reads the cached body, so
// this does not consume the request twice.
func (h *Handler) requestedPatients(c *gin.Context) int {
	var req models.GenerationRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		return 0
	}
	if req.Configuration != nil {
		return req.Configuration.TotalPatients
	}
	return 0
}

// Health reports 200 if the durable store is reachable, else 503.
func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": "1.0.0",
		"uptime":  time.Since(h.startTime).String(),
	})
}

// Ready reports 200 once the reference catalog and worker pool are up.
func (h *Handler) Ready(c *gin.Context) {
	if h.ready != nil && !h.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// SubmitGeneration handles POST /api/v1/generation/.
func (h *Handler) SubmitGeneration(c *gin.Context) {
	var req models.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, apierror.Validation("invalid request body: %v", err))
		return
	}

	cfg, errs := validate.Validate(req, h.maxPatients, noopConfigResolver{})
	if len(errs) > 0 {
		middleware.WriteError(c, errs[0])
		return
	}

	key := middleware.APIKeyFrom(c)
	job, err := h.jobs.SubmitJob(c.Request.Context(), key.ID, *cfg, req.OutputFormats, req.UseEncryption, req.EncryptionPassword, req.Priority)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	// Counter increment failure does not fail an already-admitted request
	// (SPEC_FULL §7 retry policy); the job has already been persisted.
	_ = h.auth.RecordUsage(c.Request.Context(), key, 0)

	base := "/api/v1"
	c.JSON(http.StatusCreated, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "job queued",
		"links": gin.H{
			"self":     base + "/jobs/" + job.ID,
			"status":   base + "/jobs/" + job.ID,
			"download": base + "/downloads/" + job.ID,
		},
	})
}

// ListJobs handles GET /api/v1/jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	key := middleware.APIKeyFrom(c)
	jobList, err := h.jobs.ListJobs(c.Request.Context(), key.ID)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobList, "count": len(jobList)})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(c *gin.Context) {
	key := middleware.APIKeyFrom(c)
	job, err := h.jobs.GetJob(c.Request.Context(), key.ID, c.Param("id"))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel.
func (h *Handler) CancelJob(c *gin.Context) {
	key := middleware.APIKeyFrom(c)
	if err := h.jobs.CancelJob(c.Request.Context(), key.ID, c.Param("id")); err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": c.Param("id"), "status": "cancelling"})
}

// DownloadJob handles GET /api/v1/downloads/{id}.
func (h *Handler) DownloadJob(c *gin.Context) {
	key := middleware.APIKeyFrom(c)
	job, err := h.jobs.GetJob(c.Request.Context(), key.ID, c.Param("id"))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	if job.Status != models.JobCompleted {
		middleware.WriteError(c, apierror.NotFound("job %q has no completed artifact", job.ID))
		return
	}

	var archiveName string
	for _, name := range job.OutputFiles {
		if filepath.Ext(name) == ".zip" {
			archiveName = name
		}
	}
	if archiveName == "" {
		middleware.WriteError(c, apierror.NotFound("job %q has no archive artifact", job.ID))
		return
	}

	path := filepath.Join(h.jobDir(job.ID), archiveName)
	if _, statErr := os.Stat(path); statErr != nil {
		middleware.WriteError(c, apierror.NotFound("artifact for job %q is missing", job.ID))
		return
	}

	c.Header("Content-Disposition", "attachment; filename=\""+archiveName+"\"")
	c.File(path)
}

func (h *Handler) jobDir(jobID string) string {
	return filepath.Join(h.jobs.OutputRoot(), "job_"+jobID)
}

// GetPatientTimeline handles GET /api/v1/timeline/jobs/{id}/patients/{pid}.
func (h *Handler) GetPatientTimeline(c *gin.Context) {
	key := middleware.APIKeyFrom(c)
	job, err := h.jobs.GetJob(c.Request.Context(), key.ID, c.Param("id"))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	patients, err := h.loadPatients(job)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	pid := c.Param("pid")
	for _, p := range patients {
		if strconv.Itoa(p.ID) == pid {
			c.JSON(http.StatusOK, gin.H{
				"patient":  p,
				"timeline": p.Timeline,
				"summary": gin.H{
					"final_status":  p.FinalStatus,
					"last_facility": p.LastFacility,
					"event_count":   len(p.Timeline),
				},
			})
			return
		}
	}
	middleware.WriteError(c, apierror.NotFound("patient %q not found in job %q", pid, job.ID))
}

// GetJobStatistics handles GET /api/v1/timeline/jobs/{id}/statistics.
func (h *Handler) GetJobStatistics(c *gin.Context) {
	key := middleware.APIKeyFrom(c)
	job, err := h.jobs.GetJob(c.Request.Context(), key.ID, c.Param("id"))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	patients, err := h.loadPatients(job)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, computeStatistics(job.ID, patients))
}

// GetEvacuationTimes handles GET /api/v1/timeline/configuration/evacuation-times.
func (h *Handler) GetEvacuationTimes(c *gin.Context) {
	c.JSON(http.StatusOK, h.evacManager.Config())
}

// loadPatients reads and decodes the patients.json artifact written for job
// at SubmitJob time. Returns NOT_FOUND if the job has no such artifact yet.
func (h *Handler) loadPatients(job *models.Job) ([]models.Patient, error) {
	if job.Status != models.JobCompleted {
		return nil, apierror.NotFound("job %q has not completed", job.ID)
	}

	data, err := os.ReadFile(filepath.Join(h.jobDir(job.ID), internalPatientsFile))
	if err != nil {
		return nil, apierror.NotFound("job %q has no timeline data available", job.ID)
	}
	var patients []models.Patient
	if err := json.Unmarshal(data, &patients); err != nil {
		return nil, apierror.Generation("api: decode patients.json for job %q: %v", job.ID, err)
	}
	return patients, nil
}

// computeStatistics aggregates per-patient outcomes into the report shape
// named by SPEC_FULL §6, generalizing cerebra's analytics.GenerateReport
// mean/median/max aggregation from LLM cost figures to hours-to-outcome.
func computeStatistics(jobID string, patients []models.Patient) models.JobStatistics {
	stats := models.JobStatistics{
		JobID:         jobID,
		TotalPatients: len(patients),
		ByTriage:      map[models.Triage]int{},
		ByFacility:    map[models.Facility]int{},
		ByStatus:      map[models.FinalStatus]int{},
	}

	hours := make([]float64, 0, len(patients))
	var sum, max float64
	for _, p := range patients {
		stats.ByTriage[p.Triage]++
		stats.ByFacility[p.LastFacility]++
		stats.ByStatus[p.FinalStatus]++

		h := 0.0
		if len(p.Timeline) > 0 {
			h = p.Timeline[len(p.Timeline)-1].HoursSinceInjury
		}
		hours = append(hours, h)
		sum += h
		if h > max {
			max = h
		}
	}

	if len(hours) > 0 {
		stats.MeanHoursToOutcome = sum / float64(len(hours))
		sort.Float64s(hours)
		stats.MedianHoursToOutcome = median(hours)
		stats.MaxHoursToOutcome = max
	}
	return stats
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
