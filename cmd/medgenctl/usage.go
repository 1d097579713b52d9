package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/banton/medical-patients-sub003/pkg/models"
)

var usageCmd = &cobra.Command{
	Use:   "usage <key-id>",
	Short: "Show usage counters for an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := lookupKey(cmd, args[0])
		if err != nil {
			return err
		}
		headers := []string{"id", "total_requests", "daily_requests", "total_patients_generated", "daily_reset_at"}
		row := []string{
			key.ID,
			strconv.FormatInt(key.Counters.TotalRequests, 10),
			strconv.FormatInt(key.Counters.DailyRequests, 10),
			strconv.FormatInt(key.Counters.TotalPatientsGenerated, 10),
			key.Counters.DailyResetAt.Format(time.RFC3339),
		}
		return render(headers, [][]string{row}, key.Counters)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate key and job statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := st.ListKeys(cmd.Context())
		if err != nil {
			return cliError(exitUnexpected, err)
		}
		jobs, err := st.ListJobs(cmd.Context(), "")
		if err != nil {
			return cliError(exitUnexpected, err)
		}
		var active, demo int
		var totalPatients int64
		for _, k := range keys {
			if k.IsActive {
				active++
			}
			if k.IsDemo {
				demo++
			}
			totalPatients += k.Counters.TotalPatientsGenerated
		}
		var completed, failed, pending int
		for _, j := range jobs {
			switch j.Status {
			case models.JobCompleted:
				completed++
			case models.JobFailed:
				failed++
			case models.JobPending, models.JobRunning:
				pending++
			}
		}
		headers := []string{"total_keys", "active_keys", "demo_keys", "total_patients_generated", "total_jobs", "completed_jobs", "failed_jobs", "in_flight_jobs"}
		row := []string{
			strconv.Itoa(len(keys)),
			strconv.Itoa(active),
			strconv.Itoa(demo),
			strconv.FormatInt(totalPatients, 10),
			strconv.Itoa(len(jobs)),
			strconv.Itoa(completed),
			strconv.Itoa(failed),
			strconv.Itoa(pending),
		}
		summary := map[string]any{
			"total_keys":               len(keys),
			"active_keys":              active,
			"demo_keys":                demo,
			"total_patients_generated": totalPatients,
			"total_jobs":               len(jobs),
			"completed_jobs":           completed,
			"failed_jobs":              failed,
			"in_flight_jobs":           pending,
		}
		return render(headers, [][]string{row}, summary)
	},
}

var (
	limitsMaxPatientsReq int
	limitsMaxPerMinute   int
	limitsMaxPerHour     int
	limitsMaxPerDay      int
)

var limitsCmd = &cobra.Command{
	Use:   "limits <key-id>",
	Short: "View or update an API key's rate and quota limits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := lookupKey(cmd, args[0])
		if err != nil {
			return err
		}
		changed := false
		if cmd.Flags().Changed("max-patients-per-request") {
			key.Limits.MaxPatientsPerRequest = limitsMaxPatientsReq
			changed = true
		}
		if cmd.Flags().Changed("max-requests-per-minute") {
			key.Limits.MaxRequestsPerMinute = limitsMaxPerMinute
			changed = true
		}
		if cmd.Flags().Changed("max-requests-per-hour") {
			key.Limits.MaxRequestsPerHour = limitsMaxPerHour
			changed = true
		}
		if cmd.Flags().Changed("max-requests-per-day") {
			key.Limits.MaxRequestsPerDay = limitsMaxPerDay
			changed = true
		}
		if changed {
			key.UpdatedAt = time.Now().UTC()
			if err := st.SaveKey(cmd.Context(), key); err != nil {
				return cliError(exitUnexpected, err)
			}
		}
		headers := []string{"id", "max_patients_per_request", "max_requests_per_minute", "max_requests_per_hour", "max_requests_per_day"}
		row := []string{
			key.ID,
			strconv.Itoa(key.Limits.MaxPatientsPerRequest),
			strconv.Itoa(key.Limits.MaxRequestsPerMinute),
			strconv.Itoa(key.Limits.MaxRequestsPerHour),
			strconv.Itoa(key.Limits.MaxRequestsPerDay),
		}
		return render(headers, [][]string{row}, key.Limits)
	},
}

var extendDays int

var extendCmd = &cobra.Command{
	Use:   "extend <key-id>",
	Short: "Extend an API key's expiration by N days",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if extendDays <= 0 {
			return cliError(exitValidation, fmt.Errorf("--days must be a positive integer"))
		}
		key, err := lookupKey(cmd, args[0])
		if err != nil {
			return err
		}
		base := time.Now().UTC()
		if key.ExpiresAt != nil && key.ExpiresAt.After(base) {
			base = *key.ExpiresAt
		}
		extended := base.AddDate(0, 0, extendDays)
		key.ExpiresAt = &extended
		key.UpdatedAt = time.Now().UTC()
		if err := st.SaveKey(cmd.Context(), key); err != nil {
			return cliError(exitUnexpected, err)
		}
		return render(keyHeaders(), [][]string{keyRow(key)}, key)
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <key-id>",
	Short: "Issue a new secret value for an existing key ID, invalidating the old one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := lookupKey(cmd, args[0])
		if err != nil {
			return err
		}
		key.Key = newKeySecret()
		key.UpdatedAt = time.Now().UTC()
		if err := st.SaveKey(cmd.Context(), key); err != nil {
			return cliError(exitUnexpected, err)
		}
		return render(keyHeaders(), [][]string{keyRow(key)}, key)
	},
}

func init() {
	limitsCmd.Flags().IntVar(&limitsMaxPatientsReq, "max-patients-per-request", 0, "set the per-request patient cap")
	limitsCmd.Flags().IntVar(&limitsMaxPerMinute, "max-requests-per-minute", 0, "set the per-minute rate limit")
	limitsCmd.Flags().IntVar(&limitsMaxPerHour, "max-requests-per-hour", 0, "set the per-hour rate limit")
	limitsCmd.Flags().IntVar(&limitsMaxPerDay, "max-requests-per-day", 0, "set the daily quota")
	extendCmd.Flags().IntVar(&extendDays, "days", 0, "number of days to extend expiration by (required)")
}
