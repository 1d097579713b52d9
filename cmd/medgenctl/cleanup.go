package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/banton/medical-patients-sub003/internal/jobs"
	"github.com/banton/medical-patients-sub003/pkg/config"
)

var cleanupRetentionDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep completed job output directories past their retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return cliError(exitUnexpected, err)
		}
		days := cleanupRetentionDays
		if days <= 0 {
			days = cfg.JobRetentionDays
		}
		deleted, err := jobs.EnforceRetentionFor(cmd.Context(), st, cfg.OutputRoot, time.Duration(days)*24*time.Hour)
		if err != nil {
			return cliError(exitUnexpected, err)
		}
		headers := []string{"deleted"}
		row := []string{strconv.Itoa(deleted)}
		return render(headers, [][]string{row}, map[string]any{"deleted": deleted})
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupRetentionDays, "retention-days", 0, "override the configured retention window (0 = use JOB_RETENTION_DAYS)")
}
