package main

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/banton/medical-patients-sub003/internal/apierror"
	"github.com/banton/medical-patients-sub003/internal/apikeys"
	"github.com/banton/medical-patients-sub003/pkg/models"
)

var (
	createKeyName           string
	createKeyEmail          string
	createKeyDemo           bool
	createKeyExpiresInDays  int
	createKeyMaxPatientsReq int
	createKeyMaxPerMinute   int
	createKeyMaxPerHour     int
	createKeyMaxPerDay      int
)

var createKeyCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a new API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if createKeyName == "" {
			return cliError(exitValidation, fmt.Errorf("--name is required"))
		}
		now := time.Now().UTC()
		limits := apikeys.KeyLimits(createKeyDemo)
		if createKeyMaxPatientsReq > 0 {
			limits.MaxPatientsPerRequest = createKeyMaxPatientsReq
		}
		if createKeyMaxPerMinute > 0 {
			limits.MaxRequestsPerMinute = createKeyMaxPerMinute
		}
		if createKeyMaxPerHour > 0 {
			limits.MaxRequestsPerHour = createKeyMaxPerHour
		}
		if createKeyMaxPerDay > 0 {
			limits.MaxRequestsPerDay = createKeyMaxPerDay
		}

		key := &models.APIKey{
			ID:        uuid.NewString(),
			Key:       newKeySecret(),
			Name:      createKeyName,
			Email:     createKeyEmail,
			IsActive:  true,
			IsDemo:    createKeyDemo,
			Limits:    limits,
			Counters:  models.KeyCounters{DailyResetAt: now.Add(24 * time.Hour)},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if createKeyExpiresInDays > 0 {
			expires := now.AddDate(0, 0, createKeyExpiresInDays)
			key.ExpiresAt = &expires
		}
		if err := st.SaveKey(cmd.Context(), key); err != nil {
			return cliError(exitUnexpected, err)
		}
		return render(keyHeaders(), [][]string{keyRow(key)}, key)
	},
}

// newKeySecret mints a random key value, encoding a fresh UUID's bytes as
// base64url so the secret has no dashes to escape on a command line.
func newKeySecret() string {
	id := uuid.New()
	return "mgk_" + base64.RawURLEncoding.EncodeToString(id[:])
}

var listKeysCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := st.ListKeys(cmd.Context())
		if err != nil {
			return cliError(exitUnexpected, err)
		}
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, keyRow(k))
		}
		return render(keyHeaders(), rows, keys)
	},
}

var showKeyCmd = &cobra.Command{
	Use:   "show <key-id>",
	Short: "Show a single API key's details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := lookupKey(cmd, args[0])
		if err != nil {
			return err
		}
		return render(keyHeaders(), [][]string{keyRow(key)}, key)
	},
}

var activateKeyCmd = &cobra.Command{
	Use:   "activate <key-id>",
	Short: "Reactivate a deactivated API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setKeyActive(cmd, args[0], true)
	},
}

var deactivateKeyCmd = &cobra.Command{
	Use:   "deactivate <key-id>",
	Short: "Deactivate an API key without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setKeyActive(cmd, args[0], false)
	},
}

func setKeyActive(cmd *cobra.Command, id string, active bool) error {
	key, err := lookupKey(cmd, id)
	if err != nil {
		return err
	}
	key.IsActive = active
	key.UpdatedAt = time.Now().UTC()
	if err := st.SaveKey(cmd.Context(), key); err != nil {
		return cliError(exitUnexpected, err)
	}
	return render(keyHeaders(), [][]string{keyRow(key)}, key)
}

var deleteKeyCmd = &cobra.Command{
	Use:   "delete <key-id>",
	Short: "Permanently delete an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := lookupKey(cmd, args[0]); err != nil {
			return err
		}
		if err := st.DeleteKey(cmd.Context(), args[0]); err != nil {
			return cliError(exitUnexpected, err)
		}
		return render([]string{"id", "deleted"}, [][]string{{args[0], "true"}}, map[string]any{"id": args[0], "deleted": true})
	},
}

func init() {
	createKeyCmd.Flags().StringVar(&createKeyName, "name", "", "owner or application name (required)")
	createKeyCmd.Flags().StringVar(&createKeyEmail, "email", "", "contact email")
	createKeyCmd.Flags().BoolVar(&createKeyDemo, "demo", false, "provision with restricted demo limits")
	createKeyCmd.Flags().IntVar(&createKeyExpiresInDays, "expires-in-days", 0, "expire the key after N days (0 = never)")
	createKeyCmd.Flags().IntVar(&createKeyMaxPatientsReq, "max-patients-per-request", 0, "override the default per-request patient cap")
	createKeyCmd.Flags().IntVar(&createKeyMaxPerMinute, "max-requests-per-minute", 0, "override the default per-minute rate limit")
	createKeyCmd.Flags().IntVar(&createKeyMaxPerHour, "max-requests-per-hour", 0, "override the default per-hour rate limit")
	createKeyCmd.Flags().IntVar(&createKeyMaxPerDay, "max-requests-per-day", 0, "override the default daily quota")
}

// lookupKey resolves a key ID to its record, translating a store miss into
// the NOT_FOUND exit code rather than the generic unexpected-error code.
func lookupKey(cmd *cobra.Command, id string) (*models.APIKey, error) {
	key, err := st.GetKeyByID(cmd.Context(), id)
	if err != nil {
		if apiErr, ok := apierror.As(err); ok && apiErr.Code == apierror.CodeNotFound {
			return nil, cliError(exitNotFound, err)
		}
		return nil, cliError(exitNotFound, fmt.Errorf("key %q not found", id))
	}
	return key, nil
}

func keyHeaders() []string {
	return []string{"id", "name", "key", "active", "demo", "expires_at", "created_at"}
}

func keyRow(k *models.APIKey) []string {
	expires := "-"
	if k.ExpiresAt != nil {
		expires = k.ExpiresAt.Format(time.RFC3339)
	}
	return []string{
		k.ID,
		k.Name,
		k.Key,
		strconv.FormatBool(k.IsActive),
		strconv.FormatBool(k.IsDemo),
		expires,
		k.CreatedAt.Format(time.RFC3339),
	}
}
