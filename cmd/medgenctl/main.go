// Package main implements medgenctl, the administrative CLI for API key
// management and job retention, wired directly against the durable store
// (SPEC_FULL §6: "CLI surface (administrative key management)"). It speaks
// to the same store.Store the HTTP server uses, following the
// root-command-plus-subcommands shape of arctl's pkg/cli/root.go, adapted
// from an HTTP-client-backed CLI to one that calls the store directly since
// the spec defines no separate admin HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/banton/medical-patients-sub003/internal/store"
	"github.com/banton/medical-patients-sub003/pkg/config"
)

// Exit codes per SPEC_FULL §6.
const (
	exitOK         = 0
	exitUnexpected = 1
	exitValidation = 2
	exitNotFound   = 3
	exitConflict   = 4
)

var (
	outputFormat string
	dbPool       *pgxpool.Pool
	st           store.Store
)

var rootCmd = &cobra.Command{
	Use:           "medgenctl",
	Short:         "Administer API keys and job retention for the casualty generation service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "json", "table", "csv":
		default:
			return cliError(exitValidation, fmt.Errorf("unknown --format %q: must be json, table, or csv", outputFormat))
		}
		cfg, err := config.Load()
		if err != nil {
			return cliError(exitUnexpected, err)
		}
		s, pool := connectStore(cmd.Context(), cfg)
		st, dbPool = s, pool
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: json, table, csv")
	rootCmd.AddCommand(
		createKeyCmd,
		listKeysCmd,
		showKeyCmd,
		activateKeyCmd,
		deactivateKeyCmd,
		deleteKeyCmd,
		usageCmd,
		statsCmd,
		limitsCmd,
		extendCmd,
		rotateCmd,
		cleanupCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if ce, ok := err.(*cliErr); ok {
			fmt.Fprintln(os.Stderr, "error:", ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitUnexpected)
	}
}

// connectStore mirrors cmd/medgen's Postgres-or-memory fallback so the CLI
// observes the same store the server would, without requiring a database
// for local/demo use.
func connectStore(ctx context.Context, cfg *config.Config) (store.Store, *pgxpool.Pool) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return store.NewMemoryStore(), nil
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return store.NewMemoryStore(), nil
	}
	return store.NewPgStore(pool), pool
}

// cliErr carries an explicit process exit code alongside the error that
// caused it, so main can translate package-level failures (NOT_FOUND,
// CONFLICT, validation) into the exit codes SPEC_FULL §6 assigns them.
type cliErr struct {
	code int
	err  error
}

func (e *cliErr) Error() string { return e.err.Error() }

func cliError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliErr{code: code, err: err}
}

// render writes v to stdout in the active --format, using tablewriter for
// the table format and json.MarshalIndent/csv-joined rows otherwise.
func render(headers []string, rows [][]string, v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "csv":
		fmt.Println(strings.Join(headers, ","))
		for _, row := range rows {
			fmt.Println(strings.Join(row, ","))
		}
		return nil
	default:
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader(headers)
		table.SetAutoWrapText(false)
		for _, row := range rows {
			table.Append(row)
		}
		table.Render()
		return nil
	}
}
