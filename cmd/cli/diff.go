package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anstrom/portscope/internal/db"
	"github.com/anstrom/portscope/internal/scanning"
)

var (
	diffFromDB bool
	diffFormat string
)

// diffResult is the JSON document printed by diff.
type diffResult struct {
	Before  uuid.UUID         `json:"before"`
	After   uuid.UUID         `json:"after"`
	Changes []scanning.Change `json:"changes"`
}

var diffCmd = &cobra.Command{
	Use:   "diff <before> <after>",
	Short: "Compare two scan sessions",
	Long: `Compare the port states of two scan sessions and list every port that
was added, removed or changed state.

The sessions are read from files written with 'scan --output', or with
--db from the database by session id.`,
	Example: `  portscope diff monday.json tuesday.json
  portscope diff --db 0b9a6c9e-8c43-4de2-a1e4-5b8a3a1f1c1d 6d2f8e0c-1f3b-44c9-9e8e-2a4b7d3c9f10`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().BoolVar(&diffFromDB, "db", false, "arguments are session ids in the database")
	diffCmd.Flags().StringVar(&diffFormat, "format", formatTable, "output format: table or json")
}

func runDiff(cmd *cobra.Command, args []string) error {
	if err := validateFormat(diffFormat); err != nil {
		return err
	}

	var (
		before, after *scanning.ScanSession
		err           error
	)
	if diffFromDB {
		before, after, err = loadSessionsFromDB(cmd.Context(), args[0], args[1])
	} else {
		before, after, err = loadSessionsFromFiles(args[0], args[1])
	}
	if err != nil {
		return err
	}

	changes := scanning.Diff(before, after)
	if diffFormat == formatJSON {
		if changes == nil {
			changes = []scanning.Change{}
		}
		return writeJSON(cmd.OutOrStdout(), diffResult{Before: before.ID, After: after.ID, Changes: changes})
	}
	renderChanges(cmd.OutOrStdout(), before, after, changes)
	return nil
}

func loadSessionsFromFiles(beforePath, afterPath string) (*scanning.ScanSession, *scanning.ScanSession, error) {
	before, err := scanning.ReadFile(beforePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", beforePath, err)
	}
	after, err := scanning.ReadFile(afterPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", afterPath, err)
	}
	return before, after, nil
}

func loadSessionsFromDB(ctx context.Context, beforeID, afterID string) (*scanning.ScanSession, *scanning.ScanSession, error) {
	ids := make([]uuid.UUID, 2)
	for i, arg := range []string{beforeID, afterID} {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid session id %q: %w", arg, err)
		}
		ids[i] = id
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	var before, after *scanning.ScanSession
	err = withDatabase(ctx, cfg, false, func(database *db.DB) error {
		repo := db.NewSessionRepository(database, nil)
		var err error
		if before, err = repo.Get(ctx, ids[0]); err != nil {
			return err
		}
		after, err = repo.Get(ctx, ids[1])
		return err
	})
	return before, after, err
}
