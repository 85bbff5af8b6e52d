package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/anstrom/portscope/internal/config"
	"github.com/anstrom/portscope/internal/db"
)

// DatabaseOperation represents a function that operates on a database connection.
type DatabaseOperation func(*db.DB) error

// withDatabase executes the given operation with a database connection.
// It handles connection setup and cleanup. With migrate set, pending
// migrations are applied before the operation runs.
func withDatabase(ctx context.Context, cfg *config.Config, migrate bool, operation DatabaseOperation) error {
	connect := db.Connect
	if migrate {
		connect = db.ConnectAndMigrate
	}

	database, err := connect(ctx, &cfg.Database.Config)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}

	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	return operation(database)
}
