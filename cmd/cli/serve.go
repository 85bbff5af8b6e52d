package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/portscope/internal/api"
	"github.com/anstrom/portscope/internal/config"
	"github.com/anstrom/portscope/internal/db"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/metrics"
	"github.com/anstrom/portscope/internal/services"
)

const (
	databaseTimeout       = 10 * time.Second
	systemMetricsInterval = 15 * time.Second
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the portscope HTTP API in the foreground.

Scans are started with POST /api/v1/scans and their results can be
streamed over a websocket. When the database is enabled in the
configuration, finished sessions are stored and migrations are applied
on startup. Send SIGINT or SIGTERM to stop the server.`,
	Example: `  portscope serve
  portscope serve --host 0.0.0.0 --port 9090
  PORTSCOPE_DATABASE_ENABLED=true portscope serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "override api.listen_addr")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override api.port")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.API.ListenAddr = serveHost
	}
	if servePort != 0 {
		cfg.API.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Default()
	pm := metrics.GetGlobalMetrics()
	go pm.StartPeriodicUpdates(ctx, systemMetricsInterval)

	opts := []api.Option{api.WithLogger(logger), api.WithMetrics(pm)}

	if cfg.Database.Enabled {
		database, err := openServeDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := database.Close(); closeErr != nil {
				logger.ErrorDatabase("Failed to close database", closeErr)
			}
		}()
		opts = append(opts, api.WithDatabase(database))
	}

	if cfg.Services.Detection {
		opts = append(opts, api.WithDetector(services.NewDetector(services.Options{
			GrabBanners: cfg.Services.BannerGrab,
			InspectTLS:  cfg.Services.TLSInspection,
			Timeout:     cfg.Services.Timeout,
			Concurrency: cfg.Services.Concurrency,
		}, logger)))
	}

	server, err := api.New(cfg, newEngine(cfg, logger, pm), opts...)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	return server.Start(ctx)
}

func openServeDatabase(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, databaseTimeout)
	defer cancel()

	database, err := db.ConnectAndMigrate(connectCtx, &cfg.Database.Config)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return database, nil
}
