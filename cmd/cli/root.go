// Package cli provides the command-line interface of the portscope port
// scanner. It implements the Cobra-based command tree for scanning,
// comparing sessions, serving the HTTP API and managing the database.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/portscope/internal/api/handlers"
	"github.com/anstrom/portscope/internal/config"
	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
)

const envPrefix = "PORTSCOPE"

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "portscope",
	Short: "Multi-technique TCP and UDP port scanner",
	Long: `Portscope scans a host for open TCP and UDP ports using connect, SYN,
FIN, Xmas, Null or UDP probes. Results can be stored in PostgreSQL,
compared between runs and served over an HTTP API.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// PORTSCOPE_SCANNING_TIMEOUT overrides scanning.timeout.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setConfigDefaults()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Warning: failed to read config file %s: %v\n", cfgFile, err)
	}

	initLogging()
}

// setConfigDefaults registers every key viper should know about, so that
// environment overrides apply even when no config file sets them.
func setConfigDefaults() {
	d := config.Default()

	viper.SetDefault("scanning.default_ports", d.Scanning.DefaultPorts)
	viper.SetDefault("scanning.default_technique", d.Scanning.DefaultTechnique)
	viper.SetDefault("scanning.concurrency", d.Scanning.Concurrency)
	viper.SetDefault("scanning.timeout", d.Scanning.Timeout)
	viper.SetDefault("scanning.grace_period", d.Scanning.GracePeriod)
	viper.SetDefault("scanning.parallel", d.Scanning.Parallel)
	viper.SetDefault("scanning.udp_payloads", d.Scanning.UDPPayloads)

	viper.SetDefault("services.detection", d.Services.Detection)
	viper.SetDefault("services.banner_grab", d.Services.BannerGrab)
	viper.SetDefault("services.tls_inspection", d.Services.TLSInspection)
	viper.SetDefault("services.timeout", d.Services.Timeout)
	viper.SetDefault("services.concurrency", d.Services.Concurrency)

	viper.SetDefault("resolver.server", d.Resolver.Server)
	viper.SetDefault("resolver.timeout", d.Resolver.Timeout)
	viper.SetDefault("resolver.prefer_ipv6", d.Resolver.PreferIPv6)

	viper.SetDefault("database.enabled", d.Database.Enabled)
	viper.SetDefault("database.host", d.Database.Host)
	viper.SetDefault("database.port", d.Database.Port)
	viper.SetDefault("database.database", d.Database.Database)
	viper.SetDefault("database.username", d.Database.Username)
	viper.SetDefault("database.password", d.Database.Password)
	viper.SetDefault("database.ssl_mode", d.Database.SSLMode)
	viper.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	viper.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	viper.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	viper.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)

	viper.SetDefault("api.listen_addr", d.API.ListenAddr)
	viper.SetDefault("api.port", d.API.Port)
	viper.SetDefault("api.read_timeout", d.API.ReadTimeout)
	viper.SetDefault("api.write_timeout", d.API.WriteTimeout)
	viper.SetDefault("api.idle_timeout", d.API.IdleTimeout)
	viper.SetDefault("api.max_concurrent_scans", d.API.MaxConcurrentScans)
	viper.SetDefault("api.max_request_size", d.API.MaxRequestSize)
	viper.SetDefault("api.cors.enabled", d.API.CORS.Enabled)
	viper.SetDefault("api.cors.allowed_origins", d.API.CORS.AllowedOrigins)
	viper.SetDefault("api.cors.allowed_methods", d.API.CORS.AllowedMethods)
	viper.SetDefault("api.cors.allowed_headers", d.API.CORS.AllowedHeaders)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
	viper.SetDefault("logging.output", d.Logging.Output)
	viper.SetDefault("logging.add_source", d.Logging.AddSource)
}

// loadConfig merges the config file, environment and defaults into a
// validated configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to decode configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
	handlers.SetBuildInfo(v, c, bt)
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}

	logConfig := cfg.Logging
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logConfig.AddSource = logConfig.AddSource || logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}
