package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/portscope/internal/config"
	"github.com/anstrom/portscope/internal/db"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/metrics"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/resolve"
	"github.com/anstrom/portscope/internal/scanning"
	"github.com/anstrom/portscope/internal/services"
	"github.com/anstrom/portscope/internal/workers"
)

const storeTimeout = 30 * time.Second

var (
	scanPorts            string
	scanTechnique        string
	scanConcurrency      int
	scanTimeout          time.Duration
	scanGrace            time.Duration
	scanHostname         string
	scanServiceDetection bool
	scanBanner           bool
	scanTLS              bool
	scanOutput           string
	scanFormat           string
	scanStore            bool
	scanParallel         int
	scanRetries          int
)

// newEngine builds the scan engine used by scan and serve.
var newEngine = func(cfg *config.Config, logger *logging.Logger, pm *metrics.PrometheusMetrics) *scanning.Engine {
	opts := []scanning.EngineOption{
		scanning.WithLogger(logger),
		scanning.WithResolver(resolve.New(resolve.Config{
			Server:     cfg.Resolver.Server,
			Timeout:    cfg.Resolver.Timeout,
			PreferIPv6: cfg.Resolver.PreferIPv6,
		})),
	}
	if pm != nil {
		opts = append(opts, scanning.WithMetrics(pm))
	}
	return scanning.NewEngine(opts...)
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <target>...",
	Short: "Scan targets for open ports",
	Long: `Scan one or more targets for open TCP or UDP ports.

Targets are hostnames, IP addresses or CIDR prefixes. Several targets are
scanned in parallel. The syn, fin, xmas and null techniques need raw socket
privileges (root or CAP_NET_RAW). Press Ctrl-C to stop a scan and print the
ports classified so far.`,
	Example: `  portscope scan scanme.example
  portscope scan -p 22,80,443 -m syn 192.0.2.10
  portscope scan -p T:100 -m udp 192.0.2.10
  portscope scan --service-detection --tls -o result.yaml 192.0.2.0/28`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	flags := scanCmd.Flags()
	flags.StringVarP(&scanPorts, "ports", "p", "", "port specification, e.g. '22,80,1000-2000' or 'T:100' (default scanning.default_ports, 1-1024)")
	flags.StringVarP(&scanTechnique, "technique", "m", "", "probe technique: connect, syn, fin, xmas, null, udp (default scanning.default_technique, connect)")
	flags.IntVarP(&scanConcurrency, "concurrency", "c", 0, "maximum in-flight probes per target (default scanning.concurrency, 100)")
	flags.DurationVar(&scanTimeout, "timeout", 0, "per-probe response timeout (default scanning.timeout, 1s)")
	flags.DurationVar(&scanGrace, "grace", 0, "time in-flight probes may drain after Ctrl-C (default: the probe timeout)")
	flags.StringVar(&scanHostname, "hostname", "", "display name recorded for a single target")
	flags.BoolVar(&scanServiceDetection, "service-detection", false, "identify services on open ports")
	flags.BoolVar(&scanBanner, "banner", false, "grab banners from open TCP ports (implies --service-detection)")
	flags.BoolVar(&scanTLS, "tls", false, "inspect TLS on open TCP ports (implies --service-detection)")
	flags.StringVarP(&scanOutput, "output", "o", "", "write the session to a .json or .yaml file")
	flags.StringVar(&scanFormat, "format", formatTable, "terminal output format: table or json")
	flags.BoolVar(&scanStore, "store", false, "store the session in the database")
	flags.IntVar(&scanParallel, "parallel", 0, "number of targets scanned at once (default scanning.parallel)")
	flags.IntVar(&scanRetries, "retries", 0, "re-run a failed target of a batch this many times")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validateFormat(scanFormat); err != nil {
		return err
	}

	targets, err := workers.ExpandTargets(args, workers.MaxTargets)
	if err != nil {
		return err
	}
	if scanHostname != "" && len(targets) > 1 {
		return fmt.Errorf("--hostname applies to a single target, got %d", len(targets))
	}

	scanCfg, err := buildScanConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Default()
	run := &scanRun{
		engine:   newEngine(cfg, logger, nil),
		detector: buildDetector(cfg, logger),
		logger:   logger,
		parallel: cfg.Scanning.Parallel,
		retries:  scanRetries,
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
	}
	if scanParallel > 0 {
		run.parallel = scanParallel
	}

	if !scanStore {
		return run.execute(ctx, targets, scanCfg)
	}
	return withDatabase(ctx, cfg, true, func(database *db.DB) error {
		run.store = db.NewSessionRepository(database, nil)
		return run.execute(ctx, targets, scanCfg)
	})
}

// buildScanConfig overlays the command-line flags on the configured
// scanning defaults.
func buildScanConfig(cfg *config.Config) (scanning.ScanConfig, error) {
	techniqueName := cfg.Scanning.DefaultTechnique
	if scanTechnique != "" {
		techniqueName = scanTechnique
	}
	technique, err := probe.ParseTechnique(techniqueName)
	if err != nil {
		return scanning.ScanConfig{}, err
	}

	sc := scanning.ScanConfig{
		Hostname:    scanHostname,
		Ports:       cfg.Scanning.DefaultPorts,
		Technique:   technique,
		Concurrency: cfg.Scanning.Concurrency,
		Timeout:     cfg.Scanning.Timeout,
		GracePeriod: cfg.Scanning.GracePeriod,
		UDPPayloads: cfg.Scanning.UDPPayloads,
	}
	if scanPorts != "" {
		sc.Ports = scanPorts
	}
	if scanConcurrency != 0 {
		sc.Concurrency = scanConcurrency
	}
	if scanTimeout != 0 {
		sc.Timeout = scanTimeout
	}
	if scanGrace != 0 {
		sc.GracePeriod = scanGrace
	}
	return sc, nil
}

func buildDetector(cfg *config.Config, logger *logging.Logger) *services.Detector {
	banner := scanBanner || cfg.Services.BannerGrab
	inspectTLS := scanTLS || cfg.Services.TLSInspection
	if !scanServiceDetection && !cfg.Services.Detection && !banner && !inspectTLS {
		return nil
	}
	return services.NewDetector(services.Options{
		GrabBanners: banner,
		InspectTLS:  inspectTLS,
		Timeout:     cfg.Services.Timeout,
		Concurrency: cfg.Services.Concurrency,
	}, logger)
}

// scanRun holds what one invocation of the scan command needs.
type scanRun struct {
	engine   workers.Runner
	detector *services.Detector
	store    *db.SessionRepository
	logger   *logging.Logger
	parallel int
	retries  int
	out      io.Writer
	errOut   io.Writer
}

func (r *scanRun) execute(ctx context.Context, targets []string, cfg scanning.ScanConfig) error {
	var results []workers.TargetResult
	if len(targets) == 1 {
		c := cfg
		c.Target = targets[0]
		session, err := r.engine.Run(ctx, c)
		if err != nil {
			return err
		}
		results = []workers.TargetResult{{Target: targets[0], Session: session}}
	} else {
		results = workers.ScanTargets(ctx, r.engine, targets, cfg, workers.BatchOptions{
			Parallel: r.parallel,
			Retries:  r.retries,
			Logger:   r.logger,
			OnResult: func(tr workers.TargetResult) {
				if tr.Err == nil {
					r.logger.InfoScan("Target finished", tr.Target, "open_ports", len(tr.Session.OpenPorts()))
				}
			},
		})
	}

	var (
		reports []scanReport
		failed  int
	)
	for _, tr := range results {
		if tr.Err != nil {
			failed++
			fmt.Fprintf(r.errOut, "Error scanning %s: %v\n", tr.Target, tr.Err)
			continue
		}
		report, err := r.finish(ctx, tr, len(targets) > 1)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}

	if err := r.print(reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d targets failed", failed, len(results))
	}
	return nil
}

// finish runs service detection on a scanned target, then writes and
// stores its session.
func (r *scanRun) finish(ctx context.Context, tr workers.TargetResult, multi bool) (scanReport, error) {
	report := scanReport{Session: tr.Session}
	if r.detector != nil && ctx.Err() == nil {
		report.Services = r.detector.Detect(ctx, tr.Session)
	}

	if scanOutput != "" {
		path := outputPath(scanOutput, tr.Target, multi)
		if err := scanning.WriteFile(path, tr.Session); err != nil {
			return report, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	if r.store != nil {
		// A cancelled scan is still worth keeping.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if err := r.store.Save(storeCtx, tr.Session); err != nil {
			return report, err
		}
		r.logger.InfoDatabase("Session stored", "session_id", tr.Session.ID.String())
	}
	return report, nil
}

func (r *scanRun) print(reports []scanReport) error {
	if scanFormat == formatJSON {
		if len(reports) == 1 {
			return writeJSON(r.out, reports[0])
		}
		if reports == nil {
			reports = []scanReport{}
		}
		return writeJSON(r.out, reports)
	}

	for i, report := range reports {
		if i > 0 {
			fmt.Fprintln(r.out)
		}
		renderSession(r.out, report.Session, report.Services)
	}
	return nil
}

// outputPath returns the file a session is written to. With several
// targets the target is inserted before the extension, so
// "scan.json" becomes "scan-192.0.2.1.json".
func outputPath(base, target string, multi bool) string {
	if !multi {
		return base
	}
	ext := filepath.Ext(base)
	name := strings.NewReplacer(":", "_", "/", "_").Replace(target)
	return strings.TrimSuffix(base, ext) + "-" + name + ext
}
