// Package main implements the almseed CLI.
//
// Every command other than serve opens a private session, connects to the
// tracker server named by the configuration or flags, selects the project
// and product, and runs one operation through the session layer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/config"
	"github.com/fyrsmithlabs/almseed/internal/logging"
	"github.com/fyrsmithlabs/almseed/internal/pipeline"
	"github.com/fyrsmithlabs/almseed/internal/plm"
	"github.com/fyrsmithlabs/almseed/internal/purge"
	"github.com/fyrsmithlabs/almseed/internal/session"
	"github.com/fyrsmithlabs/almseed/internal/synthesis"
	"github.com/fyrsmithlabs/almseed/internal/telemetry"
	"github.com/fyrsmithlabs/almseed/internal/tracker"
)

var version = "dev"

var (
	configPath string
	serverURL  string
	username   string
	password   string
	project    string
	product    string
	outputJSON bool
)

// app is the process-wide wiring built before any command runs.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	svc    *session.Service
}

var current app

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	current.close()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "almseed",
	Short: "Generate demo data in an ALM tracker server",
	Long: `almseed fills a tracker server with synthesized demo data and keeps it tidy.

It creates top-level items, linked downstream items, compliance entries,
test steps and test runs, randomizes statuses and fields, bulk-deletes items,
and creates parts in a PLM server. Run "almseed serve" for the HTTP API.

Connection settings come from ~/.config/almseed/config.yaml, a .env file and
ALMSEED_* environment variables; flags override them.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.config/almseed/config.yaml)")
	pf.StringVar(&serverURL, "url", "", "tracker server URL (overrides tracker.base_url)")
	pf.StringVar(&username, "username", "", "tracker username (overrides tracker.username)")
	pf.StringVar(&password, "password", "", "tracker password (overrides tracker.password)")
	pf.StringVar(&project, "project", "", "project name")
	pf.StringVar(&product, "product", "", "product name used in synthesized content (overrides pipeline.product)")
	pf.BoolVar(&outputJSON, "json", false, "output results as JSON")
}

// setup loads configuration and builds the logger, telemetry and service.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := logger.Underlying()

	tel, err := telemetry.New(cmd.Context(), telemetry.FromAppConfig(cfg.Telemetry), zl)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	// Logs join traces and metrics on the collector once telemetry is up.
	logger = logger.WithOTel(tel.LoggerProvider())
	zl = logger.Underlying()

	svc := session.NewService(session.NewStore(zl), nil, zl)
	svc.Workers = cfg.Pipeline.Workers
	svc.PurgeMaxPasses = cfg.Pipeline.PurgeMaxPasses
	svc.Tracer = tel.Tracer("github.com/fyrsmithlabs/almseed")
	svc.TrackerOptions = tracker.Options{
		Timeout:       cfg.Tracker.Timeout,
		RateLimit:     cfg.Tracker.RateLimit,
		Logger:        zl,
		MeterProvider: tel.MeterProvider(),
	}
	svc.PLMOptions = plm.Options{Timeout: cfg.Tracker.Timeout, Logger: zl}

	completer, err := synthesis.NewCompleter(synthesis.FromAppConfig(cfg.Synthesis), zl)
	if err != nil {
		// Commands that synthesize fail later with a clear error.
		zl.Debug("synthesis disabled", zap.Error(err))
	} else {
		svc.Synth = synthesis.NewClient(completer,
			synthesis.WithLogger(zl),
			synthesis.WithTracerProvider(tel.TracerProvider()))
	}

	current = app{cfg: cfg, logger: logger, tel: tel, svc: svc}
	return nil
}

func (a *app) close() {
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.tel.Shutdown(ctx)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// open creates a session connected with the configured credentials. When
// withProject is set the project is selected and the product applied.
func (a *app) open(ctx context.Context, withProject bool) (*session.Session, error) {
	url := firstNonEmpty(serverURL, a.cfg.Tracker.BaseURL)
	if url == "" {
		return nil, errors.New("tracker server URL required (--url or tracker.base_url)")
	}
	s := a.svc.Store.Create()
	if _, err := a.svc.Connect(ctx, s, url,
		firstNonEmpty(username, a.cfg.Tracker.Username),
		firstNonEmpty(password, a.cfg.Tracker.Password.Value())); err != nil {
		return nil, err
	}
	if !withProject {
		return s, nil
	}
	if project == "" {
		return nil, errors.New("--project is required")
	}
	if _, err := a.svc.SelectProject(ctx, s, project); err != nil {
		return nil, err
	}
	if p := firstNonEmpty(product, a.cfg.Pipeline.Product); p != "" {
		s.SetProduct(p)
	}
	return s, nil
}

// openPLM connects the session to the configured PLM server.
func (a *app) openPLM(ctx context.Context, s *session.Session) error {
	if a.cfg.PLM.BaseURL == "" {
		return errors.New("plm.base_url is not configured")
	}
	return a.svc.ConnectPLM(ctx, s, a.cfg.PLM.BaseURL, a.cfg.PLM.Username, a.cfg.PLM.Password.Value())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printNames(w io.Writer, names []string) error {
	if outputJSON {
		return printJSON(w, names)
	}
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	return nil
}

// printResult reports a pipeline run. A partial failure still prints what was
// written before returning the error.
func printResult(w io.Writer, res *pipeline.Result, runErr error) error {
	if res == nil {
		return runErr
	}
	if outputJSON {
		if err := printJSON(w, res); err != nil {
			return err
		}
		return runErr
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "PIPELINE\tCREATED\tUPDATED\tSKIPPED\tFAILED\n")
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", res.Pipeline, len(res.Created)+len(res.Parts), len(res.Updated), res.Skipped, res.Failed)
	if err := tw.Flush(); err != nil {
		return err
	}
	return runErr
}

func printReport(w io.Writer, rep purge.Report, runErr error) error {
	if outputJSON {
		if err := printJSON(w, rep); err != nil {
			return err
		}
		return runErr
	}
	fmt.Fprintf(w, "deleted %d items in %d passes\n", rep.Deleted, rep.Passes)
	return runErr
}
