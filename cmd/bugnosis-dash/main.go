// Command bugnosis-dash is the terminal front end for the bugnosis scanner.
// It drives the same request orchestrator as the desktop app and renders
// results as tables or JSON.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/greg-hellings/bugnosis-desktop/pkg/config"
	"github.com/greg-hellings/bugnosis-desktop/pkg/gateway"
	"github.com/greg-hellings/bugnosis-desktop/pkg/logging"
	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
	"github.com/greg-hellings/bugnosis-desktop/pkg/orchestrator"
	"github.com/greg-hellings/bugnosis-desktop/pkg/projector"
	"github.com/greg-hellings/bugnosis-desktop/pkg/render"
	"github.com/greg-hellings/bugnosis-desktop/pkg/state"
)

// build-time override (e.g. -ldflags "-X main.version=1.2.3")
var version = "dev"

// gatewayFactory builds the backend gateway; tests replace it.
type gatewayFactory func(cfg *config.Config, token string, logger *slog.Logger) (gateway.Gateway, error)

func execGatewayFactory(cfg *config.Config, token string, logger *slog.Logger) (gateway.Gateway, error) {
	return gateway.NewExecGateway(gateway.ExecOptions{
		Binary:       cfg.Backend.Binary,
		Timeout:      cfg.Backend.Timeout,
		Token:        token,
		ProbeAddress: cfg.Backend.ProbeAddress,
	}, logger)
}

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	verbose    bool
	debug      bool
	configFile string
	format     string
	noColor    bool
}

// cliApp is the per-invocation wiring built in PersistentPreRunE.
type cliApp struct {
	flags      rootFlags
	newGateway gatewayFactory

	cfg    *config.Config
	logger *slog.Logger
	gw     gateway.Gateway
	prefs  *state.FileStore
	orch   *orchestrator.Orchestrator
	numfmt *projector.Formatter
	out    io.Writer
}

func main() {
	root := newRootCmd(execGatewayFactory)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root Cobra command.
func newRootCmd(newGateway gatewayFactory) *cobra.Command {
	app := &cliApp{newGateway: newGateway}

	cmd := &cobra.Command{
		Use:   "bugnosis-dash",
		Short: "Terminal dashboard for the bugnosis bug scanner",
		Long: strings.TrimSpace(`
bugnosis-dash runs the bugnosis backend and presents its results: scans of
single repositories or the whole watch list, saved high-impact bugs, stats
and insights.

Settings are read from ~/.config/bugnosis-desktop/config.{yaml,toml},
BUGNOSIS_* environment variables and flags, in increasing priority.`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&app.flags.verbose, "verbose", "v", false, "Enable verbose (info) logging")
	pf.BoolVar(&app.flags.debug, "debug", false, "Enable debug logging (overrides --verbose)")
	pf.StringVarP(&app.flags.configFile, "config", "c", "", "Config file (YAML or TOML)")
	pf.StringVarP(&app.flags.format, "format", "f", "console", "Output format: console|json")
	pf.BoolVar(&app.flags.noColor, "no-color", false, "Disable ANSI colors (console format)")
	pf.String("backend", config.DefaultBinary, "bugnosis executable name or path")
	pf.Duration("timeout", config.DefaultTimeout, "Timeout for a single backend call")
	pf.Int("min-impact", config.DefaultMinImpact, "Minimum impact score (0-100)")
	pf.String("locale", config.DefaultLocale, "Locale for number formatting")
	pf.String("state-file", "", "UI state file (default in user config dir)")
	pf.String("token", "", "GitHub token passed to the backend")
	cmd.Version = version

	cmd.AddCommand(
		newScanCmd(app),
		newWatchCmd(app),
		newSavedCmd(app),
		newStatsCmd(app),
		newInsightsCmd(app),
		newSearchCmd(app),
		newOnlineCmd(app),
		newThemeCmd(app),
		newVersionCmd(),
	)
	return cmd
}

// init wires config, logging, the gateway and the orchestrator.
func (a *cliApp) init(cmd *cobra.Command) error {
	a.logger = logging.Setup(cmd.ErrOrStderr(), logging.CLILevel(a.flags.debug, a.flags.verbose))
	a.out = cmd.OutOrStdout()

	switch a.flags.format {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported format: %s", a.flags.format)
	}

	if cmd.Name() == "version" {
		return nil
	}

	cfg, used, err := config.Load(a.flags.configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.logger.Debug("Configuration loaded", "file", used, "backend", cfg.Backend.Binary, "min_impact", cfg.UI.MinImpact)

	a.prefs, err = state.OpenFileStore(cfg.UI.StatePath, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load UI state: %w", err)
	}
	a.numfmt = projector.NewFormatter(cfg.UI.Locale)

	if cmd.Name() == "theme" {
		return nil
	}

	creds := state.NewMemoryCredentialStore()
	if cfg.Backend.Token != "" {
		if err := creds.SetToken("github", cfg.Backend.Token); err != nil {
			return err
		}
	}
	token, err := state.ResolveToken(creds)
	if err != nil {
		return err
	}
	if token != "" {
		a.logger.Debug("Using backend token", "token", state.RedactToken(token))
	}

	a.gw, err = a.newGateway(cfg, token, a.logger)
	if err != nil {
		return err
	}
	a.orch = orchestrator.New(orchestrator.Options{
		Gateway:     a.gw,
		Notifier:    orchestrator.NotifierFunc(a.notify),
		Preferences: a.prefs,
		Logger:      a.logger,
		MinImpact:   &cfg.UI.MinImpact,
	})
	return nil
}

// notify logs notifications; the terminal has no notification centre.
func (a *cliApp) notify(title, body string) error {
	a.logger.Info("Notification", "title", title, "body", body)
	return nil
}

// actionErr turns a rejected or failed action into a command error.
func actionErr(snap orchestrator.Snapshot, action model.Action, err error) error {
	if err != nil {
		return err
	}
	if msg := snap.LastError(action); msg != "" {
		return fmt.Errorf("%s failed: %s", action, msg)
	}
	return nil
}

func (a *cliApp) console() *render.ConsoleFormatter {
	f := render.NewConsoleFormatter()
	f.EnableColors = !a.flags.noColor
	return f
}

func (a *cliApp) jsonOutput() bool { return a.flags.format == "json" }

func (a *cliApp) ctx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// newVersionCmd prints version info.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bugnosis-dash version: %s\n", version)
		},
	}
}
