// Package main implements the bugnosis desktop application.
//
// The window drives a single request orchestrator: every button, the
// system tray menu and the auto-refresh ticker call into it, and a
// subscription re-renders the widgets from each new snapshot.
//
// Settings come from the same config file and BUGNOSIS_* variables as
// bugnosis-dash. The theme preference lives in the fyne app preferences.
package main

import (
	"context"
	"fmt"
	"os"

	"fyne.io/fyne/v2"
	fapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/driver/desktop"
	"github.com/spf13/pflag"

	"github.com/greg-hellings/bugnosis-desktop/pkg/config"
	"github.com/greg-hellings/bugnosis-desktop/pkg/gateway"
	"github.com/greg-hellings/bugnosis-desktop/pkg/logging"
	"github.com/greg-hellings/bugnosis-desktop/pkg/orchestrator"
	"github.com/greg-hellings/bugnosis-desktop/pkg/projector"
	"github.com/greg-hellings/bugnosis-desktop/pkg/state"
)

// version override via -ldflags "-X main.version=..."
var version = "dev"

const appID = "io.github.bugnosis.desktop"

func main() {
	flags := pflag.NewFlagSet("bugnosis-desktop", pflag.ExitOnError)
	cfgFile := flags.StringP("config", "c", "", "Config file (YAML or TOML)")
	flags.String("backend", config.DefaultBinary, "bugnosis executable name or path")
	flags.String("probe-address", config.DefaultProbeAddress, "host:port dialled by the online check")
	flags.Int("min-impact", config.DefaultMinImpact, "Initial minimum impact score (0-100)")
	flags.String("locale", config.DefaultLocale, "Locale for number formatting")
	flags.Bool("auto-refresh", false, "Periodically scan watched repositories")
	flags.Duration("refresh-interval", config.DefaultRefreshInterval, "Auto-refresh interval")
	flags.String("log-level", config.DefaultLogLevel, "debug|info|warn|error")
	_ = flags.Parse(os.Args[1:])

	cfg, used, err := config.Load(*cfgFile, flags)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, ring := logging.SetupWithRing(os.Stdout, logging.ParseLevel(cfg.Log.Level), cfg.Log.RingBufferSize)
	logger.Info("Desktop starting", "version", version, "config", used)

	app := fapp.NewWithID(appID)
	prefs := app.Preferences()
	app.Settings().SetTheme(themeFor(state.LoadTheme(prefs)))

	token, err := state.ResolveToken(configTokenStore(cfg.Backend.Token))
	if err != nil {
		logger.Warn("Token resolution failed", "error", err)
	} else if token != "" {
		logger.Debug("Resolved backend token", "token", state.RedactToken(token))
	}

	var gw gateway.Gateway
	gw, err = gateway.NewExecGateway(gateway.ExecOptions{
		Binary:       cfg.Backend.Binary,
		Timeout:      cfg.Backend.Timeout,
		Token:        token,
		ProbeAddress: cfg.Backend.ProbeAddress,
	}, logger)
	if err != nil {
		// Actions report the construction error.
		logger.Error("Backend unavailable", "binary", cfg.Backend.Binary, "error", err)
		gw = unavailableGateway{err: err}
	}

	orch := orchestrator.New(orchestrator.Options{
		Gateway:     gw,
		Notifier:    fyneNotifier{app: app},
		Preferences: prefs,
		Logger:      logger,
		MinImpact:   &cfg.UI.MinImpact,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ui := newUIDispatcher(256, nil, logger)

	w := app.NewWindow("Bugnosis")
	w.Resize(fyne.NewSize(1100, 720))

	d := newDashboard(dashboardDeps{
		app:     app,
		win:     w,
		orch:    orch,
		gw:      gw,
		numfmt:  projector.NewFormatter(cfg.UI.Locale),
		ring:    ring,
		logger:  logger,
		enqueue: ui.Enqueue,
		ctx:     ctx,
	})
	w.SetContent(d.build())
	unsubscribe := d.subscribe()

	if desk, ok := app.(desktop.App); ok {
		desk.SetSystemTrayMenu(fyne.NewMenu("Bugnosis",
			fyne.NewMenuItem("Show", w.Show),
			fyne.NewMenuItem("Scan Watched Repos", d.triggerScanWatched),
			fyne.NewMenuItemSeparator(),
			&fyne.MenuItem{Label: "Quit", IsQuit: true, Action: app.Quit},
		))
	}

	var refresher *autoRefresher
	if cfg.AutoRefresh.Enabled {
		refresher = newAutoRefresher(cfg.AutoRefresh.Interval, orch.TriggerScanWatched, logger)
		refresher.Start(ctx)
	}

	go func() {
		if err := orch.Startup(ctx); err != nil {
			logger.Warn("Startup load failed", "error", err)
		}
	}()
	go d.checkOnline()

	w.SetCloseIntercept(func() {
		logger.Info("Window closing")
		if refresher != nil {
			refresher.Stop()
		}
		unsubscribe()
		cancel()
		ui.Close()
		app.Quit()
	})

	w.ShowAndRun()
}

// configTokenStore exposes the token from the config file. ResolveToken
// still prefers GITHUB_TOKEN.
func configTokenStore(token string) state.CredentialStore {
	cs := state.NewMemoryCredentialStore()
	if token != "" {
		_ = cs.SetToken("github", token)
	}
	return cs
}

// unavailableGateway answers every call with the construction error.
type unavailableGateway struct {
	err error
}

func (g unavailableGateway) ScanRepo(context.Context, string, int) (string, error) {
	return "", g.err
}
func (g unavailableGateway) ScanWatched(context.Context) (string, error) { return "", g.err }
func (g unavailableGateway) AddWatchedRepo(context.Context, string) (string, error) {
	return "", g.err
}
func (g unavailableGateway) GetWatchedRepos(context.Context) (string, error) { return "", g.err }
func (g unavailableGateway) GetSavedBugs(context.Context, int) (string, error) {
	return "", g.err
}
func (g unavailableGateway) GetStats(context.Context) (string, error) { return "", g.err }
func (g unavailableGateway) GetInsights(context.Context, int) (string, error) {
	return "", g.err
}

var _ gateway.Gateway = unavailableGateway{}
