package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/greg-hellings/bugnosis-desktop/pkg/gateway"
	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
	"github.com/greg-hellings/bugnosis-desktop/pkg/orchestrator"
	"github.com/greg-hellings/bugnosis-desktop/pkg/projector"
	"github.com/greg-hellings/bugnosis-desktop/pkg/state"
)

// scanOutput is the JSON shape of scan and watch scan.
type scanOutput struct {
	Repository string               `json:"repository,omitempty"`
	Status     projector.Status     `json:"status"`
	Result     string               `json:"result"`
	Stats      *model.StatsSnapshot `json:"stats,omitempty"`
}

type savedOutput struct {
	Bugs     []model.BugRecord    `json:"bugs"`
	Summary  projector.BugSummary `json:"summary"`
	Fallback string               `json:"fallback,omitempty"`
}

type textOutput struct {
	Text string `json:"text"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newScanCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <owner/repo>",
		Short: "Scan one repository for high-impact bugs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.orch.Scan(a.ctx(cmd), args[0], a.cfg.UI.MinImpact)
			snap := a.orch.Snapshot()
			if err := actionErr(snap, model.ActionScan, err); err != nil {
				return err
			}
			return a.printScan(strings.TrimSpace(args[0]), snap)
		},
	}
}

func (a *cliApp) printScan(repo string, snap orchestrator.Snapshot) error {
	status := projector.ClassifyStatus(snap.ScanResult)
	if a.jsonOutput() {
		return writeJSON(a.out, scanOutput{Repository: repo, Status: status, Result: snap.ScanResult, Stats: snap.Stats})
	}
	con := a.console()
	if err := con.RenderScan(a.out, status, snap.ScanResult); err != nil {
		return err
	}
	if snap.Stats == nil {
		return nil
	}
	if _, err := fmt.Fprintln(a.out); err != nil {
		return err
	}
	return con.RenderStats(a.out, a.numfmt.StatCards(snap.Stats))
}

func newWatchCmd(a *cliApp) *cobra.Command {
	c := &cobra.Command{
		Use:   "watch",
		Short: "Manage and scan the watch list",
	}

	c.AddCommand(&cobra.Command{
		Use:   "add <owner/repo>",
		Short: "Add a repository to the watch list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.orch.AddWatch(a.ctx(cmd), args[0])
			snap := a.orch.Snapshot()
			if err := actionErr(snap, model.ActionAddWatch, err); err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(a.out, map[string]any{
					"message": snap.Requests[model.ActionAddWatch].LastRawResult,
					"watched": snap.WatchedRepos,
				})
			}
			if err := a.console().RenderText(a.out, snap.Requests[model.ActionAddWatch].LastRawResult); err != nil {
				return err
			}
			return a.console().RenderWatched(a.out, snap.WatchedRepos)
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List watched repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.orch.LoadWatched(a.ctx(cmd))
			snap := a.orch.Snapshot()
			if err := actionErr(snap, model.ActionLoadWatched, err); err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(a.out, snap.WatchedRepos)
			}
			return a.console().RenderWatched(a.out, snap.WatchedRepos)
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "scan",
		Short: "Scan every watched repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.orch.TriggerScanWatched(a.ctx(cmd))
			snap := a.orch.Snapshot()
			if err := actionErr(snap, model.ActionScanWatched, err); err != nil {
				return err
			}
			return a.printScan("", snap)
		},
	})

	return c
}

func newSavedCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "saved",
		Short: "Show saved high-impact bugs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.orch.LoadSaved(a.ctx(cmd), a.cfg.UI.MinImpact)
			snap := a.orch.Snapshot()
			if err := actionErr(snap, model.ActionLoadSaved, err); err != nil {
				return err
			}
			bugs := snap.SavedBugs
			sum := projector.SummarizeBugs(bugs.Bugs)
			if a.jsonOutput() {
				return writeJSON(a.out, savedOutput{Bugs: bugs.Bugs, Summary: sum, Fallback: bugs.Fallback})
			}
			if bugs.IsFallback() {
				return a.console().RenderText(a.out, bugs.Fallback)
			}
			return a.console().RenderBugs(a.out, a.numfmt.BugRows(bugs.Bugs), sum)
		},
	}
}

func newStatsCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show contribution stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.orch.LoadStats(a.ctx(cmd))
			snap := a.orch.Snapshot()
			if err := actionErr(snap, model.ActionLoadStats, err); err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(a.out, snap.Stats)
			}
			return a.console().RenderStats(a.out, a.numfmt.StatCards(snap.Stats))
		},
	}
}

func newInsightsCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "insights",
		Short: "Show analytics over saved bugs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.orch.LoadInsights(a.ctx(cmd), a.cfg.UI.MinImpact)
			snap := a.orch.Snapshot()
			if err := actionErr(snap, model.ActionLoadInsights, err); err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(a.out, textOutput{Text: snap.Insights})
			}
			return a.console().RenderText(a.out, snap.Insights)
		},
	}
}

func newSearchCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search the ecosystem for high-impact bugs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := a.gw.(gateway.Searcher)
			if !ok {
				return errors.New("backend does not support search")
			}
			query := strings.Join(args, " ")
			out, err := s.SearchEcosystem(a.ctx(cmd), query, a.cfg.UI.MinImpact)
			if err != nil {
				return fmt.Errorf("search failed: %s", gateway.DisplayMessage(err))
			}
			if a.jsonOutput() {
				return writeJSON(a.out, textOutput{Text: out})
			}
			return a.console().RenderText(a.out, out)
		},
	}
}

func newOnlineCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "Check network reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oc, ok := a.gw.(gateway.OnlineChecker)
			if !ok {
				return errors.New("backend does not support online checks")
			}
			online := oc.CheckOnline(a.ctx(cmd))
			if a.jsonOutput() {
				return writeJSON(a.out, map[string]bool{"online": online})
			}
			status := "offline"
			if online {
				status = "online"
			}
			_, err := fmt.Fprintln(a.out, status)
			return err
		},
	}
}

func newThemeCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:       "theme [light|dark|toggle]",
		Short:     "Show or set the theme preference",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"light", "dark", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			current := state.LoadTheme(a.prefs)
			if len(args) == 1 {
				switch strings.ToLower(args[0]) {
				case "light":
					current = model.ThemeLight
				case "dark":
					current = model.ThemeDark
				case "toggle":
					current = current.Toggle()
				default:
					return fmt.Errorf("unknown theme %q (want light, dark or toggle)", args[0])
				}
				state.SaveTheme(a.prefs, current)
				a.logger.Info("Theme saved", "theme", current, "path", a.prefs.Path())
			}
			if a.jsonOutput() {
				return writeJSON(a.out, map[string]string{"theme": string(current)})
			}
			_, err := fmt.Fprintln(a.out, current)
			return err
		},
	}
}
