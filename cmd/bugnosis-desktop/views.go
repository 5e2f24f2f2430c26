package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"

	"github.com/greg-hellings/bugnosis-desktop/pkg/gateway"
	"github.com/greg-hellings/bugnosis-desktop/pkg/logging"
	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
	"github.com/greg-hellings/bugnosis-desktop/pkg/orchestrator"
	"github.com/greg-hellings/bugnosis-desktop/pkg/projector"
)

type viewID string

const (
	viewScan     viewID = "Scan"
	viewWatch    viewID = "Watch List"
	viewSaved    viewID = "Saved Bugs"
	viewInsights viewID = "Insights"
	viewLogs     viewID = "Logs"
)

var viewOrder = []viewID{viewScan, viewWatch, viewSaved, viewInsights, viewLogs}

// viewTabs maps views backed by orchestrator state to their tab name.
var viewTabs = map[viewID]string{
	viewScan:     orchestrator.TabScan,
	viewWatch:    orchestrator.TabWatch,
	viewSaved:    orchestrator.TabSaved,
	viewInsights: orchestrator.TabInsights,
}

type dashboardDeps struct {
	app     fyne.App
	win     fyne.Window
	orch    *orchestrator.Orchestrator
	gw      gateway.Gateway
	numfmt  *projector.Formatter
	ring    *logging.RingHandler
	logger  *slog.Logger
	enqueue func(func())
	ctx     context.Context
}

// dashboard owns the widgets. render and the widget callbacks run on the
// fyne main thread; actions run on their own goroutines.
type dashboard struct {
	dashboardDeps

	snap orchestrator.Snapshot
	view projector.Dashboard

	// rendering is set while render writes widgets, so entry callbacks
	// do not echo the state back into the orchestrator.
	rendering      bool
	refreshPending atomic.Bool

	views   map[viewID]fyne.CanvasObject
	buttons map[viewID]*widget.Button
	dyn     *fyne.Container
	current viewID

	onlineLabel *widget.Label
	cards       *fyne.Container
	rankLabel   *widget.Label
	xpBar       *widget.ProgressBar
	themeBtn    *widget.Button

	repoEntry   *widget.Entry
	impactLabel *widget.Label
	impact      *widget.Slider
	scanBtn     *widget.Button
	headline    *widget.Label
	scanResult  *widget.Label

	watchEntry     *widget.Entry
	addBtn         *widget.Button
	scanWatchedBtn *widget.Button
	watchStatus    *widget.Label
	watchList      *widget.List

	savedSummary  *widget.Label
	savedFallback *widget.Label
	savedList     *widget.List
	savedRefresh  *widget.Button

	insights        *widget.Label
	insightsRefresh *widget.Button

	logList *widget.List
}

func newDashboard(deps dashboardDeps) *dashboard {
	if deps.logger == nil {
		deps.logger = slog.Default()
	}
	if deps.ctx == nil {
		deps.ctx = context.Background()
	}
	return &dashboard{dashboardDeps: deps, current: viewScan}
}

// ----- UI Composition -----

func (d *dashboard) build() fyne.CanvasObject {
	d.snap = d.orch.Snapshot()
	d.view = d.numfmt.Project(d.snap)

	d.views = map[viewID]fyne.CanvasObject{
		viewScan:     d.buildScanView(),
		viewWatch:    d.buildWatchView(),
		viewSaved:    d.buildSavedView(),
		viewInsights: d.buildInsightsView(),
		viewLogs:     d.buildLogsView(),
	}
	d.dyn = container.NewStack(d.views[d.current])

	body := container.NewBorder(d.buildHeader(), nil, nil, nil, d.dyn)
	split := container.NewHSplit(d.buildSidebar(), body)
	split.SetOffset(0.18)

	d.render(d.snap)
	return split
}

func (d *dashboard) buildSidebar() fyne.CanvasObject {
	title := widget.NewLabel(fmt.Sprintf("Bugnosis %s", version))
	title.Alignment = fyne.TextAlignCenter
	title.TextStyle = fyne.TextStyle{Bold: true}

	d.buttons = make(map[viewID]*widget.Button, len(viewOrder))
	items := []fyne.CanvasObject{title, widget.NewSeparator()}
	for _, id := range viewOrder {
		btn := widget.NewButton(string(id), func() { d.switchView(id) })
		btn.Importance = widget.MediumImportance
		if id == d.current {
			btn.Importance = widget.HighImportance
		}
		d.buttons[id] = btn
		items = append(items, btn)
	}

	d.themeBtn = widget.NewButton("Toggle Theme", func() {
		next := d.orch.ToggleTheme()
		d.app.Settings().SetTheme(themeFor(next))
		d.logger.Info("Theme changed", "theme", next)
	})
	d.onlineLabel = widget.NewLabel("Checking connection...")
	d.onlineLabel.Alignment = fyne.TextAlignCenter

	items = append(items,
		widget.NewSeparator(),
		d.themeBtn,
		layout.NewSpacer(),
		d.onlineLabel,
	)
	return container.NewVBox(items...)
}

func (d *dashboard) switchView(id viewID) {
	d.logger.Info("Switch view", "view", id)
	d.current = id
	d.dyn.Objects = []fyne.CanvasObject{d.views[id]}
	d.dyn.Refresh()
	for name, btn := range d.buttons {
		if name == id {
			btn.Importance = widget.HighImportance
		} else {
			btn.Importance = widget.MediumImportance
		}
		btn.Refresh()
	}

	if tab, ok := viewTabs[id]; ok {
		d.orch.SetActiveTab(tab)
	}
	switch id {
	case viewWatch:
		d.runAction("load watched", d.orch.LoadWatched)
	case viewSaved:
		d.loadSaved()
	case viewInsights:
		d.loadInsights()
	case viewLogs:
		d.logList.Refresh()
	}
}

func (d *dashboard) buildHeader() fyne.CanvasObject {
	d.cards = container.NewGridWithColumns(4)
	d.rankLabel = widget.NewLabel("")
	d.xpBar = widget.NewProgressBar()
	d.xpBar.TextFormatter = func() string {
		return fmt.Sprintf("%d / %d XP", d.view.XP, d.view.NextLevelXP)
	}
	return container.NewVBox(
		d.cards,
		container.NewBorder(nil, nil, d.rankLabel, nil, d.xpBar),
		widget.NewSeparator(),
	)
}

func (d *dashboard) buildScanView() fyne.CanvasObject {
	d.repoEntry = widget.NewEntry()
	d.repoEntry.SetPlaceHolder("owner/repo")
	d.repoEntry.OnChanged = d.repoInputChanged
	d.repoEntry.OnSubmitted = func(string) { d.scan() }

	d.impactLabel = widget.NewLabel("")
	d.impact = widget.NewSlider(0, 100)
	d.impact.Step = 5
	d.impact.OnChanged = func(v float64) {
		d.impactLabel.SetText(fmt.Sprintf("Min impact: %d", int(v)))
	}
	d.impact.OnChangeEnded = func(v float64) {
		if !d.rendering {
			d.orch.SetMinImpact(int(v))
		}
	}

	d.scanBtn = widget.NewButton("Scan", d.scan)
	d.scanBtn.Importance = widget.HighImportance

	d.headline = widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	d.scanResult = widget.NewLabel("")
	d.scanResult.Wrapping = fyne.TextWrapWord

	controls := container.NewVBox(
		widget.NewLabelWithStyle("Scan Repository", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		container.NewBorder(nil, nil, nil, d.scanBtn, d.repoEntry),
		container.NewBorder(nil, nil, d.impactLabel, nil, d.impact),
		widget.NewSeparator(),
		d.headline,
	)
	return container.NewBorder(controls, nil, nil, nil, container.NewVScroll(d.scanResult))
}

func (d *dashboard) buildWatchView() fyne.CanvasObject {
	d.watchEntry = widget.NewEntry()
	d.watchEntry.SetPlaceHolder("owner/repo")
	d.watchEntry.OnChanged = d.repoInputChanged
	d.watchEntry.OnSubmitted = func(string) { d.addWatch() }

	d.addBtn = widget.NewButton("Add", d.addWatch)
	d.scanWatchedBtn = widget.NewButton("Scan Watched Repos", d.triggerScanWatched)
	d.scanWatchedBtn.Importance = widget.HighImportance
	d.watchStatus = widget.NewLabel("")
	d.watchStatus.Wrapping = fyne.TextWrapWord

	d.watchList = widget.NewList(
		func() int { return len(d.snap.WatchedRepos) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			text := ""
			if i < len(d.snap.WatchedRepos) {
				text = d.snap.WatchedRepos[i]
			}
			o.(*widget.Label).SetText(text)
		},
	)

	controls := container.NewVBox(
		widget.NewLabelWithStyle("Watch List", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		container.NewBorder(nil, nil, nil, d.addBtn, d.watchEntry),
		d.scanWatchedBtn,
		d.watchStatus,
		widget.NewSeparator(),
	)
	return container.NewBorder(controls, nil, nil, nil, d.watchList)
}

func (d *dashboard) buildSavedView() fyne.CanvasObject {
	d.savedSummary = widget.NewLabel("")
	d.savedFallback = widget.NewLabel("")
	d.savedFallback.Wrapping = fyne.TextWrapWord
	d.savedRefresh = widget.NewButton("Refresh", d.loadSaved)

	d.savedList = widget.NewList(
		func() int { return len(d.view.Bugs) },
		func() fyne.CanvasObject {
			title := widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
			title.Truncation = fyne.TextTruncateEllipsis
			return container.NewBorder(nil, nil, nil,
				widget.NewButton("View Issue", nil),
				container.NewVBox(title, widget.NewLabel("")),
			)
		},
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= len(d.view.Bugs) {
				return
			}
			row := d.view.Bugs[i]
			border := o.(*fyne.Container)
			texts := border.Objects[0].(*fyne.Container)
			texts.Objects[0].(*widget.Label).SetText(fmt.Sprintf("%s  %s", bugRef(row), row.Title))
			texts.Objects[1].(*widget.Label).SetText(fmt.Sprintf("%d %s · %s users · %s severity",
				row.Score, row.BucketLabel, row.Users, row.Severity))
			btn := border.Objects[1].(*widget.Button)
			btn.OnTapped = func() { d.openIssue(row.URL) }
			if row.URL == "" {
				btn.Disable()
			} else {
				btn.Enable()
			}
		},
	)

	header := container.NewVBox(
		container.NewHBox(
			widget.NewLabelWithStyle("Saved Bugs", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
			layout.NewSpacer(),
			d.savedRefresh,
		),
		d.savedSummary,
		widget.NewSeparator(),
	)
	return container.NewBorder(header, nil, nil, nil,
		container.NewStack(d.savedList, container.NewVScroll(d.savedFallback)))
}

func bugRef(row projector.BugRow) string {
	if row.IssueNumber != nil {
		return fmt.Sprintf("%s#%d", row.Repository, *row.IssueNumber)
	}
	return row.Repository
}

func (d *dashboard) buildInsightsView() fyne.CanvasObject {
	d.insights = widget.NewLabel("")
	d.insights.Wrapping = fyne.TextWrapWord
	d.insightsRefresh = widget.NewButton("Refresh", d.loadInsights)
	header := container.NewHBox(
		widget.NewLabelWithStyle("Insights", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		layout.NewSpacer(),
		d.insightsRefresh,
	)
	return container.NewBorder(header, nil, nil, nil, container.NewVScroll(d.insights))
}

func (d *dashboard) buildLogsView() fyne.CanvasObject {
	searchEntry := widget.NewEntry()
	searchEntry.SetPlaceHolder("Filter text (substring)")
	levelSelect := widget.NewSelect(logLevelNames, nil)

	entries := func() []logging.Entry {
		return filteredLogs(d.ring, levelSelect.Selected, searchEntry.Text)
	}
	d.logList = widget.NewList(
		func() int { return len(entries()) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			all := entries()
			text := ""
			if i < len(all) {
				text = all[i].String()
			}
			o.(*widget.Label).SetText(text)
		},
	)
	searchEntry.OnChanged = func(string) { d.logList.Refresh() }
	levelSelect.OnChanged = func(string) { d.logList.Refresh() }
	levelSelect.SetSelected("ALL")

	clearBtn := widget.NewButton("Clear", func() {
		if d.ring != nil {
			d.ring.Clear()
		}
		d.logList.Refresh()
	})
	controls := container.NewVBox(
		widget.NewLabelWithStyle("Logs", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
		container.NewBorder(nil, nil, nil, levelSelect, searchEntry),
		container.NewHBox(widget.NewButton("Refresh", d.logList.Refresh), clearBtn),
	)
	return container.NewBorder(controls, nil, nil, nil, d.logList)
}

// ----- Rendering -----

func (d *dashboard) repoInputChanged(v string) {
	if d.rendering {
		return
	}
	d.orch.SetRepoInput(v)
}

// subscribe re-renders after every state change. Refreshes coalesce while
// one is queued, and each renders the orchestrator's current snapshot.
func (d *dashboard) subscribe() (unsubscribe func()) {
	return d.orch.Subscribe(func(orchestrator.Snapshot) {
		if !d.refreshPending.CompareAndSwap(false, true) {
			return
		}
		d.enqueue(func() {
			d.refreshPending.Store(false)
			d.render(d.orch.Snapshot())
		})
	})
}

// render copies a snapshot into the widgets. Snapshots older than the one
// on screen are ignored.
func (d *dashboard) render(s orchestrator.Snapshot) {
	if s.Version < d.snap.Version {
		return
	}
	d.rendering = true
	defer func() { d.rendering = false }()

	d.snap = s
	d.view = d.numfmt.Project(s)

	d.cards.Objects = d.cards.Objects[:0]
	if len(d.view.Cards) == 0 {
		d.cards.Add(widget.NewLabel("No stats yet"))
	}
	for _, c := range d.view.Cards {
		d.cards.Add(widget.NewCard(c.Value, c.Label, nil))
	}
	d.cards.Refresh()
	d.rankLabel.SetText(fmt.Sprintf("Level %d · %s", d.view.Level, d.view.Rank))
	d.xpBar.SetValue(d.view.XPFraction)

	if d.repoEntry.Text != s.RepoInput {
		d.repoEntry.SetText(s.RepoInput)
	}
	if d.watchEntry.Text != s.RepoInput {
		d.watchEntry.SetText(s.RepoInput)
	}
	if int(d.impact.Value) != s.MinImpact {
		d.impact.SetValue(float64(s.MinImpact))
	}
	d.impactLabel.SetText(fmt.Sprintf("Min impact: %d", s.MinImpact))

	setBusy(d.scanBtn, s.InFlight(model.ActionScan), "Scan", "Scanning...")
	setBusy(d.addBtn, s.InFlight(model.ActionAddWatch), "Add", "Adding...")
	setBusy(d.scanWatchedBtn, s.InFlight(model.ActionScanWatched), "Scan Watched Repos", "Scanning...")
	setBusy(d.savedRefresh, s.InFlight(model.ActionLoadSaved), "Refresh", "Loading...")
	setBusy(d.insightsRefresh, s.InFlight(model.ActionLoadInsights), "Refresh", "Loading...")

	d.headline.SetText(d.view.Headline)
	switch d.view.Status {
	case projector.StatusSecure:
		d.headline.Importance = widget.SuccessImportance
	case projector.StatusRisk:
		d.headline.Importance = widget.DangerImportance
	default:
		d.headline.Importance = widget.MediumImportance
	}
	d.headline.Refresh()
	d.scanResult.SetText(s.ScanResult)

	d.watchStatus.SetText(firstNonEmpty(
		s.LastError(model.ActionAddWatch),
		s.LastError(model.ActionLoadWatched),
		fmt.Sprintf("%d repositories watched", d.view.WatchedCount),
	))
	d.watchList.Refresh()

	if d.view.SavedFallback != "" {
		d.savedFallback.SetText(d.view.SavedFallback)
		d.savedFallback.Show()
		d.savedList.Hide()
		d.savedSummary.SetText("")
	} else {
		d.savedFallback.Hide()
		d.savedList.Show()
		d.savedSummary.SetText(savedSummaryText(d.view.Summary))
	}
	d.savedList.Refresh()

	d.insights.SetText(s.Insights)
	if d.current == viewLogs {
		d.logList.Refresh()
	}
}

func savedSummaryText(sum projector.BugSummary) string {
	if sum.Count == 0 {
		return "No saved bugs."
	}
	return fmt.Sprintf("%d bugs · mean impact %.0f · critical %d, high %d, opportunity %d",
		sum.Count, sum.MeanImpact,
		sum.ByBucket[projector.BucketCritical], sum.ByBucket[projector.BucketHigh], sum.ByBucket[projector.BucketOpportunity])
}

func setBusy(btn *widget.Button, busy bool, idle, working string) {
	if busy {
		btn.SetText(working)
		btn.Disable()
		return
	}
	btn.SetText(idle)
	btn.Enable()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ----- Actions -----

// runAction runs fn off the main thread. Validation failures are shown in
// a dialog; rejected duplicates are only logged.
func (d *dashboard) runAction(name string, fn func(context.Context) error) {
	go func() {
		err := fn(d.ctx)
		var verr *orchestrator.ValidationError
		switch {
		case err == nil:
		case errors.Is(err, orchestrator.ErrInFlight):
			d.logger.Debug("Action already running", "action", name)
		case errors.As(err, &verr):
			d.enqueue(func() { dialog.ShowInformation("Bugnosis", verr.Message, d.win) })
		default:
			d.logger.Warn("Action failed", "action", name, "error", err)
		}
	}()
}

func (d *dashboard) scan() {
	repo, impact := d.repoEntry.Text, int(d.impact.Value)
	d.runAction("scan", func(ctx context.Context) error {
		return d.orch.Scan(ctx, repo, impact)
	})
}

func (d *dashboard) addWatch() {
	repo := d.watchEntry.Text
	d.runAction("add watch", func(ctx context.Context) error {
		return d.orch.AddWatch(ctx, repo)
	})
}

func (d *dashboard) triggerScanWatched() {
	d.runAction("scan watched", d.orch.TriggerScanWatched)
}

func (d *dashboard) loadSaved() {
	impact := d.snap.MinImpact
	d.runAction("load saved", func(ctx context.Context) error {
		return d.orch.LoadSaved(ctx, impact)
	})
}

func (d *dashboard) loadInsights() {
	impact := d.snap.MinImpact
	d.runAction("load insights", func(ctx context.Context) error {
		return d.orch.LoadInsights(ctx, impact)
	})
}

func (d *dashboard) openIssue(raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		d.logger.Warn("Invalid issue URL", "url", raw, "error", err)
		return
	}
	if err := d.app.OpenURL(u); err != nil {
		dialog.ShowError(err, d.win)
	}
}

// checkOnline updates the sidebar connectivity badge. Runs off the main
// thread.
func (d *dashboard) checkOnline() {
	oc, ok := d.gw.(gateway.OnlineChecker)
	if !ok {
		d.enqueue(func() { d.onlineLabel.SetText("") })
		return
	}
	online := oc.CheckOnline(d.ctx)
	d.logger.Debug("Online check", "online", online)
	d.enqueue(func() {
		if online {
			d.onlineLabel.SetText("● Online")
		} else {
			d.onlineLabel.SetText("○ Offline")
		}
	})
}
