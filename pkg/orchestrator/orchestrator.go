// Package orchestrator issues backend requests on behalf of the UI and
// merges their results into a single state container.
//
// Every logical action has its own single-in-flight guard: re-entry while a
// request is outstanding is rejected with ErrInFlight and no backend call is
// made. Different actions may run concurrently. Results shared between
// actions (scan output, stats) are applied last-issued-wins so a slow
// response never overwrites a newer one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/greg-hellings/bugnosis-desktop/pkg/gateway"
	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
	"github.com/greg-hellings/bugnosis-desktop/pkg/parse"
	"github.com/greg-hellings/bugnosis-desktop/pkg/state"
)

// ErrInFlight is returned when an action is triggered while its previous
// request has not settled. Callers drop it silently.
var ErrInFlight = errors.New("request already in flight")

// ValidationError rejects an action before any backend call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Notifier delivers desktop notifications. Delivery is best effort.
type Notifier interface {
	Notify(title, body string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(title, body string) error

// Notify calls f.
func (f NotifierFunc) Notify(title, body string) error { return f(title, body) }

// Options configures an Orchestrator.
type Options struct {
	Gateway     gateway.Gateway
	Notifier    Notifier
	Preferences state.KeyValueStore
	Logger      *slog.Logger
	// MinImpact is the initial threshold; nil selects DefaultMinImpact.
	MinImpact *int
	// NewRequestID overrides request ID generation.
	NewRequestID func() string
	// Now overrides the clock.
	Now func() time.Time
}

// Orchestrator owns the application state and the backend request flows.
type Orchestrator struct {
	gw     gateway.Gateway
	notify Notifier
	prefs  state.KeyValueStore
	logger *slog.Logger
	newID  func() string
	now    func() time.Time

	mu        sync.RWMutex
	data      Snapshot
	issued    map[slice]uint64
	listeners map[int]func(Snapshot)
	nextLID   int
}

// New builds an Orchestrator. The theme is read from opts.Preferences.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minImpact := DefaultMinImpact
	if opts.MinImpact != nil {
		minImpact = *opts.MinImpact
	}
	o := &Orchestrator{
		gw:        opts.Gateway,
		notify:    opts.Notifier,
		prefs:     opts.Preferences,
		logger:    logger,
		newID:     opts.NewRequestID,
		now:       opts.Now,
		issued:    make(map[slice]uint64),
		listeners: make(map[int]func(Snapshot)),
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.data = newSnapshot(state.LoadTheme(opts.Preferences), minImpact)
	return o
}

// Snapshot returns a deep copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.data.clone()
}

// Subscribe registers fn to receive a snapshot after every state change.
// Listeners run on the goroutine that made the change, outside the lock,
// so snapshots from concurrent actions may arrive out of order; compare
// Snapshot.Version or wrap fn with LatestOnly. The returned function
// removes the listener.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextLID
	o.nextLID++
	o.listeners[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// update applies fn under the write lock and then notifies listeners.
func (o *Orchestrator) update(fn func(*Snapshot)) {
	o.mu.Lock()
	fn(&o.data)
	snap, ls := o.publishLocked()
	o.mu.Unlock()
	for _, l := range ls {
		l(snap)
	}
}

func (o *Orchestrator) publishLocked() (Snapshot, []func(Snapshot)) {
	o.data.Version++
	if len(o.listeners) == 0 {
		return Snapshot{}, nil
	}
	ls := make([]func(Snapshot), 0, len(o.listeners))
	for _, l := range o.listeners {
		ls = append(ls, l)
	}
	return o.data.clone(), ls
}

// LatestOnly wraps fn so that a snapshot older than one already delivered
// is dropped. fn is called with the wrapper's lock held.
func LatestOnly(fn func(Snapshot)) func(Snapshot) {
	var (
		mu   sync.Mutex
		last uint64
	)
	return func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Version <= last {
			return
		}
		last = s.Version
		fn(s)
	}
}

// SetRepoInput stores the repository text field.
func (o *Orchestrator) SetRepoInput(v string) {
	o.update(func(s *Snapshot) { s.RepoInput = v })
}

// SetMinImpact stores the threshold clamped to 0..100.
func (o *Orchestrator) SetMinImpact(v int) {
	o.update(func(s *Snapshot) { s.MinImpact = clampImpact(v) })
}

// SetActiveTab records the selected view.
func (o *Orchestrator) SetActiveTab(tab string) {
	o.update(func(s *Snapshot) { s.ActiveTab = tab })
}

// SetProgress replaces the gamification values.
func (o *Orchestrator) SetProgress(p model.Progress) {
	o.update(func(s *Snapshot) { s.Progress = p })
}

// SetTheme stores and persists the theme.
func (o *Orchestrator) SetTheme(t model.Theme) {
	t = model.ParseTheme(string(t))
	state.SaveTheme(o.prefs, t)
	o.update(func(s *Snapshot) { s.Theme = t })
}

// ToggleTheme flips the theme, persists it and returns the new value.
func (o *Orchestrator) ToggleTheme() model.Theme {
	o.mu.RLock()
	next := o.data.Theme.Toggle()
	o.mu.RUnlock()
	o.SetTheme(next)
	return next
}

type ticket struct {
	action model.Action
	seq    uint64
	id     string
	logger *slog.Logger
}

// begin marks action in flight or reports ErrInFlight.
func (o *Orchestrator) begin(action model.Action) (ticket, error) {
	o.mu.Lock()
	rs := o.data.Requests[action]
	if rs.InFlight {
		o.mu.Unlock()
		o.logger.Debug("Request dropped, already in flight", "action", action, "request_id", rs.RequestID)
		return ticket{}, ErrInFlight
	}
	rs.InFlight = true
	rs.Seq++
	rs.RequestID = o.newID()
	rs.StartedAt = o.now()
	o.data.Requests[action] = rs
	t := ticket{action: action, seq: rs.Seq, id: rs.RequestID}
	snap, ls := o.publishLocked()
	o.mu.Unlock()

	t.logger = o.logger.With("action", action, "request_id", t.id)
	t.logger.Debug("Request started")
	for _, l := range ls {
		l(snap)
	}
	return t, nil
}

// settle clears the in-flight flag and records the outcome.
func (o *Orchestrator) settle(t ticket, raw string, err error) {
	o.update(func(s *Snapshot) {
		rs := s.Requests[t.action]
		if rs.Seq != t.seq {
			return
		}
		rs.InFlight = false
		rs.SettledAt = o.now()
		if err != nil {
			rs.LastError = gateway.DisplayMessage(err)
		} else {
			rs.LastError = ""
			rs.LastRawResult = raw
		}
		s.Requests[t.action] = rs
	})
	if err != nil {
		t.logger.Warn("Request failed", "error", err)
		return
	}
	t.logger.Debug("Request settled", "bytes", len(raw))
}

// issue reserves the next sequence number for a shared slice.
func (o *Orchestrator) issue(sl slice) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issued[sl]++
	return o.issued[sl]
}

// commit applies fn only if seq is still the latest issued for sl.
func (o *Orchestrator) commit(sl slice, seq uint64, fn func(*Snapshot)) bool {
	o.mu.Lock()
	if o.issued[sl] != seq {
		o.mu.Unlock()
		o.logger.Debug("Discarding stale response", "slice", int(sl), "seq", seq)
		return false
	}
	fn(&o.data)
	snap, ls := o.publishLocked()
	o.mu.Unlock()
	for _, l := range ls {
		l(snap)
	}
	return true
}

func (o *Orchestrator) sendNotification(title, body string) {
	if o.notify == nil {
		return
	}
	if err := o.notify.Notify(title, body); err != nil {
		o.logger.Warn("Notification failed", "title", title, "error", err)
	}
}

func errorText(err error) string {
	return "Error: " + gateway.DisplayMessage(err)
}

func validateRepo(repo string) (string, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return "", &ValidationError{Field: "repository", Message: "Please enter a repository name (owner/repo)"}
	}
	return repo, nil
}

// Scan scans one repository, stores the summary and then refreshes stats.
func (o *Orchestrator) Scan(ctx context.Context, repo string, minImpact int) error {
	repo, err := validateRepo(repo)
	if err != nil {
		return err
	}
	t, err := o.begin(model.ActionScan)
	if err != nil {
		return err
	}
	seq := o.issue(sliceScanResult)
	raw, err := o.gw.ScanRepo(ctx, repo, clampImpact(minImpact))
	if err != nil {
		o.commit(sliceScanResult, seq, func(s *Snapshot) { s.ScanResult = errorText(err) })
		o.settle(t, "", err)
		return nil
	}
	o.commit(sliceScanResult, seq, func(s *Snapshot) { s.ScanResult = raw })
	o.sendNotification("Scan Complete", "Scanned "+repo)
	o.refreshStats(ctx, t.logger)
	o.settle(t, raw, nil)
	return nil
}

// ScanWatched scans every watched repository, stores the summary and then
// refreshes stats.
func (o *Orchestrator) ScanWatched(ctx context.Context) error {
	t, err := o.begin(model.ActionScanWatched)
	if err != nil {
		return err
	}
	seq := o.issue(sliceScanResult)
	raw, err := o.gw.ScanWatched(ctx)
	if err != nil {
		o.commit(sliceScanResult, seq, func(s *Snapshot) { s.ScanResult = errorText(err) })
		o.settle(t, "", err)
		return nil
	}
	o.commit(sliceScanResult, seq, func(s *Snapshot) { s.ScanResult = raw })
	o.refreshStats(ctx, t.logger)
	o.sendNotification("Watch Scan Complete", "Scanned all watched repositories")
	o.settle(t, raw, nil)
	return nil
}

// TriggerScanWatched is the entry point for external signals such as the
// tray menu and the auto-refresh timer. It shares ScanWatched's guard.
func (o *Orchestrator) TriggerScanWatched(ctx context.Context) error {
	o.logger.Info("Watch scan triggered")
	return o.ScanWatched(ctx)
}

// AddWatch adds repo to the backend watch list, reloads the list and clears
// the repository input.
func (o *Orchestrator) AddWatch(ctx context.Context, repo string) error {
	repo, err := validateRepo(repo)
	if err != nil {
		return err
	}
	t, err := o.begin(model.ActionAddWatch)
	if err != nil {
		return err
	}
	raw, err := o.gw.AddWatchedRepo(ctx, repo)
	if err != nil {
		o.settle(t, "", err)
		return nil
	}
	if _, err := o.reloadWatched(ctx); err != nil {
		t.logger.Warn("Watch list reload failed", "error", err)
	}
	o.update(func(s *Snapshot) { s.RepoInput = "" })
	o.sendNotification("Repository Added", "Now watching "+repo)
	o.settle(t, raw, nil)
	return nil
}

// LoadSaved replaces the saved bug list. Output that is not a JSON array is
// kept as fallback text and the list is cleared.
func (o *Orchestrator) LoadSaved(ctx context.Context, minImpact int) error {
	t, err := o.begin(model.ActionLoadSaved)
	if err != nil {
		return err
	}
	seq := o.issue(sliceSaved)
	raw, err := o.gw.GetSavedBugs(ctx, clampImpact(minImpact))
	if err != nil {
		o.commit(sliceSaved, seq, func(s *Snapshot) {
			s.SavedBugs = parse.BugListResult{Kind: parse.RawFallback, Bugs: []model.BugRecord{}, Fallback: errorText(err)}
		})
		o.settle(t, "", err)
		return nil
	}
	res := parse.ParseBugList(raw)
	if res.IsFallback() {
		t.logger.Debug("Saved bugs not structured, showing raw text")
	}
	o.commit(sliceSaved, seq, func(s *Snapshot) { s.SavedBugs = res })
	o.settle(t, raw, nil)
	return nil
}

// LoadInsights stores the backend's insights text verbatim.
func (o *Orchestrator) LoadInsights(ctx context.Context, minImpact int) error {
	t, err := o.begin(model.ActionLoadInsights)
	if err != nil {
		return err
	}
	seq := o.issue(sliceInsights)
	raw, err := o.gw.GetInsights(ctx, clampImpact(minImpact))
	if err != nil {
		o.commit(sliceInsights, seq, func(s *Snapshot) { s.Insights = errorText(err) })
		o.settle(t, "", err)
		return nil
	}
	o.commit(sliceInsights, seq, func(s *Snapshot) { s.Insights = raw })
	o.settle(t, raw, nil)
	return nil
}

// LoadStats refreshes the dashboard counters.
func (o *Orchestrator) LoadStats(ctx context.Context) error {
	t, err := o.begin(model.ActionLoadStats)
	if err != nil {
		return err
	}
	raw, err := o.fetchStats(ctx, t.logger)
	o.settle(t, raw, err)
	return nil
}

// LoadWatched reloads the watch list.
func (o *Orchestrator) LoadWatched(ctx context.Context) error {
	t, err := o.begin(model.ActionLoadWatched)
	if err != nil {
		return err
	}
	raw, err := o.reloadWatched(ctx)
	o.settle(t, raw, err)
	return nil
}

// Startup loads the watch list and stats concurrently.
func (o *Orchestrator) Startup(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, load := range []func(context.Context) error{o.LoadWatched, o.LoadStats} {
		g.Go(func() error {
			if err := load(gctx); err != nil && !errors.Is(err, ErrInFlight) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	return nil
}

// refreshStats is the dependent step after a scan. Its failure is logged
// and does not affect the parent action's outcome.
func (o *Orchestrator) refreshStats(ctx context.Context, logger *slog.Logger) {
	if _, err := o.fetchStats(ctx, logger); err != nil {
		logger.Warn("Stats refresh failed", "error", err)
	}
}

// fetchStats calls get_stats and commits a complete snapshot. Output that
// lacks a marker leaves the current snapshot in place.
func (o *Orchestrator) fetchStats(ctx context.Context, logger *slog.Logger) (string, error) {
	seq := o.issue(sliceStats)
	raw, err := o.gw.GetStats(ctx)
	if err != nil {
		return "", err
	}
	st, ok := parse.ParseStats(raw)
	if !ok {
		logger.Debug("Stats output incomplete, keeping previous snapshot")
		return raw, nil
	}
	o.commit(sliceStats, seq, func(s *Snapshot) { s.Stats = st })
	return raw, nil
}

func (o *Orchestrator) reloadWatched(ctx context.Context) (string, error) {
	seq := o.issue(sliceWatched)
	raw, err := o.gw.GetWatchedRepos(ctx)
	if err != nil {
		return "", err
	}
	repos := parse.ParseWatchedRepos(raw)
	o.commit(sliceWatched, seq, func(s *Snapshot) { s.WatchedRepos = repos })
	return raw, nil
}
