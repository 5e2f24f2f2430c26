package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/greg-hellings/bugnosis-desktop/pkg/gateway"
	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
	"github.com/greg-hellings/bugnosis-desktop/pkg/parse"
	"github.com/greg-hellings/bugnosis-desktop/pkg/state"
)

const statsA = `Bugs tracked: 10
Contributions: 2
Users helped: 1,500
Average impact: 80/100`

const statsB = `Bugs tracked: 20
Contributions: 4
Users helped: 3,000
Average impact: 90/100`

// fakeGateway counts calls per operation and lets tests override responses.
type fakeGateway struct {
	mu    sync.Mutex
	calls map[string]int
	args  map[string][]any

	scanRepo    func(ctx context.Context, repo string, minImpact int) (string, error)
	scanWatched func(ctx context.Context) (string, error)
	addWatched  func(ctx context.Context, repo string) (string, error)
	watched     func(ctx context.Context) (string, error)
	saved       func(ctx context.Context, minImpact int) (string, error)
	stats       func(ctx context.Context) (string, error)
	insights    func(ctx context.Context, minImpact int) (string, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: map[string]int{}, args: map[string][]any{}}
}

func (f *fakeGateway) record(op string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	f.args[op] = args
}

func (f *fakeGateway) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGateway) ScanRepo(ctx context.Context, repo string, minImpact int) (string, error) {
	f.record(gateway.OpScanRepo, repo, minImpact)
	if f.scanRepo != nil {
		return f.scanRepo(ctx, repo, minImpact)
	}
	return "Found 2 high-impact bugs", nil
}

func (f *fakeGateway) ScanWatched(ctx context.Context) (string, error) {
	f.record(gateway.OpScanWatched)
	if f.scanWatched != nil {
		return f.scanWatched(ctx)
	}
	return "No high-impact bugs found.", nil
}

func (f *fakeGateway) AddWatchedRepo(ctx context.Context, repo string) (string, error) {
	f.record(gateway.OpAddWatchedRepo, repo)
	if f.addWatched != nil {
		return f.addWatched(ctx, repo)
	}
	return "Added " + repo + " to watch list", nil
}

func (f *fakeGateway) GetWatchedRepos(ctx context.Context) (string, error) {
	f.record(gateway.OpGetWatchedRepos)
	if f.watched != nil {
		return f.watched(ctx)
	}
	return "Watched:\n - a/b\n - c/d\n", nil
}

func (f *fakeGateway) GetSavedBugs(ctx context.Context, minImpact int) (string, error) {
	f.record(gateway.OpGetSavedBugs, minImpact)
	if f.saved != nil {
		return f.saved(ctx, minImpact)
	}
	return "[]", nil
}

func (f *fakeGateway) GetStats(ctx context.Context) (string, error) {
	f.record(gateway.OpGetStats)
	if f.stats != nil {
		return f.stats(ctx)
	}
	return statsA, nil
}

func (f *fakeGateway) GetInsights(ctx context.Context, minImpact int) (string, error) {
	f.record(gateway.OpGetInsights, minImpact)
	if f.insights != nil {
		return f.insights(ctx, minImpact)
	}
	return "Most bugs are in parsers.", nil
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(title, body string) error {
	args := m.Called(title, body)
	return args.Error(0)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(gw gateway.Gateway, n Notifier) *Orchestrator {
	return New(Options{
		Gateway:     gw,
		Notifier:    n,
		Preferences: state.NewMemoryStore(),
		Logger:      quietLogger(),
	})
}

func TestNew_Defaults(t *testing.T) {
	o := newTestOrchestrator(newFakeGateway(), nil)
	snap := o.Snapshot()

	assert.Equal(t, DefaultMinImpact, snap.MinImpact)
	assert.Equal(t, model.ThemeLight, snap.Theme)
	assert.Equal(t, TabScan, snap.ActiveTab)
	assert.Nil(t, snap.Stats)
	assert.Empty(t, snap.WatchedRepos)
	assert.False(t, snap.SavedBugs.IsFallback())
	for _, a := range model.Actions {
		assert.False(t, snap.InFlight(a), "action %s", a)
	}
}

func TestNew_ThemeFromPreferences(t *testing.T) {
	prefs := state.NewMemoryStore()
	prefs.SetString(state.ThemeKey, "dark")
	o := New(Options{Gateway: newFakeGateway(), Preferences: prefs, Logger: quietLogger()})
	assert.Equal(t, model.ThemeDark, o.Snapshot().Theme)
}

func TestScan_Success(t *testing.T) {
	gw := newFakeGateway()
	n := &mockNotifier{}
	n.On("Notify", "Scan Complete", "Scanned owner/repo").Return(nil).Once()
	o := newTestOrchestrator(gw, n)

	require.NoError(t, o.Scan(context.Background(), "  owner/repo ", 75))

	snap := o.Snapshot()
	assert.Equal(t, "Found 2 high-impact bugs", snap.ScanResult)
	require.NotNil(t, snap.Stats)
	assert.Equal(t, 1500, snap.Stats.TotalUsers)
	assert.False(t, snap.InFlight(model.ActionScan))
	assert.Empty(t, snap.LastError(model.ActionScan))
	assert.Equal(t, "Found 2 high-impact bugs", snap.Requests[model.ActionScan].LastRawResult)
	assert.NotEmpty(t, snap.Requests[model.ActionScan].RequestID)
	assert.Equal(t, []any{"owner/repo", 75}, gw.args[gateway.OpScanRepo])
	assert.Equal(t, 1, gw.count(gateway.OpGetStats))
	n.AssertExpectations(t)
}

func TestScan_BlankRepoNeverCallsGateway(t *testing.T) {
	gw := newFakeGateway()
	o := newTestOrchestrator(gw, nil)

	for _, repo := range []string{"", "   ", "\t\n"} {
		err := o.Scan(context.Background(), repo, 70)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "repository", verr.Field)

		err = o.AddWatch(context.Background(), repo)
		require.ErrorAs(t, err, &verr)
	}
	assert.Zero(t, gw.count(gateway.OpScanRepo))
	assert.Zero(t, gw.count(gateway.OpAddWatchedRepo))
	assert.False(t, o.Snapshot().InFlight(model.ActionScan))
}

func TestScan_InFlightRejected(t *testing.T) {
	gw := newFakeGateway()
	entered := make(chan struct{})
	release := make(chan struct{})
	gw.scanRepo = func(ctx context.Context, repo string, minImpact int) (string, error) {
		close(entered)
		<-release
		return "Found 1 high-impact bugs", nil
	}
	o := newTestOrchestrator(gw, nil)

	done := make(chan error, 1)
	go func() { done <- o.Scan(context.Background(), "a/b", 70) }()
	<-entered

	assert.True(t, o.Snapshot().InFlight(model.ActionScan))
	err := o.Scan(context.Background(), "a/b", 70)
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Equal(t, 1, gw.count(gateway.OpScanRepo))
	assert.Empty(t, o.Snapshot().ScanResult)

	close(release)
	require.NoError(t, <-done)
	snap := o.Snapshot()
	assert.False(t, snap.InFlight(model.ActionScan))
	assert.Equal(t, "Found 1 high-impact bugs", snap.ScanResult)
}

func TestScan_GatewayError(t *testing.T) {
	gw := newFakeGateway()
	gw.scanRepo = func(context.Context, string, int) (string, error) {
		return "", &gateway.Error{Op: gateway.OpScanRepo, Stderr: "repository not found\n", Err: errors.New("exit status 1")}
	}
	o := newTestOrchestrator(gw, nil)
	o.update(func(s *Snapshot) { s.Insights = "kept" })

	require.NoError(t, o.Scan(context.Background(), "a/missing", 70))

	snap := o.Snapshot()
	assert.Equal(t, "Error: repository not found", snap.ScanResult)
	assert.Equal(t, "repository not found", snap.LastError(model.ActionScan))
	assert.False(t, snap.InFlight(model.ActionScan))
	assert.Equal(t, "kept", snap.Insights)
	assert.Zero(t, gw.count(gateway.OpGetStats))
}

func TestScan_NotifierFailureIgnored(t *testing.T) {
	n := &mockNotifier{}
	n.On("Notify", mock.Anything, mock.Anything).Return(errors.New("no notification daemon"))
	o := newTestOrchestrator(newFakeGateway(), n)

	require.NoError(t, o.Scan(context.Background(), "a/b", 70))
	snap := o.Snapshot()
	assert.Empty(t, snap.LastError(model.ActionScan))
	assert.Equal(t, "Found 2 high-impact bugs", snap.ScanResult)
	n.AssertNumberOfCalls(t, "Notify", 1)
}

func TestScan_StatsRefreshFailureKeepsResult(t *testing.T) {
	gw := newFakeGateway()
	gw.stats = func(context.Context) (string, error) { return "", errors.New("boom") }
	o := newTestOrchestrator(gw, nil)

	require.NoError(t, o.Scan(context.Background(), "a/b", 70))
	snap := o.Snapshot()
	assert.Empty(t, snap.LastError(model.ActionScan))
	assert.Nil(t, snap.Stats)
	assert.Equal(t, "Found 2 high-impact bugs", snap.ScanResult)
}

func TestStaleStatsResponseDiscarded(t *testing.T) {
	gw := newFakeGateway()
	entered := make(chan int, 2)
	releaseFirst := make(chan struct{})
	var n int32
	gw.stats = func(context.Context) (string, error) {
		i := atomic.AddInt32(&n, 1)
		entered <- int(i)
		if i == 1 {
			<-releaseFirst
			return statsA, nil
		}
		return statsB, nil
	}
	o := newTestOrchestrator(gw, nil)

	done := make(chan error, 1)
	go func() { done <- o.Scan(context.Background(), "a/b", 70) }()
	require.Equal(t, 1, <-entered)

	require.NoError(t, o.ScanWatched(context.Background()))
	require.Equal(t, 2, <-entered)
	snap := o.Snapshot()
	require.NotNil(t, snap.Stats)
	assert.Equal(t, 20, snap.Stats.TotalBugs)

	close(releaseFirst)
	require.NoError(t, <-done)
	snap = o.Snapshot()
	assert.Equal(t, 20, snap.Stats.TotalBugs)
	assert.Equal(t, 90, snap.Stats.AverageImpact)
}

func TestLoadStats_IncompleteKeepsPrevious(t *testing.T) {
	gw := newFakeGateway()
	o := newTestOrchestrator(gw, nil)
	require.NoError(t, o.LoadStats(context.Background()))
	require.NotNil(t, o.Snapshot().Stats)

	gw.stats = func(context.Context) (string, error) { return "Bugs tracked: 3", nil }
	require.NoError(t, o.LoadStats(context.Background()))
	snap := o.Snapshot()
	assert.Equal(t, 10, snap.Stats.TotalBugs)
	assert.Empty(t, snap.LastError(model.ActionLoadStats))
}

func TestLoadStats_Error(t *testing.T) {
	gw := newFakeGateway()
	gw.stats = func(context.Context) (string, error) { return "", errors.New("backend crashed") }
	o := newTestOrchestrator(gw, nil)

	require.NoError(t, o.LoadStats(context.Background()))
	snap := o.Snapshot()
	assert.Nil(t, snap.Stats)
	assert.Equal(t, "backend crashed", snap.LastError(model.ActionLoadStats))
}

func TestScanWatched_And_Trigger(t *testing.T) {
	gw := newFakeGateway()
	entered := make(chan struct{})
	release := make(chan struct{})
	gw.scanWatched = func(context.Context) (string, error) {
		close(entered)
		<-release
		return "Found 4 high-impact bugs", nil
	}
	n := &mockNotifier{}
	n.On("Notify", "Watch Scan Complete", "Scanned all watched repositories").Return(nil).Once()
	o := newTestOrchestrator(gw, n)

	done := make(chan error, 1)
	go func() { done <- o.ScanWatched(context.Background()) }()
	<-entered

	assert.ErrorIs(t, o.TriggerScanWatched(context.Background()), ErrInFlight)
	assert.Equal(t, 1, gw.count(gateway.OpScanWatched))

	close(release)
	require.NoError(t, <-done)
	snap := o.Snapshot()
	assert.Equal(t, "Found 4 high-impact bugs", snap.ScanResult)
	assert.NotNil(t, snap.Stats)
	n.AssertExpectations(t)
}

func TestScanWatched_Error(t *testing.T) {
	gw := newFakeGateway()
	gw.scanWatched = func(context.Context) (string, error) { return "", errors.New("no repos") }
	o := newTestOrchestrator(gw, nil)

	require.NoError(t, o.TriggerScanWatched(context.Background()))
	snap := o.Snapshot()
	assert.Equal(t, "Error: no repos", snap.ScanResult)
	assert.Equal(t, "no repos", snap.LastError(model.ActionScanWatched))
}

func TestAddWatch(t *testing.T) {
	gw := newFakeGateway()
	n := &mockNotifier{}
	n.On("Notify", "Repository Added", "Now watching c/d").Return(nil).Once()
	o := newTestOrchestrator(gw, n)
	o.SetRepoInput("c/d")

	require.NoError(t, o.AddWatch(context.Background(), "c/d"))

	snap := o.Snapshot()
	assert.Equal(t, []string{"a/b", "c/d"}, snap.WatchedRepos)
	assert.Empty(t, snap.RepoInput)
	assert.Equal(t, "Added c/d to watch list", snap.Requests[model.ActionAddWatch].LastRawResult)
	n.AssertExpectations(t)
}

func TestAddWatch_ErrorKeepsInput(t *testing.T) {
	gw := newFakeGateway()
	gw.addWatched = func(context.Context, string) (string, error) {
		return "", &gateway.Error{Op: gateway.OpAddWatchedRepo, Stderr: "invalid repository"}
	}
	o := newTestOrchestrator(gw, nil)
	o.SetRepoInput("bad")

	require.NoError(t, o.AddWatch(context.Background(), "bad"))
	snap := o.Snapshot()
	assert.Equal(t, "bad", snap.RepoInput)
	assert.Equal(t, "invalid repository", snap.LastError(model.ActionAddWatch))
	assert.Zero(t, gw.count(gateway.OpGetWatchedRepos))
}

func TestLoadSaved(t *testing.T) {
	gw := newFakeGateway()
	payload := `[{"repo":"a/b","issue_number":7,"title":"Crash","url":"https://x","impact_score":92,"affected_users":1200,"severity":"critical"}]`
	gw.saved = func(context.Context, int) (string, error) { return payload, nil }
	o := newTestOrchestrator(gw, nil)

	require.NoError(t, o.LoadSaved(context.Background(), 60))
	snap := o.Snapshot()
	require.Equal(t, parse.Structured, snap.SavedBugs.Kind)
	require.Len(t, snap.SavedBugs.Bugs, 1)
	assert.Equal(t, "a/b#7", snap.SavedBugs.Bugs[0].Key(0))
	assert.Empty(t, snap.SavedBugs.Fallback)
	assert.Equal(t, []any{60}, gw.args[gateway.OpGetSavedBugs])

	gw.saved = func(context.Context, int) (string, error) { return "No saved bugs yet", nil }
	require.NoError(t, o.LoadSaved(context.Background(), 60))
	snap = o.Snapshot()
	assert.True(t, snap.SavedBugs.IsFallback())
	assert.Empty(t, snap.SavedBugs.Bugs)
	assert.Equal(t, "No saved bugs yet", snap.SavedBugs.Fallback)

	gw.saved = func(context.Context, int) (string, error) { return "", errors.New("db locked") }
	require.NoError(t, o.LoadSaved(context.Background(), 60))
	snap = o.Snapshot()
	assert.True(t, snap.SavedBugs.IsFallback())
	assert.Empty(t, snap.SavedBugs.Bugs)
	assert.Equal(t, "Error: db locked", snap.SavedBugs.Fallback)
	assert.Equal(t, "db locked", snap.LastError(model.ActionLoadSaved))
}

func TestLoadInsights(t *testing.T) {
	gw := newFakeGateway()
	o := newTestOrchestrator(gw, nil)

	require.NoError(t, o.LoadInsights(context.Background(), 150))
	assert.Equal(t, "Most bugs are in parsers.", o.Snapshot().Insights)
	assert.Equal(t, []any{100}, gw.args[gateway.OpGetInsights])

	gw.insights = func(context.Context, int) (string, error) { return "", errors.New("timeout") }
	require.NoError(t, o.LoadInsights(context.Background(), 70))
	assert.Equal(t, "Error: timeout", o.Snapshot().Insights)
}

func TestStartup(t *testing.T) {
	gw := newFakeGateway()
	o := newTestOrchestrator(gw, nil)

	require.NoError(t, o.Startup(context.Background()))
	snap := o.Snapshot()
	assert.Equal(t, []string{"a/b", "c/d"}, snap.WatchedRepos)
	require.NotNil(t, snap.Stats)
	assert.Equal(t, 2, snap.Stats.TotalContributions)
	assert.Equal(t, 1, gw.count(gateway.OpGetWatchedRepos))
	assert.Equal(t, 1, gw.count(gateway.OpGetStats))
}

func TestDifferentActionsOverlap(t *testing.T) {
	gw := newFakeGateway()
	entered := make(chan struct{})
	release := make(chan struct{})
	gw.scanRepo = func(context.Context, string, int) (string, error) {
		close(entered)
		<-release
		return "ok", nil
	}
	o := newTestOrchestrator(gw, nil)

	done := make(chan error, 1)
	go func() { done <- o.Scan(context.Background(), "a/b", 70) }()
	<-entered

	require.NoError(t, o.LoadInsights(context.Background(), 70))
	assert.Equal(t, "Most bugs are in parsers.", o.Snapshot().Insights)

	close(release)
	require.NoError(t, <-done)
}

func TestSetters(t *testing.T) {
	prefs := state.NewMemoryStore()
	o := New(Options{Gateway: newFakeGateway(), Preferences: prefs, Logger: quietLogger()})

	o.SetMinImpact(-5)
	assert.Equal(t, 0, o.Snapshot().MinImpact)
	o.SetMinImpact(250)
	assert.Equal(t, 100, o.Snapshot().MinImpact)
	o.SetMinImpact(85)
	assert.Equal(t, 85, o.Snapshot().MinImpact)

	o.SetActiveTab(TabInsights)
	assert.Equal(t, TabInsights, o.Snapshot().ActiveTab)

	o.SetProgress(model.Progress{Level: 3, XP: 40, NextLevelXP: 300})
	assert.Equal(t, 3, o.Snapshot().Progress.Level)

	assert.Equal(t, model.ThemeDark, o.ToggleTheme())
	assert.Equal(t, "dark", prefs.String(state.ThemeKey))
	assert.Equal(t, model.ThemeLight, o.ToggleTheme())
	assert.Equal(t, "light", prefs.String(state.ThemeKey))
}

func TestSubscribe(t *testing.T) {
	o := newTestOrchestrator(newFakeGateway(), nil)

	var mu sync.Mutex
	var seen []string
	unsubscribe := o.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.RepoInput)
		mu.Unlock()
	})

	o.SetRepoInput("x/y")
	unsubscribe()
	o.SetRepoInput("ignored")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"x/y"}, seen)
}

func TestNew_ExplicitZeroMinImpact(t *testing.T) {
	zero := 0
	o := New(Options{Gateway: newFakeGateway(), Preferences: state.NewMemoryStore(), Logger: quietLogger(), MinImpact: &zero})
	assert.Equal(t, 0, o.Snapshot().MinImpact)

	gw := newFakeGateway()
	o = New(Options{Gateway: gw, Logger: quietLogger(), MinImpact: &zero})
	require.NoError(t, o.LoadSaved(context.Background(), o.Snapshot().MinImpact))
	gw.mu.Lock()
	assert.Equal(t, []any{0}, gw.args[gateway.OpGetSavedBugs])
	gw.mu.Unlock()
}

func TestSnapshotVersionIncreases(t *testing.T) {
	o := newTestOrchestrator(newFakeGateway(), nil)
	v0 := o.Snapshot().Version

	o.SetRepoInput("a/b")
	v1 := o.Snapshot().Version
	assert.Greater(t, v1, v0)

	require.NoError(t, o.LoadInsights(context.Background(), 70))
	assert.Greater(t, o.Snapshot().Version, v1)
}

func TestLatestOnly(t *testing.T) {
	var got []uint64
	fn := LatestOnly(func(s Snapshot) { got = append(got, s.Version) })
	for _, v := range []uint64{2, 1, 3, 3, 5, 4} {
		fn(Snapshot{Version: v})
	}
	assert.Equal(t, []uint64{2, 3, 5}, got)
}

func TestLatestOnly_ConcurrentStartupEndsOnCurrentState(t *testing.T) {
	// The watch-list settle is delivered only after the stats settle, so a
	// plain listener would finish on a snapshot without stats.
	gw := newFakeGateway()
	statsStarted := make(chan struct{})
	watchedSettled := make(chan struct{})
	statsDelivered := make(chan struct{})
	gw.watched = func(context.Context) (string, error) {
		select {
		case <-statsStarted:
		case <-time.After(time.Second):
			t.Error("stats load never started")
		}
		return "Watched:\n - a/b\n - c/d\n", nil
	}
	gw.stats = func(context.Context) (string, error) {
		select {
		case <-watchedSettled:
		case <-time.After(time.Second):
			t.Error("watch list never settled")
		}
		return statsA, nil
	}
	o := newTestOrchestrator(gw, nil)

	var last Snapshot
	latest := LatestOnly(func(s Snapshot) { last = s })
	var markStarted, holdWatched, markStats sync.Once
	o.Subscribe(func(s Snapshot) {
		if s.InFlight(model.ActionLoadStats) {
			markStarted.Do(func() { close(statsStarted) })
		}
		if s.Stats == nil && len(s.WatchedRepos) > 0 && !s.InFlight(model.ActionLoadWatched) {
			holdWatched.Do(func() {
				close(watchedSettled)
				select {
				case <-statsDelivered:
				case <-time.After(time.Second):
					t.Error("stats snapshot never delivered")
				}
			})
		}
		latest(s)
		if s.Stats != nil && !s.InFlight(model.ActionLoadStats) {
			markStats.Do(func() { close(statsDelivered) })
		}
	})

	require.NoError(t, o.Startup(context.Background()))

	current := o.Snapshot()
	assert.Equal(t, current.Version, last.Version)
	require.NotNil(t, last.Stats)
	assert.Equal(t, []string{"a/b", "c/d"}, last.WatchedRepos)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	o := newTestOrchestrator(newFakeGateway(), nil)
	require.NoError(t, o.Startup(context.Background()))

	snap := o.Snapshot()
	snap.WatchedRepos[0] = "mutated"
	snap.Stats.TotalBugs = -1
	snap.Requests[model.ActionScan] = model.RequestState{InFlight: true}

	fresh := o.Snapshot()
	assert.Equal(t, "a/b", fresh.WatchedRepos[0])
	assert.Equal(t, 10, fresh.Stats.TotalBugs)
	assert.False(t, fresh.InFlight(model.ActionScan))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "repository", Message: "Please enter a repository name (owner/repo)"}
	assert.EqualError(t, err, "Please enter a repository name (owner/repo)")
}

func TestNotifierFunc(t *testing.T) {
	var got string
	f := NotifierFunc(func(title, body string) error {
		got = title + ":" + body
		return nil
	})
	require.NoError(t, f.Notify("t", "b"))
	assert.Equal(t, "t:b", got)
}
