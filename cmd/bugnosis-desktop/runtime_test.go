package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fyne.io/fyne/v2/test"
	"fyne.io/fyne/v2/theme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greg-hellings/bugnosis-desktop/pkg/logging"
	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
	"github.com/greg-hellings/bugnosis-desktop/pkg/orchestrator"
	"github.com/greg-hellings/bugnosis-desktop/pkg/projector"
	"github.com/greg-hellings/bugnosis-desktop/pkg/state"
)

func TestAutoRefresher_FiresAndStops(t *testing.T) {
	var calls atomic.Int32
	r := newAutoRefresher(5*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}, nil)

	r.Start(context.Background())
	r.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)

	r.Stop()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no ticks after Stop")
	r.Stop()
}

func TestAutoRefresher_DisabledInterval(t *testing.T) {
	r := newAutoRefresher(0, func(context.Context) error {
		t.Fatal("trigger must not run")
		return nil
	}, nil)
	r.Start(context.Background())
	r.Stop()
}

func TestAutoRefresher_SkipsInFlight(t *testing.T) {
	// The orchestrator guard rejects a tick while a watch scan is running;
	// the refresher keeps ticking.
	var calls atomic.Int32
	r := newAutoRefresher(2*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return orchestrator.ErrInFlight
	}, nil)
	r.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	r.Stop()
}

func TestAutoRefresher_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newAutoRefresher(time.Hour, func(context.Context) error { return nil }, nil)
	r.Start(ctx)
	cancel()
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestUIDispatcher_RunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int
	d := newUIDispatcher(8, func(fn func()) { fn() }, nil)
	for i := range 5 {
		d.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	d.Close()
	d.Close()
	d.Enqueue(func() { t.Error("enqueued after close") })
}

func TestUIDispatcher_RecoversPanics(t *testing.T) {
	ran := make(chan struct{})
	d := newUIDispatcher(4, func(fn func()) { fn() }, nil)
	defer d.Close()
	d.Enqueue(func() { panic("boom") })
	d.Enqueue(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("dispatcher stopped after a panic")
	}
}

func TestUIDispatcher_DropsOldestWhenFull(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	d := newUIDispatcher(2, func(fn func()) { fn() }, nil)
	defer d.Close()

	started := make(chan struct{})
	d.Enqueue(func() {
		close(started)
		<-release
	})
	<-started
	for _, name := range []string{"a", "b", "c"} {
		d.Enqueue(func() {
			mu.Lock()
			got = append(got, name)
			mu.Unlock()
		})
	}
	close(release)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestThemeFor(t *testing.T) {
	test.NewTempApp(t)
	dark := themeFor(model.ThemeDark)
	light := themeFor(model.ThemeLight)
	def := theme.DefaultTheme()

	assert.Equal(t,
		def.Color(theme.ColorNameBackground, theme.VariantDark),
		dark.Color(theme.ColorNameBackground, theme.VariantLight))
	assert.Equal(t,
		def.Color(theme.ColorNameBackground, theme.VariantLight),
		light.Color(theme.ColorNameBackground, theme.VariantDark))
}

func TestFyneNotifier(t *testing.T) {
	assert.Error(t, fyneNotifier{}.Notify("t", "b"))
	app := test.NewTempApp(t)
	assert.NoError(t, fyneNotifier{app: app}.Notify("Scan Complete", "Scanned acme/widget"))
}

func TestFilteredLogs(t *testing.T) {
	assert.Nil(t, filteredLogs(nil, "ALL", ""))

	ring := logging.NewRingHandler(slog.DiscardHandler, 10, slog.LevelDebug)
	logger := slog.New(ring)
	logger.Debug("probe sent")
	logger.Info("scan started", "repo", "acme/widget")
	logger.Error("scan failed", "repo", "acme/gizmo")

	all := filteredLogs(ring, "ALL", "")
	require.Len(t, all, 3)
	assert.Equal(t, "scan failed", all[0].Message, "newest first")

	errs := filteredLogs(ring, "ERROR", "")
	require.Len(t, errs, 1)

	byText := filteredLogs(ring, "", "ACME/WIDGET")
	require.Len(t, byText, 1)
	assert.Equal(t, "scan started", byText[0].Message)
}

func TestSavedSummaryText(t *testing.T) {
	assert.Equal(t, "No saved bugs.", savedSummaryText(projector.BugSummary{}))
	got := savedSummaryText(projector.SummarizeBugs([]model.BugRecord{
		{Repository: "a/b", ImpactScore: 95},
		{Repository: "a/b", ImpactScore: 85},
	}))
	assert.Equal(t, "2 bugs · mean impact 90 · critical 1, high 1, opportunity 0", got)
}

func TestBugRef(t *testing.T) {
	n := 12
	assert.Equal(t, "acme/widget#12", bugRef(projector.BugRow{Repository: "acme/widget", IssueNumber: &n}))
	assert.Equal(t, "acme/widget", bugRef(projector.BugRow{Repository: "acme/widget"}))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "  ", "b", "c"))
	assert.Equal(t, "", firstNonEmpty())
}

func TestConfigTokenStore(t *testing.T) {
	t.Setenv(state.TokenEnvVar, "")
	tok, err := state.ResolveToken(configTokenStore("ghp_config"))
	require.NoError(t, err)
	assert.Equal(t, "ghp_config", tok)

	tok, err = state.ResolveToken(configTokenStore(""))
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestUnavailableGateway(t *testing.T) {
	want := errors.New("bugnosis backend not found")
	gw := unavailableGateway{err: want}
	orch := orchestrator.New(orchestrator.Options{
		Gateway:     gw,
		Preferences: state.NewMemoryStore(),
	})
	require.NoError(t, orch.Scan(context.Background(), "acme/widget", 70))
	assert.Equal(t, "Error: bugnosis backend not found", orch.Snapshot().ScanResult)
}
