package main

import (
	"context"
	"errors"
	"image/color"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"

	"github.com/greg-hellings/bugnosis-desktop/pkg/logging"
	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
	"github.com/greg-hellings/bugnosis-desktop/pkg/orchestrator"
)

// ----- Auto-Refresh -----

// autoRefresher fires trigger on a fixed interval until stopped. A tick
// that lands while the previous watch scan is still running is skipped.
type autoRefresher struct {
	mu       sync.Mutex
	interval time.Duration
	trigger  func(context.Context) error
	logger   *slog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

func newAutoRefresher(interval time.Duration, trigger func(context.Context) error, logger *slog.Logger) *autoRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &autoRefresher{interval: interval, trigger: trigger, logger: logger}
}

// Start launches the ticker goroutine. Calling Start twice is a no-op.
func (r *autoRefresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopChan != nil || r.interval <= 0 {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	r.stopChan, r.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.fire(ctx)
			case <-stop:
				r.logger.Info("Auto-refresh stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	r.logger.Info("Auto-refresh started", "interval", r.interval)
}

func (r *autoRefresher) fire(ctx context.Context) {
	r.logger.Info("Auto-refresh triggering watch scan")
	err := r.trigger(ctx)
	switch {
	case errors.Is(err, orchestrator.ErrInFlight):
		r.logger.Debug("Skipping auto-refresh; watch scan already running")
	case err != nil:
		r.logger.Warn("Auto-refresh failed", "error", err)
	}
}

// Stop ends the ticker and waits for the goroutine to exit.
func (r *autoRefresher) Stop() {
	r.mu.Lock()
	stop, done := r.stopChan, r.done
	r.stopChan, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// ----- UI Dispatcher -----

// uiDispatcher serializes widget updates coming from background
// goroutines onto the fyne main thread, in submission order.
type uiDispatcher struct {
	mu     sync.RWMutex
	closed bool
	queue  chan func()
	run    func(func())
	logger *slog.Logger
}

func newUIDispatcher(size int, run func(func()), logger *slog.Logger) *uiDispatcher {
	if run == nil {
		run = fyne.DoAndWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &uiDispatcher{queue: make(chan func(), size), run: run, logger: logger}
	go d.loop()
	return d
}

func (d *uiDispatcher) loop() {
	for fn := range d.queue {
		d.run(func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("UI dispatcher panic recovered", "error", r)
				}
			}()
			fn()
		})
	}
}

// Enqueue schedules fn. When the queue is full the oldest pending update
// is dropped. Updates after Close are discarded.
func (d *uiDispatcher) Enqueue(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for {
		select {
		case d.queue <- fn:
			return
		default:
		}
		select {
		case <-d.queue:
			d.logger.Warn("UI queue full; dropping oldest event")
		default:
		}
	}
}

// Close stops accepting work. Safe to call more than once.
func (d *uiDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// ----- Theme -----

// variantTheme forces the default theme into one colour variant.
type variantTheme struct {
	fyne.Theme
	variant fyne.ThemeVariant
}

func themeFor(t model.Theme) fyne.Theme {
	v := theme.VariantLight
	if t == model.ThemeDark {
		v = theme.VariantDark
	}
	return &variantTheme{Theme: theme.DefaultTheme(), variant: v}
}

func (t *variantTheme) Color(name fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	return t.Theme.Color(name, t.variant)
}

// ----- Notifications -----

// fyneNotifier delivers orchestrator notifications through the desktop
// notification centre.
type fyneNotifier struct {
	app fyne.App
}

func (n fyneNotifier) Notify(title, body string) error {
	if n.app == nil {
		return errors.New("no application to notify through")
	}
	n.app.SendNotification(fyne.NewNotification(title, body))
	return nil
}

// ----- Logs -----

var logLevelNames = []string{"ALL", "DEBUG", "INFO", "WARN", "ERROR"}

// filteredLogs applies the Logs view level and substring filters, newest
// first.
func filteredLogs(ring *logging.RingHandler, levelName, search string) []logging.Entry {
	if ring == nil {
		return nil
	}
	var entries []logging.Entry
	if levelName == "" || levelName == "ALL" {
		entries = ring.Entries()
	} else {
		entries = ring.Filter(logging.ParseLevel(levelName))
	}
	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]logging.Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if search != "" && !strings.Contains(strings.ToLower(e.String()), search) {
			continue
		}
		out = append(out, e)
	}
	return out
}
