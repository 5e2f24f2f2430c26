// Package gateway provides access to the external `bugnosis` scanning
// backend. The backend is opaque: every operation returns its raw textual
// payload and the caller decides how to read it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Operation names as exposed by the backend command surface.
const (
	OpScanRepo        = "scan_repo"
	OpScanWatched     = "scan_watched"
	OpAddWatchedRepo  = "add_watched_repo"
	OpGetWatchedRepos = "get_watched_repos"
	OpGetSavedBugs    = "get_saved_bugs"
	OpGetStats        = "get_stats"
	OpGetInsights     = "get_insights"
	OpSearchEcosystem = "search_ecosystem"
)

// Gateway is the backend command surface. Implementations must be safe for
// concurrent use; the orchestrator issues calls for different actions in
// parallel.
type Gateway interface {
	// ScanRepo scans one repository (owner/name) and returns a text summary.
	ScanRepo(ctx context.Context, repo string, minImpact int) (string, error)
	// ScanWatched scans every watched repository and returns a text summary.
	ScanWatched(ctx context.Context) (string, error)
	// AddWatchedRepo adds a repository to the backend's watch list.
	AddWatchedRepo(ctx context.Context, repo string) (string, error)
	// GetWatchedRepos returns the watch list as line-oriented text.
	GetWatchedRepos(ctx context.Context) (string, error)
	// GetSavedBugs returns saved findings, JSON on current backends.
	GetSavedBugs(ctx context.Context, minImpact int) (string, error)
	// GetStats returns the labelled counters text.
	GetStats(ctx context.Context) (string, error)
	// GetInsights returns analytics prose.
	GetInsights(ctx context.Context, minImpact int) (string, error)
}

// Searcher is implemented by gateways that support free-text ecosystem search.
type Searcher interface {
	SearchEcosystem(ctx context.Context, query string, minImpact int) (string, error)
}

// OnlineChecker is implemented by gateways that can probe network reachability.
type OnlineChecker interface {
	CheckOnline(ctx context.Context) bool
}

// Error is a failed backend call.
type Error struct {
	Op     string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	switch {
	case msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s (%v)", e.Op, msg, e.Err)
	case msg != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ErrBackendNotFound is returned when the backend binary cannot be located.
var ErrBackendNotFound = errors.New("bugnosis backend not found")

// DisplayMessage returns the short text shown to the user for a failed call.
// The backend's own stderr is preferred over wrapper detail.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		if msg := strings.TrimSpace(gwErr.Stderr); msg != "" {
			return msg
		}
		if gwErr.Err != nil {
			return gwErr.Err.Error()
		}
	}
	return err.Error()
}
