package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/cli/safeexec"
)

// DefaultBinary is the backend executable looked up on PATH.
const DefaultBinary = "bugnosis"

// DefaultProbeAddress is dialled by CheckOnline.
const DefaultProbeAddress = "8.8.8.8:53"

// ExecOptions configures an ExecGateway.
type ExecOptions struct {
	// Binary is a name on PATH or an absolute path. Empty uses DefaultBinary.
	Binary string
	// Timeout bounds a single backend invocation. Zero means no extra bound.
	Timeout time.Duration
	// Token, when set, is passed to the backend as GITHUB_TOKEN.
	Token string
	// ProbeAddress is the host:port dialled by CheckOnline.
	ProbeAddress string
	// ProbeTimeout bounds the CheckOnline dial.
	ProbeTimeout time.Duration
}

// ExecGateway runs the `bugnosis` CLI as a child process per call.
type ExecGateway struct {
	binary string
	opts   ExecOptions
	logger *slog.Logger

	// run is swapped in tests.
	run func(ctx context.Context, bin string, env []string, args ...string) (stdout, stderr []byte, err error)
}

// NewExecGateway resolves the backend binary and returns a gateway for it.
func NewExecGateway(opts ExecOptions, logger *slog.Logger) (*ExecGateway, error) {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.ProbeAddress == "" {
		opts.ProbeAddress = DefaultProbeAddress
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	bin, err := safeexec.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendNotFound, opts.Binary, err)
	}
	return &ExecGateway{
		binary: bin,
		opts:   opts,
		logger: logger,
		run:    runCommand,
	}, nil
}

// Binary returns the resolved backend path.
func (g *ExecGateway) Binary() string { return g.binary }

func runCommand(ctx context.Context, bin string, env []string, args ...string) ([]byte, []byte, error) {
	// #nosec G204 binary resolved via safeexec; args are passed without a shell
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (g *ExecGateway) invoke(ctx context.Context, op string, args ...string) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	env := os.Environ()
	if g.opts.Token != "" {
		env = append(env, "GITHUB_TOKEN="+g.opts.Token)
	}

	start := time.Now()
	stdout, stderr, err := g.run(ctx, g.binary, env, args...)
	g.logger.Debug("Backend call finished",
		"op", op,
		"args", args,
		"duration", time.Since(start).String(),
		"error", err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return "", &Error{Op: op, Stderr: string(stderr), Err: err}
	}
	return string(stdout), nil
}

// ScanRepo implements Gateway.
func (g *ExecGateway) ScanRepo(ctx context.Context, repo string, minImpact int) (string, error) {
	return g.invoke(ctx, OpScanRepo, "scan", repo, "--min-impact", strconv.Itoa(minImpact))
}

// ScanWatched implements Gateway.
func (g *ExecGateway) ScanWatched(ctx context.Context) (string, error) {
	return g.invoke(ctx, OpScanWatched, "watch", "scan")
}

// AddWatchedRepo implements Gateway. The backend's own output is replaced by
// a fixed confirmation; only success or failure matters to callers.
func (g *ExecGateway) AddWatchedRepo(ctx context.Context, repo string) (string, error) {
	if _, err := g.invoke(ctx, OpAddWatchedRepo, "watch", "add", repo); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %s to watch list", repo), nil
}

// GetWatchedRepos implements Gateway.
func (g *ExecGateway) GetWatchedRepos(ctx context.Context) (string, error) {
	return g.invoke(ctx, OpGetWatchedRepos, "watch", "list")
}

// GetSavedBugs implements Gateway.
func (g *ExecGateway) GetSavedBugs(ctx context.Context, minImpact int) (string, error) {
	return g.invoke(ctx, OpGetSavedBugs, "list", "--min-impact", strconv.Itoa(minImpact), "--json")
}

// GetStats implements Gateway.
func (g *ExecGateway) GetStats(ctx context.Context) (string, error) {
	return g.invoke(ctx, OpGetStats, "stats")
}

// GetInsights implements Gateway.
func (g *ExecGateway) GetInsights(ctx context.Context, minImpact int) (string, error) {
	return g.invoke(ctx, OpGetInsights, "insights", "--min-impact", strconv.Itoa(minImpact))
}

// SearchEcosystem implements Searcher.
func (g *ExecGateway) SearchEcosystem(ctx context.Context, query string, minImpact int) (string, error) {
	return g.invoke(ctx, OpSearchEcosystem, "search", query, "--min-impact", strconv.Itoa(minImpact))
}

// CheckOnline implements OnlineChecker with a plain TCP dial.
func (g *ExecGateway) CheckOnline(ctx context.Context) bool {
	d := net.Dialer{Timeout: g.opts.ProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", g.opts.ProbeAddress)
	if err != nil {
		g.logger.Debug("Online probe failed", "address", g.opts.ProbeAddress, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}
