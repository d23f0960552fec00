package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mridang/claude-ime-patch/internal/patch"
)

// Status of one unit.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	// StatusIgnored marks an artifact that was never published.
	StatusIgnored
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	default:
		return "ignored"
	}
}

// Symbol is the changelog cell for s.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✅"
	case StatusFail:
		return "❌"
	default:
		return "⚪"
	}
}

// Unit is one (version, platform) pair to verify.
type Unit struct {
	Version  string
	Platform string
}

func (u Unit) String() string {
	return u.Version + ":" + u.Platform
}

// UnitResult is the outcome of one unit.
type UnitResult struct {
	Unit
	Status Status
	Err    error
	// Executed is set when the patched program was started.
	Executed bool
	// Missing counts patch sites whose offset-table record was not found.
	Missing int
}

// Exec runs a program and returns its combined output.
type Exec func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecCommand runs name on the host.
func ExecCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Artifacts is the part of a Fetcher the runner needs.
type Artifacts interface {
	Fetch(ctx context.Context, version, platform string) ([]byte, error)
}

// Runner verifies units concurrently.
type Runner struct {
	cfg     Config
	fetch   Artifacts
	patcher *patch.Patcher
	fs      afero.Fs
	exec    Exec
	host    string
	log     *zap.Logger
}

// NewRunner returns a Runner writing patched artifacts into fs (which
// has to be the host filesystem for execution to work) and running
// them through ex. host is the platform name of this machine, see
// HostPlatform.
func NewRunner(cfg Config, fetch Artifacts, fs afero.Fs, ex Exec, host string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		fetch:   fetch,
		patcher: patch.New(0),
		fs:      fs,
		exec:    ex,
		host:    host,
		log:     log,
	}
}

// Units is the cross product of versions and platforms, platform major.
func Units(versions, platforms []string) []Unit {
	out := make([]Unit, 0, len(versions)*len(platforms))
	for _, p := range platforms {
		for _, v := range versions {
			out = append(out, Unit{Version: v, Platform: p})
		}
	}
	return out
}

// Run verifies every unit with at most Concurrency in flight. A failing
// unit does not stop the others; failures are returned together as a
// *multierror.Error.
func (r *Runner) Run(ctx context.Context, units []Unit) ([]UnitResult, error) {
	timeout, err := r.cfg.UnitTimeout()
	if err != nil {
		return nil, err
	}
	results := make([]UnitResult, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Concurrency, 1))
	for i, u := range units {
		g.Go(func() error {
			uctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			results[i] = r.runUnit(uctx, u)
			return nil
		})
	}
	_ = g.Wait()

	var merr *multierror.Error
	for _, res := range results {
		switch res.Status {
		case StatusFail:
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", res.Unit, res.Err))
		case StatusIgnored:
			r.log.Info("RESULT_IGNORED", zap.Stringer("unit", res.Unit))
		}
	}
	return results, merr.ErrorOrNil()
}

func (r *Runner) runUnit(ctx context.Context, u Unit) UnitResult {
	res := UnitResult{Unit: u}
	fail := func(err error) UnitResult {
		res.Status = StatusFail
		res.Err = err
		r.log.Error("unit failed", zap.Stringer("unit", u), zap.String("class", Classify(err)), zap.Error(err))
		return res
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	data, err := r.fetch.Fetch(ctx, u.Version, u.Platform)
	if err != nil {
		if isNotFound(err) {
			res.Status = StatusIgnored
			res.Err = err
			return res
		}
		return fail(err)
	}

	var result patch.Result
	if u.Platform == PlatformJS {
		result, err = r.patcher.Patch(data)
	} else {
		result, err = r.patcher.PatchBinary(data)
	}
	if err != nil {
		return fail(&PatchError{Unit: u, Err: err})
	}
	if !result.Success || result.AlreadyPatched {
		msg := result.Message
		if result.AlreadyPatched {
			msg = "pristine artifact reported as already patched"
		}
		return fail(&PatchError{Unit: u, Err: errors.New(msg)})
	}
	res.Missing = len(result.Missing)
	if res.Missing > 0 {
		r.log.Warn("offset table records missing", zap.Stringer("unit", u), zap.Int("sites", res.Missing))
	}

	out := filepath.Join(r.cfg.CacheDir, u.Platform, artifactName(u.Version, u.Platform, true))
	if err := r.fs.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fail(err)
	}
	if err := removeQuiet(r.fs, out); err != nil {
		return fail(err)
	}
	if err := afero.WriteFile(r.fs, out, result.Content, 0o644); err != nil {
		return fail(err)
	}
	if !strings.HasPrefix(u.Platform, "win") {
		if err := r.fs.Chmod(out, 0o755); err != nil {
			return fail(err)
		}
	}

	switch {
	case u.Platform == PlatformJS:
		err = r.help(ctx, "node", out)
	case u.Platform == r.host:
		err = r.help(ctx, out)
	default:
		res.Status = StatusPass
		return res
	}
	res.Executed = true
	if err != nil {
		return fail(err)
	}
	res.Status = StatusPass
	return res
}

// help runs the patched program with --help.
func (r *Runner) help(ctx context.Context, name string, args ...string) error {
	args = append(args, "--help")
	out, err := r.exec(ctx, name, args...)
	if err != nil {
		return &ExecError{Output: string(bytes.TrimSpace(out)), Err: err}
	}
	r.log.Debug("execution test passed", zap.String("program", name), zap.Int("output", len(out)))
	return nil
}

// HostPlatform names this machine the way release artifacts do, for
// example darwin-arm64, linux-x64-musl or win32-x64. Unknown hosts give
// the empty string.
func HostPlatform(ctx context.Context, ex Exec) string {
	goos := map[string]string{"darwin": "darwin", "linux": "linux", "windows": "win32"}[runtime.GOOS]
	arch := map[string]string{"amd64": "x64", "arm64": "arm64"}[runtime.GOARCH]
	if goos == "" || arch == "" {
		return ""
	}
	p := goos + "-" + arch
	if goos == "linux" {
		if out, _ := ex(ctx, "ldd", "--version"); bytes.Contains(bytes.ToLower(out), []byte("musl")) {
			p += "-musl"
		}
	}
	return p
}
