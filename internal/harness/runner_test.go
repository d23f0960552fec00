package harness

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/mridang/claude-ime-patch/internal/fragment"
)

// ignoreMatchClock skips the process-wide clock regexp2 starts for
// match timeouts; it lives until the process exits.
var ignoreMatchClock = goleak.IgnoreTopFunction("github.com/dlclark/regexp2.runClock")

const fragmentSrc = `x.match(/\x7f/g);if(!A.equals(B)){if(A.text!==B.text)f(B.text);g(B.offset)}h(),k();return`

// compiled returns a minimal executable carrying one module record and
// the fragment.
func compiled() []byte {
	var b bytes.Buffer
	b.Write([]byte{0x7f, 'E', 'L', 'F', 0x02, 0x01, 0x00, 0xff})
	b.WriteString("\x00// @bun @bytecode @bun-cjs\n//")
	b.WriteString(strings.Repeat(" license text", 30))
	b.WriteString("\n(function(){")
	b.WriteString(fragmentSrc)
	b.WriteString("}})\x00\xfe")
	return b.Bytes()
}

// artifacts serves fixed bodies per unit and counts how many fetches
// run at once.
type artifacts struct {
	bodies   map[string][]byte
	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func (a *artifacts) Fetch(ctx context.Context, version, platform string) ([]byte, error) {
	n := a.inflight.Add(1)
	defer a.inflight.Add(-1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	body, ok := a.bodies[version+":"+platform]
	if !ok {
		return nil, &NotFoundError{URL: version + "/" + platform}
	}
	return body, nil
}

// recorder is an Exec that records calls and fails for programs named
// in failing.
type recorder struct {
	mu      sync.Mutex
	calls   []string
	failing string
}

func (r *recorder) exec(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	if r.failing != "" && strings.Contains(name+" "+strings.Join(args, " "), r.failing) {
		return []byte("SyntaxError: Unexpected token\n"), errors.New("exit status 1")
	}
	return []byte("Usage: claude [options]"), nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CacheDir = "/cache"
	cfg.Concurrency = 2
	cfg.Timeout = "10s"
	return cfg
}

// TestRun_Statuses verifies pass, fail and ignored units, that only the
// host platform and js are executed, and that failures are aggregated.
func TestRun_Statuses(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent(), ignoreMatchClock)

	src := &artifacts{bodies: map[string][]byte{
		"2.1.0:js":           []byte("#!/usr/bin/env node\n" + fragmentSrc + "}"),
		"2.1.0:linux-x64":    compiled(),
		"2.1.0:darwin-arm64": compiled(),
		"2.1.1:js":           []byte("#!/usr/bin/env node\nconsole.log(1)\n"),
	}}
	rec := &recorder{}
	fs := afero.NewMemMapFs()
	r := NewRunner(testConfig(), src, fs, rec.exec, "linux-x64", zap.NewNop())

	units := []Unit{
		{"2.1.0", PlatformJS},
		{"2.1.0", "linux-x64"},
		{"2.1.0", "darwin-arm64"},
		{"2.1.0", "win32-x64"},
		{"2.1.1", PlatformJS},
	}
	results, err := r.Run(context.Background(), units)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)
	require.Equal(t, ClassPatch, Classify(merr.Errors[0]))

	want := []Status{StatusPass, StatusPass, StatusPass, StatusIgnored, StatusFail}
	for i, res := range results {
		require.Equal(t, units[i], res.Unit)
		require.Equal(t, want[i], res.Status, "%s: %v", res.Unit, res.Err)
	}
	require.True(t, results[0].Executed)
	require.True(t, results[1].Executed)
	require.False(t, results[2].Executed)

	patched, err := afero.ReadFile(fs, "/cache/linux-x64/claude-2.1.0-patched")
	require.NoError(t, err)
	require.Len(t, patched, len(compiled()))
	require.Contains(t, string(patched), fragment.Marker)
	fi, err := fs.Stat("/cache/linux-x64/claude-2.1.0-patched")
	require.NoError(t, err)
	require.Equal(t, "-rwxr-xr-x", fi.Mode().Perm().String())

	require.ElementsMatch(t, []string{
		"node /cache/js/cli-2.1.0-patched.js --help",
		"/cache/linux-x64/claude-2.1.0-patched --help",
	}, rec.calls)
}

func TestRun_ExecutionFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent(), ignoreMatchClock)

	src := &artifacts{bodies: map[string][]byte{"2.1.0:js": []byte(fragmentSrc + "}")}}
	rec := &recorder{failing: "cli-2.1.0-patched.js"}
	r := NewRunner(testConfig(), src, afero.NewMemMapFs(), rec.exec, "", zap.NewNop())

	results, err := r.Run(context.Background(), []Unit{{"2.1.0", PlatformJS}})
	require.Error(t, err)
	require.Equal(t, StatusFail, results[0].Status)
	require.Equal(t, ClassExec, Classify(results[0].Err))
	require.Contains(t, results[0].Err.Error(), "SyntaxError")
}

// TestRun_Limit verifies that no more than Concurrency units run at
// once.
func TestRun_Limit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent(), ignoreMatchClock)

	src := &artifacts{bodies: map[string][]byte{}, delay: 20 * time.Millisecond}
	r := NewRunner(testConfig(), src, afero.NewMemMapFs(), (&recorder{}).exec, "", zap.NewNop())

	units := Units([]string{"2.0.64", "2.0.65", "2.0.66", "2.0.67"}, []string{"linux-x64", "darwin-x64"})
	require.Len(t, units, 8)
	results, err := r.Run(context.Background(), units)
	require.NoError(t, err)
	for _, res := range results {
		require.Equal(t, StatusIgnored, res.Status)
	}
	require.LessOrEqual(t, src.peak.Load(), int32(2))
	require.Positive(t, src.peak.Load())
}

func TestRun_Cancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent(), ignoreMatchClock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &artifacts{bodies: map[string][]byte{"2.1.0:js": []byte(fragmentSrc + "}")}}
	r := NewRunner(testConfig(), src, afero.NewMemMapFs(), (&recorder{}).exec, "", zap.NewNop())

	results, err := r.Run(ctx, []Unit{{"2.1.0", PlatformJS}, {"2.1.1", PlatformJS}})
	require.Error(t, err)
	for _, res := range results {
		require.Equal(t, StatusFail, res.Status)
		require.Equal(t, ClassCancel, Classify(res.Err))
	}
}

func TestHostPlatform_Musl(t *testing.T) {
	ldd := func(context.Context, string, ...string) ([]byte, error) {
		return []byte("musl libc (x86_64)\nVersion 1.2.4\n"), errors.New("exit status 1")
	}
	p := HostPlatform(context.Background(), ldd)
	if strings.HasPrefix(p, "linux-") {
		require.True(t, strings.HasSuffix(p, "-musl"), p)
	} else {
		require.NotContains(t, p, "musl")
	}
}
