package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/hashicorp/cli"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mridang/claude-ime-patch/internal/discover"
	"github.com/mridang/claude-ime-patch/internal/fragment"
	"github.com/mridang/claude-ime-patch/internal/harness"
	"github.com/mridang/claude-ime-patch/internal/logging"
	"github.com/mridang/claude-ime-patch/internal/patch"
	"github.com/mridang/claude-ime-patch/internal/target"
)

// Finder locates the installation to patch.
type Finder interface {
	Find(ctx context.Context, hint string) (string, error)
}

// Meta is shared by all commands.
type Meta struct {
	Ui         cli.Ui
	HelpWriter io.Writer
	NewFinder  func(log *zap.Logger) Finder
	// Fs holds the harness cache, changelog and readme.
	Fs   afero.Fs
	Exec harness.Exec
	Now  func() time.Time
}

func newMeta(ui cli.Ui, help io.Writer) *Meta {
	return &Meta{
		Ui:         ui,
		HelpWriter: help,
		NewFinder:  func(log *zap.Logger) Finder { return discover.NewFinder(log) },
		Fs:         afero.NewOsFs(),
		Exec:       harness.ExecCommand,
		Now:        time.Now,
	}
}

func commands(m *Meta) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"patch": func() (cli.Command, error) {
			return &PatchCommand{Meta: m}, nil
		},
		"check": func() (cli.Command, error) {
			return &CheckCommand{Meta: m}, nil
		},
		"verify": func() (cli.Command, error) {
			return &VerifyCommand{Meta: m}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{Meta: m}, nil
		},
	}
}

// Target modes.
const (
	modeAuto   = "auto"
	modeJS     = "js"
	modeBinary = "binary"
)

// targetFlags are shared by patch and check.
type targetFlags struct {
	file    string
	mode    string
	verbose bool
}

func (f *targetFlags) register(flags *flag.FlagSet) {
	flags.StringVar(&f.file, "f", "", "path to cli.js or the claude executable")
	flags.StringVar(&f.mode, "mode", modeAuto, "target kind: auto, js or binary")
	flags.BoolVar(&f.verbose, "v", false, "log diagnostics to stderr")
}

// loaded is a located and read target.
type loaded struct {
	path   string
	data   []byte
	binary bool
	log    *zap.Logger
}

func (m *Meta) flagSet(name string, help func() string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.Usage = func() { m.Ui.Output(help()) }
	return flags
}

// load finds, prints and reads the target.
func (m *Meta) load(ctx context.Context, f targetFlags) (loaded, error) {
	var binary bool
	switch f.mode {
	case modeAuto, modeJS:
	case modeBinary:
		binary = true
	default:
		return loaded{}, fmt.Errorf("unknown mode %q", f.mode)
	}

	log, err := logging.New(f.verbose)
	if err != nil {
		return loaded{}, err
	}
	path, err := m.NewFinder(log).Find(ctx, f.file)
	if err != nil {
		return loaded{log: log}, err
	}
	m.Ui.Output("Target: " + path)

	data, err := target.Read(path)
	if err != nil {
		return loaded{path: path, log: log}, err
	}
	kind := target.Detect(data)
	if f.mode == modeAuto {
		binary = kind.Compiled()
	}
	log.Debug("target loaded", zap.String("path", path), zap.Stringer("kind", kind), zap.Int("size", len(data)), zap.Bool("binary", binary))
	return loaded{path: path, data: data, binary: binary, log: log}, nil
}

func (l loaded) patch() (patch.Result, error) {
	p := patch.New(0)
	if l.binary {
		return p.PatchBinary(l.data)
	}
	return p.Patch(l.data)
}

func (m *Meta) fail(err error) int {
	m.Ui.Error("Error: " + err.Error())
	if hint := errorHint(err); hint != "" {
		m.Ui.Error("Hint: " + hint)
	}
	return 1
}

func (m *Meta) warnMissing(res patch.Result) {
	if n := len(res.Missing); n > 0 {
		m.Ui.Warn(fmt.Sprintf("Warning: %d of %d patch sites have no offset table record; the executable may not start.", n, len(res.Sites)))
	}
}

// PatchCommand rewrites the installation in place or into -o.
type PatchCommand struct {
	*Meta
}

func (c *PatchCommand) Help() string {
	return strings.TrimSpace(`
Usage: vnpatch patch [options]

  Patches Claude Code so that Vietnamese input methods work. Without -f the
  installation is searched for on PATH, in the npm global root and in the
  native install locations.

Options:

  -f <path>       Path to cli.js or the claude executable.
  -o <path>       Write the result here instead of replacing the target.
  -mode <mode>    auto (default), js or binary.
  -v              Log diagnostics to stderr.
`)
}

func (c *PatchCommand) Synopsis() string {
	return "Patch Claude Code for Vietnamese IME input"
}

func (c *PatchCommand) Run(args []string) int {
	var (
		tf  targetFlags
		out string
	)
	flags := c.flagSet("patch", c.Help)
	tf.register(flags)
	flags.StringVar(&out, "o", "", "output path")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return c.fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	l, err := c.load(ctx, tf)
	if l.log != nil {
		defer func() { _ = l.log.Sync() }()
	}
	if err != nil {
		return c.fail(err)
	}

	res, err := l.patch()
	switch {
	case err != nil:
		return c.fail(err)
	case res.AlreadyPatched:
		c.Ui.Info("Claude is already patched for Vietnamese IME.")
		return 0
	case !res.Success:
		c.Ui.Error("Error: Failed to patch Claude (" + res.Message + "). The code structure might have changed.")
		return 1
	}

	dest := l.path
	if out != "" {
		dest = out
	}
	for _, s := range res.Sites {
		l.log.Debug("patched site", zap.Int("offset", s.Offset), zap.Int("delta", s.Delta))
	}
	if err := target.WriteAtomic(dest, res.Content, 0o755); err != nil {
		return c.fail(err)
	}
	c.warnMissing(res)
	c.Ui.Info("Success: Claude has been patched for Vietnamese IME.")
	return 0
}

// CheckCommand reports whether the installation can be patched.
type CheckCommand struct {
	*Meta
}

func (c *CheckCommand) Help() string {
	return strings.TrimSpace(`
Usage: vnpatch check [options]

  Reports whether Claude Code is patched, patchable or not recognized,
  without writing anything.

Options:

  -f <path>       Path to cli.js or the claude executable.
  -mode <mode>    auto (default), js or binary.
  -v              Log diagnostics to stderr.
`)
}

func (c *CheckCommand) Synopsis() string {
	return "Report the patch state without writing"
}

func (c *CheckCommand) Run(args []string) int {
	var tf targetFlags
	flags := c.flagSet("check", c.Help)
	tf.register(flags)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return c.fail(err)
	}

	l, err := c.load(context.Background(), tf)
	if l.log != nil {
		defer func() { _ = l.log.Sync() }()
	}
	if err != nil {
		return c.fail(err)
	}

	res, err := l.patch()
	switch {
	case err != nil:
		return c.fail(err)
	case res.AlreadyPatched:
		if n := patch.NewGuard().Count(l.data); n > 0 {
			c.Ui.Info(fmt.Sprintf("Already patched (%d sites).", n))
		} else {
			c.Ui.Info("Already patched by an earlier release.")
		}
		return 0
	case !res.Success:
		c.Ui.Error("Not patchable: " + res.Message + ".")
		return 1
	}
	c.warnMissing(res)
	c.Ui.Info(fmt.Sprintf("Patchable: %d site(s) found.", len(res.Sites)))
	return 0
}

// VersionCommand prints the version.
type VersionCommand struct {
	*Meta
}

func (c *VersionCommand) Help() string {
	return "Usage: vnpatch version"
}

func (c *VersionCommand) Synopsis() string {
	return "Print the version"
}

func (c *VersionCommand) Run(_ []string) int {
	c.Ui.Output(appName + " v" + version())
	return 0
}

// errorHint returns a one-line suggestion for err.
func errorHint(err error) string {
	var (
		nf      *harness.NotFoundError
		pathErr *fs.PathError
	)
	switch {
	case errors.Is(err, discover.ErrNotFound):
		return "Specify the file: vnpatch -f $(npm root -g)/@anthropic-ai/claude-code/cli.js"
	case errors.Is(err, target.ErrDirectory):
		return "Point -f at cli.js or the claude executable, not its directory."
	case errors.Is(err, target.ErrTooLarge):
		return "The target exceeds the safety limit. Check that -f names the right file."
	case errors.Is(err, fs.ErrPermission):
		return "The installation is not writable. Re-run with sufficient rights or use -o."
	case errors.Is(err, fragment.ErrMatchTimeout):
		return "Pattern evaluation took too long. The file may not be a Claude Code build."
	case errors.As(err, &nf):
		return "The requested release is not published for that platform."
	case errors.As(err, &pathErr):
		return "Check the path. Use absolute paths or run from the installation directory."
	}
	return ""
}
