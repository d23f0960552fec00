package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mridang/claude-ime-patch/internal/harness"
	"github.com/mridang/claude-ime-patch/internal/logging"
)

// VerifyCommand runs the regression harness against published releases.
type VerifyCommand struct {
	*Meta
}

func (c *VerifyCommand) Help() string {
	return strings.TrimSpace(`
Usage: vnpatch verify [options]

  Downloads published Claude Code releases, patches each of them and runs
  the patched program with --help where the platform allows it.

Options:

  -config <file>        HCL configuration; defaults are used without it.
  -versions <a,b>       Only these versions instead of the registry listing.
  -platforms <p,q>      Only these platforms (js, linux-x64, win32-x64, ...).
  -changelog <path>     Record the newest version's results in this table.
  -readme <path>        Update the tested versions block in this README.
  -print-config         Print the effective configuration and exit.
  -v                    Log diagnostics to stderr.
`)
}

func (c *VerifyCommand) Synopsis() string {
	return "Patch and run published releases"
}

func (c *VerifyCommand) Run(args []string) int {
	var (
		configPath, versions, platforms string
		changelog, readme               string
		printConfig, verbose            bool
	)
	flags := c.flagSet("verify", c.Help)
	flags.StringVar(&configPath, "config", "", "HCL configuration file")
	flags.StringVar(&versions, "versions", "", "comma separated versions")
	flags.StringVar(&platforms, "platforms", "", "comma separated platforms")
	flags.StringVar(&changelog, "changelog", "", "changelog to update")
	flags.StringVar(&readme, "readme", "", "readme to update")
	flags.BoolVar(&printConfig, "print-config", false, "print the configuration")
	flags.BoolVar(&verbose, "v", false, "log diagnostics to stderr")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return c.fail(err)
	}

	cfg := harness.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = harness.LoadConfig(configPath); err != nil {
			return c.fail(err)
		}
	}
	if printConfig {
		c.Ui.Output(string(cfg.Encode()))
		return 0
	}

	log, err := logging.New(verbose)
	if err != nil {
		return c.fail(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	plats := cfg.Platforms
	if platforms != "" {
		plats = splitList(platforms)
	}
	fetcher := harness.NewFetcher(cfg, c.Fs, log)

	vers := harness.SortVersions(splitList(versions))
	if len(vers) == 0 {
		withLatest := slices.ContainsFunc(plats, func(p string) bool { return p != harness.PlatformJS })
		if vers, err = fetcher.Versions(ctx, withLatest); err != nil {
			return c.fail(err)
		}
	}
	if len(vers) == 0 {
		c.Ui.Error("No versions to verify.")
		return 1
	}
	c.Ui.Output(fmt.Sprintf("Verifying %d version(s) on %d platform(s).", len(vers), len(plats)))

	host := harness.HostPlatform(ctx, c.Exec)
	log.Debug("host platform", zap.String("platform", host))
	runner := harness.NewRunner(cfg, fetcher, c.Fs, c.Exec, host, log)
	results, runErr := runner.Run(ctx, harness.Units(vers, plats))

	for _, r := range results {
		line := fmt.Sprintf("%s %s %s", r.Status.Symbol(), r.Unit, r.Status)
		switch r.Status {
		case harness.StatusPass:
			c.Ui.Info(line)
		case harness.StatusIgnored:
			c.Ui.Warn(line)
		default:
			c.Ui.Error(fmt.Sprintf("%s [%s]: %v", line, harness.Classify(r.Err), r.Err))
		}
	}

	latest := vers[len(vers)-1]
	if changelog != "" {
		row := harness.ChangelogRow(latest, latest, c.Now().Format("2006-01-02"), results)
		if err := c.rewrite(changelog, false, func(s string) (string, bool) {
			return harness.UpdateChangelog(s, latest, row), true
		}); err != nil {
			return c.fail(err)
		}
	}
	if readme != "" {
		if err := c.rewrite(readme, true, func(s string) (string, bool) {
			return harness.UpdateReadme(s, latest, latest)
		}); err != nil {
			return c.fail(err)
		}
	}

	if runErr != nil {
		c.Ui.Error(fmt.Sprintf("%d unit(s) failed.", countFailed(results)))
		return 1
	}
	return 0
}

// rewrite applies edit to the file at path. A missing file is an error
// only when mustExist is set.
func (c *VerifyCommand) rewrite(path string, mustExist bool, edit func(string) (string, bool)) error {
	data, err := afero.ReadFile(c.Fs, path)
	if err != nil && (mustExist || !errors.Is(err, fs.ErrNotExist)) {
		return err
	}
	out, changed := edit(string(data))
	if !changed {
		c.Ui.Warn("No changes made to " + path)
		return nil
	}
	if err := afero.WriteFile(c.Fs, path, []byte(out), 0o644); err != nil {
		return err
	}
	c.Ui.Output("Updated " + path)
	return nil
}

func countFailed(results []harness.UnitResult) int {
	n := 0
	for _, r := range results {
		if r.Status == harness.StatusFail {
			n++
		}
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
