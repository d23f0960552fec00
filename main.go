package main

import (
	_ "embed"
	"os"
	"strings"

	"github.com/hashicorp/cli"
)

const appName = "vnpatch"

//go:embed VERSION
var versionFile string

func version() string {
	return strings.TrimSpace(versionFile)
}

func main() {
	ui := &cli.ColoredUi{
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColorGreen,
		ErrorColor:  cli.UiColorRed,
		WarnColor:   cli.UiColorYellow,
	}
	os.Exit(run(os.Args[1:], newMeta(ui, os.Stderr)))
}

// run dispatches args to a command. Without a subcommand, or when the
// first argument is a flag, the patch command runs.
func run(args []string, m *Meta) int {
	if len(args) == 0 || (strings.HasPrefix(args[0], "-") && !isHelpFlag(args[0]) && args[0] != "-version" && args[0] != "--version") {
		args = append([]string{"patch"}, args...)
	}

	c := cli.NewCLI(appName, version())
	c.Args = args
	c.HelpWriter = m.HelpWriter
	c.Commands = commands(m)

	status, err := c.Run()
	if err != nil {
		m.Ui.Error(err.Error())
		return 1
	}
	return status
}

func isHelpFlag(s string) bool {
	return s == "-h" || s == "-help" || s == "--help"
}
