// Package discover locates the Claude Code executable or cli.js on the
// local machine.
package discover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mridang/claude-ime-patch/internal/target"
)

// ErrNotFound is returned when no candidate exists.
var ErrNotFound = errors.New("claude code installation not found")

// packagePath is the cli.js location below a node_modules directory.
var packagePath = filepath.Join("@anthropic-ai", "claude-code", "cli.js") //nolint:gochecknoglobals // joined once

// maxShimDepth bounds how many wrapper scripts are followed.
const maxShimDepth = 3

// headSize is how much of a candidate is read to classify it.
const headSize = 512

// Runner runs a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Finder searches the usual installation places in order. The zero
// value is not usable; use NewFinder.
type Finder struct {
	Fs       afero.Fs
	LookPath func(file string) (string, error)
	Resolve  func(path string) (string, error)
	Run      Runner
	Getenv   func(key string) string
	Home     string
	GOOS     string
	Log      *zap.Logger
}

// NewFinder returns a Finder on the host filesystem.
func NewFinder(log *zap.Logger) *Finder {
	home, _ := os.UserHomeDir()
	if log == nil {
		log = zap.NewNop()
	}
	return &Finder{
		Fs:       afero.NewOsFs(),
		LookPath: exec.LookPath,
		Resolve:  filepath.EvalSymlinks,
		Run:      execRunner,
		Getenv:   os.Getenv,
		Home:     home,
		GOOS:     runtime.GOOS,
		Log:      log,
	}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Find returns the path to patch. A non-empty hint has to name an
// existing file; symlinks in it are resolved so the file behind the link
// is patched rather than the link replaced.
func (f *Finder) Find(ctx context.Context, hint string) (string, error) {
	if hint != "" {
		path, err := f.Resolve(hint)
		if err != nil {
			path = hint
		}
		if f.isFile(path) {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFound, hint)
	}

	if bin, err := f.LookPath("claude"); err == nil {
		f.Log.Debug("claude on PATH", zap.String("path", bin))
		if p, ok := f.resolve(bin, maxShimDepth); ok {
			return p, nil
		}
	}

	if out, err := f.Run(ctx, "npm", "root", "-g"); err == nil {
		root := strings.TrimSpace(string(out))
		f.Log.Debug("npm global root", zap.String("root", root))
		if p := filepath.Join(root, packagePath); root != "" && f.isFile(p) {
			return p, nil
		}
	} else if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if f.GOOS == "windows" {
		for _, p := range f.windowsCandidates() {
			if f.isFile(p) {
				return p, nil
			}
		}
	}

	if f.Home != "" {
		for _, p := range []string{
			filepath.Join(f.Home, ".local", "bin", "claude"),
			filepath.Join(f.Home, ".claude", "local", "claude"),
		} {
			if resolved, ok := f.resolve(p, maxShimDepth); ok {
				return resolved, nil
			}
		}
	}
	return "", ErrNotFound
}

// resolve turns an executable on disk into the file that holds the
// code: a cli.js, a compiled executable, or what a shim execs.
func (f *Finder) resolve(bin string, depth int) (string, bool) {
	path, err := f.Resolve(bin)
	if err != nil {
		path = bin
	}
	if !f.isFile(path) {
		return "", false
	}
	if strings.HasSuffix(path, ".js") {
		return path, true
	}

	head := f.head(path)
	if target.Detect(head).Compiled() {
		return path, true
	}
	if depth > 0 && bytes.HasPrefix(head, []byte("#!")) {
		for _, arg := range f.shimTargets(path) {
			if p, ok := f.resolve(arg, depth-1); ok {
				return p, true
			}
		}
	}

	p := filepath.Join(filepath.Dir(path), "node_modules", packagePath)
	if f.isFile(p) {
		return p, true
	}
	return "", false
}

func (f *Finder) windowsCandidates() []string {
	var out []string
	for _, env := range []string{"APPDATA", "LOCALAPPDATA"} {
		if dir := f.Getenv(env); dir != "" {
			out = append(out, filepath.Join(dir, "npm", "node_modules", packagePath))
		}
	}
	if nvm := f.Getenv("NVM_HOME"); nvm != "" {
		entries, err := afero.ReadDir(f.Fs, nvm)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					out = append(out, filepath.Join(nvm, e.Name(), "node_modules", packagePath))
				}
			}
		}
	}
	return out
}

func (f *Finder) isFile(p string) bool {
	fi, err := f.Fs.Stat(p)
	return err == nil && !fi.IsDir()
}

func (f *Finder) head(p string) []byte {
	file, err := f.Fs.Open(p)
	if err != nil {
		return nil
	}
	defer file.Close()
	buf := make([]byte, headSize)
	n, _ := io.ReadFull(file, buf)
	return buf[:n]
}
