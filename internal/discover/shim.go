package discover

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// shimTargets parses a shell wrapper, as written by npm, pnpm or the
// local installer, and returns the expanded arguments of its exec
// commands that could name the real program. Interpreter arguments such
// as "$basedir/node" are skipped.
func (f *Finder) shimTargets(path string) []string {
	data, err := afero.ReadFile(f.Fs, path)
	if err != nil {
		return nil
	}
	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(bytes.NewReader(data), path)
	if err != nil {
		f.Log.Debug("shim not parseable", zap.String("path", path), zap.Error(err))
		return nil
	}

	dir := filepath.Dir(path)
	cfg := &expand.Config{Env: expand.ListEnviron(
		"basedir="+dir,
		"HOME="+f.Home,
	)}

	var out []string
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) < 2 || call.Args[0].Lit() != "exec" {
			return true
		}
		for _, word := range call.Args[1:] {
			arg, err := expand.Literal(cfg, word)
			if err != nil || arg == "" || strings.HasPrefix(arg, "-") {
				continue
			}
			switch filepath.Base(arg) {
			case "node", "node.exe", "bun":
				continue
			}
			if !filepath.IsAbs(arg) {
				arg = filepath.Join(dir, arg)
			}
			out = append(out, arg)
		}
		return true
	})
	return out
}
