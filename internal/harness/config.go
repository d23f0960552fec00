// Package harness downloads published Claude Code releases, patches
// them and checks that the patched program still starts.
package harness

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// Source kinds.
const (
	KindJS     = "js"
	KindBinary = "binary"
)

// PlatformJS is the pseudo platform of the npm cli.js.
const PlatformJS = "js"

// Config drives a verification run. It is decoded from HCL; unset
// fields take the values of DefaultConfig.
type Config struct {
	Package          string    `hcl:"package,optional"`
	MinVersion       string    `hcl:"min_version,optional"`
	CacheDir         string    `hcl:"cache_dir,optional"`
	Concurrency      int       `hcl:"concurrency,optional"`
	Timeout          string    `hcl:"timeout,optional"`
	Platforms        []string  `hcl:"platforms,optional"`
	FallbackVersions []string  `hcl:"fallback_versions,optional"`
	Registry         *Registry `hcl:"registry,block"`
	Sources          []Source  `hcl:"source,block"`
}

// Registry names the version listing endpoints.
type Registry struct {
	VersionsURL string `hcl:"versions_url"`
	LatestURL   string `hcl:"latest_url,optional"`
}

// Source is a list of URL templates tried in order. Templates may use
// {package}, {version}, {platform} and {ext}.
type Source struct {
	Kind string   `hcl:"kind,label"`
	URLs []string `hcl:"urls"`
}

const releases = "https://storage.googleapis.com/claude-code-dist-86c565f3-f756-42ad-8dfa-d59b1c096819/claude-code-releases"

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		Package:     "@anthropic-ai/claude-code",
		MinVersion:  "2.0.64",
		CacheDir:    ".test-cache",
		Concurrency: 4,
		Timeout:     "5m",
		Platforms: []string{
			PlatformJS,
			"darwin-arm64",
			"darwin-x64",
			"linux-x64",
			"linux-arm64",
			"linux-x64-musl",
			"linux-arm64-musl",
			"win32-x64",
			"win32-arm64",
		},
		FallbackVersions: []string{"2.0.64", "2.1.38"},
		Registry: &Registry{
			VersionsURL: "https://registry.npmjs.org/{package}",
			LatestURL:   releases + "/latest",
		},
		Sources: []Source{
			{Kind: KindJS, URLs: []string{
				"https://cdn.jsdelivr.net/npm/{package}@{version}/cli.js",
				"https://unpkg.com/{package}@{version}/cli.js",
			}},
			{Kind: KindBinary, URLs: []string{
				releases + "/{version}/{platform}/claude{ext}",
			}},
		},
	}
}

// LoadConfig decodes the HCL file at path over the defaults.
func LoadConfig(path string) (Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return ParseConfig(path, src)
}

// ParseConfig decodes src; filename selects native or JSON syntax by
// its extension and appears in diagnostics.
func ParseConfig(filename string, src []byte) (Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, src, nil, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Package == "" {
		c.Package = d.Package
	}
	if c.MinVersion == "" {
		c.MinVersion = d.MinVersion
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout == "" {
		c.Timeout = d.Timeout
	}
	if len(c.Platforms) == 0 {
		c.Platforms = d.Platforms
	}
	if len(c.FallbackVersions) == 0 {
		c.FallbackVersions = d.FallbackVersions
	}
	if c.Registry == nil {
		c.Registry = d.Registry
	}
	for _, s := range d.Sources {
		if len(c.urls(s.Kind)) == 0 {
			c.Sources = append(c.Sources, s)
		}
	}
	return c
}

// Validate checks values that HCL types cannot express.
func (c Config) Validate() error {
	if _, err := c.UnitTimeout(); err != nil {
		return err
	}
	for _, s := range c.Sources {
		if s.Kind != KindJS && s.Kind != KindBinary {
			return fmt.Errorf("config: unknown source kind %q", s.Kind)
		}
	}
	return nil
}

// UnitTimeout parses Timeout.
func (c Config) UnitTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config: timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	return d, nil
}

// Encode renders c as HCL.
func (c Config) Encode() []byte {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(&c, f.Body())
	return hclwrite.Format(f.Bytes())
}

func (c Config) urls(kind string) []string {
	var out []string
	for _, s := range c.Sources {
		if s.Kind == kind {
			out = append(out, s.URLs...)
		}
	}
	return out
}

// expand fills a URL template.
func expand(tmpl, pkg, version, platform string) string {
	return strings.NewReplacer(
		"{package}", pkg,
		"{version}", version,
		"{platform}", platform,
		"{ext}", exeExt(platform),
	).Replace(tmpl)
}

func exeExt(platform string) string {
	if strings.HasPrefix(platform, "win") {
		return ".exe"
	}
	return ""
}
