package harness

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// TestParseConfig_Partial verifies that unset attributes and blocks
// fall back to the defaults.
func TestParseConfig_Partial(t *testing.T) {
	src := `
min_version = "2.1.0"
concurrency = 2
platforms   = ["js", "linux-x64"]

source "js" {
  urls = ["https://mirror.test/{package}/{version}/cli.js"]
}
`
	cfg, err := ParseConfig("verify.hcl", []byte(src))
	require.NoError(t, err)

	d := DefaultConfig()
	require.Equal(t, "2.1.0", cfg.MinVersion)
	require.Equal(t, 2, cfg.Concurrency)
	require.Equal(t, []string{"js", "linux-x64"}, cfg.Platforms)
	require.Equal(t, d.Package, cfg.Package)
	require.Equal(t, d.CacheDir, cfg.CacheDir)
	require.Equal(t, d.Registry, cfg.Registry)
	require.Equal(t, []string{"https://mirror.test/{package}/{version}/cli.js"}, cfg.urls(KindJS))
	require.Equal(t, d.urls(KindBinary), cfg.urls(KindBinary))

	timeout, err := cfg.UnitTimeout()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, timeout)
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"timeout":     `timeout = "soon"`,
		"kind":        "source \"deb\" {\n  urls = [\"x\"]\n}\n",
		"syntax":      `concurrency = `,
		"wrong type":  `platforms = "js"`,
		"unknown key": `colour = "red"`,
	}
	for name, src := range cases {
		_, err := ParseConfig("verify.hcl", []byte(src))
		require.Error(t, err, name)
	}
}

// TestEncode_Decodes verifies that the printed default configuration is
// accepted back unchanged.
func TestEncode_Decodes(t *testing.T) {
	d := DefaultConfig()
	cfg, err := ParseConfig("default.hcl", d.Encode())
	require.NoError(t, err)
	if diff := cmp.Diff(d, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand(t *testing.T) {
	tmpl := "https://r.test/{version}/{platform}/claude{ext}"
	require.Equal(t, "https://r.test/2.1.0/win32-x64/claude.exe", expand(tmpl, "", "2.1.0", "win32-x64"))
	require.Equal(t, "https://r.test/2.1.0/linux-x64/claude", expand(tmpl, "", "2.1.0", "linux-x64"))
	require.Equal(t, "cli-2.1.0-patched.js", artifactName("2.1.0", PlatformJS, true))
	require.Equal(t, "claude-2.1.0.exe", artifactName("2.1.0", "win32-arm64", false))
}
