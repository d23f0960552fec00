package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/go-version"
	"go.uber.org/zap"
)

// registryDoc is the part of an npm packument that is used.
type registryDoc struct {
	Versions map[string]json.RawMessage `json:"versions"`
}

// Versions lists published releases at or above MinVersion, ascending.
// When the registry cannot be read the configured fallback list is used.
// withLatest also asks the release bucket for its latest version, which
// can be ahead of npm for compiled builds.
func (f *Fetcher) Versions(ctx context.Context, withLatest bool) ([]string, error) {
	all, err := f.registryVersions(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.log.Warn("failed to fetch versions from npm, using fallback", zap.Error(err))
		all = append([]string(nil), f.cfg.FallbackVersions...)
	}

	if withLatest && f.cfg.Registry != nil && f.cfg.Registry.LatestURL != "" {
		latest, err := f.get(ctx, f.cfg.Registry.LatestURL)
		switch {
		case err != nil:
			f.log.Warn("failed to fetch latest version", zap.Error(err))
		default:
			if v := strings.TrimSpace(string(latest)); v != "" {
				f.log.Debug("latest release", zap.String("version", v))
				all = append(all, v)
			}
		}
	}
	return FilterVersions(all, f.cfg.MinVersion)
}

func (f *Fetcher) registryVersions(ctx context.Context) ([]string, error) {
	if f.cfg.Registry == nil || f.cfg.Registry.VersionsURL == "" {
		return nil, fmt.Errorf("no registry configured")
	}
	url := expand(f.cfg.Registry.VersionsURL, f.cfg.Package, "", "")
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json")
	body, err := f.do(req)
	if err != nil {
		return nil, err
	}

	var doc registryDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode registry document: %w", err)
	}
	out := make([]string, 0, len(doc.Versions))
	for v := range doc.Versions {
		out = append(out, v)
	}
	return out, nil
}

// FilterVersions drops duplicates, unparsable and pre-release versions
// and those below minimum, and sorts the rest ascending.
func FilterVersions(in []string, minimum string) ([]string, error) {
	constraint, err := version.NewConstraint(">= " + minimum)
	if err != nil {
		return nil, fmt.Errorf("min version: %w", err)
	}
	seen := make(map[string]bool, len(in))
	var keep version.Collection
	for _, raw := range in {
		v, err := version.NewVersion(raw)
		if err != nil || v.Prerelease() != "" || seen[v.Original()] {
			continue
		}
		seen[v.Original()] = true
		if constraint.Check(v) {
			keep = append(keep, v)
		}
	}
	sort.Sort(keep)

	out := make([]string, len(keep))
	for i, v := range keep {
		out[i] = v.Original()
	}
	return out, nil
}

// SortVersions orders explicitly requested versions ascending and drops
// duplicates. Unparsable entries are kept, after the parsable ones, in
// their given order; no minimum is applied.
func SortVersions(in []string) []string {
	var (
		keep  version.Collection
		other []string
		seen  = make(map[string]bool, len(in))
	)
	for _, raw := range in {
		if seen[raw] {
			continue
		}
		seen[raw] = true
		if v, err := version.NewVersion(raw); err == nil {
			keep = append(keep, v)
		} else {
			other = append(other, raw)
		}
	}
	sort.Stable(keep)

	out := make([]string, 0, len(in))
	for _, v := range keep {
		out = append(out, v.Original())
	}
	return append(out, other...)
}
