// Package patch applies the IME fix to a Claude Code executable held in
// memory.
package patch

import (
	"bytes"
	"time"

	"github.com/mridang/claude-ime-patch/internal/fragment"
	"github.com/mridang/claude-ime-patch/internal/offsets"
)

// Patcher applies fragment substitutions to whole buffers. It is
// stateless and safe for concurrent use.
type Patcher struct {
	matcher *fragment.Matcher
	guard   Guard
}

// New returns a Patcher whose matcher gives up after timeout (<= 0 for
// the default).
func New(timeout time.Duration) *Patcher {
	return &Patcher{matcher: fragment.NewMatcher(timeout), guard: NewGuard()}
}

// Patch rewrites every fragment in a cli.js buffer. Only exceptional
// matcher failures are returned as errors; no match and already patched
// are ordinary results.
func (p *Patcher) Patch(buf []byte) (Result, error) {
	if p.guard.Patched(buf) {
		return alreadyPatched(), nil
	}
	out, sites, err := p.substitute(buf, fragment.StyleReadable)
	if err != nil {
		return Result{}, err
	}
	if len(sites) == 0 {
		return failed(OutcomeNoMatch, MessageNoMatch), nil
	}
	if bytes.Equal(out, buf) {
		return failed(OutcomeNoMatch, MessageUnchanged), nil
	}
	return Result{Outcome: OutcomePatched, Success: true, Content: out, Sites: sites}, nil
}

// PatchBinary rewrites every fragment in a compiled executable using the
// compact layout, then absorbs the size change in the module table so the
// executable keeps its length. Partial correction is still a success,
// with the uncorrected sites listed in Missing.
func (p *Patcher) PatchBinary(buf []byte) (Result, error) {
	if p.guard.Patched(buf) {
		return alreadyPatched(), nil
	}
	out, sites, err := p.substitute(buf, fragment.StyleCompact)
	if err != nil {
		return Result{}, err
	}
	if len(sites) == 0 {
		return failed(OutcomeNoMatch, MessageNoMatch), nil
	}
	if bytes.Equal(out, buf) {
		return failed(OutcomeNoMatch, MessageUnchanged), nil
	}

	table := make([]offsets.Patch, len(sites))
	for i, s := range sites {
		table[i] = offsets.Patch{Offset: s.Offset, Delta: s.Delta}
	}
	corrected, rep := offsets.Correct(out, table)
	if !rep.Found() {
		r := failed(OutcomeTableMissing, MessageTableMissing)
		r.Sites = sites
		r.Missing = sites
		return r, nil
	}

	for i := range sites {
		sites[i].Offset = rep.Offsets[i]
	}
	var missing []Site
	for _, i := range rep.Missing {
		missing = append(missing, sites[i])
	}
	return Result{
		Outcome: OutcomePatched,
		Success: true,
		Content: corrected,
		Sites:   sites,
		Missing: missing,
	}, nil
}

// substitute replaces every match in a single left-to-right pass.
func (p *Patcher) substitute(buf []byte, style fragment.Style) ([]byte, []Site, error) {
	var (
		out   []byte
		sites []Site
		last  int
	)
	for m, err := range p.matcher.All(buf) {
		if err != nil {
			return nil, nil, err
		}
		if out == nil {
			out = make([]byte, 0, len(buf)+1024)
		}
		out = append(out, buf[last:m.Start]...)
		rep := fragment.Synthesize(m, style)
		sites = append(sites, Site{
			Offset:      len(out),
			Original:    buf[m.Start:m.End],
			Replacement: rep,
			Delta:       len(rep) - (m.End - m.Start),
		})
		out = append(out, rep...)
		last = m.End
	}
	if len(sites) == 0 {
		return buf, nil, nil
	}
	out = append(out, buf[last:]...)
	return out, sites, nil
}
