// Package fragment locates the input-handler fragment of the Claude Code
// bundle and synthesizes its IME-aware replacement.
package fragment

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/dlclark/regexp2"
)

// ident matches a minified identifier. ASCII only, like \w in JS plus $.
const ident = `[A-Za-z0-9_$]+`

// anchor is the literal the fragment always starts with. Candidate
// windows are found with bytes.Index on it before the regex runs.
var anchor = []byte(`.match(/\x7f/g)`) //nolint:gochecknoglobals // literal

// ws is token-separating whitespace. ASCII only: over the latin1 view
// \s would also accept 0x85 and 0xA0, which are UTF-8 continuation bytes.
const ws = `[ \t\r\n]`

// tailSlack is how far past the end of the anchor line the tail of a
// fragment may reach. The prefix cannot cross a newline; the tail's
// whitespace can.
const tailSlack = 256

// DefaultMatchTimeout bounds a single regex evaluation.
const DefaultMatchTimeout = 30 * time.Second

// ErrMatchTimeout is returned when the pattern evaluation exceeds the
// matcher's timeout.
var ErrMatchTimeout = errors.New("fragment match timed out")

// pattern is anchored at the start of each candidate window. Group names
// map onto the fields of Match.
var pattern = `\A` + //nolint:gochecknoglobals // compiled once
	`(?<prefix>(?<input>` + ident + `)\.match\(/\\x7f/g\).*?)` +
	`(?<block>if` + ws + `*\(` + ws + `*!` + ws + `*(?<current>` + ident + `)\.equals\(` + ws + `*(?<candidate>` + ident + `)` + ws + `*\)` + ws + `*\)` + ws + `*\{` + ws + `*` +
	`if` + ws + `*\(` + ws + `*\k<current>\.text` + ws + `*!==` + ws + `*\k<candidate>\.text` + ws + `*\)` + ws + `*(?<text>` + ident + `)\(` + ws + `*\k<candidate>\.text` + ws + `*\)` + ws + `*;` + ws + `*` +
	`(?<offset>` + ident + `)\(` + ws + `*\k<candidate>\.offset` + ws + `*\)` + ws + `*;?` + ws + `*\})` +
	`(?<tail>(?:` + ident + `\(\),?` + ws + `*)*;?` + ws + `*return)`

// Match is one located occurrence of the fragment. Offsets are byte
// offsets into the searched buffer; End is exclusive.
type Match struct {
	Start int
	End   int

	// Input is the raw input string variable, tested for DEL bytes.
	Input string
	// Current is the state object before the edit.
	Current string
	// Candidate is the state object after the edit.
	Candidate string
	// ApplyText is called with the new text when it changed.
	ApplyText string
	// ApplyOffset is called with the new cursor offset.
	ApplyOffset string

	// Prefix runs from Start up to the guarded block.
	Prefix []byte
	// Block is the guarded dispatch block, verbatim.
	Block []byte
	// Tail is the trailing call chain and return, verbatim; it ends at End.
	Tail []byte
}

// Matcher finds fragments. It holds no per-call state and is safe for
// concurrent use.
type Matcher struct {
	re *regexp2.Regexp
}

// NewMatcher compiles the fragment pattern. A timeout <= 0 selects
// DefaultMatchTimeout.
func NewMatcher(timeout time.Duration) *Matcher {
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	re := regexp2.MustCompile(pattern, regexp2.None)
	re.MatchTimeout = timeout
	return &Matcher{re: re}
}

// All yields every non-overlapping match in buf, left to right. The
// sequence is lazy and can be ranged over any number of times.
func (m *Matcher) All(buf []byte) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		pos := 0
		for {
			mt, ok, err := m.next(buf, pos)
			if err != nil {
				yield(Match{}, err)
				return
			}
			if !ok {
				return
			}
			if !yield(mt, nil) {
				return
			}
			pos = mt.End
		}
	}
}

// Find collects all matches in buf.
func (m *Matcher) Find(buf []byte) ([]Match, error) {
	var out []Match
	for mt, err := range m.All(buf) {
		if err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	return out, nil
}

// next returns the first match that starts at or after from.
func (m *Matcher) next(buf []byte, from int) (Match, bool, error) {
	for from < len(buf) {
		i := bytes.Index(buf[from:], anchor)
		if i < 0 {
			return Match{}, false, nil
		}
		at := from + i
		start := identStart(buf, at, from)
		if start == at {
			from = at + len(anchor)
			continue
		}

		end := windowEnd(buf, at)
		rm, err := m.re.FindRunesMatch(latin1Runes(buf[start:end]))
		if err != nil {
			return Match{}, false, fmt.Errorf("%w: %w", ErrMatchTimeout, err)
		}
		if rm == nil {
			from = at + len(anchor)
			continue
		}
		return buildMatch(buf, start, rm), true, nil
	}
	return Match{}, false, nil
}

// identStart walks back from at over identifier bytes, never before floor.
func identStart(buf []byte, at, floor int) int {
	s := at
	for s > floor && isIdentByte(buf[s-1]) {
		s--
	}
	return s
}

// windowEnd is the end of the anchor's line plus tailSlack.
func windowEnd(buf []byte, at int) int {
	nl := bytes.IndexByte(buf[at:], '\n')
	if nl < 0 {
		return len(buf)
	}
	return min(at+nl+tailSlack, len(buf))
}

func buildMatch(buf []byte, base int, rm *regexp2.Match) Match {
	span := func(name string) []byte {
		g := rm.GroupByName(name)
		return buf[base+g.Index : base+g.Index+g.Length]
	}
	name := func(group string) string {
		return string(span(group))
	}
	return Match{
		Start:       base + rm.Index,
		End:         base + rm.Index + rm.Length,
		Input:       name("input"),
		Current:     name("current"),
		Candidate:   name("candidate"),
		ApplyText:   name("text"),
		ApplyOffset: name("offset"),
		Prefix:      span("prefix"),
		Block:       span("block"),
		Tail:        span("tail"),
	}
}

// latin1Runes maps each byte onto the rune of the same value so that
// regex indexes are byte offsets and invalid UTF-8 survives untouched.
func latin1Runes(b []byte) []rune {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return r
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
