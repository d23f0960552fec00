package fragment

import (
	"bytes"
)

// Marker is the sentinel comment placed at every patch site. Its
// presence is the only signal that a buffer was already patched; it must
// not change between releases.
const Marker = "/* Vietnamese IME fix */"

// Style selects the layout of the synthesized code.
type Style int

const (
	// StyleReadable spreads the injected code over several lines. Used
	// for the npm cli.js, whose size is free to change.
	StyleReadable Style = iota
	// StyleCompact emits the injected code without any whitespace. Used
	// for compiled executables, where every added byte has to be absorbed
	// elsewhere.
	StyleCompact
)

// Synthesize builds the replacement for m. The result is the marker, the
// prefix verbatim, a block that strips DEL bytes from the input and
// inserts the remaining characters into the candidate state, the original
// dispatch block operating on that candidate, and the tail verbatim.
//
// The inserted loop only runs when the input held DEL bytes and something
// else; otherwise the dispatch block and tail behave exactly like the
// original.
func Synthesize(m Match, style Style) []byte {
	var b bytes.Buffer
	b.Grow(len(m.Prefix) + len(m.Block) + len(m.Tail) + 192)

	b.WriteString(Marker)
	b.Write(m.Prefix)

	switch style {
	case StyleCompact:
		b.WriteString(`{let _vn=`)
		b.WriteString(m.Input)
		b.WriteString(`.replace(/\x7f/g,"");if(_vn.length>0&&_vn.length<`)
		b.WriteString(m.Input)
		b.WriteString(`.length){for(const _c of _vn)`)
		b.WriteString(m.Candidate)
		b.WriteByte('=')
		b.WriteString(m.Candidate)
		b.WriteString(`.insert(_c)}`)
		b.Write(m.Block)
		b.WriteByte('}')
	default:
		b.WriteString("{\n    let _vn = ")
		b.WriteString(m.Input)
		b.WriteString(`.replace(/\x7f/g, "");`)
		b.WriteString("\n    if (_vn.length > 0 && _vn.length < ")
		b.WriteString(m.Input)
		b.WriteString(".length) {\n        for (const _c of _vn) ")
		b.WriteString(m.Candidate)
		b.WriteString(" = ")
		b.WriteString(m.Candidate)
		b.WriteString(".insert(_c);\n    }\n    ")
		b.Write(m.Block)
		b.WriteString("\n}\n")
	}

	b.Write(m.Tail)
	return b.Bytes()
}
