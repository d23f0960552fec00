// Package offsets keeps the module table of Bun-compiled executables
// consistent after their embedded JavaScript was patched.
//
// A compiled executable stores each bundled module behind a NUL byte
// and the Bun pragma comment, and addresses modules by fixed offsets and
// lengths. A patch that grows a module by n bytes therefore has to give
// n bytes back inside the same module. The comment line that follows the
// pragma is free-form; its byte length is the field that absorbs the
// delta.
package offsets

import (
	"bytes"
	"cmp"
	"slices"
)

// Table constants.
const (
	pragma = "// @bun"
	pad    = ' '
)

var (
	markerSeq = []byte("\x00" + pragma) //nolint:gochecknoglobals // NUL + pragma
	fieldLead = []byte("\n//")          //nolint:gochecknoglobals // start of the field line
)

// Patch is one substitution already applied to the buffer being
// corrected. Offset is where the replacement starts, Delta is the number
// of bytes it added (negative when it removed bytes).
type Patch struct {
	Offset int
	Delta  int
}

// Record is a located table entry.
type Record struct {
	// Marker is the offset of the NUL byte.
	Marker int
	// Field is the offset of the first byte after "\n//".
	Field int
	// FieldLen is the number of bytes from Field up to the next newline,
	// or up to the patch site when no newline comes first.
	FieldLen int
}

// Report describes a Correct run. Indexes refer to the patches argument.
type Report struct {
	Corrected []int
	Missing   []int
	Records   []Record
	// Offsets holds each patch's offset in the corrected buffer.
	Offsets []int
}

// Found reports whether at least one record was corrected.
func (r Report) Found() bool {
	return len(r.Corrected) > 0
}

// Correct absorbs the delta of every patch in its module's table record
// and returns the corrected buffer. buf is not modified.
//
// Patches are processed from the highest offset to the lowest, so a
// correction never moves the bytes a later search depends on. When a
// record cannot be found, or cannot absorb its delta, that patch and all
// lower ones are reported missing and left uncorrected.
func Correct(buf []byte, patches []Patch) ([]byte, Report) {
	out := slices.Clone(buf)
	offs := make([]int, len(patches))
	order := make([]int, len(patches))
	for i, p := range patches {
		offs[i] = p.Offset
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(offs[b], offs[a])
	})

	var rep Report
	for k, idx := range order {
		delta := patches[idx].Delta
		rec, ok := FindRecord(out, offs[idx])
		if !ok || (delta > 0 && rec.FieldLen < delta) {
			rep.Missing = append(rep.Missing, order[k:]...)
			break
		}

		out = absorb(out, rec, delta)
		for j := range offs {
			if offs[j] > rec.Field {
				offs[j] -= delta
			}
		}
		rec.FieldLen -= delta
		rep.Corrected = append(rep.Corrected, idx)
		rep.Records = append(rep.Records, rec)
	}
	rep.Offsets = offs
	return out, rep
}

// FindRecord scans back from off for the marker and then forward to the
// field. The field has to start before off.
func FindRecord(buf []byte, off int) (Record, bool) {
	if off > len(buf) {
		off = len(buf)
	}
	marker := bytes.LastIndex(buf[:off], markerSeq)
	if marker < 0 {
		return Record{}, false
	}

	from := marker + len(markerSeq)
	lead := bytes.Index(buf[from:off], fieldLead)
	if lead < 0 {
		return Record{}, false
	}
	field := from + lead + len(fieldLead)

	n := bytes.IndexByte(buf[field:off], '\n')
	if n < 0 {
		n = off - field
	}
	return Record{Marker: marker, Field: field, FieldLen: n}, true
}

// absorb removes delta bytes at the start of the field, or pads it with
// -delta spaces when the patch shrank the module.
func absorb(buf []byte, rec Record, delta int) []byte {
	switch {
	case delta > 0:
		return slices.Delete(buf, rec.Field, rec.Field+delta)
	case delta < 0:
		return slices.Insert(buf, rec.Field, bytes.Repeat([]byte{pad}, -delta)...)
	default:
		return buf
	}
}
