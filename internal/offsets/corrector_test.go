package offsets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// module returns a module record followed by body, and the offset of
// body inside the returned bytes.
func module(comment, body string) ([]byte, int) {
	head := "\x00// @bun @bytecode @bun-cjs\n//" + comment + "\n(function(){"
	return []byte(head + body + "})"), len(head)
}

func fieldLen(t *testing.T, buf []byte, rec Record) int {
	t.Helper()
	n := bytes.IndexByte(buf[rec.Field:], '\n')
	if n < 0 {
		t.Fatalf("field at %d has no newline", rec.Field)
	}
	return n
}

// TestFindRecord verifies the back-scan to the marker and the forward
// scan to the field.
func TestFindRecord(t *testing.T) {
	buf, body := module(" 0123456789", "PATCH")
	rec, ok := FindRecord(buf, body)
	if !ok {
		t.Fatalf("record not found")
	}
	want := Record{Marker: 0, Field: len("\x00// @bun @bytecode @bun-cjs\n//"), FieldLen: len(" 0123456789")}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	if _, ok := FindRecord(buf, 3); ok {
		t.Fatalf("record found before the pragma ends")
	}
	if _, ok := FindRecord([]byte("// @bun\n// no nul byte\nPATCH"), 24); ok {
		t.Fatalf("record found without NUL byte")
	}
	noField := []byte("\x00// @bun @bytecode\nPATCH\n// later comment")
	if _, ok := FindRecord(noField, bytes.Index(noField, []byte("PATCH"))); ok {
		t.Fatalf("field found past the patch site")
	}
}

// TestCorrect_SingleRecord verifies that the field loses exactly delta
// bytes, that the patch offset follows, and that all other bytes stay.
func TestCorrect_SingleRecord(t *testing.T) {
	comment := " (c) Example Corp. All rights reserved."
	buf, body := module(comment, "PATCHED-REGION")
	out, rep := Correct(buf, []Patch{{Offset: body, Delta: 7}})

	if !rep.Found() || len(rep.Missing) != 0 {
		t.Fatalf("report: %+v", rep)
	}
	if len(out) != len(buf)-7 {
		t.Fatalf("length = %d; want %d", len(out), len(buf)-7)
	}
	if got := fieldLen(t, out, rep.Records[0]); got != len(comment)-7 {
		t.Fatalf("field length = %d; want %d", got, len(comment)-7)
	}
	if rep.Records[0].FieldLen != len(comment)-7 {
		t.Fatalf("record field length = %d", rep.Records[0].FieldLen)
	}
	if rep.Offsets[0] != body-7 || !bytes.HasPrefix(out[rep.Offsets[0]:], []byte("PATCHED-REGION")) {
		t.Fatalf("offset = %d; want %d", rep.Offsets[0], body-7)
	}
	if !strings.HasPrefix(string(out), "\x00// @bun @bytecode @bun-cjs\n//ample Corp.") {
		t.Fatalf("field not cut at its start: %q", out[:48])
	}
	if orig, _ := module(comment, "PATCHED-REGION"); !bytes.Equal(buf, orig) {
		t.Fatalf("input buffer was modified in place")
	}
}

// TestCorrect_NegativeDelta verifies that a shrinking patch pads the
// field with spaces.
func TestCorrect_NegativeDelta(t *testing.T) {
	buf, body := module(" short", "X")
	out, rep := Correct(buf, []Patch{{Offset: body, Delta: -3}})
	if !rep.Found() {
		t.Fatalf("report: %+v", rep)
	}
	if len(out) != len(buf)+3 {
		t.Fatalf("length = %d; want %d", len(out), len(buf)+3)
	}
	if !bytes.Contains(out, []byte("\n//    short\n")) {
		t.Fatalf("field not padded: %q", out)
	}
	if rep.Offsets[0] != body+3 {
		t.Fatalf("offset = %d; want %d", rep.Offsets[0], body+3)
	}
}

// TestCorrect_SharedRecord verifies that two sites inside one module
// accumulate their deltas in the same field.
func TestCorrect_SharedRecord(t *testing.T) {
	comment := strings.Repeat("c", 40)
	buf, body := module(comment, "FIRST....SECOND")
	second := body + strings.Index("FIRST....SECOND", "SECOND")
	out, rep := Correct(buf, []Patch{{Offset: body, Delta: 4}, {Offset: second, Delta: 6}})

	if len(rep.Corrected) != 2 || len(rep.Missing) != 0 {
		t.Fatalf("report: %+v", rep)
	}
	if diff := cmp.Diff([]int{1, 0}, rep.Corrected); diff != "" {
		t.Fatalf("processing order (-want +got):\n%s", diff)
	}
	if got := fieldLen(t, out, rep.Records[1]); got != 30 {
		t.Fatalf("field length = %d; want 30", got)
	}
	if !bytes.HasPrefix(out[rep.Offsets[0]:], []byte("FIRST")) || !bytes.HasPrefix(out[rep.Offsets[1]:], []byte("SECOND")) {
		t.Fatalf("offsets %v do not address their sites", rep.Offsets)
	}
}

// TestCorrect_AbortsBelowMissingRecord verifies that a missing record
// stops processing of all lower sites while higher corrections stand.
func TestCorrect_AbortsBelowMissingRecord(t *testing.T) {
	orphan := []byte("ORPHAN;")
	mod, body := module(strings.Repeat("c", 20), "SITE")
	mod2, body2 := module(strings.Repeat("d", 20), "TOP")
	buf := append(append(append([]byte{}, orphan...), mod...), mod2...)
	mid := len(orphan) + body
	top := len(orphan) + len(mod) + body2

	out, rep := Correct(buf, []Patch{{Offset: 0, Delta: 2}, {Offset: mid, Delta: 3}, {Offset: top, Delta: 5}})
	if diff := cmp.Diff([]int{2, 1}, rep.Corrected); diff != "" {
		t.Fatalf("corrected (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0}, rep.Missing); diff != "" {
		t.Fatalf("missing (-want +got):\n%s", diff)
	}
	if !rep.Found() || len(out) != len(buf)-8 {
		t.Fatalf("found=%v length=%d", rep.Found(), len(out))
	}

	_, rep = Correct(buf, []Patch{{Offset: mid, Delta: 3}, {Offset: top, Delta: 64}})
	if rep.Found() {
		t.Fatalf("correction continued below a record that could not absorb its delta: %+v", rep)
	}
	if diff := cmp.Diff([]int{1, 0}, rep.Missing); diff != "" {
		t.Fatalf("missing (-want +got):\n%s", diff)
	}
}
