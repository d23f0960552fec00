package patch

// Outcome of a patch attempt, mirroring the three-way result of a
// formatter run (no change / changed / error) plus the binary-only case.
type Outcome int

const (
	// OutcomePatched means Content holds new output.
	OutcomePatched Outcome = iota
	// OutcomeAlreadyPatched means the sentinel or legacy injected code is present.
	OutcomeAlreadyPatched
	// OutcomeNoMatch means the fragment shape was not found.
	OutcomeNoMatch
	// OutcomeTableMissing means no offset-table record could absorb the delta.
	OutcomeTableMissing
)

// Failure messages carried in Result.Message.
const (
	MessageNoMatch      = "no match found"
	MessageUnchanged    = "substitution produced identical output"
	MessageTableMissing = "offset table record not found"
)

func (o Outcome) String() string {
	switch o {
	case OutcomePatched:
		return "patched"
	case OutcomeAlreadyPatched:
		return "already-patched"
	case OutcomeNoMatch:
		return "no-match"
	case OutcomeTableMissing:
		return "table-missing"
	default:
		return "unknown"
	}
}
