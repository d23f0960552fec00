package patch

// Result is the outcome of one patch attempt on one buffer. Exactly one
// of these holds: AlreadyPatched; !Success; Success with Content.
type Result struct {
	Outcome        Outcome
	Success        bool
	AlreadyPatched bool
	// Content is set only when new output was produced.
	Content []byte
	// Message is set only on failure.
	Message string
	// Sites lists every substitution, offsets relative to Content.
	Sites []Site
	// Missing lists sites whose offset-table record was not corrected.
	// Non-empty Missing with Success is a partial, warning-level result.
	Missing []Site
}

// Site is one substitution made by the patcher.
type Site struct {
	// Offset of the replacement in the output buffer.
	Offset      int
	Original    []byte
	Replacement []byte
	// Delta is len(Replacement) - len(Original).
	Delta int
}

func alreadyPatched() Result {
	return Result{Outcome: OutcomeAlreadyPatched, Success: true, AlreadyPatched: true}
}

func failed(o Outcome, msg string) Result {
	return Result{Outcome: o, Message: msg}
}
