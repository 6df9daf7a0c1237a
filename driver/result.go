package driver

// Result is the structured outcome of one feed ingestion. It is embedded in
// the sync-log metadata and in HTTP responses; it is never stored as its own
// row.
type Result struct {
	Source    string         `json:"source"`
	Success   bool           `json:"success"`
	Updated   int            `json:"updated,omitempty"`
	Added     int            `json:"added,omitempty"`
	Failed    int            `json:"failed,omitempty"`
	Skipped   bool           `json:"skipped,omitempty"`
	Partial   bool           `json:"partial,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Error     string         `json:"error,omitempty"`
	LastError string         `json:"lastError,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Skip reports a feed that intentionally did nothing: missing secret, empty
// upstream, or absent destination table. Skips are successes.
func Skip(source, reason string) Result {
	return Result{Source: source, Success: true, Skipped: true, Reason: reason}
}

// Fail reports a feed that could not complete: transport error, source
// 4xx/5xx, or parse failure. The dispatcher continues with the next feed.
func Fail(source string, err error) Result {
	return Result{Source: source, Error: err.Error()}
}

// PartialBudget reports a feed cut short by budget exhaustion. Whatever was
// written before the cutoff stands; partials are successes.
func PartialBudget(source string, updated, failed int) Result {
	return Result{
		Source:  source,
		Success: true,
		Partial: true,
		Reason:  "budget",
		Updated: updated,
		Failed:  failed,
	}
}
