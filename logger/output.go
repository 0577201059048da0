package logger

// Detail is a class of operator-facing CLI output. Log levels filter by
// severity; Detail decides what a command prints at a given -v count.
type Detail int

const (
	DetailResults  Detail = iota // tables, totals, job ids
	DetailProgress               // paging scope, watcher arms
	DetailConfig                 // build info, resolved paths, schema
	DetailTrace                  // per-page and per-tick chatter
)

// Shows reports whether d is printed at the given verbosity
func (d Detail) Shows(verbosity int) bool {
	switch d {
	case DetailResults:
		return true
	case DetailProgress:
		return verbosity >= VerbosityInfo
	case DetailConfig:
		return verbosity >= VerbosityDebug
	case DetailTrace:
		return verbosity >= VerbosityTrace
	}
	return false
}
