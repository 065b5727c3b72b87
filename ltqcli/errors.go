package ltqcli

import "fmt"

// UsageError marks a CLI misuse (bad arguments, bad flag values) so main can
// map it to the spec's exit code 2, distinct from exit code 1's startup
// failures (target not resolvable, broker unreachable).
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) *UsageError {
	return &UsageError{msg: fmt.Sprintf(format, args...)}
}
