package middleware

import "github.com/tclesius/ltq"

// Default returns the stack a Worker installs when none is specified:
// MaxTries, MaxAge, MaxRate, in that order (outermost first).
func Default() []ltq.Middleware {
	return []ltq.Middleware{MaxTries(), MaxAge(), MaxRate()}
}
