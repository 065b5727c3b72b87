package ltq

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TaskOptions configures per-task behavior, immutable after task
// declaration. Zero values mean "unset": MaxTries <= 0 means unlimited,
// MaxAge == 0 means no age rejection, MaxRate == "" means no rate limit.
type TaskOptions struct {
	MaxTries int
	MaxAge   time.Duration
	MaxRate  string
}

// ParsedRate is the decomposed form of a TaskOptions.MaxRate string of the
// form "N/u" where u is one of s, m, h.
type ParsedRate struct {
	N      int
	Window time.Duration
}

// ParseRate decomposes a "N/u" rate string into a count and window
// duration. An empty string is not a valid rate; callers should check
// TaskOptions.MaxRate != "" first.
func ParseRate(rate string) (ParsedRate, error) {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return ParsedRate{}, fmt.Errorf("ltq: invalid max_rate %q: expected N/u", rate)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return ParsedRate{}, fmt.Errorf("ltq: invalid max_rate %q: bad count", rate)
	}
	var window time.Duration
	switch parts[1] {
	case "s":
		window = time.Second
	case "m":
		window = time.Minute
	case "h":
		window = time.Hour
	default:
		return ParsedRate{}, fmt.Errorf("ltq: invalid max_rate %q: unit must be s, m or h", rate)
	}
	return ParsedRate{N: n, Window: window}, nil
}
