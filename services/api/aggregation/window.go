package aggregation

import (
	"strconv"
	"strings"
	"time"

	"github.com/gridpulse/gridpulse/services/api/apperr"
)

// Window is a sliding lookback such as "15m", "1h" or "7d", measured back
// from the moment of the call.
type Window string

// ParseWindow validates s and returns it in canonical (trimmed, lower-case)
// form. Go duration syntax is accepted plus a "d" suffix for whole days.
func ParseWindow(s string) (Window, error) {
	w := Window(strings.ToLower(strings.TrimSpace(s)))
	if _, err := w.parse(); err != nil {
		return "", err
	}
	return w, nil
}

// MustWindow is ParseWindow for constants; it panics on invalid input.
func MustWindow(s string) Window {
	w, err := ParseWindow(s)
	if err != nil {
		panic(err)
	}
	return w
}

// Duration returns the lookback length, or 0 for an invalid window.
func (w Window) Duration() time.Duration {
	d, _ := w.parse()
	return d
}

// Span returns the [start, end] range the window covers when evaluated at now.
func (w Window) Span(now time.Time) (time.Time, time.Time) {
	return now.Add(-w.Duration()), now
}

func (w Window) String() string { return string(w) }

func (w Window) parse() (time.Duration, error) {
	s := string(w)
	if s == "" {
		return 0, apperr.Invalid("window", "window is required")
	}
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, apperr.Invalid("window", "invalid window %q", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, apperr.Invalid("window", "invalid window %q", s)
		}
		d = parsed
	}
	if d <= 0 {
		return 0, apperr.Invalid("window", "window must be positive, got %q", s)
	}
	return d, nil
}
