package oplsong

import "fmt"

// warningRateLimit is the number of concrete warnings a WarningCollector
// will keep before collapsing the rest into a single summary line.
const warningRateLimit = 5

// WarningCollector accumulates non-fatal issues raised during Generate.
// After warningRateLimit entries it stops recording detail and instead
// counts how many more were suppressed, so a pathological song can't
// balloon the warnings list to its event count.
type WarningCollector struct {
	items     []string
	suppressed int
}

// Add records a warning, or increments the suppressed counter once the
// rate limit has been reached.
func (w *WarningCollector) Add(format string, args ...any) {
	if len(w.items) >= warningRateLimit {
		w.suppressed++
		return
	}
	w.items = append(w.items, fmt.Sprintf(format, args...))
}

// Warnings returns the collected warning strings, with a trailing
// summary line if any were suppressed.
func (w *WarningCollector) Warnings() []string {
	out := make([]string, len(w.items), len(w.items)+1)
	copy(out, w.items)
	if w.suppressed > 0 {
		out = append(out, fmt.Sprintf("%d additional warnings suppressed", w.suppressed))
	}
	return out
}
