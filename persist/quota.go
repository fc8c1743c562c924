package persist

import (
	"strings"
	"time"

	"github.com/mauzec/todo-keeper/core"
)

// DefaultRetention is how long completed tasks survive quota pruning.
const DefaultRetention = 720 * time.Hour

const probeValueSize = 1024

// PruneExpired returns the tasks worth keeping when the medium is out
// of room: completed tasks untouched for longer than retention are
// shed, incomplete tasks survive unconditionally. Pure; the input
// slice is not modified.
func PruneExpired(tasks []*core.Task, now time.Time, retention time.Duration) []*core.Task {
	cutoff := now.Add(-retention)
	res := make([]*core.Task, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if t.Completed && t.UpdatedAt.Before(cutoff) {
			continue
		}
		res = append(res, t)
	}
	return res
}

// HasSpace estimates whether the medium can still take a small write.
// The medium's capacity is not queryable, so this probes with a
// fixed-size value and deletes it again. A heuristic: a passing probe
// does not guarantee the next real write fits.
func (c *Controller) HasSpace() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	probe := strings.Repeat("x", probeValueSize)
	if err := c.medium.Set(ProbeKey, probe); err != nil {
		return false
	}
	_ = c.medium.Delete(ProbeKey)
	return true
}
