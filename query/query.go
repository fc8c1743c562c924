// Package query answers filter and sort questions over the in-memory
// task collection. Apply is pure: inputs are never mutated and the
// result is a fresh slice, so callers can hold query results across
// collection mutations.
package query

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/mauzec/todo-keeper/core"
)

// SortKey selects the comparator.
type SortKey string

const (
	SortByDueDate  SortKey = "dueDate"
	SortByPriority SortKey = "priority"
	SortByCreated  SortKey = "createdAt"
	SortByTitle    SortKey = "title"
)

// FilterSpec is a conjunction of optional predicates. A nil/empty field
// is unconstrained; the zero value matches every task.
type FilterSpec struct {
	Completed *bool
	Priority  *core.Priority
	ListID    *string

	// Tags must all be carried by the task (superset match, not
	// intersection).
	Tags []string

	// Inclusive due-date bounds. A task without a due date fails any
	// due bound.
	DueAfter  *time.Time
	DueBefore *time.Time
}

// SortSpec is one sort key plus direction. The zero value sorts by
// creation instant ascending.
type SortSpec struct {
	Key        SortKey
	Descending bool
}

// Apply filters tasks and orders the survivors. The sort is stable, so
// ties keep their input order across repeated calls.
func Apply(tasks []*core.Task, filter FilterSpec, spec SortSpec) []*core.Task {
	res := make([]*core.Task, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if filter.Matches(t) {
			res = append(res, t)
		}
	}
	sortTasks(res, spec)
	return res
}

// Matches reports whether the task satisfies every constrained field.
func (f FilterSpec) Matches(t *core.Task) bool {
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.ListID != nil && t.ListID != *f.ListID {
		return false
	}
	if len(f.Tags) > 0 && !hasAllTags(t.Tags, f.Tags) {
		return false
	}
	if f.DueAfter != nil || f.DueBefore != nil {
		if t.DueDate == nil {
			return false
		}
		if f.DueAfter != nil && t.DueDate.Before(*f.DueAfter) {
			return false
		}
		if f.DueBefore != nil && t.DueDate.After(*f.DueBefore) {
			return false
		}
	}
	return true
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, tag := range have {
		set[tag] = true
	}
	for _, tag := range core.NormalizeTags(want) {
		if !set[tag] {
			return false
		}
	}
	return true
}

func sortTasks(tasks []*core.Task, spec SortSpec) {
	var coll *collate.Collator
	if spec.Key == SortByTitle {
		coll = collate.New(language.Und, collate.Loose)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return less(tasks[i], tasks[j], spec, coll)
	})
}

func less(a, b *core.Task, spec SortSpec, coll *collate.Collator) bool {
	if spec.Key == SortByDueDate {
		// tasks without a due date sort last regardless of direction,
		// two such tasks compare equal
		if a.DueDate == nil || b.DueDate == nil {
			return a.DueDate != nil && b.DueDate == nil
		}
	}

	c := 0
	switch spec.Key {
	case SortByDueDate:
		c = compareInstant(*a.DueDate, *b.DueDate)
	case SortByPriority:
		c = a.Priority.Ordinal() - b.Priority.Ordinal()
	case SortByTitle:
		c = coll.CompareString(a.Title, b.Title)
	default:
		c = compareInstant(a.CreatedAt, b.CreatedAt)
	}
	if spec.Descending {
		return c > 0
	}
	return c < 0
}

func compareInstant(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
