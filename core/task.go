package core

import (
	"sort"
	"strings"
	"time"
)

// Priority is the urgency level of a Task. Levels are ordered:
// high sorts before medium, medium before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Ordinal returns the sort rank of the priority: high(0) < medium(1) < low(2).
// Unknown levels rank after low.
func (p Priority) Ordinal() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Task is a single to-do item.
type Task struct {
	ID          string
	Title       string
	Description string
	Completed   bool
	Priority    Priority

	// DueDate is optional; nil means the task has no deadline.
	DueDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// ListID refers to the owning TaskList. Tasks never exist
	// outside a list.
	ListID string

	// Tags is a normalized set: trimmed, deduplicated, sorted.
	Tags []string

	Recurrence string

	// ParentID refers to an optional parent task. Only one level of
	// nesting is allowed: a task with ParentID set cant be a parent.
	ParentID string
}

func NewTask(id, title, listID string, now time.Time) *Task {
	return &Task{
		ID:        id,
		Title:     title,
		ListID:    listID,
		Priority:  PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps UpdatedAt. The instant never moves backwards, so a
// skewed clock cant break the non-decreasing invariant.
func (t *Task) Touch(now time.Time) {
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
}

func (t *Task) CloneTask() *Task {
	if t == nil {
		return nil
	}

	ct := *t
	if t.DueDate != nil {
		due := *t.DueDate
		ct.DueDate = &due
	}
	if t.Tags != nil {
		ct.Tags = append([]string(nil), t.Tags...)
	}

	return &ct
}

func CloneTasks(tasks []*Task) []*Task {
	if len(tasks) == 0 {
		return nil
	}

	res := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, t.CloneTask())
	}
	return res
}

// SortTasksByCreation sorts tasks in-place by CreatedAt, oldest first.
func SortTasksByCreation(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		time1 := tasks[i].CreatedAt
		time2 := tasks[j].CreatedAt

		if time1.Equal(time2) {
			return tasks[i].ID < tasks[j].ID
		}
		return time1.Before(time2)
	})
}

// NormalizeTags trims, drops empties, collapses duplicates and sorts,
// so tag sets compare independent of input order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(tags))
	res := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		res = append(res, tag)
	}
	if len(res) == 0 {
		return nil
	}
	sort.Strings(res)
	return res
}

// DefaultListID identifies the implicit list that held every task
// before lists existed. Schema migration and orphan repair both
// resolve to it.
const DefaultListID = "inbox"

// TaskList is a named group of tasks.
type TaskList struct {
	ID          string
	Title       string
	Description string
	Color       string

	CreatedAt time.Time
	UpdatedAt time.Time

	// TaskCount caches the number of member tasks. The collection
	// layer maintains it on every task mutation.
	TaskCount int

	// Position is the display order, low first.
	Position int
}

func NewTaskList(id, title string, now time.Time) *TaskList {
	return &TaskList{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps UpdatedAt, same non-decreasing rule as Task.Touch.
func (l *TaskList) Touch(now time.Time) {
	if now.After(l.UpdatedAt) {
		l.UpdatedAt = now
	}
}

func (l *TaskList) CloneList() *TaskList {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func CloneLists(lists []*TaskList) []*TaskList {
	if len(lists) == 0 {
		return nil
	}

	res := make([]*TaskList, 0, len(lists))
	for _, l := range lists {
		res = append(res, l.CloneList())
	}
	return res
}

// SortListsByPosition sorts lists in-place by Position, then ID.
func SortListsByPosition(lists []*TaskList) {
	sort.Slice(lists, func(i, j int) bool {
		if lists[i].Position != lists[j].Position {
			return lists[i].Position < lists[j].Position
		}
		return lists[i].ID < lists[j].ID
	})
}
