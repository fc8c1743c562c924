package keeper

import (
	"strings"
	"time"

	"github.com/mauzec/todo-keeper/core"
	"github.com/mauzec/todo-keeper/query"
)

// Recurrence values accepted on tasks. Empty means one-shot.
const (
	RecurNone    = ""
	RecurDaily   = "daily"
	RecurWeekly  = "weekly"
	RecurMonthly = "monthly"
	RecurYearly  = "yearly"
)

func validRecurrence(r string) bool {
	switch r {
	case RecurNone, RecurDaily, RecurWeekly, RecurMonthly, RecurYearly:
		return true
	default:
		return false
	}
}

// nextOccurrence advances a due date by one recurrence interval.
// Calendar-based, so monthly on the 31st lands on the shorter month's
// spillover day the way time.AddDate defines it.
func nextOccurrence(due time.Time, recurrence string) time.Time {
	switch recurrence {
	case RecurDaily:
		return due.AddDate(0, 0, 1)
	case RecurWeekly:
		return due.AddDate(0, 0, 7)
	case RecurMonthly:
		return due.AddDate(0, 1, 0)
	case RecurYearly:
		return due.AddDate(1, 0, 0)
	default:
		return due
	}
}

// TaskDraft carries the caller-supplied fields for a new task. Empty
// ListID targets the default list; empty Priority means medium.
type TaskDraft struct {
	Title       string
	Description string
	Priority    core.Priority
	DueDate     *time.Time
	ListID      string
	Tags        []string
	Recurrence  string
	ParentID    string
}

func (e *Engine) AddTask(draft TaskDraft) (*core.Task, error) {
	const op = "keeper.Engine.AddTask"

	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return nil, core.NewValidationError("task title required", op)
	}
	priority := draft.Priority
	if priority == "" {
		priority = core.PriorityMedium
	}
	if !priority.Valid() {
		return nil, core.NewValidationError("unknown priority level: "+string(priority), op)
	}
	if !validRecurrence(draft.Recurrence) {
		return nil, core.NewValidationError("unknown recurrence: "+draft.Recurrence, op)
	}

	id, err := e.taskIDs.NewID()
	if err != nil {
		return nil, core.NewInternalError("generate task id", err, op)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed(op)
	}

	listID := draft.ListID
	if listID == "" {
		listID = core.DefaultListID
	}
	if _, ok := e.lists[listID]; !ok {
		return nil, core.NewNotFoundError("list", listID, op)
	}
	if draft.ParentID != "" {
		parent, ok := e.tasks[draft.ParentID]
		if !ok {
			return nil, core.NewNotFoundError("task", draft.ParentID, op)
		}
		if parent.ParentID != "" {
			return nil, core.NewValidationError("subtasks cant nest below one level", op)
		}
	}

	t := core.NewTask(id, title, listID, e.now().UTC())
	t.Description = strings.TrimSpace(draft.Description)
	t.Priority = priority
	t.Tags = core.NormalizeTags(draft.Tags)
	t.Recurrence = draft.Recurrence
	t.ParentID = draft.ParentID
	if draft.DueDate != nil {
		due := draft.DueDate.UTC()
		t.DueDate = &due
	}

	e.tasks[id] = t
	e.recountLocked()
	e.scheduleSaveLocked()

	return t.CloneTask(), nil
}

// TaskPatch updates a task in place. Nil fields stay unchanged. Tags
// replaces the whole set when non-nil (an empty non-nil slice clears
// it); ClearDueDate removes the deadline and wins over DueDate; a
// pointer to the empty string detaches ParentID.
type TaskPatch struct {
	Title        *string
	Description  *string
	Priority     *core.Priority
	DueDate      *time.Time
	ClearDueDate bool
	ListID       *string
	Tags         []string
	Recurrence   *string
	ParentID     *string
}

func (e *Engine) UpdateTask(id string, patch TaskPatch) (*core.Task, error) {
	const op = "keeper.Engine.UpdateTask"

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed(op)
	}

	t, ok := e.tasks[id]
	if !ok {
		return nil, core.NewNotFoundError("task", id, op)
	}

	// validate the full patch before touching the task
	var title string
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, core.NewValidationError("task title required", op)
		}
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, core.NewValidationError("unknown priority level: "+string(*patch.Priority), op)
	}
	if patch.Recurrence != nil && !validRecurrence(*patch.Recurrence) {
		return nil, core.NewValidationError("unknown recurrence: "+*patch.Recurrence, op)
	}
	if patch.ListID != nil {
		if _, ok := e.lists[*patch.ListID]; !ok {
			return nil, core.NewNotFoundError("list", *patch.ListID, op)
		}
	}
	if patch.ParentID != nil && *patch.ParentID != "" {
		pid := *patch.ParentID
		if pid == id {
			return nil, core.NewValidationError("task cant be its own parent", op)
		}
		parent, ok := e.tasks[pid]
		if !ok {
			return nil, core.NewNotFoundError("task", pid, op)
		}
		if parent.ParentID != "" {
			return nil, core.NewValidationError("subtasks cant nest below one level", op)
		}
		if e.hasSubtasksLocked(id) {
			return nil, core.NewValidationError("task with subtasks cant become a subtask", op)
		}
	}

	if patch.Title != nil {
		t.Title = title
	}
	if patch.Description != nil {
		t.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.ClearDueDate {
		t.DueDate = nil
	} else if patch.DueDate != nil {
		due := patch.DueDate.UTC()
		t.DueDate = &due
	}
	if patch.ListID != nil {
		t.ListID = *patch.ListID
	}
	if patch.Tags != nil {
		t.Tags = core.NormalizeTags(patch.Tags)
	}
	if patch.Recurrence != nil {
		t.Recurrence = *patch.Recurrence
	}
	if patch.ParentID != nil {
		t.ParentID = *patch.ParentID
	}

	t.Touch(e.now().UTC())
	e.recountLocked()
	e.scheduleSaveLocked()

	return t.CloneTask(), nil
}

// CompleteTask marks the task done. A recurring task with a due date
// rolls forward to its next occurrence instead of completing. Already
// completed tasks are left alone.
func (e *Engine) CompleteTask(id string) (*core.Task, error) {
	const op = "keeper.Engine.CompleteTask"

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed(op)
	}

	t, ok := e.tasks[id]
	if !ok {
		return nil, core.NewNotFoundError("task", id, op)
	}
	if t.Completed {
		return t.CloneTask(), nil
	}

	if t.Recurrence != RecurNone && t.DueDate != nil {
		next := nextOccurrence(*t.DueDate, t.Recurrence)
		t.DueDate = &next
	} else {
		t.Completed = true
	}
	t.Touch(e.now().UTC())
	e.scheduleSaveLocked()

	return t.CloneTask(), nil
}

func (e *Engine) ReopenTask(id string) (*core.Task, error) {
	const op = "keeper.Engine.ReopenTask"

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed(op)
	}

	t, ok := e.tasks[id]
	if !ok {
		return nil, core.NewNotFoundError("task", id, op)
	}
	if !t.Completed {
		return t.CloneTask(), nil
	}

	t.Completed = false
	t.Touch(e.now().UTC())
	e.scheduleSaveLocked()

	return t.CloneTask(), nil
}

// RemoveTask deletes the task and any subtasks under it.
func (e *Engine) RemoveTask(id string) error {
	const op = "keeper.Engine.RemoveTask"

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed(op)
	}

	if _, ok := e.tasks[id]; !ok {
		return core.NewNotFoundError("task", id, op)
	}
	delete(e.tasks, id)
	for cid, t := range e.tasks {
		if t.ParentID == id {
			delete(e.tasks, cid)
		}
	}
	e.recountLocked()
	e.scheduleSaveLocked()
	return nil
}

func (e *Engine) Task(id string) (*core.Task, error) {
	const op = "keeper.Engine.Task"

	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tasks[id]
	if !ok {
		return nil, core.NewNotFoundError("task", id, op)
	}
	return t.CloneTask(), nil
}

// Tasks returns every task, oldest first.
func (e *Engine) Tasks() []*core.Task {
	e.mu.RLock()
	res := make([]*core.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		res = append(res, t.CloneTask())
	}
	e.mu.RUnlock()

	core.SortTasksByCreation(res)
	return res
}

// Query filters and sorts the collection. Creation order is the base
// order, so sort ties land in a deterministic arrangement.
func (e *Engine) Query(filter query.FilterSpec, spec query.SortSpec) []*core.Task {
	return query.Apply(e.Tasks(), filter, spec)
}

func (e *Engine) hasSubtasksLocked(id string) bool {
	for _, t := range e.tasks {
		if t.ParentID == id {
			return true
		}
	}
	return false
}
