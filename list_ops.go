package keeper

import (
	"strings"

	"github.com/mauzec/todo-keeper/core"
)

type ListDraft struct {
	Title       string
	Description string
	Color       string
}

// AddList appends a list at the end of the display order.
func (e *Engine) AddList(draft ListDraft) (*core.TaskList, error) {
	const op = "keeper.Engine.AddList"

	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return nil, core.NewValidationError("list title required", op)
	}

	id, err := e.listIDs.NewID()
	if err != nil {
		return nil, core.NewInternalError("generate list id", err, op)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed(op)
	}

	l := core.NewTaskList(id, title, e.now().UTC())
	l.Description = strings.TrimSpace(draft.Description)
	l.Color = strings.TrimSpace(draft.Color)
	l.Position = e.nextPositionLocked()

	e.lists[id] = l
	e.scheduleSaveLocked()

	return l.CloneList(), nil
}

// ListPatch updates a list in place. Nil fields stay unchanged.
type ListPatch struct {
	Title       *string
	Description *string
	Color       *string
	Position    *int
}

func (e *Engine) UpdateList(id string, patch ListPatch) (*core.TaskList, error) {
	const op = "keeper.Engine.UpdateList"

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed(op)
	}

	l, ok := e.lists[id]
	if !ok {
		return nil, core.NewNotFoundError("list", id, op)
	}

	var title string
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, core.NewValidationError("list title required", op)
		}
	}
	if patch.Position != nil && *patch.Position < 0 {
		return nil, core.NewValidationError("list position cant be negative", op)
	}

	if patch.Title != nil {
		l.Title = title
	}
	if patch.Description != nil {
		l.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Color != nil {
		l.Color = strings.TrimSpace(*patch.Color)
	}
	if patch.Position != nil {
		l.Position = *patch.Position
	}

	l.Touch(e.now().UTC())
	e.scheduleSaveLocked()

	return l.CloneList(), nil
}

// RemoveList deletes the list and every task it owns; no task survives
// its list. Subtasks elsewhere whose parent went down with the list
// are detached. The default list cannot be removed: it is the adoption
// target for orphaned tasks.
func (e *Engine) RemoveList(id string) error {
	const op = "keeper.Engine.RemoveList"

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed(op)
	}

	if id == core.DefaultListID {
		return core.NewValidationError("default list cant be removed", op)
	}
	if _, ok := e.lists[id]; !ok {
		return core.NewNotFoundError("list", id, op)
	}

	delete(e.lists, id)
	removed := make(map[string]bool)
	for tid, t := range e.tasks {
		if t.ListID == id {
			removed[tid] = true
			delete(e.tasks, tid)
		}
	}
	for _, t := range e.tasks {
		if t.ParentID != "" && removed[t.ParentID] {
			t.ParentID = ""
		}
	}
	e.recountLocked()
	e.scheduleSaveLocked()
	return nil
}

// Lists returns every list in display order.
func (e *Engine) Lists() []*core.TaskList {
	e.mu.RLock()
	res := make([]*core.TaskList, 0, len(e.lists))
	for _, l := range e.lists {
		res = append(res, l.CloneList())
	}
	e.mu.RUnlock()

	core.SortListsByPosition(res)
	return res
}
