package keeper

import (
	"go.uber.org/zap"

	"github.com/mauzec/todo-keeper/core"
	"github.com/mauzec/todo-keeper/export"
)

// Export renders the collection in the import/export wire format,
// stamped with the schema version and the current instant.
func (e *Engine) Export() (string, error) {
	const op = "keeper.Engine.Export"

	e.mu.RLock()
	tasks, lists := e.snapshotLocked()
	e.mu.RUnlock()

	payload, err := export.Export(tasks, lists, e.now().UTC())
	if err != nil {
		return "", tryAsAppError(err, op)
	}
	return payload, nil
}

// Import ingests an exported payload. With merge false the collection
// is replaced; with merge true imported entries win by ID and the rest
// stay. Tasks pointing at lists the payload does not carry adopt the
// default list. Unlike the persistence path, malformed input here is
// an error, never a silent fallback.
func (e *Engine) Import(payload string, merge bool) error {
	const op = "keeper.Engine.Import"

	tasks, lists, err := export.Import(payload)
	if err != nil {
		return tryAsAppError(err, op)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed(op)
	}

	if !merge {
		e.tasks = make(map[string]*core.Task, len(tasks))
		e.lists = make(map[string]*core.TaskList, len(lists))
	}
	for _, l := range lists {
		e.lists[l.ID] = l.CloneList()
	}
	for _, t := range tasks {
		ct := t.CloneTask()
		ct.Tags = core.NormalizeTags(ct.Tags)
		e.tasks[ct.ID] = ct
	}

	e.ensureDefaultListLocked()
	e.repairLocked()
	e.scheduleSaveLocked()

	e.logger.Info("collection imported",
		zap.Int("tasks", len(tasks)),
		zap.Int("lists", len(lists)),
		zap.Bool("merge", merge))
	return nil
}
