// Package keeper is a local-first to-do engine: an in-memory task and
// list collection that persists itself through a write-behind
// controller onto a quota-limited key-value medium. Mutations apply
// synchronously in memory and schedule a debounced flush; storage
// troubles degrade the engine to in-memory-only operation instead of
// failing the mutation.
package keeper

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mauzec/todo-keeper/config"
	"github.com/mauzec/todo-keeper/core"
	"github.com/mauzec/todo-keeper/persist"
	"github.com/mauzec/todo-keeper/storage"
	"github.com/mauzec/todo-keeper/storage/envelope"
)

const (
	taskIDPrefix = "todo-t-"
	listIDPrefix = "todo-l-"

	defaultListTitle = "Inbox"
)

type IDGenerator interface {
	NewID() (string, error)
}

type RandomIDGenerator struct {
	prefix string
}

func NewRandomIDGenerator(prefix string) *RandomIDGenerator {
	return &RandomIDGenerator{prefix: prefix}
}

func (g *RandomIDGenerator) NewID() (string, error) {
	id := uuid.NewString()
	if g.prefix == "" {
		return id, nil
	}
	return g.prefix + id, nil
}

// Options configures an Engine.
type Options struct {
	Medium storage.Medium `validate:"required"`

	// DebounceWindow and Retention pass through to the persistence
	// controller; zero means its defaults.
	DebounceWindow time.Duration `validate:"min=0"`
	Retention      time.Duration `validate:"min=0"`

	// DefaultListTitle names the list seeded on first open. That list
	// also adopts orphaned tasks; it cannot be removed.
	DefaultListTitle string

	TaskIDs IDGenerator
	ListIDs IDGenerator

	// OnCondition receives persistence degradation signals after the
	// engine has already applied them to its own state.
	OnCondition func(*core.AppError)

	Logger *zap.Logger
	Now    func() time.Time
}

// Engine owns the collection and its persistence. One engine per
// medium; the engine closes the medium on Close.
type Engine struct {
	ctrl   *persist.Controller
	medium storage.Medium

	taskIDs IDGenerator
	listIDs IDGenerator

	inboxTitle  string
	onCondition func(*core.AppError)
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.RWMutex
	tasks  map[string]*core.Task
	lists  map[string]*core.TaskList
	closed bool
}

// Open loads the persisted collection from the medium and returns a
// ready engine. A fresh medium starts with an empty collection plus
// the default list.
func Open(opts Options) (*Engine, error) {
	const op = "keeper.Open"

	if err := validator.New().Struct(opts); err != nil {
		return nil, core.NewValidationError("invalid engine options: "+err.Error(), op)
	}
	if opts.DefaultListTitle == "" {
		opts.DefaultListTitle = defaultListTitle
	}
	if opts.TaskIDs == nil {
		opts.TaskIDs = NewRandomIDGenerator(taskIDPrefix)
	}
	if opts.ListIDs == nil {
		opts.ListIDs = NewRandomIDGenerator(listIDPrefix)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		medium:      opts.Medium,
		taskIDs:     opts.TaskIDs,
		listIDs:     opts.ListIDs,
		inboxTitle:  opts.DefaultListTitle,
		onCondition: opts.OnCondition,
		logger:      opts.Logger,
		now:         opts.Now,
		tasks:       make(map[string]*core.Task),
		lists:       make(map[string]*core.TaskList),
	}

	ctrl, err := persist.NewController(persist.Options{
		Medium:         opts.Medium,
		DebounceWindow: opts.DebounceWindow,
		Retention:      opts.Retention,
		OnCondition:    e.handleCondition,
		Logger:         opts.Logger.Named("persist"),
		Now:            opts.Now,
	})
	if err != nil {
		return nil, err
	}
	e.ctrl = ctrl

	tasks, lists := ctrl.Load()

	e.mu.Lock()
	for _, l := range lists {
		e.lists[l.ID] = l
	}
	for _, t := range tasks {
		e.tasks[t.ID] = t
	}
	e.ensureDefaultListLocked()
	changed := e.repairLocked()
	if changed {
		e.scheduleSaveLocked()
	}
	e.mu.Unlock()

	e.logger.Info("engine opened",
		zap.Int("tasks", len(tasks)), zap.Int("lists", len(lists)))
	return e, nil
}

// OpenFromConfig builds the storage medium the config names and opens
// an engine on it.
func OpenFromConfig(cfg *config.EngineConfig, logger *zap.Logger) (*Engine, error) {
	const op = "keeper.OpenFromConfig"

	if cfg == nil {
		return nil, core.NewValidationError("config required", op)
	}

	var medium storage.Medium
	var err error
	switch strings.ToLower(cfg.StorageMode) {
	case config.StorageModeMemory:
		medium = storage.NewMemoryMedium(cfg.StorageLimitBytes)
	case config.StorageModeFile:
		medium, err = storage.NewFileMedium(
			filepath.Join(cfg.DataDir, "keeper.json"), cfg.StorageLimitBytes)
	case config.StorageModeBolt:
		medium, err = storage.NewBoltMedium(
			filepath.Join(cfg.DataDir, "keeper.db"), cfg.StorageLimitBytes)
	default:
		return nil, core.NewValidationError("unknown storage mode: "+cfg.StorageMode, op)
	}
	if err != nil {
		return nil, err
	}

	eng, err := Open(Options{
		Medium:           medium,
		DebounceWindow:   cfg.SaveDebounce,
		Retention:        cfg.PruneRetention,
		DefaultListTitle: cfg.DefaultListTitle,
		Logger:           logger,
	})
	if err != nil {
		_ = medium.Close()
		return nil, err
	}
	return eng, nil
}

// Flush schedules the current collection and writes it immediately,
// bypassing the debounce window. False means the medium did not take
// the write; the in-memory collection stays authoritative either way.
func (e *Engine) Flush() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.scheduleSaveLocked()
	e.mu.Unlock()

	return e.ctrl.FlushNow()
}

// HasSpace probes the medium for roughly a kilobyte of headroom. A
// heuristic, not a capacity query.
func (e *Engine) HasSpace() bool {
	return e.ctrl.HasSpace()
}

// Close flushes the collection and closes the medium. Further
// mutations fail; reads keep serving the in-memory state.
func (e *Engine) Close() error {
	const op = "keeper.Engine.Close"

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.scheduleSaveLocked()
	e.mu.Unlock()

	_ = e.ctrl.Close()
	if err := e.medium.Close(); err != nil {
		return tryAsAppError(err, op)
	}
	e.logger.Info("engine closed")
	return nil
}

// handleCondition reacts to persistence degradation signals before
// forwarding them to the embedder. Runs outside the controller lock
// and takes the engine lock itself, so engine methods must not hold
// the engine lock across controller calls that flush.
func (e *Engine) handleCondition(cond *core.AppError) {
	if cond != nil && cond.Code == core.ErrorCodeQuotaExceeded {
		e.dropPruned(cond)
	}
	if e.onCondition != nil {
		e.onCondition(cond)
	}
}

// dropPruned mirrors a quota prune in the in-memory collection, so the
// next flush does not resurrect tasks the medium had no room for.
func (e *Engine) dropPruned(cond *core.AppError) {
	cutoffStr, ok := cond.Meta["pruned_before"]
	if !ok {
		return
	}
	cutoff, err := envelope.DecodeInstant(cutoffStr)
	if err != nil {
		e.logger.Warn("unreadable prune cutoff", zap.String("cutoff", cutoffStr))
		return
	}

	e.mu.Lock()
	removed := 0
	for id, t := range e.tasks {
		if t.Completed && t.UpdatedAt.Before(cutoff) {
			delete(e.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		e.repairLocked()
	}
	e.mu.Unlock()

	if removed > 0 {
		e.logger.Info("dropped pruned tasks from memory", zap.Int("removed", removed))
	}
}

// scheduleSaveLocked hands the controller a detached snapshot of the
// collection. Safe under the engine lock: scheduling never flushes.
func (e *Engine) scheduleSaveLocked() {
	tasks, lists := e.snapshotLocked()
	e.ctrl.ScheduleSave(tasks, lists)
}

// snapshotLocked clones the collection in deterministic order.
func (e *Engine) snapshotLocked() ([]*core.Task, []*core.TaskList) {
	tasks := make([]*core.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	lists := make([]*core.TaskList, 0, len(e.lists))
	for _, l := range e.lists {
		lists = append(lists, l)
	}
	core.SortTasksByCreation(tasks)
	core.SortListsByPosition(lists)
	return core.CloneTasks(tasks), core.CloneLists(lists)
}

func (e *Engine) ensureDefaultListLocked() *core.TaskList {
	if l, ok := e.lists[core.DefaultListID]; ok {
		return l
	}
	l := core.NewTaskList(core.DefaultListID, e.inboxTitle, e.now().UTC())
	l.Position = e.nextPositionLocked()
	e.lists[core.DefaultListID] = l
	return l
}

// repairLocked restores the referential invariants after load, import
// or prune: every task belongs to an existing list, parent references
// point at existing top-level tasks, and the cached task counts match.
// Reports whether any task was touched.
func (e *Engine) repairLocked() bool {
	changed := false
	for _, t := range e.tasks {
		if _, ok := e.lists[t.ListID]; !ok {
			e.ensureDefaultListLocked()
			t.ListID = core.DefaultListID
			changed = true
		}
	}
	// decide detachments against the pre-repair link state so deep or
	// cyclic chains resolve the same way regardless of map order
	var detach []string
	for id, t := range e.tasks {
		if t.ParentID == "" {
			continue
		}
		parent, ok := e.tasks[t.ParentID]
		if !ok || parent.ParentID != "" || t.ParentID == id {
			detach = append(detach, id)
		}
	}
	for _, id := range detach {
		e.tasks[id].ParentID = ""
		changed = true
	}
	e.recountLocked()
	return changed
}

func (e *Engine) recountLocked() {
	for _, l := range e.lists {
		l.TaskCount = 0
	}
	for _, t := range e.tasks {
		if l, ok := e.lists[t.ListID]; ok {
			l.TaskCount++
		}
	}
}

func (e *Engine) nextPositionLocked() int {
	next := 0
	for _, l := range e.lists {
		if l.Position >= next {
			next = l.Position + 1
		}
	}
	return next
}

func errClosed(op string) *core.AppError {
	return core.NewAppErrorBuilder(core.ErrorCodeInternal).
		Message("engine is closed").
		SafeToShow(true).
		Oper(op).
		Build()
}

func tryAsAppError(err error, op string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := core.AsAppError(err); ok {
		return appErr.WithOper(op)
	}
	return core.NewInternalError("unexpected error", err, op)
}
