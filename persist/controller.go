// Package persist keeps the in-memory collection and the storage
// medium consistent: a write-behind controller debounces flushes,
// rotates a single-slot backup, migrates old schemas on load and
// sheds expired completed tasks when the medium runs out of room.
// Storage troubles degrade the engine to in-memory-only operation and
// are reported as non-fatal conditions, never returned from the
// schedule/load paths.
package persist

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mauzec/todo-keeper/core"
	"github.com/mauzec/todo-keeper/storage"
	"github.com/mauzec/todo-keeper/storage/envelope"
)

// Medium keys. Published contract: embedders pointing two engines at
// one medium will clobber each other (last writer wins, see the
// concurrency note on Controller).
const (
	StateKey   = "todo/state"
	VersionKey = "todo/schema"
	BackupKey  = "todo/backup"
	ProbeKey   = "todo/probe"
)

// DefaultDebounceWindow is the write-behind delay. Mutation bursts
// inside the window coalesce into a single write.
const DefaultDebounceWindow = 500 * time.Millisecond

// State is the controller's observable write-path state.
type State string

const (
	StateIdle         State = "idle"
	StatePendingWrite State = "pending_write"
	StateWriting      State = "writing"
	StateRecovering   State = "recovering"
	StateFailed       State = "failed"
)

// Options configures a Controller.
type Options struct {
	Medium storage.Medium `validate:"required"`

	// DebounceWindow delays the flush after ScheduleSave; zero means
	// DefaultDebounceWindow.
	DebounceWindow time.Duration `validate:"min=0"`

	// Retention bounds quota pruning; zero means DefaultRetention.
	Retention time.Duration `validate:"min=0"`

	// OnCondition receives the non-fatal degradation signals
	// (StorageUnavailable, QuotaExceeded, CorruptData). Called outside
	// the controller lock, so it may call back into the controller.
	OnCondition func(*core.AppError)

	Logger *zap.Logger
	Now    func() time.Time
}

type snapshot struct {
	tasks []*core.Task
	lists []*core.TaskList
}

// Controller is the write-behind persistence orchestrator. One
// controller owns its medium exclusively; concurrent writers on the
// same medium are unguarded.
type Controller struct {
	medium storage.Medium
	vault  *Vault

	window    time.Duration
	retention time.Duration

	onCondition func(*core.AppError)
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	state   State
	timer   *time.Timer
	pending *snapshot
	closed  bool
}

func NewController(opts Options) (*Controller, error) {
	const op = "persist.NewController"

	if err := validator.New().Struct(opts); err != nil {
		return nil, core.NewValidationError("invalid controller options: "+err.Error(), op)
	}
	if opts.DebounceWindow == 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.Retention == 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		medium:      opts.Medium,
		vault:       NewVault(opts.Medium, opts.Logger),
		window:      opts.DebounceWindow,
		retention:   opts.Retention,
		onCondition: opts.OnCondition,
		logger:      opts.Logger,
		now:         opts.Now,
		state:       StateIdle,
	}, nil
}

// State reports the current write-path state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Load reads the persisted collection. A fresh or unavailable medium
// yields an empty collection; an envelope stored at an older schema
// version is migrated before decoding; a corrupt primary triggers one
// backup recovery attempt before falling back to empty. Load never
// fails: troubles surface as reported conditions. The version marker
// is not rewritten here, only after the next successful flush.
func (c *Controller) Load() ([]*core.Task, []*core.TaskList) {
	c.mu.Lock()
	tasks, lists, conds := c.loadLocked()
	c.mu.Unlock()

	c.emit(conds)
	return tasks, lists
}

func (c *Controller) loadLocked() ([]*core.Task, []*core.TaskList, []*core.AppError) {
	const op = "persist.Controller.Load"

	raw, ok, err := c.medium.Get(StateKey)
	if err != nil {
		c.logger.Error("state read failed", zap.Error(err))
		return nil, nil, []*core.AppError{asCondition(err, "read state", op)}
	}
	if !ok {
		c.logger.Debug("no stored state, starting empty")
		return nil, nil, nil
	}

	var conds []*core.AppError
	stored, vcond := c.readVersionLocked(op)
	if vcond != nil {
		conds = append(conds, vcond)
	}

	payload := raw
	if stored < envelope.CurrentVersion {
		migrated, merr := envelope.Migrate(stored, []byte(raw))
		if merr != nil {
			c.logger.Error("migration failed",
				zap.Int("stored_version", stored), zap.Error(merr))
			conds = append(conds, core.NewCorruptDataError("migrate state", merr, op))
			tasks, lists, rconds := c.recoverLocked(stored, op)
			return tasks, lists, append(conds, rconds...)
		}
		c.logger.Info("migrated stored state",
			zap.Int("from_version", stored),
			zap.Int("to_version", envelope.CurrentVersion))
		payload = string(migrated)
	}

	tasks, lists, derr := envelope.Decode(payload)
	if derr != nil {
		c.logger.Error("state decode failed", zap.Error(derr))
		conds = append(conds, core.NewCorruptDataError("decode state", derr, op))
		tasks, lists, rconds := c.recoverLocked(stored, op)
		return tasks, lists, append(conds, rconds...)
	}

	c.logger.Debug("state loaded",
		zap.Int("tasks", len(tasks)), zap.Int("lists", len(lists)))
	return tasks, lists, conds
}

// readVersionLocked resolves the stored schema version. Data written
// before versioning carries no marker and counts as version 1; the
// migration steps are idempotent over newer shapes, so guessing low is
// safe.
func (c *Controller) readVersionLocked(op string) (int, *core.AppError) {
	verStr, ok, err := c.medium.Get(VersionKey)
	if err != nil {
		c.logger.Warn("version read failed", zap.Error(err))
		return 1, asCondition(err, "read version", op)
	}
	if !ok {
		return 1, nil
	}
	stored, perr := strconv.Atoi(strings.TrimSpace(verStr))
	if perr != nil {
		c.logger.Warn("unreadable version marker", zap.String("marker", verStr))
		return 1, core.NewCorruptDataError("parse version marker", perr, op)
	}
	return stored, nil
}

func (c *Controller) recoverLocked(stored int, op string) ([]*core.Task, []*core.TaskList, []*core.AppError) {
	backup, ok, err := c.vault.Recover()
	if err != nil || !ok {
		c.logger.Warn("no recoverable backup", zap.Error(err))
		return nil, nil, []*core.AppError{
			core.NewCorruptDataError("backup recovery failed, starting empty", err, op),
		}
	}

	payload := backup
	if stored < envelope.CurrentVersion {
		migrated, merr := envelope.Migrate(stored, []byte(backup))
		if merr != nil {
			c.logger.Error("backup migration failed", zap.Error(merr))
			return nil, nil, []*core.AppError{
				core.NewCorruptDataError("backup recovery failed, starting empty", merr, op),
			}
		}
		payload = string(migrated)
	}

	tasks, lists, derr := envelope.Decode(payload)
	if derr != nil {
		c.logger.Error("backup decode failed", zap.Error(derr))
		return nil, nil, []*core.AppError{
			core.NewCorruptDataError("backup recovery failed, starting empty", derr, op),
		}
	}

	c.logger.Info("recovered collection from backup",
		zap.Int("tasks", len(tasks)), zap.Int("lists", len(lists)))
	return tasks, lists, nil
}

// ScheduleSave stashes a snapshot of the collection and (re)arms the
// debounce timer. Snapshots scheduled within one window coalesce: only
// the latest is written. The caller's slices are cloned, so later
// mutations do not leak into the pending write.
func (c *Controller) ScheduleSave(tasks []*core.Task, lists []*core.TaskList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.pending = &snapshot{
		tasks: core.CloneTasks(tasks),
		lists: core.CloneLists(lists),
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.flushTimer)
	if c.state != StateWriting && c.state != StateRecovering {
		c.state = StatePendingWrite
	}
	c.logger.Debug("save scheduled", zap.Duration("window", c.window))
}

// ForceSave bypasses the debounce and writes now. Returns false,
// without raising, when the medium cannot take the write.
func (c *Controller) ForceSave(tasks []*core.Task, lists []*core.TaskList) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.stopTimerLocked()
	c.pending = nil
	saved, conds := c.flushLocked(&snapshot{
		tasks: core.CloneTasks(tasks),
		lists: core.CloneLists(lists),
	})
	c.mu.Unlock()

	c.emit(conds)
	return saved
}

// FlushNow writes the pending snapshot immediately, skipping the rest
// of the debounce window. With nothing pending it is a successful
// no-op.
func (c *Controller) FlushNow() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.stopTimerLocked()
	if c.pending == nil {
		c.mu.Unlock()
		return true
	}
	snap := c.pending
	c.pending = nil
	saved, conds := c.flushLocked(snap)
	c.mu.Unlock()

	c.emit(conds)
	return saved
}

// Close stops the debounce timer and flushes any pending snapshot,
// best effort. The medium stays open; it belongs to the caller.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()

	var conds []*core.AppError
	if c.pending != nil {
		snap := c.pending
		c.pending = nil
		_, conds = c.flushLocked(snap)
	}
	c.mu.Unlock()

	c.emit(conds)
	return nil
}

func (c *Controller) flushTimer() {
	c.mu.Lock()
	c.timer = nil
	if c.closed || c.pending == nil {
		c.mu.Unlock()
		return
	}
	snap := c.pending
	c.pending = nil
	_, conds := c.flushLocked(snap)
	c.mu.Unlock()

	c.emit(conds)
}

// flushLocked writes one snapshot: encode, rotate the backup, set the
// primary, then the version marker. Overflow prunes expired completed
// tasks and retries exactly once.
func (c *Controller) flushLocked(snap *snapshot) (bool, []*core.AppError) {
	const op = "persist.Controller.flush"

	c.state = StateWriting

	payload, err := envelope.Encode(snap.tasks, snap.lists)
	if err != nil {
		c.state = StateFailed
		c.logger.Error("state encode failed", zap.Error(err))
		return false, []*core.AppError{core.NewSerializationError("encode state", err, op)}
	}

	if rerr := c.vault.Rotate(); rerr != nil {
		// backup rotation must not block the primary write
		c.logger.Warn("backup rotation failed", zap.Error(rerr))
	}

	var conds []*core.AppError
	werr := c.medium.Set(StateKey, payload)
	if isQuotaExceeded(werr) {
		var retried bool
		retried, conds = c.pruneAndRetryLocked(snap, op)
		if !retried {
			c.state = StateFailed
			return false, conds
		}
		werr = nil
	}
	if werr != nil {
		c.state = StateFailed
		c.logger.Error("state write failed", zap.Error(werr))
		return false, append(conds, asCondition(werr, "write state", op))
	}

	if verr := c.medium.Set(VersionKey, strconv.Itoa(envelope.CurrentVersion)); verr != nil {
		// stale markers are safe: migrations replay idempotently
		c.logger.Warn("version marker write failed", zap.Error(verr))
	}

	c.state = StateIdle
	c.logger.Debug("state flushed",
		zap.Int("tasks", len(snap.tasks)), zap.Int("lists", len(snap.lists)))
	return true, conds
}

// pruneAndRetryLocked is the quota guard: shed expired completed tasks
// from the snapshot and retry the write exactly once. Lossy for the
// pruned tasks; the condition it reports carries the cutoff so the
// collection layer can drop the same tasks.
func (c *Controller) pruneAndRetryLocked(snap *snapshot, op string) (bool, []*core.AppError) {
	c.state = StateRecovering

	now := c.now()
	cutoff := now.Add(-c.retention)
	pruned := PruneExpired(snap.tasks, now, c.retention)
	removed := len(snap.tasks) - len(pruned)
	c.logger.Warn("storage full, pruning expired completed tasks",
		zap.Int("removed", removed),
		zap.Time("cutoff", cutoff))

	payload, err := envelope.Encode(pruned, snap.lists)
	if err != nil {
		c.logger.Error("pruned state encode failed", zap.Error(err))
		return false, []*core.AppError{core.NewSerializationError("encode pruned state", err, op)}
	}

	c.state = StateWriting
	if werr := c.medium.Set(StateKey, payload); werr != nil {
		c.logger.Error("state write failed after pruning",
			zap.Int("removed", removed), zap.Error(werr))
		cond := asCondition(werr, "write state after pruning", op).
			WithMeta("pruned", strconv.Itoa(removed))
		return false, []*core.AppError{cond}
	}

	cond := core.NewQuotaExceededError("storage full, expired completed tasks pruned", nil, op).
		WithMeta("pruned", strconv.Itoa(removed)).
		WithMeta("pruned_before", envelope.EncodeInstant(cutoff))
	return true, []*core.AppError{cond}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) emit(conds []*core.AppError) {
	if c.onCondition == nil {
		return
	}
	for _, cond := range conds {
		c.onCondition(cond)
	}
}

func isQuotaExceeded(err error) bool {
	appErr, ok := core.AsAppError(err)
	return ok && appErr.Code == core.ErrorCodeQuotaExceeded
}

func asCondition(err error, msg, op string) *core.AppError {
	if appErr, ok := core.AsAppError(err); ok {
		return appErr.WithOper(op)
	}
	return core.NewStorageUnavailableError(msg, err, op)
}
