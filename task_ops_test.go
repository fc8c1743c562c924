package keeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mauzec/todo-keeper/core"
	"github.com/mauzec/todo-keeper/query"
)

func strPtr(s string) *string                { return &s }
func intPtr(n int) *int                      { return &n }
func prioPtr(p core.Priority) *core.Priority { return &p }

func requireCode(t *testing.T, err error, code core.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := core.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, code, appErr.Code)
}

func TestAddTask_DefaultsAndNormalization(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	due := time.Date(2024, 6, 3, 9, 30, 0, 0, time.FixedZone("MSK", 3*3600))
	task, err := eng.AddTask(TaskDraft{
		Title:       "  water plants  ",
		Description: " every other day ",
		DueDate:     &due,
		Tags:        []string{" home ", "home", "", "garden"},
	})
	require.NoError(t, err)

	require.Equal(t, "task-1", task.ID)
	require.Equal(t, "water plants", task.Title)
	require.Equal(t, "every other day", task.Description)
	require.Equal(t, core.PriorityMedium, task.Priority)
	require.Equal(t, core.DefaultListID, task.ListID)
	require.Equal(t, []string{"garden", "home"}, task.Tags)
	require.False(t, task.Completed)
	require.Equal(t, time.UTC, task.DueDate.Location())
	require.True(t, task.DueDate.Equal(due))
	require.Equal(t, testStart, task.CreatedAt)
	require.Equal(t, testStart, task.UpdatedAt)

	lists := eng.Lists()
	require.Equal(t, 1, lists[0].TaskCount)

	// the returned clone is detached from the stored task
	task.Title = "scribbled over"
	got, err := eng.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, "water plants", got.Title)
}

func TestAddTask_Rejections(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	_, err := eng.AddTask(TaskDraft{Title: "   "})
	requireCode(t, err, core.ErrorCodeValidation)

	_, err = eng.AddTask(TaskDraft{Title: "x", Priority: "urgent"})
	requireCode(t, err, core.ErrorCodeValidation)

	_, err = eng.AddTask(TaskDraft{Title: "x", Recurrence: "fortnightly"})
	requireCode(t, err, core.ErrorCodeValidation)

	_, err = eng.AddTask(TaskDraft{Title: "x", ListID: "list-ghost"})
	requireCode(t, err, core.ErrorCodeNotFound)

	_, err = eng.AddTask(TaskDraft{Title: "x", ParentID: "task-ghost"})
	requireCode(t, err, core.ErrorCodeNotFound)

	require.Empty(t, eng.Tasks())
}

func TestAddTask_SubtaskDepthLimit(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	parent, err := eng.AddTask(TaskDraft{Title: "plan trip"})
	require.NoError(t, err)
	child, err := eng.AddTask(TaskDraft{Title: "book hotel", ParentID: parent.ID})
	require.NoError(t, err)
	require.Equal(t, parent.ID, child.ParentID)

	_, err = eng.AddTask(TaskDraft{Title: "pick a room", ParentID: child.ID})
	requireCode(t, err, core.ErrorCodeValidation)
}

func TestUpdateTask_AppliesPatchFields(t *testing.T) {
	t.Parallel()

	eng, clock := newTestEngine(t, Options{})

	work, err := eng.AddList(ListDraft{Title: "Work"})
	require.NoError(t, err)
	task, err := eng.AddTask(TaskDraft{Title: "draft report", Tags: []string{"q2"}})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	due := testStart.Add(72 * time.Hour)
	updated, err := eng.UpdateTask(task.ID, TaskPatch{
		Title:       strPtr("draft quarterly report"),
		Description: strPtr("numbers from finance"),
		Priority:    prioPtr(core.PriorityHigh),
		DueDate:     &due,
		ListID:      strPtr(work.ID),
		Tags:        []string{"q2", "finance"},
		Recurrence:  strPtr(RecurMonthly),
	})
	require.NoError(t, err)

	require.Equal(t, "draft quarterly report", updated.Title)
	require.Equal(t, "numbers from finance", updated.Description)
	require.Equal(t, core.PriorityHigh, updated.Priority)
	require.True(t, updated.DueDate.Equal(due))
	require.Equal(t, work.ID, updated.ListID)
	require.Equal(t, []string{"finance", "q2"}, updated.Tags)
	require.Equal(t, RecurMonthly, updated.Recurrence)
	require.Equal(t, testStart, updated.CreatedAt)
	require.Equal(t, testStart.Add(time.Minute), updated.UpdatedAt)

	// membership counts moved with the task
	lists := eng.Lists()
	require.Equal(t, 0, lists[0].TaskCount)
	require.Equal(t, 1, lists[1].TaskCount)
}

func TestUpdateTask_ClearsAndDetaches(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	parent, err := eng.AddTask(TaskDraft{Title: "errands"})
	require.NoError(t, err)
	due := testStart.Add(24 * time.Hour)
	task, err := eng.AddTask(TaskDraft{
		Title:    "buy stamps",
		DueDate:  &due,
		Tags:     []string{"post"},
		ParentID: parent.ID,
	})
	require.NoError(t, err)

	later := testStart.Add(48 * time.Hour)
	updated, err := eng.UpdateTask(task.ID, TaskPatch{
		DueDate:      &later,
		ClearDueDate: true,
		Tags:         []string{},
		ParentID:     strPtr(""),
	})
	require.NoError(t, err)

	// ClearDueDate wins over a due date in the same patch
	require.Nil(t, updated.DueDate)
	require.Empty(t, updated.Tags)
	require.Equal(t, "", updated.ParentID)
	require.Equal(t, "buy stamps", updated.Title)
}

func TestUpdateTask_InvalidPatchLeavesTaskUntouched(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	task, err := eng.AddTask(TaskDraft{Title: "pay rent"})
	require.NoError(t, err)

	_, err = eng.UpdateTask(task.ID, TaskPatch{
		Title:    strPtr("pay rent on time"),
		Priority: prioPtr("urgent"),
	})
	requireCode(t, err, core.ErrorCodeValidation)

	got, err := eng.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, "pay rent", got.Title)
	require.Equal(t, core.PriorityMedium, got.Priority)
	require.Equal(t, testStart, got.UpdatedAt)

	_, err = eng.UpdateTask("task-ghost", TaskPatch{Title: strPtr("x")})
	requireCode(t, err, core.ErrorCodeNotFound)
}

func TestUpdateTask_ReparentGuards(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	a, err := eng.AddTask(TaskDraft{Title: "a"})
	require.NoError(t, err)
	b, err := eng.AddTask(TaskDraft{Title: "b"})
	require.NoError(t, err)
	child, err := eng.AddTask(TaskDraft{Title: "child", ParentID: a.ID})
	require.NoError(t, err)

	_, err = eng.UpdateTask(a.ID, TaskPatch{ParentID: strPtr(a.ID)})
	requireCode(t, err, core.ErrorCodeValidation)

	// a carries subtasks, so it cannot become one
	_, err = eng.UpdateTask(a.ID, TaskPatch{ParentID: strPtr(b.ID)})
	requireCode(t, err, core.ErrorCodeValidation)

	_, err = eng.UpdateTask(b.ID, TaskPatch{ParentID: strPtr(child.ID)})
	requireCode(t, err, core.ErrorCodeValidation)

	_, err = eng.UpdateTask(b.ID, TaskPatch{ParentID: strPtr("task-ghost")})
	requireCode(t, err, core.ErrorCodeNotFound)

	moved, err := eng.UpdateTask(child.ID, TaskPatch{ParentID: strPtr(b.ID)})
	require.NoError(t, err)
	require.Equal(t, b.ID, moved.ParentID)
}

func TestCompleteTask_IdempotentToggle(t *testing.T) {
	t.Parallel()

	eng, clock := newTestEngine(t, Options{})

	task, err := eng.AddTask(TaskDraft{Title: "take out trash"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	done, err := eng.CompleteTask(task.ID)
	require.NoError(t, err)
	require.True(t, done.Completed)
	require.Equal(t, testStart.Add(time.Minute), done.UpdatedAt)

	clock.Advance(time.Minute)
	again, err := eng.CompleteTask(task.ID)
	require.NoError(t, err)
	require.True(t, again.Completed)
	require.Equal(t, done.UpdatedAt, again.UpdatedAt)

	reopened, err := eng.ReopenTask(task.ID)
	require.NoError(t, err)
	require.False(t, reopened.Completed)
	require.Equal(t, testStart.Add(2*time.Minute), reopened.UpdatedAt)

	clock.Advance(time.Minute)
	same, err := eng.ReopenTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, reopened.UpdatedAt, same.UpdatedAt)

	_, err = eng.CompleteTask("task-ghost")
	requireCode(t, err, core.ErrorCodeNotFound)
}

func TestCompleteTask_RecurringRollsDueDate(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	due := testStart.Add(24 * time.Hour)
	task, err := eng.AddTask(TaskDraft{
		Title:      "water the ferns",
		DueDate:    &due,
		Recurrence: RecurWeekly,
	})
	require.NoError(t, err)

	rolled, err := eng.CompleteTask(task.ID)
	require.NoError(t, err)
	require.False(t, rolled.Completed)
	require.True(t, rolled.DueDate.Equal(due.AddDate(0, 0, 7)))

	rolled, err = eng.CompleteTask(task.ID)
	require.NoError(t, err)
	require.False(t, rolled.Completed)
	require.True(t, rolled.DueDate.Equal(due.AddDate(0, 0, 14)))

	// without a due date a recurring task completes normally
	bare, err := eng.AddTask(TaskDraft{Title: "stretch", Recurrence: RecurDaily})
	require.NoError(t, err)
	done, err := eng.CompleteTask(bare.ID)
	require.NoError(t, err)
	require.True(t, done.Completed)
}

func TestRemoveTask_CascadesToSubtasks(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	parent, err := eng.AddTask(TaskDraft{Title: "move apartments"})
	require.NoError(t, err)
	_, err = eng.AddTask(TaskDraft{Title: "pack boxes", ParentID: parent.ID})
	require.NoError(t, err)
	_, err = eng.AddTask(TaskDraft{Title: "rent a van", ParentID: parent.ID})
	require.NoError(t, err)
	bystander, err := eng.AddTask(TaskDraft{Title: "feed cat"})
	require.NoError(t, err)

	require.NoError(t, eng.RemoveTask(parent.ID))

	tasks := eng.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, bystander.ID, tasks[0].ID)

	lists := eng.Lists()
	require.Equal(t, 1, lists[0].TaskCount)

	requireCode(t, eng.RemoveTask(parent.ID), core.ErrorCodeNotFound)
}

func TestTasks_OrderedByCreation(t *testing.T) {
	t.Parallel()

	eng, clock := newTestEngine(t, Options{})

	for _, title := range []string{"first", "second", "third"} {
		_, err := eng.AddTask(TaskDraft{Title: title})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	tasks := eng.Tasks()
	require.Len(t, tasks, 3)
	require.Equal(t, "first", tasks[0].Title)
	require.Equal(t, "second", tasks[1].Title)
	require.Equal(t, "third", tasks[2].Title)
}

func TestQuery_FiltersAndSortsCollection(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, Options{})

	work, err := eng.AddList(ListDraft{Title: "Work"})
	require.NoError(t, err)

	invoices, err := eng.AddTask(TaskDraft{
		Title:    "pay invoices",
		Priority: core.PriorityHigh,
		ListID:   work.ID,
		Tags:     []string{"billing"},
	})
	require.NoError(t, err)
	receipts, err := eng.AddTask(TaskDraft{
		Title:    "file receipts",
		Priority: core.PriorityLow,
		ListID:   work.ID,
		Tags:     []string{"billing"},
	})
	require.NoError(t, err)
	_, err = eng.CompleteTask(receipts.ID)
	require.NoError(t, err)
	_, err = eng.AddTask(TaskDraft{Title: "walk dog"})
	require.NoError(t, err)

	open := false
	got := eng.Query(query.FilterSpec{
		ListID:    &work.ID,
		Completed: &open,
		Tags:      []string{"billing"},
	}, query.SortSpec{})
	require.Len(t, got, 1)
	require.Equal(t, invoices.ID, got[0].ID)

	byPriority := eng.Query(query.FilterSpec{}, query.SortSpec{Key: query.SortByPriority})
	require.Len(t, byPriority, 3)
	require.Equal(t, "pay invoices", byPriority[0].Title)
	require.Equal(t, "walk dog", byPriority[1].Title)
	require.Equal(t, "file receipts", byPriority[2].Title)
}
