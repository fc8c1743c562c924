package export

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mauzec/todo-keeper/core"
	"github.com/mauzec/todo-keeper/storage/envelope"
)

func exportFixture(t *testing.T) ([]*core.Task, []*core.TaskList) {
	t.Helper()

	created := time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC)
	due := created.Add(48 * time.Hour)

	task := &core.Task{
		ID:          "todo-t-1",
		Title:       "water plants",
		Description: "balcony first",
		Priority:    core.PriorityHigh,
		DueDate:     &due,
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Minute),
		ListID:      core.DefaultListID,
		Tags:        []string{"home"},
	}
	list := &core.TaskList{
		ID:        core.DefaultListID,
		Title:     "Inbox",
		CreatedAt: created,
		UpdatedAt: created,
		TaskCount: 1,
	}
	return []*core.Task{task}, []*core.TaskList{list}
}

func TestExport_StampsVersionAndDate(t *testing.T) {
	t.Parallel()

	tasks, lists := exportFixture(t)
	at := time.Date(2024, time.March, 6, 12, 0, 0, 0, time.UTC)

	payload, err := Export(tasks, lists, at)
	require.NoError(t, err)

	doc := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(payload), &doc))
	require.Equal(t, float64(envelope.CurrentVersion), doc["version"])
	require.Equal(t, "2024-03-06T12:00:00.000Z", doc["exportDate"])
	require.Len(t, doc["tasks"], 1)
	require.Len(t, doc["lists"], 1)
}

func TestExport_EmptyCollectionHasEmptyArrays(t *testing.T) {
	t.Parallel()

	payload, err := Export(nil, nil, time.Unix(0, 0))
	require.NoError(t, err)
	require.Contains(t, payload, `"tasks": []`)
	require.Contains(t, payload, `"lists": []`)
}

func TestExportImport_RoundTrip(t *testing.T) {
	t.Parallel()

	tasks, lists := exportFixture(t)

	payload, err := Export(tasks, lists, time.Now().UTC())
	require.NoError(t, err)

	gotTasks, gotLists, err := Import(payload)
	require.NoError(t, err)
	require.Len(t, gotTasks, 1)
	require.Len(t, gotLists, 1)

	got, want := gotTasks[0], tasks[0]
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Title, got.Title)
	require.Equal(t, want.Description, got.Description)
	require.Equal(t, want.Priority, got.Priority)
	require.NotNil(t, got.DueDate)
	require.True(t, got.DueDate.Equal(*want.DueDate))
	require.True(t, got.UpdatedAt.Equal(want.UpdatedAt))
	require.Equal(t, want.Tags, got.Tags)

	require.Equal(t, lists[0].ID, gotLists[0].ID)
	require.Equal(t, lists[0].TaskCount, gotLists[0].TaskCount)
}

func TestImport_BarePayloadTreatedAsLegacy(t *testing.T) {
	t.Parallel()

	payload := `{
		"tasks": [
			{"id": "todo-t-9", "name": "pay rent", "completed": false, "createdAt": "2023-05-20T10:00:00.000Z", "updatedAt": "2023-05-20T10:00:00.000Z"}
		]
	}`

	tasks, lists, err := Import(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "pay rent", tasks[0].Title)
	require.Equal(t, core.DefaultListID, tasks[0].ListID)
	require.Equal(t, core.PriorityMedium, tasks[0].Priority)

	require.Len(t, lists, 1)
	require.Equal(t, core.DefaultListID, lists[0].ID)
}

func TestImport_MigratesLegacyPriorities(t *testing.T) {
	t.Parallel()

	payload := `{
		"version": 2,
		"tasks": [
			{"id": "todo-t-9", "title": "pay rent", "priority": 0, "completed": false, "createdAt": "2023-05-20T10:00:00.000Z", "updatedAt": "2023-05-20T10:00:00.000Z", "listId": "inbox"}
		],
		"lists": [
			{"id": "inbox", "title": "Inbox", "createdAt": "2023-05-20T10:00:00.000Z", "updatedAt": "2023-05-20T10:00:00.000Z", "taskCount": 1, "position": 0}
		]
	}`

	tasks, _, err := Import(payload)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, core.PriorityHigh, tasks[0].Priority)
}

func TestImport_RejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	_, _, err := Import(`{"tasks": [`)
	require.Error(t, err)

	appErr, ok := core.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorCodeImportFormat, appErr.Code)
}

func TestImport_RejectsWrongContainerShape(t *testing.T) {
	t.Parallel()

	_, _, err := Import(`{"tasks": {"id": "todo-t-1"}}`)
	require.Error(t, err)

	appErr, ok := core.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorCodeImportFormat, appErr.Code)
	require.Contains(t, appErr.Message, "tasks")
}

func TestImport_RejectsEntryWithoutID(t *testing.T) {
	t.Parallel()

	_, _, err := Import(`{"tasks": [{"title": "anonymous"}]}`)
	require.Error(t, err)

	appErr, ok := core.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorCodeImportFormat, appErr.Code)
}

func TestImport_RejectsFutureVersion(t *testing.T) {
	t.Parallel()

	payload := fmt.Sprintf(`{"version": %d, "tasks": [], "lists": []}`, envelope.CurrentVersion+1)

	_, _, err := Import(payload)
	require.Error(t, err)

	appErr, ok := core.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorCodeImportFormat, appErr.Code)
	require.Contains(t, appErr.Message, "newer")
}

func TestImport_RejectsUnparseableInstants(t *testing.T) {
	t.Parallel()

	payload := fmt.Sprintf(`{
		"version": %d,
		"tasks": [
			{"id": "todo-t-1", "title": "x", "priority": "medium", "completed": false, "createdAt": "yesterday", "updatedAt": "2023-05-20T10:00:00.000Z", "listId": "inbox", "tags": []}
		],
		"lists": []
	}`, envelope.CurrentVersion)

	_, _, err := Import(payload)
	require.Error(t, err)

	appErr, ok := core.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorCodeImportFormat, appErr.Code)
}
