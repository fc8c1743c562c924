// Package envelope is the wire boundary of the engine: the versioned
// {tasks, lists} JSON shape written to a storage medium, with every
// instant encoded as an ISO-8601 string. Domain types never carry JSON
// tags; conversion happens here and nowhere else.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mauzec/todo-keeper/core"
)

// instantLayout keeps millisecond precision, always UTC.
const instantLayout = "2006-01-02T15:04:05.000Z"

// EncodeInstant renders t as an ISO-8601 string with millisecond
// precision in UTC.
func EncodeInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

// DecodeInstant parses an ISO-8601 instant. Besides the canonical
// millisecond form it accepts plain RFC3339 with any fraction or
// offset, since imported payloads come from other writers.
func DecodeInstant(s string) (time.Time, error) {
	if t, err := time.Parse(instantLayout, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("envelope: parse instant %q: %w", s, err)
	}
	return t.UTC(), nil
}

// TaskRecord is the wire form of core.Task.
type TaskRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Completed   bool     `json:"completed"`
	Priority    string   `json:"priority"`
	DueDate     *string  `json:"dueDate,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
	ListID      string   `json:"listId"`
	Tags        []string `json:"tags"`
	Recurrence  string   `json:"recurrence,omitempty"`
	ParentID    string   `json:"parentId,omitempty"`
}

// ListRecord is the wire form of core.TaskList.
type ListRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
	TaskCount   int    `json:"taskCount"`
	Position    int    `json:"position"`
}

// Envelope is the persisted collection shape.
type Envelope struct {
	Tasks []TaskRecord `json:"tasks"`
	Lists []ListRecord `json:"lists"`
}

func RecordFromTask(t *core.Task) TaskRecord {
	rec := TaskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    string(t.Priority),
		CreatedAt:   EncodeInstant(t.CreatedAt),
		UpdatedAt:   EncodeInstant(t.UpdatedAt),
		ListID:      t.ListID,
		Tags:        make([]string, 0, len(t.Tags)),
		Recurrence:  t.Recurrence,
		ParentID:    t.ParentID,
	}
	rec.Tags = append(rec.Tags, t.Tags...)
	if t.DueDate != nil {
		due := EncodeInstant(*t.DueDate)
		rec.DueDate = &due
	}
	return rec
}

// Task converts the record back to the domain type.
func (rec TaskRecord) Task() (*core.Task, error) {
	createdAt, err := DecodeInstant(rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("envelope: task %s createdAt: %w", rec.ID, err)
	}
	updatedAt, err := DecodeInstant(rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("envelope: task %s updatedAt: %w", rec.ID, err)
	}

	priority := core.Priority(rec.Priority)
	if rec.Priority == "" {
		priority = core.PriorityMedium
	} else if !priority.Valid() {
		return nil, fmt.Errorf("envelope: task %s: unknown priority %q", rec.ID, rec.Priority)
	}

	task := &core.Task{
		ID:          rec.ID,
		Title:       rec.Title,
		Description: rec.Description,
		Completed:   rec.Completed,
		Priority:    priority,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		ListID:      rec.ListID,
		Tags:        core.NormalizeTags(rec.Tags),
		Recurrence:  rec.Recurrence,
		ParentID:    rec.ParentID,
	}
	if rec.DueDate != nil {
		due, err := DecodeInstant(*rec.DueDate)
		if err != nil {
			return nil, fmt.Errorf("envelope: task %s dueDate: %w", rec.ID, err)
		}
		task.DueDate = &due
	}
	return task, nil
}

func RecordFromList(l *core.TaskList) ListRecord {
	return ListRecord{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Color:       l.Color,
		CreatedAt:   EncodeInstant(l.CreatedAt),
		UpdatedAt:   EncodeInstant(l.UpdatedAt),
		TaskCount:   l.TaskCount,
		Position:    l.Position,
	}
}

// List converts the record back to the domain type.
func (rec ListRecord) List() (*core.TaskList, error) {
	createdAt, err := DecodeInstant(rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("envelope: list %s createdAt: %w", rec.ID, err)
	}
	updatedAt, err := DecodeInstant(rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("envelope: list %s updatedAt: %w", rec.ID, err)
	}
	return &core.TaskList{
		ID:          rec.ID,
		Title:       rec.Title,
		Description: rec.Description,
		Color:       rec.Color,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		TaskCount:   rec.TaskCount,
		Position:    rec.Position,
	}, nil
}

// Encode serializes the collection. The error is a plain wrapped error;
// callers classify it into their own taxonomy.
func Encode(tasks []*core.Task, lists []*core.TaskList) (string, error) {
	env := Envelope{
		Tasks: make([]TaskRecord, 0, len(tasks)),
		Lists: make([]ListRecord, 0, len(lists)),
	}
	for _, t := range tasks {
		if t == nil {
			continue
		}
		env.Tasks = append(env.Tasks, RecordFromTask(t))
	}
	for _, l := range lists {
		if l == nil {
			continue
		}
		env.Lists = append(env.Lists, RecordFromList(l))
	}

	p, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("envelope: encode: %w", err)
	}
	return string(p), nil
}

// Decode parses a persisted envelope back into domain values.
func Decode(payload string) ([]*core.Task, []*core.TaskList, error) {
	env := Envelope{}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, nil, fmt.Errorf("envelope: decode: %w", err)
	}

	tasks := make([]*core.Task, 0, len(env.Tasks))
	for _, rec := range env.Tasks {
		t, err := rec.Task()
		if err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, t)
	}
	lists := make([]*core.TaskList, 0, len(env.Lists))
	for _, rec := range env.Lists {
		l, err := rec.List()
		if err != nil {
			return nil, nil, err
		}
		lists = append(lists, l)
	}
	return tasks, lists, nil
}
