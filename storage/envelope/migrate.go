package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mauzec/todo-keeper/core"
)

// CurrentVersion is the schema version this package encodes.
//
// History:
//
//	1: single implicit list; tasks carry "name", no "listId".
//	2: lists introduced; "name" renamed "title"; tasks gained "listId".
//	3: priorities are level strings instead of ordinals; "tags" always
//	   present.
const CurrentVersion = 3

const defaultListTitle = "Inbox"

// Migrate upgrades a raw envelope read at storedVersion to
// CurrentVersion by applying one pure step per version gap. Each step
// is total over any shape the previous version could produce and leaves
// already-upgraded fields alone, so replaying over newer data is safe.
// An envelope already at CurrentVersion is returned untouched.
func Migrate(storedVersion int, raw []byte) ([]byte, error) {
	if storedVersion == CurrentVersion {
		return raw, nil
	}
	if storedVersion > CurrentVersion {
		return nil, fmt.Errorf("envelope: stored version %d is newer than supported %d",
			storedVersion, CurrentVersion)
	}
	if storedVersion < 1 {
		storedVersion = 1
	}

	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("envelope: migrate: decode: %w", err)
	}

	for v := storedVersion; v < CurrentVersion; v++ {
		step, ok := migrations[v]
		if !ok {
			return nil, fmt.Errorf("envelope: migrate: no step from version %d", v)
		}
		step(doc)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("envelope: migrate: encode: %w", err)
	}
	return out, nil
}

var migrations = map[int]func(map[string]any){
	1: migrateV1,
	2: migrateV2,
}

// migrateV1 moves the single-implicit-list era to explicit lists:
// every task joins the default list, "name" becomes "title", and the
// default list itself is materialized with the collection's earliest
// creation instant (epoch when there are no tasks).
func migrateV1(doc map[string]any) {
	tasks := docSlice(doc, "tasks")

	var earliest time.Time
	haveEarliest := false
	for _, item := range tasks {
		task, ok := item.(map[string]any)
		if !ok {
			continue
		}

		if _, ok := task["title"]; !ok {
			if name, ok := task["name"].(string); ok {
				task["title"] = name
			}
		}
		delete(task, "name")

		if id, ok := task["listId"].(string); !ok || id == "" {
			task["listId"] = core.DefaultListID
		}

		if s, ok := task["createdAt"].(string); ok {
			if t, err := DecodeInstant(s); err == nil {
				if !haveEarliest || t.Before(earliest) {
					earliest = t
					haveEarliest = true
				}
			}
		}
	}

	if len(docSlice(doc, "lists")) > 0 {
		return
	}
	stamp := EncodeInstant(time.Unix(0, 0))
	if haveEarliest {
		stamp = EncodeInstant(earliest)
	}
	doc["lists"] = []any{map[string]any{
		"id":        core.DefaultListID,
		"title":     defaultListTitle,
		"createdAt": stamp,
		"updatedAt": stamp,
		"taskCount": len(tasks),
		"position":  0,
	}}
}

// migrateV2 replaces ordinal priorities with level strings and makes
// the tag set explicit.
func migrateV2(doc map[string]any) {
	for _, item := range docSlice(doc, "tasks") {
		task, ok := item.(map[string]any)
		if !ok {
			continue
		}

		switch p := task["priority"].(type) {
		case float64:
			task["priority"] = priorityLevel(p)
		case string:
			// already a level string
		default:
			task["priority"] = string(core.PriorityMedium)
		}

		if _, ok := task["tags"].([]any); !ok {
			task["tags"] = []any{}
		}
	}
}

func priorityLevel(ordinal float64) string {
	switch ordinal {
	case 0:
		return string(core.PriorityHigh)
	case 1:
		return string(core.PriorityMedium)
	case 2:
		return string(core.PriorityLow)
	default:
		return string(core.PriorityMedium)
	}
}

func docSlice(doc map[string]any, key string) []any {
	s, _ := doc[key].([]any)
	return s
}
