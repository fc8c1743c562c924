// Package export is the user-facing import/export codec. Unlike the
// persistence path, which degrades silently, these operations are
// explicit user actions: malformed input and encode failures propagate
// as errors.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mauzec/todo-keeper/core"
	"github.com/mauzec/todo-keeper/storage/envelope"
)

// Document is the export wire format: the envelope plus a schema
// version stamp and a human-readable export instant.
type Document struct {
	Version    int                   `json:"version"`
	ExportDate string                `json:"exportDate"`
	Tasks      []envelope.TaskRecord `json:"tasks"`
	Lists      []envelope.ListRecord `json:"lists"`
}

// Export renders the collection as an indented Document stamped with
// the current schema version and the given instant.
func Export(tasks []*core.Task, lists []*core.TaskList, at time.Time) (string, error) {
	const op = "export.Export"

	doc := Document{
		Version:    envelope.CurrentVersion,
		ExportDate: envelope.EncodeInstant(at),
		Tasks:      make([]envelope.TaskRecord, 0, len(tasks)),
		Lists:      make([]envelope.ListRecord, 0, len(lists)),
	}
	for _, t := range tasks {
		if t == nil {
			continue
		}
		doc.Tasks = append(doc.Tasks, envelope.RecordFromTask(t))
	}
	for _, l := range lists {
		if l == nil {
			continue
		}
		doc.Lists = append(doc.Lists, envelope.RecordFromList(l))
	}

	p, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", core.NewSerializationError("encode export document", err, op)
	}
	return string(p), nil
}

// Import parses an exported payload back into domain values. Both the
// stamped Document form and the bare {tasks, lists} form are accepted;
// bare payloads predate version stamping and are treated as version 1
// (the migration steps leave already-current shapes alone). Payloads
// stamped with an unknown future version are rejected.
func Import(payload string) ([]*core.Task, []*core.TaskList, error) {
	const op = "export.Import"

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, nil, core.NewImportFormatError("payload is not a JSON object", err, op)
	}

	if err := validateImport(doc); err != nil {
		return nil, nil, core.NewImportFormatError("invalid payload: "+err.Error(), err, op)
	}

	version := 1
	if raw, ok := doc["version"]; ok {
		num, isNum := raw.(float64)
		if !isNum {
			return nil, nil, core.NewImportFormatError("version must be a number", nil, op)
		}
		version = int(num)
	}
	if version > envelope.CurrentVersion {
		return nil, nil, core.NewImportFormatError(
			fmt.Sprintf("version %d is newer than supported %d", version, envelope.CurrentVersion),
			nil, op)
	}

	migrated, err := envelope.Migrate(version, []byte(payload))
	if err != nil {
		return nil, nil, core.NewImportFormatError("migrate payload", err, op)
	}

	tasks, lists, err := envelope.Decode(string(migrated))
	if err != nil {
		return nil, nil, core.NewImportFormatError("decode payload", err, op)
	}
	return tasks, lists, nil
}

// importSchemaJSON accepts both import forms. Deliberately permissive:
// instants and priorities get precise errors from the decode step, the
// schema only pins the container shapes.
const importSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "exportDate": {"type": "string"},
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"id": {"type": "string"}},
        "required": ["id"]
      }
    },
    "lists": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"id": {"type": "string"}},
        "required": ["id"]
      }
    }
  }
}`

var (
	schemaOnce   sync.Once
	importSchema *jsonschema.Schema
)

func compiledSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("import.schema.json", strings.NewReader(importSchemaJSON)); err != nil {
			return
		}
		if schema, err := compiler.Compile("import.schema.json"); err == nil {
			importSchema = schema
		}
	})
	return importSchema
}

func validateImport(doc map[string]any) error {
	if schema := compiledSchema(); schema != nil {
		if err := schema.Validate(doc); err != nil {
			return leafError(err)
		}
		return nil
	}

	// minimal structural check when the embedded schema is unusable
	for _, key := range []string{"tasks", "lists"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		if _, isArr := raw.([]any); !isArr {
			return fmt.Errorf("%s must be an array", key)
		}
	}
	return nil
}

// leafError digs to the first leaf cause, which names the actual
// offending location instead of the schema root.
func leafError(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation != "" {
		return fmt.Errorf("%s: %s", ve.InstanceLocation, ve.Message)
	}
	return fmt.Errorf("%s", ve.Message)
}
