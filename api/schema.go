package api

import (
	"errors"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const todoProperties = `{
	"id": {"type": "integer", "readOnly": true, "description": "The task unique identifier"},
	"task": {"type": "string", "description": "The task details"},
	"description": {"type": "string", "description": "The task description"},
	"complete": {"type": "boolean", "default": false, "description": "Completion status"}
}`

var (
	createSchema = jsonschema.MustCompileString("todo-create.json",
		`{"type": "object", "required": ["task"], "properties": `+todoProperties+`}`)
	updateSchema = jsonschema.MustCompileString("todo-update.json",
		`{"type": "object", "properties": `+todoProperties+`}`)

	missingPropRe = regexp.MustCompile(`'([^']+)'`)
)

// validatePayload checks doc against schema and returns field errors keyed
// by property name.
func validatePayload(schema *jsonschema.Schema, doc any) map[string]string {
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	fields := map[string]string{}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		fields["payload"] = err.Error()
		return fields
	}
	collectSchemaErrors(fields, ve)
	return fields
}

func collectSchemaErrors(fields map[string]string, err *jsonschema.ValidationError) {
	if len(err.Causes) > 0 {
		for _, cause := range err.Causes {
			collectSchemaErrors(fields, cause)
		}
		return
	}

	if strings.HasSuffix(err.KeywordLocation, "/required") {
		for _, m := range missingPropRe.FindAllStringSubmatch(err.Message, -1) {
			fields[m[1]] = "'" + m[1] + "' is a required property"
		}
		return
	}

	name := strings.TrimPrefix(err.InstanceLocation, "/")
	if name == "" {
		name = "payload"
	}
	fields[name] = err.Message
}
