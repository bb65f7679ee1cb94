package api

import (
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// Field contents are left to the session's own validation so its errors
// reach the caller unchanged.
const withdrawSchemaJSON = `{
	"type": "object",
	"properties": {
		"amount": {"type": "string"},
		"recipient": {"type": "string"}
	},
	"required": ["amount", "recipient"],
	"additionalProperties": false
}`

var withdrawSchema = mustCompile(withdrawSchemaJSON)

func mustCompile(schemaJSON string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("failed to compile JSON schema: %v", err))
	}
	return schema
}

func validateBody(schema *jsonschema.Schema, body []byte) error {
	res := schema.Validate(body)
	if !res.IsValid() {
		var errStrs []string
		for _, e := range res.Errors {
			errStrs = append(errStrs, e.Error())
		}
		return fmt.Errorf("request validation error: %s", strings.Join(errStrs, ", "))
	}
	return nil
}
