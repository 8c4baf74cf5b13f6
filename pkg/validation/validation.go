package validation

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"

	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
)

// StatusSubResource is the sub-resource whose schema describes the status field
const StatusSubResource = "status"

// ValidationError represents a document that does not conform to its schema
type ValidationError struct {
	Message string
	Causes  []string
}

func (e *ValidationError) Error() string {
	if len(e.Causes) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Causes, "; ")
}

// Problem renders the error as a schema-validation-failed problem
func (e *ValidationError) Problem() *problem.Problem {
	return problem.New(problem.SchemaValidationFailed, e.Error())
}

func NewValidationError(message string, causes ...string) *ValidationError {
	return &ValidationError{
		Message: message,
		Causes:  causes,
	}
}

// CompileSchema turns a definition schema into a reusable JSON schema
func CompileSchema(props *apiextensionsv1.JSONSchemaProps) (*gojsonschema.Schema, error) {
	if props == nil {
		return nil, NewValidationError("schema cannot be nil")
	}
	if props.Type == "" && len(props.Properties) == 0 && props.Ref == nil {
		return nil, NewValidationError("schema must have a type")
	}

	raw, err := json.Marshal(props)
	if err != nil {
		return nil, NewValidationError("failed to marshal schema", err.Error())
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, NewValidationError("invalid JSON schema", err.Error())
	}
	return schema, nil
}

// ValidateDocument validates a JSON document against schema
func ValidateDocument(schema *gojsonschema.Schema, document []byte, field string) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return NewValidationError(field+" is not valid JSON", err.Error())
	}

	if !result.Valid() {
		causes := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			causes = append(causes, desc.String())
		}
		return NewValidationError(field+" does not match the schema", causes...)
	}

	return nil
}

// ValidateSchemas checks that every schema of every version compiles
func ValidateSchemas(def *definition.ResourceDefinition) error {
	for i := range def.Versions {
		v := &def.Versions[i]
		if _, err := CompileSchema(v.Schema); err != nil {
			return NewValidationError("version "+v.Name+" has an invalid schema", err.Error())
		}
		for name, sub := range v.SubResources {
			if _, err := CompileSchema(sub); err != nil {
				return NewValidationError("version "+v.Name+" sub-resource "+name+" has an invalid schema", err.Error())
			}
		}
	}
	return nil
}

// ValidateResource validates spec against the version schema and status against the status
// sub-resource schema. A missing spec is validated as an empty object.
func ValidateResource(version *definition.Version, obj *meta.Object) error {
	schema, err := CompileSchema(version.Schema)
	if err != nil {
		return err
	}

	spec := obj.Spec
	if isNull(spec) {
		spec = json.RawMessage(`{}`)
	}
	if err := ValidateDocument(schema, spec, "spec"); err != nil {
		return err
	}

	if isNull(obj.Status) {
		return nil
	}
	return ValidateSubResource(version, StatusSubResource, obj.Status)
}

// ValidateSubResource validates the value of a sub-resource field
func ValidateSubResource(version *definition.Version, name string, value json.RawMessage) error {
	props, ok := version.SubResource(name)
	if !ok {
		return problem.Newf(problem.UnsupportedSubResource, "version %s has no sub-resource %q", version.Name, name)
	}

	schema, err := CompileSchema(props)
	if err != nil {
		return err
	}

	if isNull(value) {
		value = json.RawMessage(`{}`)
	}
	return ValidateDocument(schema, value, name)
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
