package schema

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kode4food/conduit/pkg/api"
)

type (
	// Schema validates a raw payload and decodes it when valid
	Schema interface {
		Validate(data []byte) (any, []api.ValidationIssue)
	}

	// Type is the expected JSON type of a field
	Type string

	// Field describes one value addressed by a gjson path
	Field struct {
		Path     string `json:"path" yaml:"path"`
		Type     Type   `json:"type" yaml:"type"`
		Required bool   `json:"required" yaml:"required"`
	}

	anySchema struct{}

	objectSchema struct {
		fields []Field
	}
)

const (
	String Type = "string"
	Number Type = "number"
	Bool   Type = "boolean"
	Object Type = "object"
	Array  Type = "array"
	Any    Type = "any"
)

const (
	CodeInvalidJSON = "invalid_json"
	CodeInvalidType = "invalid_type"
	CodeRequired    = "required"
)

// AcceptAny returns a Schema that accepts any well-formed JSON document
func AcceptAny() Schema {
	return anySchema{}
}

// Fields returns a Schema that requires a JSON object and checks each field
func Fields(fields ...Field) Schema {
	return &objectSchema{fields: fields}
}

// Required declares a field that must be present with the given type
func Required(path string, t Type) Field {
	return Field{Path: path, Type: t, Required: true}
}

// Optional declares a field that, when present, must have the given type
func Optional(path string, t Type) Field {
	return Field{Path: path, Type: t}
}

// IsValid reports whether t is a known type name
func (t Type) IsValid() bool {
	switch t {
	case String, Number, Bool, Object, Array, Any:
		return true
	default:
		return false
	}
}

func (anySchema) Validate(data []byte) (any, []api.ValidationIssue) {
	if !gjson.ValidBytes(data) {
		return nil, invalidJSON()
	}
	return gjson.ParseBytes(data).Value(), nil
}

func (s *objectSchema) Validate(data []byte) (any, []api.ValidationIssue) {
	if !gjson.ValidBytes(data) {
		return nil, invalidJSON()
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, []api.ValidationIssue{{
			Path:    "",
			Code:    CodeInvalidType,
			Message: "Expected object, received " + typeOf(doc),
		}}
	}

	var issues []api.ValidationIssue
	for _, f := range s.fields {
		res := doc.Get(f.Path)
		if !res.Exists() {
			if f.Required {
				issues = append(issues, api.ValidationIssue{
					Path:    f.Path,
					Code:    CodeRequired,
					Message: "Required",
				})
			}
			continue
		}
		if !matches(res, f.Type) {
			issues = append(issues, api.ValidationIssue{
				Path: f.Path,
				Code: CodeInvalidType,
				Message: fmt.Sprintf("Expected %s, received %s",
					f.Type, typeOf(res)),
			})
		}
	}
	if len(issues) > 0 {
		return nil, issues
	}
	return doc.Value(), nil
}

func matches(res gjson.Result, t Type) bool {
	switch t {
	case String:
		return res.Type == gjson.String
	case Number:
		return res.Type == gjson.Number
	case Bool:
		return res.IsBool()
	case Object:
		return res.IsObject()
	case Array:
		return res.IsArray()
	default:
		return true
	}
}

func typeOf(res gjson.Result) string {
	switch {
	case res.IsObject():
		return string(Object)
	case res.IsArray():
		return string(Array)
	case res.IsBool():
		return string(Bool)
	case res.Type == gjson.Number:
		return string(Number)
	case res.Type == gjson.String:
		return string(String)
	default:
		return "null"
	}
}

func invalidJSON() []api.ValidationIssue {
	return []api.ValidationIssue{{
		Path:    "",
		Code:    CodeInvalidJSON,
		Message: "Malformed JSON body",
	}}
}
