package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/schema"
)

func TestAcceptAny(t *testing.T) {
	s := schema.AcceptAny()

	v, issues := s.Validate([]byte(`{"a":[1,"x"]}`))
	assert.Empty(t, issues)
	assert.Equal(t, map[string]any{"a": []any{float64(1), "x"}}, v)

	v, issues = s.Validate([]byte(`"just a string"`))
	assert.Empty(t, issues)
	assert.Equal(t, "just a string", v)

	_, issues = s.Validate([]byte(`{"a":`))
	assert.Equal(t, schema.CodeInvalidJSON, issues[0].Code)
}

func TestFieldsValid(t *testing.T) {
	s := schema.Fields(
		schema.Required("brand", schema.String),
		schema.Required("meta.count", schema.Number),
		schema.Optional("tags", schema.Array),
		schema.Optional("active", schema.Bool),
	)

	v, issues := s.Validate([]byte(
		`{"brand":"acme","meta":{"count":3},"active":false}`,
	))
	assert.Empty(t, issues)
	assert.Equal(t, map[string]any{
		"brand":  "acme",
		"meta":   map[string]any{"count": float64(3)},
		"active": false,
	}, v)
}

func TestFieldsIssues(t *testing.T) {
	s := schema.Fields(
		schema.Required("brand", schema.String),
		schema.Required("meta", schema.Object),
		schema.Optional("tags", schema.Array),
	)

	v, issues := s.Validate([]byte(`{"meta":[],"tags":"nope"}`))
	assert.Nil(t, v)
	assert.Equal(t, []api.ValidationIssue{
		{Path: "brand", Code: schema.CodeRequired, Message: "Required"},
		{
			Path:    "meta",
			Code:    schema.CodeInvalidType,
			Message: "Expected object, received array",
		},
		{
			Path:    "tags",
			Code:    schema.CodeInvalidType,
			Message: "Expected array, received string",
		},
	}, issues)
}

func TestFieldsRequiresObject(t *testing.T) {
	s := schema.Fields()

	_, issues := s.Validate([]byte(`[1,2]`))
	assert.Equal(t, schema.CodeInvalidType, issues[0].Code)

	_, issues = s.Validate([]byte(`nope`))
	assert.Equal(t, schema.CodeInvalidJSON, issues[0].Code)
}

func TestTypeIsValid(t *testing.T) {
	assert.True(t, schema.String.IsValid())
	assert.True(t, schema.Any.IsValid())
	assert.False(t, schema.Type("date").IsValid())
}
