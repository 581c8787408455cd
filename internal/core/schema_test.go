package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type telemetryLayout struct{}

func (telemetryLayout) Schema() []Field {
	return []Field{
		{Name: "frame", Offset: 0, Type: U64},
		{Name: "temperature", Offset: 8, Type: F32},
		{Name: "samples", Offset: 12, Type: I16, IsArray: true, Len: 32},
	}
}

type hostileLayout struct{}

func (hostileLayout) Schema() []Field {
	return []Field{
		{Name: "with\"quote", Offset: 0, Type: U8},
		{Name: "tab\there", Offset: 1, Type: U8},
		{Name: "bell\x07", Offset: 2, Type: U8},
		{Name: "del\x7f", Offset: 3, Type: U8},
		{Name: "nel\u0085", Offset: 4, Type: U8},
	}
}

func TestSchemaJSON(t *testing.T) {
	out := SchemaJSON(telemetryLayout{})
	assert.Equal(t,
		`{"fields":[{"name":"frame","offset":0,"type":"u64"},`+
			`{"name":"temperature","offset":8,"type":"f32"},`+
			`{"name":"samples","offset":12,"type":"array","elem":"i16","len":32}]}`,
		out)
}

func TestSchemaJSONIsValidJSON(t *testing.T) {
	for _, layout := range []Schema{telemetryLayout{}, hostileLayout{}} {
		var doc struct {
			Fields []map[string]any `json:"fields"`
		}
		require.NoError(t, json.Unmarshal([]byte(SchemaJSON(layout)), &doc))
		assert.Equal(t, len(layout.Schema()), len(doc.Fields))
	}
}

func TestSchemaJSONEscapesControlCharacters(t *testing.T) {
	out := SchemaJSON(hostileLayout{})
	assert.Contains(t, out, `with\"quote`)
	assert.Contains(t, out, `tab\there`)
	assert.Contains(t, out, `bell\u0007`)
	assert.Contains(t, out, `del\u007f`)
	assert.Contains(t, out, `nel\u0085`)
	assert.NotContains(t, out, "\x07")
	assert.NotContains(t, out, "\x7f")
	assert.NotContains(t, out, "\u0085")
}

func TestScalarTypeNames(t *testing.T) {
	expected := map[ScalarType]string{
		U8: "u8", U16: "u16", U32: "u32", U64: "u64",
		I8: "i8", I16: "i16", I32: "i32", I64: "i64",
		F32: "f32", F64: "f64",
	}
	for ty, name := range expected {
		assert.Equal(t, name, ty.String())
	}
}
