package commands

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestFormatStructTable(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{
		"idx":   float64(1),
		"kind":  "fabric",
		"bound": true,
	})
	require.NoError(t, err)

	out := formatStructTable(s)
	assert.Contains(t, out, "idx:")
	assert.Contains(t, out, "1")
	assert.Contains(t, out, "kind:")
	assert.Contains(t, out, "fabric")
	assert.Contains(t, out, "bound:")
	assert.Contains(t, out, "true")
}

func TestFormatStructJSON(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"idx": float64(2)})
	require.NoError(t, err)

	out, err := formatStructJSON(s)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, `"idx": 2`))
}

func TestFormatStructUnsupportedFormat(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{})
	require.NoError(t, err)

	_, err = formatStruct(s, "xml")
	assert.ErrorIs(t, err, errUnsupportedFormat)
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "fabric", valueString(structpb.NewStringValue("fabric")))
	assert.Equal(t, "true", valueString(structpb.NewBoolValue(true)))
	assert.Equal(t, "null", valueString(structpb.NewNullValue()))
}

func TestParseIdx(t *testing.T) {
	idx, err := parseIdx("42")
	require.NoError(t, err)
	assert.Equal(t, int32(42), idx)

	_, err = parseIdx("not-a-number")
	assert.Error(t, err)
}
