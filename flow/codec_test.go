package flow

import (
	"encoding/json"
	"testing"

	"github.com/hupe1980/flowmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loopFlowJSON = `{
  "name": "Loop Test Flow",
  "steps": [
    {"id": "start", "type": "simple-prompt", "x": 50, "y": 0, "isMinimized": false, "data": {"prompt": "Start"}},
    {"id": "step-1", "type": "simple-prompt", "x": 50, "y": 150, "isMinimized": false, "data": {"prompt": "Iteration"}},
    {"id": "step-2", "type": "token-count-branch", "x": 50, "y": 300, "isMinimized": true, "data": {"tokenCount": 100000}}
  ],
  "connections": [
    {"from": "start", "to": "step-1", "outputName": "default"},
    {"from": "step-1", "to": "step-2", "outputName": "default"},
    {"from": "step-2", "to": "step-1", "outputName": "fail"}
  ]
}`

func TestDecodeJSON_LegacyAlias(t *testing.T) {
	f, err := DecodeJSON([]byte(loopFlowJSON))
	require.NoError(t, err)

	assert.Equal(t, "Loop Test Flow", f.Name())
	require.Len(t, f.Steps(), 3)
	assert.Equal(t, Connection{From: "step-2", To: "step-1", OutputName: OutputUnder}, f.Connections()[2])

	s, ok := f.Step("step-2")
	require.True(t, ok)
	assert.True(t, s.Minimized)
	assert.Equal(t, 100000, intData(s.Data, "tokenCount", 0))
}

func TestJSONRoundTrip(t *testing.T) {
	f, err := DecodeJSON([]byte(loopFlowJSON))
	require.NoError(t, err)

	b, err := json.Marshal(f)
	require.NoError(t, err)
	g, err := DecodeJSON(b)
	require.NoError(t, err)

	assert.Equal(t, f.ID(), g.ID())
	assert.Equal(t, f.ToData(), g.ToData())

	var shape map[string]any
	require.NoError(t, json.Unmarshal(b, &shape))
	steps := shape["steps"].([]any)
	first := steps[0].(map[string]any)
	assert.Equal(t, map[string]any{
		"id": "start", "type": "simple-prompt", "x": 50.0, "y": 0.0, "isMinimized": false,
		"data": map[string]any{"prompt": "Start"},
	}, first)
	conns := shape["connections"].([]any)
	assert.Equal(t, map[string]any{"from": "start", "to": "step-1", "outputName": "default"}, conns[0])
}

func TestYAMLRoundTrip(t *testing.T) {
	f, err := DecodeJSON([]byte(loopFlowJSON))
	require.NoError(t, err)

	y, err := EncodeYAML(f)
	require.NoError(t, err)
	assert.Contains(t, string(y), "outputName: Under")

	g, err := DecodeYAML(y)
	require.NoError(t, err)
	assert.Equal(t, f.Connections(), g.Connections())
	require.Len(t, g.Steps(), 3)
	for i, s := range g.Steps() {
		want := f.Steps()[i]
		assert.Equal(t, want.ID, s.ID)
		assert.Equal(t, want.Type, s.Type)
		assert.Equal(t, want.X, s.X)
		assert.Equal(t, want.Minimized, s.Minimized)
	}
	s, _ := g.Step("step-2")
	assert.Equal(t, 100000, intData(s.Data, "tokenCount", 0))
}

func TestFromData_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data Data
		is   error
	}{
		{
			name: "unknown type",
			data: Data{Steps: []Step{{ID: "a", Type: "bogus"}}},
			is:   ErrUnknownStepType,
		},
		{
			name: "dangling connection",
			data: Data{
				Steps:       []Step{{ID: "a", Type: TypeSimplePrompt}},
				Connections: []Connection{{From: "a", To: "b", OutputName: OutputDefault}},
			},
			is: core.ErrInvalidConnection,
		},
		{
			name: "undeclared output",
			data: Data{
				Steps:       []Step{{ID: "a", Type: TypeSimplePrompt}, {ID: "b", Type: TypeSimplePrompt}},
				Connections: []Connection{{From: "a", To: "b", OutputName: "fail"}},
			},
			is: core.ErrInvalidConnection,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromData(tt.data)
			assert.ErrorIs(t, err, tt.is)
		})
	}

	_, err := FromData(Data{Steps: []Step{{ID: "a", Type: TypeSimplePrompt}, {ID: "a", Type: TypeSimplePrompt}}})
	assert.Error(t, err)
}
