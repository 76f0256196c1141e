package flow

import (
	"fmt"
	"testing"

	"github.com/hupe1980/flowmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs() func(o *Options) {
	n := 0
	return func(o *Options) {
		o.IDFunc = func() string {
			n++
			return fmt.Sprintf("step-%d", n)
		}
	}
}

func TestFlow_AddStep(t *testing.T) {
	f := New("test", seqIDs())

	s, err := f.AddStep(TypeTokenCountBranch, 10, 20, nil)
	require.NoError(t, err)
	assert.Equal(t, "step-1", s.ID)
	assert.Equal(t, DefaultTokenThreshold, s.Data["tokenCount"])

	s, err = f.AddStep(TypeSimplePrompt, 0, 0, map[string]any{"prompt": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", s.Data["prompt"])

	_, err = f.AddStep("bogus", 0, 0, nil)
	assert.ErrorIs(t, err, ErrUnknownStepType)
	assert.Len(t, f.Steps(), 2)
}

func TestFlow_MutateStep(t *testing.T) {
	f := New("test", seqIDs())
	s, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)

	require.NoError(t, f.MoveStep(s.ID, 5, 6))
	require.NoError(t, f.SetMinimized(s.ID, true))
	require.NoError(t, f.UpdateStepData(s.ID, map[string]any{"prompt": "changed"}))

	got, ok := f.Step(s.ID)
	require.True(t, ok)
	assert.Equal(t, 5.0, got.X)
	assert.Equal(t, 6.0, got.Y)
	assert.True(t, got.Minimized)
	assert.Equal(t, TypeSimplePrompt, got.Type)
	assert.Equal(t, "changed", got.Data["prompt"])

	got.Data["prompt"] = "mutated copy"
	again, _ := f.Step(s.ID)
	assert.Equal(t, "changed", again.Data["prompt"])

	assert.ErrorIs(t, f.MoveStep("missing", 0, 0), core.ErrNotFound)
}

func TestFlow_AddConnection(t *testing.T) {
	f := New("test", seqIDs())
	a, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	b, _ := f.AddStep(TypeTokenCountBranch, 0, 0, nil)

	tests := []struct {
		name     string
		from, to string
		output   string
		wantErr  bool
	}{
		{"valid default", a.ID, b.ID, OutputDefault, false},
		{"valid Under", b.ID, a.ID, OutputUnder, false},
		{"duplicate", a.ID, b.ID, OutputDefault, true},
		{"undeclared output", a.ID, b.ID, OutputOver, true},
		{"wrong case", b.ID, a.ID, "under", true},
		{"missing source", "nope", b.ID, OutputDefault, true},
		{"missing target", a.ID, "nope", OutputDefault, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.Connections()
			err := f.AddConnection(tt.from, tt.to, tt.output)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidConnection)
				assert.Equal(t, before, f.Connections())
				return
			}
			assert.NoError(t, err)
		})
	}
	assert.Len(t, f.Connections(), 2)
}

func TestFlow_FanOutAndCycles(t *testing.T) {
	f := New("test", seqIDs())
	a, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	b, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	c, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)

	require.NoError(t, f.AddConnection(a.ID, b.ID, OutputDefault))
	require.NoError(t, f.AddConnection(a.ID, c.ID, OutputDefault))
	require.NoError(t, f.AddConnection(c.ID, a.ID, OutputDefault))
	require.NoError(t, f.AddConnection(a.ID, a.ID, OutputDefault))

	out := f.Outgoing(a.ID, OutputDefault)
	require.Len(t, out, 3)
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, []string{out[0].To, out[1].To, out[2].To})
}

func TestFlow_DeleteStepRemovesConnections(t *testing.T) {
	f := New("test", seqIDs())
	a, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	b, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	c, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	require.NoError(t, f.AddConnection(a.ID, b.ID, OutputDefault))
	require.NoError(t, f.AddConnection(b.ID, c.ID, OutputDefault))
	require.NoError(t, f.AddConnection(a.ID, c.ID, OutputDefault))

	require.NoError(t, f.DeleteStep(b.ID))
	assert.Equal(t, []Connection{{From: a.ID, To: c.ID, OutputName: OutputDefault}}, f.Connections())
	assert.Len(t, f.Steps(), 2)
	assert.ErrorIs(t, f.DeleteStep(b.ID), core.ErrNotFound)
}

func TestFlow_DeleteConnection(t *testing.T) {
	f := New("test", seqIDs())
	a, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	b, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	require.NoError(t, f.AddConnection(a.ID, b.ID, OutputDefault))

	require.NoError(t, f.DeleteConnection(a.ID, b.ID, OutputDefault))
	assert.Empty(t, f.Connections())
	assert.ErrorIs(t, f.DeleteConnection(a.ID, b.ID, OutputDefault), core.ErrNotFound)
}

func TestFlow_StartStep(t *testing.T) {
	f := New("test", seqIDs())
	_, ok := f.StartStep()
	assert.False(t, ok)

	a, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	b, _ := f.AddStep(TypeSimplePrompt, 0, 0, nil)
	require.NoError(t, f.AddConnection(b.ID, a.ID, OutputDefault))

	s, ok := f.StartStep()
	require.True(t, ok)
	assert.Equal(t, b.ID, s.ID)

	require.NoError(t, f.AddConnection(a.ID, b.ID, OutputDefault))
	s, _ = f.StartStep()
	assert.Equal(t, a.ID, s.ID)
}

func TestKinds_DeclaredOutputs(t *testing.T) {
	want := map[string][]string{
		TypeAltConsolidator:  {OutputDefault},
		TypeConsolidator:     {OutputDefault},
		TypeManualMCPCall:    {OutputDefault},
		TypePopFromStack:     {OutputDefault, OutputEmpty},
		TypeSimplePrompt:     {OutputDefault},
		TypeTokenCountBranch: {OutputOver, OutputUnder},
	}
	got := map[string][]string{}
	for _, k := range Kinds() {
		got[k.Type()] = k.Outputs()
		assert.NotEmpty(t, k.Title())
	}
	assert.Equal(t, want, got)
}

func TestDataHelpers(t *testing.T) {
	data := map[string]any{"f": 12.0, "s": "34", "i": 56, "bad": "x", "b": "true"}
	assert.Equal(t, 12, intData(data, "f", 0))
	assert.Equal(t, 34, intData(data, "s", 0))
	assert.Equal(t, 56, intData(data, "i", 0))
	assert.Equal(t, 7, intData(data, "bad", 7))
	assert.Equal(t, 7, intData(data, "missing", 7))
	assert.True(t, boolData(data, "b"))
	assert.False(t, boolData(data, "missing"))

	args, err := argumentsData(`{"prompt":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"prompt": "x"}, args)
	_, err = argumentsData(`{broken`)
	assert.Error(t, err)
	_, err = argumentsData(42)
	assert.Error(t, err)

	assert.Equal(t, "hello", popped(`[{"type":"text","text":"hello"}]`))
	assert.Equal(t, "plain", popped(`"plain"`))
}
