package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hupe1980/flowmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() *FunctionTool {
	return NewFunctionTool(
		"echo",
		"Return the given text",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []string{"text"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	)
}

// -------------------- FunctionTool --------------------

func TestFunctionTool_Success(t *testing.T) {
	out, err := echoTool().Call(context.Background(), map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestFunctionTool_Errors(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(context.Context, map[string]any) (any, error)
		args     map[string]any
		wantCode string
	}{
		{
			name:     "validation",
			fn:       func(context.Context, map[string]any) (any, error) { return nil, nil },
			args:     map[string]any{},
			wantCode: CodeValidation,
		},
		{
			name:     "execution",
			fn:       func(context.Context, map[string]any) (any, error) { return nil, errors.New("boom") },
			args:     map[string]any{"text": "x"},
			wantCode: CodeExecution,
		},
		{
			name: "custom code preserved",
			fn: func(context.Context, map[string]any) (any, error) {
				return nil, NewToolError("echo", "quota", "RATE_LIMIT")
			},
			args:     map[string]any{"text": "x"},
			wantCode: "RATE_LIMIT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := NewFunctionTool("echo", "", echoTool().Parameters(), tt.fn)
			_, err := ft.Call(context.Background(), tt.args)
			var te *ToolError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.wantCode, te.Code)
		})
	}
}

func TestToolError(t *testing.T) {
	err := NewToolError("x", "not enabled", CodeNotEnabled)
	assert.Equal(t, "tool error [NOT_ENABLED] in x: not enabled", err.Error())
	assert.ErrorIs(t, err, core.ErrToolNotEnabled)
	assert.NotErrorIs(t, err, core.ErrToolDispatch)

	err = NewToolError("x", "missing", CodeNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, err, core.ErrToolDispatch)

	te := AsToolError("y", errors.New("connection refused"))
	assert.Equal(t, CodeDispatch, te.Code)
	assert.Same(t, err, AsToolError("x", err))
	assert.Equal(t, "tool error in z: m", (&ToolError{Tool: "z", Message: "m"}).Error())
}

// -------------------- Registry --------------------

func TestRegistry(t *testing.T) {
	panicky := NewFunctionTool("panicky", "", nil, func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	})
	reg := NewRegistry([]Tool{echoTool(), panicky}, func(o *RegistryOptions) { o.Name = "test" })

	infos, err := reg.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "echo", infos[0].Name)
	assert.Equal(t, "test", infos[0].Source)

	out, err := reg.Call(context.Background(), "echo", map[string]any{"text": "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", out)

	_, err = reg.Call(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = reg.Call(context.Background(), "panicky", nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeExecution, te.Code)
	assert.True(t, strings.Contains(te.Message, "kaboom"))

	assert.Error(t, reg.Register(echoTool()))
	assert.Panics(t, func() { NewRegistry([]Tool{echoTool(), echoTool()}) })
}

func TestJoin(t *testing.T) {
	first := NewRegistry([]Tool{echoTool()}, func(o *RegistryOptions) { o.Name = "first" })
	shadow := NewFunctionTool("echo", "", nil, func(context.Context, map[string]any) (any, error) { return "shadow", nil })
	other := NewFunctionTool("other", "", nil, func(context.Context, map[string]any) (any, error) { return "other", nil })
	second := NewRegistry([]Tool{shadow, other}, func(o *RegistryOptions) { o.Name = "second" })

	p := Join(first, second)
	infos, err := p.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "first", infos[0].Source)

	out, err := p.Call(context.Background(), "echo", map[string]any{"text": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	out, err = p.Call(context.Background(), "other", nil)
	require.NoError(t, err)
	assert.Equal(t, "other", out)

	_, err = p.Call(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// -------------------- Policy & content --------------------

func TestPolicy(t *testing.T) {
	assert.True(t, AllowAllTools().Allows("anything"))

	p := AllowOnly("get_datetime")
	assert.True(t, p.Allows("get_datetime"))
	assert.False(t, p.Allows("Get_Datetime"))
	assert.False(t, p.Allows("non_existent_tool"))
	assert.False(t, Policy{}.Allows("get_datetime"))

	filtered := AllowOnly("b", "a").Filter([]Info{{Name: "c"}, {Name: "b"}, {Name: "a"}})
	assert.Equal(t, []Info{{Name: "a"}, {Name: "b"}}, filtered)
}

func TestFormatResult(t *testing.T) {
	out, err := FormatResult("2024-05-01T12:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, "[\n  {\n    \"type\": \"text\",\n    \"text\": \"2024-05-01T12:30:00Z\"\n  }\n]", out)
	assert.Contains(t, out, `"text": "`)

	out, err = FormatResult(map[string]any{"sum": 3})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"sum\": 3\n}", out)

	out, err = FormatResult(nil)
	require.NoError(t, err)
	assert.Contains(t, out, `"text": ""`)

	_, err = FormatResult(make(chan int))
	assert.Error(t, err)
}
