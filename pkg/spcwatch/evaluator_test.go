package spcwatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/parser"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

func testEnv(t *testing.T, values ...float64) *Env {
	t.Helper()
	l := rules.ControlLimits{CenterLine: 10, UCL: 13, LCL: 7}
	report, err := rules.EvaluateLimits(values, l)
	require.NoError(t, err)
	return &Env{
		Policy:    "test",
		Chart:     "line1",
		Values:    values,
		Limits:    l,
		Report:    report,
		NewByRule: map[rules.RuleID]int{rules.Rule1: 1},
		NewTotal:  1,
	}
}

func evalString(t *testing.T, e *Evaluator, src string, env *Env) Object {
	t.Helper()
	program, err := parser.Parse(src)
	require.NoError(t, err)
	return e.Eval(context.Background(), program, env)
}

func TestEvalExpressions(t *testing.T) {
	e := NewEvaluator(nil)
	env := testEnv(t, 9, 10, 11, 15)

	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "7"},
		{"7 / 2", "3.5"},
		{"6 / 2", "3"},
		{"1.5 + 1", "2.5"},
		{"-chart.last", "-15"},
		{"chart.last", "15"},
		{"chart.count", "4"},
		{"chart.center + 2sigma", "12"},
		{"sigma", "1"},
		{"chart.ucl - chart.lcl", "6"},
		{"chart.mean", "11.25"},
		{`chart.name + "!"`, "line1!"},
		{"violations.total", "1"},
		{"violations.critical", "1"},
		{"violations.high", "0"},
		{"violations.new", "1"},
		{"rule1.count", "1"},
		{"rule1.new", "1"},
		{"rule3.new", "0"},
		{"avg(2)", "13"},
		{"max(4)", "15"},
		{"min(4)", "9"},
		{"chart.last > chart.ucl && rule1.new > 0", "true"},
		{"chart.last < chart.lcl || violations.total == 0", "false"},
		{"!(chart.last > chart.ucl)", "false"},
		{"capability.cpk", "null"},
		{"capability.cpk < 1.33", "false"},
		{"capability.cpk == capability.cp", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := evalString(t, e, tt.src, env)
			require.False(t, isError(got), "unexpected error: %s", got.Inspect())
			assert.Equal(t, tt.want, got.Inspect())
		})
	}
}

func TestEvalErrors(t *testing.T) {
	e := NewEvaluator(nil)
	env := testEnv(t, 10, 11)

	tests := []struct {
		src string
		msg string
	}{
		{"chart.bogus", "unknown field: chart.bogus"},
		{"rule9.count", "unknown namespace: rule9"},
		{"heap.alloc", "unknown namespace: heap"},
		{"x", "unknown identifier: x"},
		{"1 / 0", "division by zero"},
		{`"a" - "b"`, "unknown operator"},
		{`1 + "a"`, "type mismatch"},
		{"avg(0)", "positive integer"},
		{"avg(1.5)", "positive integer"},
		{"nope(1)", "unknown function: nope"},
		{`alert("x", "urgent")`, "invalid alert severity"},
		{"alert()", "wrong number of arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got := evalString(t, e, tt.src, env)
			require.True(t, isError(got), "expected error, got %s", got.Inspect())
			assert.Contains(t, got.Inspect(), tt.msg)
		})
	}
}

func TestEvalWhenDispatchesActions(t *testing.T) {
	registry := actions.NewActionRegistry()
	var got []actions.Action
	capture := actions.HandlerFunc(func(_ context.Context, a actions.Action) error {
		got = append(got, a)
		return nil
	})
	registry.RegisterHandler(actions.AlertAction, capture)
	registry.RegisterHandler(actions.LogAction, capture)

	e := NewEvaluator(registry)
	env := testEnv(t, 9, 10, 15)

	result := evalString(t, e, `
		when chart.last > chart.ucl {
			alert("${chart.name} at ${chart.last} above ${chart.ucl}")
			log("sigma is ${chart.sigma}, unknown ${chart.nope} stays")
		}
		when chart.last < chart.lcl { alert("never") }
	`, env)

	assert.Equal(t, POLICY_TRIGGERED, result)
	require.Len(t, got, 2)

	assert.Equal(t, actions.AlertAction, got[0].Type)
	assert.Equal(t, "line1 at 15 above 13", got[0].Message)
	assert.Equal(t, "high", got[0].Severity)
	assert.Equal(t, "test", got[0].Policy)
	assert.Equal(t, "line1", got[0].Chart)
	assert.Equal(t, 15.0, got[0].Value)
	assert.Equal(t, 2, got[0].Index)

	assert.Equal(t, actions.LogAction, got[1].Type)
	assert.Equal(t, "sigma is 1, unknown ${chart.nope} stays", got[1].Message)
}

func TestEvalWhenNotTriggered(t *testing.T) {
	e := NewEvaluator(actions.NewActionRegistry())
	env := testEnv(t, 10)
	result := evalString(t, e, `when chart.last > chart.ucl { alert("x") }`, env)
	assert.Equal(t, NULL, result)
}

func TestEvalMissingHandlerIsError(t *testing.T) {
	e := NewEvaluator(actions.NewActionRegistry())
	env := testEnv(t, 15)
	result := evalString(t, e, `when chart.last > 0 { alert("x") }`, env)
	require.True(t, isError(result))
	assert.Contains(t, result.Inspect(), "no handlers registered")
}

func TestEvalCapabilityFields(t *testing.T) {
	e := NewEvaluator(nil)
	env := testEnv(t, 10)
	env.Capability = &capability.Result{Cp: 1.5, Cpk: 1.2345678, DPMO: 12.5, Yield: 99.99}

	assert.Equal(t, "1.2346", evalString(t, e, "capability.cpk", env).Inspect())
	assert.Equal(t, "true", evalString(t, e, "capability.cpk < 1.33 && capability.cp >= 1.33", env).Inspect())
	assert.Equal(t, "99.99", evalString(t, e, "capability.yield", env).Inspect())
	assert.Equal(t, "0", evalString(t, e, "capability.sigma_level", env).Inspect())
}

func TestEvalTrend(t *testing.T) {
	e := NewEvaluator(nil)
	env := testEnv(t, 1, 2, 3, 4, 5, 6)
	assert.Equal(t, "1", evalString(t, e, "trend(6)", env).Inspect())
	assert.Equal(t, "true", evalString(t, e, "trend(3) > 0", env).Inspect())
}

func TestEvalEmptyChart(t *testing.T) {
	e := NewEvaluator(nil)
	env := &Env{Chart: "empty", Limits: rules.ControlLimits{CenterLine: 0, UCL: 3, LCL: -3}}

	assert.Equal(t, "null", evalString(t, e, "chart.last", env).Inspect())
	assert.Equal(t, "null", evalString(t, e, "avg(5)", env).Inspect())
	assert.Equal(t, "0", evalString(t, e, "violations.total", env).Inspect())
	assert.Equal(t, "false", evalString(t, e, "chart.last > 0", env).Inspect())
}

func TestEvalCancelledContext(t *testing.T) {
	e := NewEvaluator(nil)
	program, err := parser.Parse("1 + 1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := e.Eval(ctx, program, testEnv(t, 10))
	require.True(t, isError(result))
	assert.Contains(t, result.Inspect(), "evaluation cancelled")
}
