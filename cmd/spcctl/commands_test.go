package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseValues(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []float64
		err   bool
	}{
		{"json", "[1, 2.5, -3]", []float64{1, 2.5, -3}, false},
		{"commas", "1,2,3", []float64{1, 2, 3}, false},
		{"lines", "1\n2\n\n3\n", []float64{1, 2, 3}, false},
		{"comments", "# header\n1 2; 3\n", []float64{1, 2, 3}, false},
		{"empty", "  \n", nil, true},
		{"only comments", "# nothing\n", nil, true},
		{"bad number", "1\nabc\n", nil, true},
		{"bad json", "[1, }", nil, true},
		{"empty json", "[]", nil, true},
		{"nan", "1\nNaN\n", nil, true},
		{"inf", "1, +Inf", nil, true},
		{"negative infinity", "-infinity", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValues([]byte(tt.input))
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseValues([]byte("1\n2\nx"))
	assert.ErrorContains(t, err, "line 3")

	_, err = parseValues([]byte("1\n2\nnan"))
	assert.ErrorContains(t, err, "not a finite number")
}

func TestParseSubgroups(t *testing.T) {
	groups, err := parseSubgroups([]byte("1 2 3\n4 5 6\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, groups)

	groups, err = parseSubgroups([]byte("1,2,3,4"), 2)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, groups)

	_, err = parseSubgroups([]byte("1,2,3"), 2)
	assert.Error(t, err)
}

func TestEvaluateCommand(t *testing.T) {
	t.Run("in control with explicit limits", func(t *testing.T) {
		out, err := run(t, "10 10.5 9.5 10", "evaluate", "--center", "10", "--ucl", "13", "--lcl", "7")
		require.NoError(t, err)
		assert.Contains(t, out, "IN CONTROL")
	})

	t.Run("violation with fail flag", func(t *testing.T) {
		out, err := run(t, "10 20 10", "evaluate", "--center", "10", "--ucl", "13", "--lcl", "7", "--fail")
		assert.ErrorIs(t, err, errViolations)
		assert.Equal(t, ExitViolation, exitCode(err))
		assert.Contains(t, out, "Rule 1")
	})

	t.Run("json output", func(t *testing.T) {
		out, err := run(t, "10 20 10", "evaluate", "--json", "--center", "10", "--ucl", "13", "--lcl", "7")
		require.NoError(t, err)
		var res evaluateResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.False(t, res.Derived)
		assert.Equal(t, 1, res.Report.TotalViolations)
		assert.Len(t, res.Spans["rule1"], 1)
		assert.NotEmpty(t, res.Recommendations)
	})

	t.Run("derived limits", func(t *testing.T) {
		out, err := run(t, "[10, 11, 9, 10, 12, 8, 10, 11]", "evaluate", "--json")
		require.NoError(t, err)
		var res evaluateResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.True(t, res.Derived)
		assert.InDelta(t, 10.125, res.Limits.CenterLine, 1e-9)
	})

	t.Run("partial limits rejected", func(t *testing.T) {
		_, err := run(t, "1 2 3", "evaluate", "--center", "10")
		assert.ErrorContains(t, err, "must be given together")
		assert.Equal(t, ExitError, exitCode(err))
	})

	t.Run("invalid limits rejected", func(t *testing.T) {
		_, err := run(t, "1 2 3", "evaluate", "--center", "10", "--ucl", "5", "--lcl", "7")
		assert.Error(t, err)
	})
}

func TestLimitsCommand(t *testing.T) {
	out, err := run(t, "1 2 3\n2 3 4\n3 4 5\n", "limits", "--method", "xbar-r", "--json")
	require.NoError(t, err)
	var res struct {
		XBar struct {
			CenterLine float64 `json:"centerLine"`
		} `json:"xBar"`
		SubgroupSize int `json:"subgroupSize"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.SubgroupSize)
	assert.InDelta(t, 3.0, res.XBar.CenterLine, 1e-9)

	out, err = run(t, "1 2 3 4 5", "limits", "--method", "sigma", "-k", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Mean ± 2 sigma")

	_, err = run(t, "1 2 3", "limits", "--method", "p-chart")
	assert.ErrorContains(t, err, "unknown method")
}

func TestCapabilityCommand(t *testing.T) {
	values := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		values = append(values, []string{"9.8", "10", "10.2", "10.1", "9.9"}[i%5])
	}
	out, err := run(t, strings.Join(values, "\n"), "capability", "--usl", "11", "--lsl", "9", "--json")
	require.NoError(t, err)
	var res capabilityResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 40, res.Result.N)
	assert.Greater(t, res.Result.Cp, 1.0)
	require.NotNil(t, res.Interval)
	assert.Less(t, res.Interval.Lower, res.Result.Cpk)

	_, err = run(t, "1 2 3", "capability", "--usl", "11")
	assert.ErrorContains(t, err, "--usl and --lsl")
}

func TestSimulateCommand(t *testing.T) {
	a, err := run(t, "", "simulate", "--n", "20", "--seed", "7", "--json")
	require.NoError(t, err)
	b, err := run(t, "", "simulate", "--n", "20", "--seed", "7", "--json")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var values []float64
	require.NoError(t, json.Unmarshal([]byte(a), &values))
	assert.Len(t, values, 20)
}

func TestPolicyCheckCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.policy"),
		[]byte(`when violations.new > 0 { alert("new violations on ${chart.name}") }`), 0o600))

	out, err := run(t, "", "policy", "check", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "good.policy")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.policy"), []byte(`when chart.last > { }`), 0o600))
	out, err = run(t, "", "policy", "check", dir)
	assert.ErrorContains(t, err, "1 of 2 policies failed")
	assert.Contains(t, out, "FAIL")

	_, err = run(t, "", "policy", "check", filepath.Join(dir, "good.policy"), "--max-nodes", "2")
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitError, exitCode(assert.AnError))
}
