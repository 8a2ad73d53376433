package spcwatch

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
)

// These patterns check that hostile policy text is treated as data.

func TestSecurityPatterns(t *testing.T) {
	attackPatterns := []struct {
		name    string
		policy  string
		message string
	}{
		{
			name:    "Environment Variable Access",
			policy:  `when chart.last > 0 { log("${os.Getenv('HOME')}") }`,
			message: "${os.Getenv('HOME')}",
		},
		{
			name:    "Command Execution",
			policy:  `when chart.last > 0 { alert("${exec.Command('ls').Output()}") }`,
			message: "${exec.Command('ls').Output()}",
		},
		{
			name:    "Unknown Namespace Interpolation",
			policy:  `when chart.last > 0 { log("${os.environ}") }`,
			message: "${os.environ}",
		},
		{
			name:    "File Path Traversal",
			policy:  `when chart.last > 0 { log("../../../etc/passwd") }`,
			message: "../../../etc/passwd",
		},
		{
			name:    "SQL Injection Pattern",
			policy:  `when chart.last > 0 { log("'; DROP TABLE users; --") }`,
			message: "'; DROP TABLE users; --",
		},
		{
			name:    "Script Injection",
			policy:  `when chart.last > 0 { alert("<script>alert('xss')</script>") }`,
			message: "<script>alert('xss')</script>",
		},
		{
			name:    "Escaped Null Byte",
			policy:  `when chart.last > 0 { log("test\x00admin") }`,
			message: `test\x00admin`,
		},
		{
			name:    "Format String Attack",
			policy:  `when chart.last > 0 { log("%n%n%n%n") }`,
			message: "%n%n%n%n",
		},
		{
			name:    "Buffer Overflow Pattern",
			policy:  `when chart.last > 0 { alert("` + strings.Repeat("A", 10000) + `") }`,
			message: strings.Repeat("A", 10000),
		},
	}

	for _, tc := range attackPatterns {
		t.Run(tc.name, func(t *testing.T) {
			m, rec := newTestMonitor(t)
			require.NoError(t, m.AddChart(ChartConfig{Name: "line1", Limits: furnaceLimits}))
			require.NoError(t, m.AddPolicy("security_test", tc.policy), "policy should parse safely")
			require.NoError(t, m.Record("line1", 10))

			_, err := m.EvaluateChart(context.Background(), "line1")
			require.NoError(t, err)

			got := rec.all()
			require.Len(t, got, 1)
			assert.Equal(t, tc.message, got[0].Message)
			assert.Zero(t, m.Policies()[0].Errors)
		})
	}
}

func TestResourceExhaustionPatterns(t *testing.T) {
	exhaustionPatterns := []struct {
		name   string
		policy string
	}{
		{
			name:   "Deep Nesting",
			policy: `when ((((((((((chart.last > 0)))))))))) { log("deep nesting") }`,
		},
		{
			name:   "Many Conditions",
			policy: `when chart.last > 0 && chart.last > 1 && chart.last > 2 && chart.last > 3 && chart.last > 4 && chart.last > 5 && chart.last > 6 && chart.last > 7 && chart.last > 8 && chart.last > 9 { log("many conditions") }`,
		},
		{
			name:   "Nested Function Calls",
			policy: `when chart.last > 0 { log(avg(max(trend(6) + 1) + 1)) }`,
		},
	}

	for _, tc := range exhaustionPatterns {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestMonitor(t)
			require.NoError(t, m.AddChart(ChartConfig{Name: "line1", Limits: furnaceLimits}))

			err := m.AddPolicy("exhaustion_test", tc.policy)
			if err != nil {
				assert.True(t, IsResourceLimitError(err), "unexpected error: %v", err)
				return
			}

			require.NoError(t, m.Record("line1", 10))
			_, err = m.EvaluateChart(context.Background(), "line1")
			assert.NoError(t, err)
		})
	}
}

func TestSecurityLimitsEnforcement(t *testing.T) {
	t.Run("PolicyLimitEnforcement", func(t *testing.T) {
		m, _ := newTestMonitor(t)

		l := m.GetResourceLimits()
		l.MaxPolicies = 2
		m.SetResourceLimits(l)

		for i := 0; i < 2; i++ {
			require.NoError(t, m.AddPolicy(fmt.Sprintf("limit_test_%d", i), `when chart.last > 0 { log("test") }`))
		}
		assert.Error(t, m.AddPolicy("limit_test_excess", `when chart.last > 0 { log("excess") }`))
	})

	t.Run("ComplexityLimitEnforcement", func(t *testing.T) {
		m, _ := newTestMonitor(t)

		l := m.GetResourceLimits()
		l.MaxPolicyComplexity = 5
		m.SetResourceLimits(l)

		err := m.AddPolicy("complex_policy", `when chart.last > chart.ucl && rule1.new > 0 && avg(60) > chart.center { alert("too complex") }`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "complexity")
	})

	t.Run("ReplaceRespectsLimits", func(t *testing.T) {
		m, _ := newTestMonitor(t)

		l := m.GetResourceLimits()
		l.MaxPolicies = 1
		m.SetResourceLimits(l)

		err := m.ReplacePolicies(map[string]string{"a": `log("a")`, "b": `log("b")`})
		require.Error(t, err)
		assert.True(t, IsResourceLimitError(err))
		assert.Empty(t, m.Policies())
	})
}

func TestSandboxingSafety(t *testing.T) {
	t.Run("NoFileSystemAccess", func(t *testing.T) {
		m, _ := newTestMonitor(t, WithInterval(10*time.Millisecond))
		require.NoError(t, m.AddChart(ChartConfig{Name: "line1", Limits: furnaceLimits}))
		require.NoError(t, m.AddPolicy("fs_test", `when chart.last > 0 { log("/etc/passwd") }`))
		require.NoError(t, m.Record("line1", 10))

		m.Start()
		defer m.Stop()
		time.Sleep(50 * time.Millisecond)

		assert.True(t, m.IsRunning())
	})

	t.Run("NoNetworkAccess", func(t *testing.T) {
		m, rec := newTestMonitor(t, WithInterval(10*time.Millisecond))
		require.NoError(t, m.AddChart(ChartConfig{Name: "line1", Limits: furnaceLimits}))
		require.NoError(t, m.AddPolicy("network_test", `when chart.last > 0 { alert("http://malicious.com/steal-data") }`))
		require.NoError(t, m.Record("line1", 10))

		m.Start()
		defer m.Stop()

		assert.Eventually(t, func() bool {
			for _, a := range rec.all() {
				if a.Type == actions.AlertAction {
					return true
				}
			}
			return false
		}, time.Second, 10*time.Millisecond)
		assert.True(t, m.IsRunning())
	})

	t.Run("PanickingHandlerIsRecovered", func(t *testing.T) {
		m, _ := newTestMonitor(t, WithHandler(actions.LogAction, actions.HandlerFunc(func(context.Context, actions.Action) error {
			panic("handler exploded")
		})))
		require.NoError(t, m.AddChart(ChartConfig{Name: "line1", Limits: furnaceLimits}))
		require.NoError(t, m.AddPolicy("panics", `log("boom")`))
		require.NoError(t, m.Record("line1", 10))

		_, err := m.EvaluateChart(context.Background(), "line1")
		require.NoError(t, err)
		assert.Equal(t, 1, m.Policies()[0].Errors)
	})
}

func TestInputSanitization(t *testing.T) {
	maliciousInputs := []struct {
		name  string
		input string
	}{
		{"Unicode Injection", "when chart.last > 0 { log(\"‮ملف ‭\") }"},
		{"Control Characters", "when chart.last > 0 { log(\"\x1b[31mRed Text\x1b[0m\") }"},
		{"Long Unicode", "when chart.last > 0 { log(\"" + strings.Repeat("🔥", 1000) + "\") }"},
		{"Mixed Encoding", "when chart.last > 0 { log(\"\\xff\\xfe\\x41\\x00\") }"},
		{"Unterminated String", `when chart.last > 0 { log("open) }`},
		{"Raw NUL", "when chart.last > 0 { log(\"a\x00b\") }"},
	}

	for _, tc := range maliciousInputs {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestMonitor(t)
			err := m.AddPolicy("sanitization_test", tc.input)
			if err != nil {
				assert.Contains(t, err.Error(), "parse errors")
			}
		})
	}
}
