package spcwatch

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/actions"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/limits"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/metrics"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/parser"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

type Object interface {
	Type() ObjectType
	Inspect() string
}

type ObjectType string

const (
	INTEGER_OBJ          = "INTEGER"
	FLOAT_OBJ            = "FLOAT"
	BOOLEAN_OBJ          = "BOOLEAN"
	STRING_OBJ           = "STRING"
	NULL_OBJ             = "NULL"
	ERROR_OBJ            = "ERROR"
	POLICY_TRIGGERED_OBJ = "POLICY_TRIGGERED"
)

type Integer struct {
	Value int64
}

func (i *Integer) Inspect() string  { return strconv.FormatInt(i.Value, 10) }
func (i *Integer) Type() ObjectType { return INTEGER_OBJ }

type Float struct {
	Value float64
}

func (f *Float) Inspect() string  { return formatFloat(f.Value) }
func (f *Float) Type() ObjectType { return FLOAT_OBJ }

type Boolean struct {
	Value bool
}

func (b *Boolean) Inspect() string  { return strconv.FormatBool(b.Value) }
func (b *Boolean) Type() ObjectType { return BOOLEAN_OBJ }

type String struct {
	Value string
}

func (s *String) Inspect() string  { return s.Value }
func (s *String) Type() ObjectType { return STRING_OBJ }

type PolicyTriggered struct{}

func (pt *PolicyTriggered) Inspect() string  { return "policy_triggered" }
func (pt *PolicyTriggered) Type() ObjectType { return POLICY_TRIGGERED_OBJ }

type Null struct{}

func (n *Null) Inspect() string  { return "null" }
func (n *Null) Type() ObjectType { return NULL_OBJ }

type Error struct {
	Message string
}

func (e *Error) Inspect() string  { return "ERROR: " + e.Message }
func (e *Error) Type() ObjectType { return ERROR_OBJ }

var (
	NULL             = &Null{}
	TRUE             = &Boolean{Value: true}
	FALSE            = &Boolean{Value: false}
	POLICY_TRIGGERED = &PolicyTriggered{}
)

// Env is everything a policy can see about the chart it runs against.
// It is built fresh for each evaluation, so one Evaluator serves
// concurrent evaluations.
type Env struct {
	Policy     string
	Chart      string
	Values     []float64
	Limits     rules.ControlLimits
	Report     *rules.EvaluationReport
	NewByRule  map[rules.RuleID]int
	NewTotal   int
	Capability *capability.Result
}

func (env *Env) last() (float64, bool) {
	if len(env.Values) == 0 {
		return 0, false
	}
	return env.Values[len(env.Values)-1], true
}

// Evaluator interprets policy programs and dispatches their actions.
type Evaluator struct {
	registry *actions.ActionRegistry
}

func NewEvaluator(registry *actions.ActionRegistry) *Evaluator {
	return &Evaluator{registry: registry}
}

func (e *Evaluator) Eval(ctx context.Context, node parser.Node, env *Env) Object {
	if err := ctx.Err(); err != nil {
		return newError("evaluation cancelled: %v", err)
	}

	switch node := node.(type) {
	case *parser.Program:
		return e.evalStatements(ctx, node.Statements, env)

	case *parser.WhenStatement:
		return e.evalWhenStatement(ctx, node, env)

	case *parser.BlockStatement:
		return e.evalStatements(ctx, node.Statements, env)

	case *parser.ExpressionStatement:
		return e.Eval(ctx, node.Expression, env)

	case *parser.PrefixExpression:
		right := e.Eval(ctx, node.Right, env)
		if isError(right) {
			return right
		}
		return evalPrefixExpression(node.Operator, right)

	case *parser.InfixExpression:
		return e.evalInfix(ctx, node, env)

	case *parser.DotExpression:
		return resolveField(node.Path(), env)

	case *parser.CallExpression:
		return e.evalCallExpression(ctx, node, env)

	case *parser.Identifier:
		return newError("unknown identifier: %s", node.Value)

	case *parser.IntegerLiteral:
		return &Integer{Value: node.Value}

	case *parser.FloatLiteral:
		return &Float{Value: node.Value}

	case *parser.StringLiteral:
		return &String{Value: node.Value}

	case *parser.UnitExpression:
		return e.evalUnitExpression(ctx, node, env)

	default:
		return newError("unknown node type: %T", node)
	}
}

func (e *Evaluator) evalStatements(ctx context.Context, stmts []parser.Statement, env *Env) Object {
	var result Object = NULL
	triggered := false
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return newError("evaluation cancelled: %v", err)
		}
		result = e.Eval(ctx, stmt, env)
		if isError(result) {
			return result
		}
		if result == POLICY_TRIGGERED {
			triggered = true
		}
	}
	if triggered {
		return POLICY_TRIGGERED
	}
	return result
}

func (e *Evaluator) evalWhenStatement(ctx context.Context, node *parser.WhenStatement, env *Env) Object {
	condition := e.Eval(ctx, node.Condition, env)
	if isError(condition) {
		return condition
	}
	if !isTruthy(condition) {
		return NULL
	}
	if result := e.Eval(ctx, node.Body, env); isError(result) {
		return result
	}
	return POLICY_TRIGGERED
}

func evalPrefixExpression(operator string, right Object) Object {
	switch operator {
	case "!":
		return nativeBoolToBooleanObject(!isTruthy(right))
	case "-":
		switch r := right.(type) {
		case *Integer:
			return &Integer{Value: -r.Value}
		case *Float:
			return &Float{Value: -r.Value}
		case *Null:
			return NULL
		}
		return newError("unknown operator: -%s", right.Type())
	}
	return newError("unknown operator: %s%s", operator, right.Type())
}

func (e *Evaluator) evalInfix(ctx context.Context, node *parser.InfixExpression, env *Env) Object {
	left := e.Eval(ctx, node.Left, env)
	if isError(left) {
		return left
	}

	switch node.Operator {
	case "&&":
		if !isTruthy(left) {
			return FALSE
		}
		right := e.Eval(ctx, node.Right, env)
		if isError(right) {
			return right
		}
		return nativeBoolToBooleanObject(isTruthy(right))
	case "||":
		if isTruthy(left) {
			return TRUE
		}
		right := e.Eval(ctx, node.Right, env)
		if isError(right) {
			return right
		}
		return nativeBoolToBooleanObject(isTruthy(right))
	}

	right := e.Eval(ctx, node.Right, env)
	if isError(right) {
		return right
	}
	return evalInfixExpression(node.Operator, left, right)
}

func evalInfixExpression(operator string, left, right Object) Object {
	switch {
	case left.Type() == NULL_OBJ || right.Type() == NULL_OBJ:
		return evalNullInfixExpression(operator, left, right)
	case left.Type() == INTEGER_OBJ && right.Type() == INTEGER_OBJ:
		return evalIntegerInfixExpression(operator, left.(*Integer).Value, right.(*Integer).Value)
	case isNumber(left) && isNumber(right):
		return evalFloatInfixExpression(operator, toFloat(left), toFloat(right))
	case left.Type() == STRING_OBJ && right.Type() == STRING_OBJ:
		return evalStringInfixExpression(operator, left.(*String).Value, right.(*String).Value)
	case left.Type() == BOOLEAN_OBJ && right.Type() == BOOLEAN_OBJ:
		switch operator {
		case "==":
			return nativeBoolToBooleanObject(left == right)
		case "!=":
			return nativeBoolToBooleanObject(left != right)
		}
	}
	return newError("type mismatch: %s %s %s", left.Type(), operator, right.Type())
}

// Unavailable values (NULL) never satisfy a comparison and poison arithmetic.
func evalNullInfixExpression(operator string, left, right Object) Object {
	switch operator {
	case "==":
		return nativeBoolToBooleanObject(left.Type() == right.Type())
	case "!=":
		return nativeBoolToBooleanObject(left.Type() != right.Type())
	case "<", ">", "<=", ">=":
		return FALSE
	}
	return NULL
}

func evalIntegerInfixExpression(operator string, l, r int64) Object {
	switch operator {
	case "+":
		return &Integer{Value: l + r}
	case "-":
		return &Integer{Value: l - r}
	case "*":
		return &Integer{Value: l * r}
	case "/":
		if r == 0 {
			return newError("division by zero")
		}
		if l%r != 0 {
			return &Float{Value: float64(l) / float64(r)}
		}
		return &Integer{Value: l / r}
	}
	return compare(operator, float64(l), float64(r))
}

func evalFloatInfixExpression(operator string, l, r float64) Object {
	switch operator {
	case "+":
		return &Float{Value: l + r}
	case "-":
		return &Float{Value: l - r}
	case "*":
		return &Float{Value: l * r}
	case "/":
		if r == 0 {
			return newError("division by zero")
		}
		return &Float{Value: l / r}
	}
	return compare(operator, l, r)
}

func compare(operator string, l, r float64) Object {
	switch operator {
	case "<":
		return nativeBoolToBooleanObject(l < r)
	case ">":
		return nativeBoolToBooleanObject(l > r)
	case "<=":
		return nativeBoolToBooleanObject(l <= r)
	case ">=":
		return nativeBoolToBooleanObject(l >= r)
	case "==":
		return nativeBoolToBooleanObject(l == r)
	case "!=":
		return nativeBoolToBooleanObject(l != r)
	}
	return newError("unknown operator: %s", operator)
}

func evalStringInfixExpression(operator, l, r string) Object {
	switch operator {
	case "+":
		return &String{Value: l + r}
	case "==":
		return nativeBoolToBooleanObject(l == r)
	case "!=":
		return nativeBoolToBooleanObject(l != r)
	}
	return newError("unknown operator: STRING %s STRING", operator)
}

// evalUnitExpression scales by the chart's sigma; a bare "sigma" is one sigma.
func (e *Evaluator) evalUnitExpression(ctx context.Context, node *parser.UnitExpression, env *Env) Object {
	if node.Unit != "sigma" {
		return newError("unknown unit: %s", node.Unit)
	}
	factor := 1.0
	if node.Value != nil {
		v := e.Eval(ctx, node.Value, env)
		if isError(v) {
			return v
		}
		if !isNumber(v) {
			return newError("unit applied to %s", v.Type())
		}
		factor = toFloat(v)
	}
	return &Float{Value: factor * env.Limits.Sigma()}
}

func (e *Evaluator) evalCallExpression(ctx context.Context, node *parser.CallExpression, env *Env) Object {
	args := make([]Object, 0, len(node.Arguments))
	for _, a := range node.Arguments {
		v := e.Eval(ctx, a, env)
		if isError(v) {
			return v
		}
		args = append(args, v)
	}

	name := node.Function.Value
	switch name {
	case "alert":
		if len(args) < 1 || len(args) > 2 {
			return newError("wrong number of arguments for alert: got=%d, want=1 or 2", len(args))
		}
		severity := string(rules.SeverityHigh)
		if len(args) == 2 {
			severity = args[1].Inspect()
			if !validSeverity(severity) {
				return newError("invalid alert severity: %s", severity)
			}
		}
		return e.dispatch(ctx, actions.AlertAction, args[0], severity, env)
	case "log":
		if len(args) != 1 {
			return newError("wrong number of arguments for log: got=%d, want=1", len(args))
		}
		return e.dispatch(ctx, actions.LogAction, args[0], "", env)
	case "avg", "max", "min", "trend":
		if len(args) != 1 {
			return newError("wrong number of arguments for %s: got=%d, want=1", name, len(args))
		}
		n, ok := args[0].(*Integer)
		if !ok || n.Value <= 0 {
			return newError("argument to %s() must be a positive integer sample count", name)
		}
		if len(env.Values) == 0 {
			return NULL
		}
		return &Float{Value: aggregate(name, env.Values, int(n.Value))}
	}
	return newError("unknown function: %s", name)
}

func aggregate(name string, values []float64, n int) float64 {
	switch name {
	case "avg":
		return metrics.Average(values, n)
	case "max":
		return metrics.Max(values, n)
	case "min":
		return metrics.Min(values, n)
	default:
		return metrics.Trend(values, n)
	}
}

func validSeverity(s string) bool {
	for _, sev := range rules.Severities {
		if string(sev) == s {
			return true
		}
	}
	return false
}

func (e *Evaluator) dispatch(ctx context.Context, t actions.ActionType, msg Object, severity string, env *Env) Object {
	if e.registry == nil {
		return NULL
	}
	action := e.registry.CreateAction(t, interpolate(msg.Inspect(), env), env.Policy)
	action.Chart = env.Chart
	action.Severity = severity
	if v, ok := env.last(); ok {
		action.Value = v
		action.Index = len(env.Values) - 1
	}
	if err := e.registry.ExecuteAction(ctx, action); err != nil {
		return newError("failed to execute %s action: %s", t, err.Error())
	}
	return NULL
}

var interpolationPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate replaces ${ns.field} with the field's current value. Anything
// that does not resolve is left untouched.
func interpolate(msg string, env *Env) string {
	return interpolationPattern.ReplaceAllStringFunc(msg, func(m string) string {
		path := m[2 : len(m)-1]
		v := resolveField(path, env)
		if isError(v) {
			return m
		}
		return v.Inspect()
	})
}

// resolveField looks up a namespaced value such as chart.ucl or rule3.new.
func resolveField(path string, env *Env) Object {
	ns, field, ok := strings.Cut(path, ".")
	if !ok {
		return newError("invalid field path: %s", path)
	}

	switch {
	case ns == "chart":
		return chartField(field, env)
	case ns == "violations":
		return violationsField(field, env)
	case ns == "capability":
		return capabilityField(field, env)
	case strings.HasPrefix(ns, "rule"):
		return ruleField(rules.RuleID(ns), field, env)
	}
	return newError("unknown namespace: %s", ns)
}

func chartField(field string, env *Env) Object {
	switch field {
	case "name":
		return &String{Value: env.Chart}
	case "count":
		return &Integer{Value: int64(len(env.Values))}
	case "center":
		return &Float{Value: env.Limits.CenterLine}
	case "ucl":
		return &Float{Value: env.Limits.UCL}
	case "lcl":
		return &Float{Value: env.Limits.LCL}
	case "sigma":
		return &Float{Value: env.Limits.Sigma()}
	case "last":
		if v, ok := env.last(); ok {
			return &Float{Value: v}
		}
		return NULL
	case "mean":
		if len(env.Values) == 0 {
			return NULL
		}
		return &Float{Value: limits.Mean(env.Values)}
	case "stddev":
		if len(env.Values) < 2 {
			return NULL
		}
		return &Float{Value: limits.StdDev(env.Values)}
	}
	return newError("unknown field: chart.%s", field)
}

func violationsField(field string, env *Env) Object {
	if field == "new" {
		return &Integer{Value: int64(env.NewTotal)}
	}
	if env.Report == nil {
		return &Integer{Value: 0}
	}
	s := env.Report.Summary
	switch field {
	case "total":
		return &Integer{Value: int64(env.Report.TotalViolations)}
	case "critical":
		return &Integer{Value: int64(s.TotalCritical)}
	case "high":
		return &Integer{Value: int64(s.TotalHigh)}
	case "medium":
		return &Integer{Value: int64(s.TotalMedium)}
	case "low":
		return &Integer{Value: int64(s.TotalLow)}
	}
	return newError("unknown field: violations.%s", field)
}

func ruleField(id rules.RuleID, field string, env *Env) Object {
	known := false
	for _, r := range rules.AllRules {
		if r == id {
			known = true
			break
		}
	}
	if !known {
		return newError("unknown namespace: %s", id)
	}
	switch field {
	case "count":
		if env.Report == nil {
			return &Integer{Value: 0}
		}
		return &Integer{Value: int64(len(env.Report.Rule(id).Violations))}
	case "new":
		return &Integer{Value: int64(env.NewByRule[id])}
	}
	return newError("unknown field: %s.%s", id, field)
}

func capabilityField(field string, env *Env) Object {
	var get func(*capability.Result) float64
	switch field {
	case "cp":
		get = func(r *capability.Result) float64 { return r.Cp }
	case "cpk":
		get = func(r *capability.Result) float64 { return r.Cpk }
	case "pp":
		get = func(r *capability.Result) float64 { return r.Pp }
	case "ppk":
		get = func(r *capability.Result) float64 { return r.Ppk }
	case "cpm":
		get = func(r *capability.Result) float64 { return r.Cpm }
	case "sigma_level":
		get = func(r *capability.Result) float64 { return r.SigmaLevel }
	case "dpmo":
		get = func(r *capability.Result) float64 { return r.DPMO }
	case "yield":
		get = func(r *capability.Result) float64 { return r.Yield }
	default:
		return newError("unknown field: capability.%s", field)
	}
	if env.Capability == nil {
		return NULL
	}
	v := get(env.Capability)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NULL
	}
	return &Float{Value: v}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}

func isNumber(obj Object) bool {
	t := obj.Type()
	return t == INTEGER_OBJ || t == FLOAT_OBJ
}

func toFloat(obj Object) float64 {
	switch o := obj.(type) {
	case *Integer:
		return float64(o.Value)
	case *Float:
		return o.Value
	}
	return 0
}

func isError(obj Object) bool {
	return obj != nil && obj.Type() == ERROR_OBJ
}

func isTruthy(obj Object) bool {
	switch o := obj.(type) {
	case *Boolean:
		return o.Value
	case *Null:
		return false
	case *Integer:
		return o.Value != 0
	case *Float:
		return o.Value != 0
	case *String:
		return o.Value != ""
	}
	return true
}

func newError(format string, a ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, a...)}
}

func nativeBoolToBooleanObject(input bool) *Boolean {
	if input {
		return TRUE
	}
	return FALSE
}
