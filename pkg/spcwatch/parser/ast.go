package parser

import "strings"

type Node interface {
	TokenLiteral() string
	String() string
}

type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

// Program is a parsed policy: usually one or more when statements.
type Program struct {
	Statements []Statement
}

func (p *Program) TokenLiteral() string {
	if len(p.Statements) > 0 {
		return p.Statements[0].TokenLiteral()
	}
	return ""
}

func (p *Program) String() string {
	parts := make([]string, 0, len(p.Statements))
	for _, s := range p.Statements {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "\n")
}

// CountNodes returns the number of AST nodes in the program. It is the
// complexity measure checked against MaxPolicyComplexity.
func (p *Program) CountNodes() int {
	n := 0
	Inspect(p, func(Node) bool {
		n++
		return true
	})
	return n
}

type WhenStatement struct {
	Token     Token
	Condition Expression
	Body      *BlockStatement
}

func (ws *WhenStatement) statementNode()       {}
func (ws *WhenStatement) TokenLiteral() string { return ws.Token.Literal }
func (ws *WhenStatement) String() string {
	var sb strings.Builder
	sb.WriteString("when ")
	if ws.Condition != nil {
		sb.WriteString(ws.Condition.String())
	}
	sb.WriteString(" ")
	if ws.Body != nil {
		sb.WriteString(ws.Body.String())
	}
	return sb.String()
}

type BlockStatement struct {
	Token      Token
	Statements []Statement
}

func (bs *BlockStatement) statementNode()       {}
func (bs *BlockStatement) TokenLiteral() string { return bs.Token.Literal }
func (bs *BlockStatement) String() string {
	parts := make([]string, 0, len(bs.Statements))
	for _, s := range bs.Statements {
		parts = append(parts, s.String())
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}

type ExpressionStatement struct {
	Token      Token
	Expression Expression
}

func (es *ExpressionStatement) statementNode()       {}
func (es *ExpressionStatement) TokenLiteral() string { return es.Token.Literal }
func (es *ExpressionStatement) String() string {
	if es.Expression != nil {
		return es.Expression.String()
	}
	return ""
}

type Identifier struct {
	Token Token
	Value string
}

func (i *Identifier) expressionNode()      {}
func (i *Identifier) TokenLiteral() string { return i.Token.Literal }
func (i *Identifier) String() string       { return i.Value }

type IntegerLiteral struct {
	Token Token
	Value int64
}

func (il *IntegerLiteral) expressionNode()      {}
func (il *IntegerLiteral) TokenLiteral() string { return il.Token.Literal }
func (il *IntegerLiteral) String() string       { return il.Token.Literal }

type FloatLiteral struct {
	Token Token
	Value float64
}

func (fl *FloatLiteral) expressionNode()      {}
func (fl *FloatLiteral) TokenLiteral() string { return fl.Token.Literal }
func (fl *FloatLiteral) String() string       { return fl.Token.Literal }

type StringLiteral struct {
	Token Token
	Value string
}

func (sl *StringLiteral) expressionNode()      {}
func (sl *StringLiteral) TokenLiteral() string { return sl.Token.Literal }
func (sl *StringLiteral) String() string       { return `"` + sl.Value + `"` }

// UnitExpression scales a number by a chart-relative unit, e.g. 2sigma.
type UnitExpression struct {
	Token Token
	Value Expression
	Unit  string
}

func (ue *UnitExpression) expressionNode()      {}
func (ue *UnitExpression) TokenLiteral() string { return ue.Token.Literal }
func (ue *UnitExpression) String() string {
	if ue.Value == nil {
		return ue.Unit
	}
	return ue.Value.String() + ue.Unit
}

type InfixExpression struct {
	Token    Token
	Left     Expression
	Operator string
	Right    Expression
}

func (ie *InfixExpression) expressionNode()      {}
func (ie *InfixExpression) TokenLiteral() string { return ie.Token.Literal }
func (ie *InfixExpression) String() string {
	return "(" + nodeString(ie.Left) + " " + ie.Operator + " " + nodeString(ie.Right) + ")"
}

type PrefixExpression struct {
	Token    Token
	Operator string
	Right    Expression
}

func (pe *PrefixExpression) expressionNode()      {}
func (pe *PrefixExpression) TokenLiteral() string { return pe.Token.Literal }
func (pe *PrefixExpression) String() string {
	return "(" + pe.Operator + nodeString(pe.Right) + ")"
}

type CallExpression struct {
	Token     Token
	Function  *Identifier
	Arguments []Expression
}

func (ce *CallExpression) expressionNode()      {}
func (ce *CallExpression) TokenLiteral() string { return ce.Token.Literal }
func (ce *CallExpression) String() string {
	args := make([]string, 0, len(ce.Arguments))
	for _, a := range ce.Arguments {
		args = append(args, nodeString(a))
	}
	return nodeString(ce.Function) + "(" + strings.Join(args, ", ") + ")"
}

// DotExpression is a namespaced value such as chart.last or rule3.new.
type DotExpression struct {
	Token Token
	Left  Expression
	Right *Identifier
}

func (de *DotExpression) expressionNode()      {}
func (de *DotExpression) TokenLiteral() string { return de.Token.Literal }
func (de *DotExpression) String() string       { return de.Path() }

// Path returns the dotted name, e.g. "capability.sigma_level".
func (de *DotExpression) Path() string {
	return nodeString(de.Left) + "." + nodeString(de.Right)
}

func nodeString(n Node) string {
	switch v := n.(type) {
	case nil:
		return ""
	case *Identifier:
		if v == nil {
			return ""
		}
	}
	return n.String()
}

// Inspect walks the tree depth-first, calling f for each node. Children are
// skipped when f returns false.
func Inspect(node Node, f func(Node) bool) {
	if node == nil || !f(node) {
		return
	}
	switch n := node.(type) {
	case *Program:
		for _, s := range n.Statements {
			Inspect(s, f)
		}
	case *WhenStatement:
		if n.Condition != nil {
			Inspect(n.Condition, f)
		}
		if n.Body != nil {
			Inspect(n.Body, f)
		}
	case *BlockStatement:
		for _, s := range n.Statements {
			Inspect(s, f)
		}
	case *ExpressionStatement:
		if n.Expression != nil {
			Inspect(n.Expression, f)
		}
	case *UnitExpression:
		if n.Value != nil {
			Inspect(n.Value, f)
		}
	case *InfixExpression:
		if n.Left != nil {
			Inspect(n.Left, f)
		}
		if n.Right != nil {
			Inspect(n.Right, f)
		}
	case *PrefixExpression:
		if n.Right != nil {
			Inspect(n.Right, f)
		}
	case *CallExpression:
		if n.Function != nil {
			Inspect(n.Function, f)
		}
		for _, a := range n.Arguments {
			if a != nil {
				Inspect(a, f)
			}
		}
	case *DotExpression:
		if n.Left != nil {
			Inspect(n.Left, f)
		}
		if n.Right != nil {
			Inspect(n.Right, f)
		}
	}
}
