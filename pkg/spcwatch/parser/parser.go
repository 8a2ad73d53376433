package parser

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	_ int = iota
	LOWEST
	OR_PREC  // ||
	AND_PREC // &&
	EQUALS   // == !=
	COMPARE  // < > <= >=
	SUM      // + -
	PRODUCT  // * /
	PREFIX   // -x !x
	CALL     // fn(x)
	MEMBER   // ns.field
)

var precedences = map[TokenType]int{
	OR:       OR_PREC,
	AND:      AND_PREC,
	EQ:       EQUALS,
	NOT_EQ:   EQUALS,
	LT:       COMPARE,
	GT:       COMPARE,
	LTE:      COMPARE,
	GTE:      COMPARE,
	PLUS:     SUM,
	MINUS:    SUM,
	ASTERISK: PRODUCT,
	SLASH:    PRODUCT,
	LPAREN:   CALL,
	DOT:      MEMBER,
}

type (
	prefixParseFn func() Expression
	infixParseFn  func(Expression) Expression
)

// Parser is a Pratt parser for alert policies.
type Parser struct {
	l *Lexer

	curToken  Token
	peekToken Token

	errors []string

	prefixParseFns map[TokenType]prefixParseFn
	infixParseFns  map[TokenType]infixParseFn
}

func New(l *Lexer) *Parser {
	p := &Parser{l: l}

	p.prefixParseFns = map[TokenType]prefixParseFn{
		IDENT:  p.parseIdentifier,
		INT:    p.parseIntegerLiteral,
		FLOAT:  p.parseFloatLiteral,
		STRING: p.parseStringLiteral,
		SIGMA:  p.parseBareUnit,
		NOT:    p.parsePrefixExpression,
		MINUS:  p.parsePrefixExpression,
		LPAREN: p.parseGroupedExpression,
	}

	p.infixParseFns = make(map[TokenType]infixParseFn)
	for _, t := range []TokenType{OR, AND, EQ, NOT_EQ, LT, GT, LTE, GTE, PLUS, MINUS, ASTERISK, SLASH} {
		p.infixParseFns[t] = p.parseInfixExpression
	}
	p.infixParseFns[LPAREN] = p.parseCallExpression
	p.infixParseFns[DOT] = p.parseDotExpression

	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses src and returns every syntax error joined into one.
func Parse(src string) (*Program, error) {
	p := New(NewLexer(src))
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = errors.New(e)
		}
		return nil, errors.Join(joined...)
	}
	return program, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) ParseProgram() *Program {
	program := &Program{Statements: []Statement{}}

	for !p.curTokenIs(EOF) {
		if stmt := p.parseStatement(); stmt != nil {
			program.Statements = append(program.Statements, stmt)
		}
		p.nextToken()
	}
	return program
}

func (p *Parser) parseStatement() Statement {
	switch p.curToken.Type {
	case WHEN:
		if ws := p.parseWhenStatement(); ws != nil {
			return ws
		}
		return nil
	case SEMICOLON:
		return nil
	case ILLEGAL:
		p.errorf(p.curToken, "illegal token %q", p.curToken.Literal)
		return nil
	default:
		if es := p.parseExpressionStatement(); es != nil {
			return es
		}
		return nil
	}
}

func (p *Parser) parseWhenStatement() *WhenStatement {
	stmt := &WhenStatement{Token: p.curToken}

	p.nextToken()
	stmt.Condition = p.parseExpression(LOWEST)
	if stmt.Condition == nil {
		return nil
	}

	if !p.expectPeek(LBRACE) {
		return nil
	}
	stmt.Body = p.parseBlockStatement()
	if stmt.Body == nil {
		return nil
	}
	return stmt
}

func (p *Parser) parseBlockStatement() *BlockStatement {
	block := &BlockStatement{Token: p.curToken, Statements: []Statement{}}

	p.nextToken()
	for !p.curTokenIs(RBRACE) {
		if p.curTokenIs(EOF) {
			p.errorf(p.curToken, "unterminated block, expected }")
			return nil
		}
		if p.curTokenIs(WHEN) {
			p.errorf(p.curToken, "when statements cannot be nested")
			return nil
		}
		if stmt := p.parseStatement(); stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseExpressionStatement() *ExpressionStatement {
	stmt := &ExpressionStatement{Token: p.curToken}
	stmt.Expression = p.parseExpression(LOWEST)
	if stmt.Expression == nil {
		return nil
	}
	if p.peekTokenIs(SEMICOLON) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseExpression(precedence int) Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.errorf(p.curToken, "unexpected %s", describe(p.curToken))
		return nil
	}
	left := prefix()

	for left != nil && !p.peekTokenIs(SEMICOLON) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseIdentifier() Expression {
	return &Identifier{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseIntegerLiteral() Expression {
	value, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
	if err != nil {
		p.errorf(p.curToken, "could not parse %q as integer", p.curToken.Literal)
		return nil
	}
	return p.withUnit(&IntegerLiteral{Token: p.curToken, Value: value})
}

func (p *Parser) parseFloatLiteral() Expression {
	value, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		p.errorf(p.curToken, "could not parse %q as float", p.curToken.Literal)
		return nil
	}
	return p.withUnit(&FloatLiteral{Token: p.curToken, Value: value})
}

// withUnit wraps a numeric literal followed by a unit keyword.
func (p *Parser) withUnit(lit Expression) Expression {
	if !p.peekTokenIs(SIGMA) {
		return lit
	}
	p.nextToken()
	return &UnitExpression{Token: p.curToken, Value: lit, Unit: p.curToken.Literal}
}

// parseBareUnit handles "sigma" on its own, meaning one sigma.
func (p *Parser) parseBareUnit() Expression {
	return &UnitExpression{Token: p.curToken, Unit: p.curToken.Literal}
}

func (p *Parser) parseStringLiteral() Expression {
	return &StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parsePrefixExpression() Expression {
	expr := &PrefixExpression{Token: p.curToken, Operator: p.curToken.Literal}
	p.nextToken()
	expr.Right = p.parseExpression(PREFIX)
	if expr.Right == nil {
		return nil
	}
	return expr
}

func (p *Parser) parseInfixExpression(left Expression) Expression {
	expr := &InfixExpression{Token: p.curToken, Left: left, Operator: p.curToken.Literal}
	precedence := p.curPrecedence()
	p.nextToken()
	expr.Right = p.parseExpression(precedence)
	if expr.Right == nil {
		return nil
	}
	return expr
}

func (p *Parser) parseGroupedExpression() Expression {
	p.nextToken()
	exp := p.parseExpression(LOWEST)
	if exp == nil || !p.expectPeek(RPAREN) {
		return nil
	}
	return exp
}

func (p *Parser) parseCallExpression(fn Expression) Expression {
	ident, ok := fn.(*Identifier)
	if !ok {
		p.errorf(p.curToken, "%s is not callable", fn.String())
		return nil
	}
	call := &CallExpression{Token: p.curToken, Function: ident}
	args, ok := p.parseExpressionList(RPAREN)
	if !ok {
		return nil
	}
	call.Arguments = args
	return call
}

func (p *Parser) parseDotExpression(left Expression) Expression {
	switch left.(type) {
	case *Identifier, *DotExpression:
	default:
		p.errorf(p.curToken, "cannot select a field of %s", left.String())
		return nil
	}
	expr := &DotExpression{Token: p.curToken, Left: left}
	// Field names may collide with keywords, as in chart.sigma.
	if !p.peekTokenIs(IDENT) && !p.peekTokenIs(SIGMA) {
		p.errorf(p.peekToken, "expected field name after '.', got %s", describe(p.peekToken))
		return nil
	}
	p.nextToken()
	expr.Right = &Identifier{Token: p.curToken, Value: p.curToken.Literal}
	return expr
}

func (p *Parser) parseExpressionList(end TokenType) ([]Expression, bool) {
	args := []Expression{}
	if p.peekTokenIs(end) {
		p.nextToken()
		return args, true
	}

	p.nextToken()
	arg := p.parseExpression(LOWEST)
	if arg == nil {
		return nil, false
	}
	args = append(args, arg)

	for p.peekTokenIs(COMMA) {
		p.nextToken()
		p.nextToken()
		arg := p.parseExpression(LOWEST)
		if arg == nil {
			return nil, false
		}
		args = append(args, arg)
	}

	if !p.expectPeek(end) {
		return nil, false
	}
	return args, true
}

func (p *Parser) curTokenIs(t TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf(p.peekToken, "expected %s, got %s", t, describe(p.peekToken))
	return false
}

// Errors returns the syntax errors collected so far, each prefixed with its
// line and column.
func (p *Parser) Errors() []string {
	return p.errors
}

func (p *Parser) errorf(at Token, format string, args ...any) {
	msg := fmt.Sprintf("line %d, column %d: ", at.Line, at.Column) + fmt.Sprintf(format, args...)
	p.errors = append(p.errors, msg)
}

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peekToken.Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.curToken.Type]; ok {
		return prec
	}
	return LOWEST
}

func describe(t Token) string {
	switch t.Type {
	case EOF:
		return "end of input"
	case IDENT, INT, FLOAT:
		return fmt.Sprintf("%s %q", t.Type, t.Literal)
	case STRING:
		return "string"
	case ILLEGAL:
		return fmt.Sprintf("illegal token %q", t.Literal)
	}
	return fmt.Sprintf("'%s'", t.Type)
}
