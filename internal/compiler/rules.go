package compiler

import (
	"strconv"

	"github.com/xirelogy/go-cinder/internal/bytecode"
	"github.com/xirelogy/go-cinder/internal/runtime"
	"github.com/xirelogy/go-cinder/internal/token"
)

// precedence orders the operator ladder, lowest binding first.
type precedence int

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

// rule drives the Pratt parser: how a token parses in prefix position,
// in infix position, and how tightly its infix form binds.
type rule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

var rules map[token.Type]rule

// filled in init: the handlers recurse through getRule, so a composite
// literal here would be an initialization cycle
func init() {
	rules = map[token.Type]rule{
		token.LParen:       {prefix: (*Compiler).grouping, infix: (*Compiler).call, prec: precCall},
		token.Minus:        {prefix: (*Compiler).unary, infix: (*Compiler).binary, prec: precTerm},
		token.Plus:         {infix: (*Compiler).binary, prec: precTerm},
		token.Slash:        {infix: (*Compiler).binary, prec: precFactor},
		token.Star:         {infix: (*Compiler).binary, prec: precFactor},
		token.Bang:         {prefix: (*Compiler).unary},
		token.BangEqual:    {infix: (*Compiler).binary, prec: precEquality},
		token.EqualEqual:   {infix: (*Compiler).binary, prec: precEquality},
		token.Greater:      {infix: (*Compiler).binary, prec: precComparison},
		token.GreaterEqual: {infix: (*Compiler).binary, prec: precComparison},
		token.Less:         {infix: (*Compiler).binary, prec: precComparison},
		token.LessEqual:    {infix: (*Compiler).binary, prec: precComparison},
		token.Ident:        {prefix: (*Compiler).variable},
		token.String:       {prefix: (*Compiler).stringLiteral},
		token.Number:       {prefix: (*Compiler).number},
		token.And:          {infix: (*Compiler).and, prec: precAnd},
		token.Or:           {infix: (*Compiler).or, prec: precOr},
		token.True:         {prefix: (*Compiler).literal},
		token.False:        {prefix: (*Compiler).literal},
		token.Nil:          {prefix: (*Compiler).literal},
	}
}

func getRule(t token.Type) rule {
	return rules[t]
}

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

// parsePrecedence parses anything at the given precedence or tighter.
// canAssign threads through to variable so that only targets parsed at
// assignment level accept an '='.
func (c *Compiler) parsePrecedence(p precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := p <= precAssignment
	prefix(c, canAssign)

	for p <= getRule(c.current.Type).prec {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(token.Assign) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(token.RParen, "Expect ')' after expression.")
}

func (c *Compiler) unary(canAssign bool) {
	op := c.previous.Type
	c.parsePrecedence(precUnary)
	switch op {
	case token.Minus:
		c.emitByte(bytecode.OP_NEGATE)
	case token.Bang:
		c.emitByte(bytecode.OP_NOT)
	}
}

func (c *Compiler) binary(canAssign bool) {
	op := c.previous.Type
	// one level higher makes binary operators left-associative
	c.parsePrecedence(getRule(op).prec + 1)

	switch op {
	case token.BangEqual:
		c.emitBytes(bytecode.OP_EQUAL, bytecode.OP_NOT)
	case token.EqualEqual:
		c.emitByte(bytecode.OP_EQUAL)
	case token.Greater:
		c.emitByte(bytecode.OP_GREATER)
	case token.GreaterEqual:
		c.emitBytes(bytecode.OP_LESS, bytecode.OP_NOT)
	case token.Less:
		c.emitByte(bytecode.OP_LESS)
	case token.LessEqual:
		c.emitBytes(bytecode.OP_GREATER, bytecode.OP_NOT)
	case token.Plus:
		c.emitByte(bytecode.OP_ADD)
	case token.Minus:
		c.emitByte(bytecode.OP_SUBTRACT)
	case token.Star:
		c.emitByte(bytecode.OP_MULTIPLY)
	case token.Slash:
		c.emitByte(bytecode.OP_DIVIDE)
	}
}

func (c *Compiler) number(canAssign bool) {
	n, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error("Invalid number.")
		return
	}
	c.emitConstant(runtime.Number(n))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	lexeme := c.previous.Lexeme
	// strip the surrounding quotes
	s := c.heap.CopyString(lexeme[1 : len(lexeme)-1])
	c.emitConstant(runtime.ObjVal(s))
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case token.False:
		c.emitByte(bytecode.OP_FALSE)
	case token.Nil:
		c.emitByte(bytecode.OP_NIL)
	case token.True:
		c.emitByte(bytecode.OP_TRUE)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

// namedVariable resolves an identifier through the local → upvalue →
// global cascade and emits the matching get or set.
func (c *Compiler) namedVariable(name token.Token, canAssign bool) {
	var getOp, setOp byte
	var arg int
	if arg = c.resolveLocal(c.fc, name); arg != -1 {
		getOp = bytecode.OP_GET_LOCAL
		setOp = bytecode.OP_SET_LOCAL
	} else if arg = c.resolveUpvalue(c.fc, name); arg != -1 {
		getOp = bytecode.OP_GET_UPVALUE
		setOp = bytecode.OP_SET_UPVALUE
	} else {
		arg = int(c.identifierConstant(name))
		getOp = bytecode.OP_GET_GLOBAL
		setOp = bytecode.OP_SET_GLOBAL
	}

	if canAssign && c.match(token.Assign) {
		c.expression()
		c.emitBytes(setOp, byte(arg))
	} else {
		c.emitBytes(getOp, byte(arg))
	}
}

// and short-circuits: with a false left operand the right one is never
// evaluated.
func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(bytecode.OP_JUMP_IF_FALSE)
	c.emitByte(bytecode.OP_POP)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(bytecode.OP_JUMP_IF_FALSE)
	endJump := c.emitJump(bytecode.OP_JUMP)
	c.patchJump(elseJump)
	c.emitByte(bytecode.OP_POP)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList()
	c.emitBytes(bytecode.OP_CALL, argCount)
}

func (c *Compiler) argumentList() byte {
	var count int
	if !c.check(token.RParen) {
		for {
			c.expression()
			if count == 255 {
				c.error("Can't have more than 255 arguments.")
			}
			count++
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RParen, "Expect ')' after arguments.")
	return byte(count)
}
