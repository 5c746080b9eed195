package compiler

import (
	"fmt"
	"io"

	"github.com/xirelogy/go-cinder/internal/bytecode"
	"github.com/xirelogy/go-cinder/internal/runtime"
	"github.com/xirelogy/go-cinder/internal/scanner"
	"github.com/xirelogy/go-cinder/internal/token"
)

// Compiler is a single-pass compiler: it pulls tokens from the scanner
// and emits bytecode into the current function's chunk as it parses.
// There is no intermediate tree.
type Compiler struct {
	scanner *scanner.Scanner
	heap    *runtime.Heap
	stderr  io.Writer

	current  token.Token
	previous token.Token

	hadError  bool
	panicMode bool

	// innermost function being compiled; frames chain via enclosing
	fc *funcCompiler
}

// Compile compiles source to a top-level function. On any compile
// error the function is discarded and an error returned; diagnostics
// have already been written to stderr.
func Compile(source string, heap *runtime.Heap, stderr io.Writer) (*runtime.ObjFunction, error) {
	c := &Compiler{
		scanner: scanner.New(source),
		heap:    heap,
		stderr:  stderr,
	}
	// the in-progress function chain must survive collections
	// triggered by compile-time allocation
	heap.AddRootMarker(c)
	defer heap.RemoveRootMarker(c)

	c.pushFuncCompiler(kindScript)

	c.advance()
	for !c.match(token.EOF) {
		c.declaration()
	}
	fn := c.endCompiler()
	if c.hadError {
		return nil, fmt.Errorf("compile error")
	}
	return fn, nil
}

// MarkRoots walks the active compiler chain, keeping every in-progress
// function (and everything its constant pool references) alive.
func (c *Compiler) MarkRoots(h *runtime.Heap) {
	for fc := c.fc; fc != nil; fc = fc.enclosing {
		h.MarkObject(fc.function)
	}
}

// ---- token plumbing ----

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.NextToken()
		if c.current.Type != token.Error {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) consume(t token.Type, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) check(t token.Type) bool {
	return c.current.Type == t
}

func (c *Compiler) match(t token.Type) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

// ---- error reporting ----

func (c *Compiler) errorAtCurrent(msg string) {
	c.errorAt(c.current, msg)
}

func (c *Compiler) error(msg string) {
	c.errorAt(c.previous, msg)
}

func (c *Compiler) errorAt(tok token.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	fmt.Fprintf(c.stderr, "[line %d] Error", tok.Line)
	switch tok.Type {
	case token.EOF:
		fmt.Fprintf(c.stderr, " at end")
	case token.Error:
		// the lexeme is the message itself; no location fragment
	default:
		fmt.Fprintf(c.stderr, " at '%s'", tok.Lexeme)
	}
	fmt.Fprintf(c.stderr, ": %s\n", msg)
	c.hadError = true
}

// synchronize skips forward to a likely statement boundary so one
// mistake does not cascade into a wall of diagnostics.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != token.EOF {
		if c.previous.Type == token.Semicolon {
			return
		}
		switch c.current.Type {
		case token.Fun, token.Var, token.For, token.If,
			token.While, token.Print, token.Return:
			return
		}
		c.advance()
	}
}

// ---- declarations and statements ----

func (c *Compiler) declaration() {
	switch {
	case c.match(token.Fun):
		c.funDeclaration()
	case c.match(token.Var):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// initialized before the body so the function can call itself
	c.markInitialized()
	c.function(kindFunction)
	c.defineVariable(global)
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(token.Assign) {
		c.expression()
	} else {
		c.emitByte(bytecode.OP_NIL)
	}
	c.consume(token.Semicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) statement() {
	switch {
	case c.match(token.Print):
		c.printStatement()
	case c.match(token.For):
		c.forStatement()
	case c.match(token.If):
		c.ifStatement()
	case c.match(token.Return):
		c.returnStatement()
	case c.match(token.While):
		c.whileStatement()
	case c.match(token.LBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(token.Semicolon, "Expect ';' after value.")
	c.emitByte(bytecode.OP_PRINT)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(token.Semicolon, "Expect ';' after expression.")
	c.emitByte(bytecode.OP_POP)
}

func (c *Compiler) ifStatement() {
	c.consume(token.LParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(token.RParen, "Expect ')' after condition.")

	thenJump := c.emitJump(bytecode.OP_JUMP_IF_FALSE)
	c.emitByte(bytecode.OP_POP)
	c.statement()
	elseJump := c.emitJump(bytecode.OP_JUMP)

	c.patchJump(thenJump)
	c.emitByte(bytecode.OP_POP)
	if c.match(token.Else) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.currentChunk().Code)
	c.consume(token.LParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(token.RParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OP_JUMP_IF_FALSE)
	c.emitByte(bytecode.OP_POP)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitByte(bytecode.OP_POP)
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(token.LParen, "Expect '(' after 'for'.")
	switch {
	case c.match(token.Semicolon):
		// no initializer
	case c.match(token.Var):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !c.match(token.Semicolon) {
		c.expression()
		c.consume(token.Semicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(bytecode.OP_JUMP_IF_FALSE)
		c.emitByte(bytecode.OP_POP)
	}

	if !c.match(token.RParen) {
		// the increment runs after the body: jump over it now, loop
		// back to it from the body's end
		bodyJump := c.emitJump(bytecode.OP_JUMP)
		incrementStart := len(c.currentChunk().Code)
		c.expression()
		c.emitByte(bytecode.OP_POP)
		c.consume(token.RParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitByte(bytecode.OP_POP)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.fc.kind == kindScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(token.Semicolon) {
		c.emitReturn()
		return
	}
	c.expression()
	c.consume(token.Semicolon, "Expect ';' after return value.")
	c.emitByte(bytecode.OP_RETURN)
}

func (c *Compiler) block() {
	for !c.check(token.RBrace) && !c.check(token.EOF) {
		c.declaration()
	}
	c.consume(token.RBrace, "Expect '}' after block.")
}

// function compiles a function body in a fresh compiler frame and
// emits the closure that wraps it.
func (c *Compiler) function(kind funcKind) {
	c.pushFuncCompiler(kind)
	c.beginScope()

	c.consume(token.LParen, "Expect '(' after function name.")
	if !c.check(token.RParen) {
		for {
			c.fc.function.Arity++
			if c.fc.function.Arity > 255 {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RParen, "Expect ')' after parameters.")
	c.consume(token.LBrace, "Expect '{' before function body.")
	c.block()

	fc := c.fc
	fn := c.endCompiler()
	c.emitBytes(bytecode.OP_CLOSURE, c.makeConstant(runtime.ObjVal(fn)))
	for i := 0; i < fn.UpvalueCount; i++ {
		uv := fc.upvalues[i]
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

func (c *Compiler) endCompiler() *runtime.ObjFunction {
	c.emitReturn()
	fn := c.fc.function
	c.heap.ReaccountFunction(fn)
	c.fc = c.fc.enclosing
	return fn
}

// ---- bytecode emission ----

func (c *Compiler) currentChunk() *runtime.Chunk {
	return &c.fc.function.Chunk
}

func (c *Compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitBytes(b1, b2 byte) {
	c.emitByte(b1)
	c.emitByte(b2)
}

func (c *Compiler) emitReturn() {
	c.emitByte(bytecode.OP_NIL)
	c.emitByte(bytecode.OP_RETURN)
}

func (c *Compiler) emitConstant(v runtime.Value) {
	c.emitBytes(bytecode.OP_CONSTANT, c.makeConstant(v))
}

func (c *Compiler) makeConstant(v runtime.Value) byte {
	idx := c.currentChunk().AddConstant(v)
	if idx > 255 {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

// emitJump writes op plus a two-byte placeholder and returns the
// placeholder offset for patchJump.
func (c *Compiler) emitJump(op byte) int {
	c.emitByte(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.currentChunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	// -2 adjusts for the placeholder itself
	jump := len(c.currentChunk().Code) - offset - 2
	if jump > 0xffff {
		c.error("Too much code to jump over.")
	}
	code := c.currentChunk().Code
	code[offset] = byte(jump >> 8)
	code[offset+1] = byte(jump)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitByte(bytecode.OP_LOOP)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > 0xffff {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}
