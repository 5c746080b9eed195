package compiler

import (
	"github.com/xirelogy/go-cinder/internal/bytecode"
	"github.com/xirelogy/go-cinder/internal/runtime"
	"github.com/xirelogy/go-cinder/internal/token"
)

const (
	maxLocals   = 256
	maxUpvalues = 256
)

type funcKind int

const (
	kindScript funcKind = iota
	kindFunction
)

// local is a declared variable in the current function. depth == -1
// marks a variable that is declared but not yet initialized.
type local struct {
	name       token.Token
	depth      int
	isCaptured bool
}

// upvalueDesc describes one captured variable of the function being
// compiled; the descriptors are emitted as OP_CLOSURE operands.
type upvalueDesc struct {
	index   byte
	isLocal bool
}

// funcCompiler is the per-function compile frame. Frames form a chain
// through enclosing while nested functions compile.
type funcCompiler struct {
	enclosing  *funcCompiler
	function   *runtime.ObjFunction
	kind       funcKind
	locals     [maxLocals]local
	localCount int
	upvalues   [maxUpvalues]upvalueDesc
	scopeDepth int
}

// pushFuncCompiler opens a compile frame for a new function. The frame
// joins the root chain before the name string allocates, so a
// collection triggered by that allocation cannot reap the function.
func (c *Compiler) pushFuncCompiler(kind funcKind) {
	fc := &funcCompiler{
		enclosing: c.fc,
		kind:      kind,
		function:  c.heap.NewFunction(),
	}
	// slot 0 holds the closure being executed
	fc.locals[0] = local{depth: 0}
	fc.localCount = 1
	c.fc = fc
	if kind != kindScript {
		fc.function.Name = c.heap.CopyString(c.previous.Lexeme)
	}
}

func (c *Compiler) beginScope() {
	c.fc.scopeDepth++
}

func (c *Compiler) endScope() {
	fc := c.fc
	fc.scopeDepth--
	for fc.localCount > 0 && fc.locals[fc.localCount-1].depth > fc.scopeDepth {
		if fc.locals[fc.localCount-1].isCaptured {
			c.emitByte(bytecode.OP_CLOSE_UPVALUE)
		} else {
			c.emitByte(bytecode.OP_POP)
		}
		fc.localCount--
	}
}

// parseVariable consumes an identifier and declares it. In a local
// scope the returned constant index is unused (locals live on the
// stack, not in the globals table).
func (c *Compiler) parseVariable(errMsg string) byte {
	c.consume(token.Ident, errMsg)
	c.declareVariable()
	if c.fc.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous)
}

func (c *Compiler) identifierConstant(name token.Token) byte {
	s := c.heap.CopyString(name.Lexeme)
	return c.makeConstant(runtime.ObjVal(s))
}

func (c *Compiler) declareVariable() {
	fc := c.fc
	if fc.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := fc.localCount - 1; i >= 0; i-- {
		l := &fc.locals[i]
		if l.depth != -1 && l.depth < fc.scopeDepth {
			break
		}
		if l.name.Lexeme == name.Lexeme {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) addLocal(name token.Token) {
	fc := c.fc
	if fc.localCount == maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	fc.locals[fc.localCount] = local{name: name, depth: -1}
	fc.localCount++
}

func (c *Compiler) markInitialized() {
	fc := c.fc
	if fc.scopeDepth == 0 {
		return
	}
	fc.locals[fc.localCount-1].depth = fc.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.fc.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitBytes(bytecode.OP_DEFINE_GLOBAL, global)
}

// resolveLocal scans the function's locals from innermost out.
func (c *Compiler) resolveLocal(fc *funcCompiler, name token.Token) int {
	for i := fc.localCount - 1; i >= 0; i-- {
		l := &fc.locals[i]
		if l.name.Lexeme == name.Lexeme {
			if l.depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue resolves name in an enclosing function, adding the
// chain of upvalues needed to reach it. Returns -1 when the name is
// not found anywhere up the chain (it is then assumed global).
func (c *Compiler) resolveUpvalue(fc *funcCompiler, name token.Token) int {
	if fc.enclosing == nil {
		return -1
	}
	if slot := c.resolveLocal(fc.enclosing, name); slot != -1 {
		fc.enclosing.locals[slot].isCaptured = true
		return c.addUpvalue(fc, byte(slot), true)
	}
	if up := c.resolveUpvalue(fc.enclosing, name); up != -1 {
		return c.addUpvalue(fc, byte(up), false)
	}
	return -1
}

// addUpvalue appends an upvalue descriptor, reusing an existing one
// for the same variable.
func (c *Compiler) addUpvalue(fc *funcCompiler, index byte, isLocal bool) int {
	count := fc.function.UpvalueCount
	for i := 0; i < count; i++ {
		uv := &fc.upvalues[i]
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if count == maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	fc.upvalues[count] = upvalueDesc{index: index, isLocal: isLocal}
	fc.function.UpvalueCount++
	return count
}
