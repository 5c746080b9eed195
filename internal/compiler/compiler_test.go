package compiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xirelogy/go-cinder/internal/bytecode"
	"github.com/xirelogy/go-cinder/internal/runtime"
)

func compileSource(t *testing.T, src string) *runtime.ObjFunction {
	t.Helper()
	var diag bytes.Buffer
	fn, err := Compile(src, runtime.NewHeap(), &diag)
	if err != nil {
		t.Fatalf("compile error: %v\n%s", err, diag.String())
	}
	return fn
}

func compileError(t *testing.T, src string) string {
	t.Helper()
	var diag bytes.Buffer
	fn, err := Compile(src, runtime.NewHeap(), &diag)
	if err == nil {
		t.Fatalf("expected compile error, got function %v", fn)
	}
	if fn != nil {
		t.Fatalf("erroring compile must discard the function")
	}
	return diag.String()
}

func expectCode(t *testing.T, fn *runtime.ObjFunction, want []byte) {
	t.Helper()
	got := fn.Chunk.Code
	if len(got) != len(want) {
		t.Fatalf("code length %d, want %d\ngot:  %v\nwant: %v", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d, want %d\ngot:  %v\nwant: %v", i, got[i], want[i], got, want)
		}
	}
}

func TestCompileArithmeticPrecedence(t *testing.T) {
	fn := compileSource(t, "print 1 + 2 * 3;")
	expectCode(t, fn, []byte{
		bytecode.OP_CONSTANT, 0,
		bytecode.OP_CONSTANT, 1,
		bytecode.OP_CONSTANT, 2,
		bytecode.OP_MULTIPLY,
		bytecode.OP_ADD,
		bytecode.OP_PRINT,
		bytecode.OP_NIL,
		bytecode.OP_RETURN,
	})
	if fn.Chunk.Constants[2].Num != 3 {
		t.Fatalf("constants emitted out of order: %v", fn.Chunk.Constants)
	}
}

func TestCompileComparisonSynthesis(t *testing.T) {
	fn := compileSource(t, "print 1 <= 2;")
	expectCode(t, fn, []byte{
		bytecode.OP_CONSTANT, 0,
		bytecode.OP_CONSTANT, 1,
		bytecode.OP_GREATER,
		bytecode.OP_NOT,
		bytecode.OP_PRINT,
		bytecode.OP_NIL,
		bytecode.OP_RETURN,
	})
}

func TestCompileIfJumpPatching(t *testing.T) {
	fn := compileSource(t, "if (true) print 1;")
	expectCode(t, fn, []byte{
		bytecode.OP_TRUE,
		bytecode.OP_JUMP_IF_FALSE, 0, 7,
		bytecode.OP_POP,
		bytecode.OP_CONSTANT, 0,
		bytecode.OP_PRINT,
		bytecode.OP_JUMP, 0, 1,
		bytecode.OP_POP,
		bytecode.OP_NIL,
		bytecode.OP_RETURN,
	})
}

func TestCompileWhileLoop(t *testing.T) {
	fn := compileSource(t, "while (false) print 1;")
	expectCode(t, fn, []byte{
		bytecode.OP_FALSE,
		bytecode.OP_JUMP_IF_FALSE, 0, 7,
		bytecode.OP_POP,
		bytecode.OP_CONSTANT, 0,
		bytecode.OP_PRINT,
		bytecode.OP_LOOP, 0, 11,
		bytecode.OP_POP,
		bytecode.OP_NIL,
		bytecode.OP_RETURN,
	})
}

func TestCompileLocalSlots(t *testing.T) {
	fn := compileSource(t, "{ var a = 1; var b = 2; print a + b; }")
	expectCode(t, fn, []byte{
		bytecode.OP_CONSTANT, 0,
		bytecode.OP_CONSTANT, 1,
		bytecode.OP_GET_LOCAL, 1,
		bytecode.OP_GET_LOCAL, 2,
		bytecode.OP_ADD,
		bytecode.OP_PRINT,
		bytecode.OP_POP,
		bytecode.OP_POP,
		bytecode.OP_NIL,
		bytecode.OP_RETURN,
	})
}

func TestCompileGlobalDefinition(t *testing.T) {
	fn := compileSource(t, "var a;")
	expectCode(t, fn, []byte{
		bytecode.OP_NIL,
		bytecode.OP_DEFINE_GLOBAL, 0,
		bytecode.OP_NIL,
		bytecode.OP_RETURN,
	})
	name, _ := runtime.AsString(fn.Chunk.Constants[0])
	if name == nil || name.Chars != "a" {
		t.Fatalf("global name constant wrong: %v", fn.Chunk.Constants)
	}
}

func TestCompileFunctionAndClosure(t *testing.T) {
	fn := compileSource(t, `
fun outer() {
  var x = 1;
  fun inner() { return x; }
  return inner;
}`)
	outerVal := fn.Chunk.Constants[1]
	outer, ok := outerVal.Obj.(*runtime.ObjFunction)
	if !ok {
		t.Fatalf("expected function constant, got %v", outerVal)
	}
	if outer.Arity != 0 || outer.Name.Chars != "outer" {
		t.Fatalf("outer function metadata wrong: arity=%d name=%v", outer.Arity, outer.Name)
	}

	var inner *runtime.ObjFunction
	for _, c := range outer.Chunk.Constants {
		if f, ok := c.Obj.(*runtime.ObjFunction); ok {
			inner = f
		}
	}
	if inner == nil {
		t.Fatalf("nested function not in outer constant pool")
	}
	if inner.UpvalueCount != 1 {
		t.Fatalf("inner should capture one upvalue, got %d", inner.UpvalueCount)
	}

	// OP_CLOSURE is followed by one (isLocal, index) pair: x is a
	// local of outer at slot 1
	code := outer.Chunk.Code
	for i := 0; i < len(code); i++ {
		if code[i] == bytecode.OP_CLOSURE {
			if code[i+2] != 1 || code[i+3] != 1 {
				t.Fatalf("upvalue descriptor wrong: isLocal=%d index=%d", code[i+2], code[i+3])
			}
			return
		}
	}
	t.Fatalf("no OP_CLOSURE emitted for nested function")
}

func TestCompileChainedUpvalue(t *testing.T) {
	fn := compileSource(t, `
fun a() {
  var v = 1;
  fun b() {
    fun c() { return v; }
    return c;
  }
  return b;
}`)
	var level1 *runtime.ObjFunction
	for _, c := range fn.Chunk.Constants {
		if f, ok := c.Obj.(*runtime.ObjFunction); ok {
			level1 = f
		}
	}
	var level2 *runtime.ObjFunction
	for _, c := range level1.Chunk.Constants {
		if f, ok := c.Obj.(*runtime.ObjFunction); ok {
			level2 = f
		}
	}
	var level3 *runtime.ObjFunction
	for _, c := range level2.Chunk.Constants {
		if f, ok := c.Obj.(*runtime.ObjFunction); ok {
			level3 = f
		}
	}
	// b captures v from a as a local; c reaches it through b's upvalue
	if level2.UpvalueCount != 1 || level3.UpvalueCount != 1 {
		t.Fatalf("upvalue chain counts wrong: b=%d c=%d", level2.UpvalueCount, level3.UpvalueCount)
	}
	code := level2.Chunk.Code
	for i := 0; i < len(code); i++ {
		if code[i] == bytecode.OP_CLOSURE {
			if code[i+2] != 0 {
				t.Fatalf("c should capture through an upvalue, not a local")
			}
			return
		}
	}
	t.Fatalf("no OP_CLOSURE in b")
}

func TestCompileErrorSelfInitializer(t *testing.T) {
	diag := compileError(t, "{ var x = x; }")
	if !strings.Contains(diag, "Can't read local variable in its own initializer.") {
		t.Fatalf("wrong diagnostic: %q", diag)
	}
}

func TestCompileErrorInvalidAssignmentTarget(t *testing.T) {
	diag := compileError(t, "var a; var b; a + b = 1;")
	if !strings.Contains(diag, "Invalid assignment target.") {
		t.Fatalf("wrong diagnostic: %q", diag)
	}
}

func TestCompileErrorDuplicateLocal(t *testing.T) {
	diag := compileError(t, "{ var dup = 1; var dup = 2; }")
	if !strings.Contains(diag, "Already a variable with this name in this scope.") {
		t.Fatalf("wrong diagnostic: %q", diag)
	}
}

func TestCompileErrorTopLevelReturn(t *testing.T) {
	diag := compileError(t, "return 1;")
	if !strings.Contains(diag, "Can't return from top-level code.") {
		t.Fatalf("wrong diagnostic: %q", diag)
	}
}

func TestCompileErrorMissingExpression(t *testing.T) {
	diag := compileError(t, "print ;")
	if !strings.Contains(diag, "Expect expression.") {
		t.Fatalf("wrong diagnostic: %q", diag)
	}
	if !strings.Contains(diag, "[line 1] Error at ';'") {
		t.Fatalf("diagnostic missing location: %q", diag)
	}
}

func TestCompileErrorRecoversAcrossStatements(t *testing.T) {
	// both mistakes are reported: panic mode resynchronizes at the ';'
	diag := compileError(t, "print ;\nvar 1 = 2;")
	if !strings.Contains(diag, "Expect expression.") {
		t.Fatalf("first diagnostic missing: %q", diag)
	}
	if !strings.Contains(diag, "[line 2] Error at '1': Expect variable name.") {
		t.Fatalf("second diagnostic missing after resync: %q", diag)
	}
}

func TestCompileErrorTooManyConstants(t *testing.T) {
	var src strings.Builder
	src.WriteString("var a = 0")
	for i := 0; i < 300; i++ {
		src.WriteString(" + 1")
	}
	src.WriteString(";")
	diag := compileError(t, src.String())
	if !strings.Contains(diag, "Too many constants in one chunk.") {
		t.Fatalf("wrong diagnostic: %q", diag)
	}
}

func TestCompileReportsScannerErrors(t *testing.T) {
	diag := compileError(t, "var a = @;")
	if !strings.Contains(diag, "[line 1] Error: Unexpected character.") {
		t.Fatalf("wrong diagnostic: %q", diag)
	}
}
