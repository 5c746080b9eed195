package bytecode

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xirelogy/go-cinder/internal/runtime"
)

func TestDisassembleSimpleChunk(t *testing.T) {
	heap := runtime.NewHeap()
	fn := heap.NewFunction()
	idx := fn.Chunk.AddConstant(runtime.Number(1.2))
	fn.Chunk.Write(OP_CONSTANT, 123)
	fn.Chunk.Write(byte(idx), 123)
	fn.Chunk.Write(OP_RETURN, 123)

	var out bytes.Buffer
	d := NewDisassembler(&out)
	if err := d.DisassembleFunction("test", fn); err != nil {
		t.Fatalf("disassemble error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "== test ==") {
		t.Fatalf("missing header: %q", text)
	}
	if !strings.Contains(text, "OP_CONSTANT") || !strings.Contains(text, "1.2") {
		t.Fatalf("missing constant line: %q", text)
	}
	if !strings.Contains(text, "OP_RETURN") {
		t.Fatalf("missing return line: %q", text)
	}
	// both instructions share line 123: the second shows a pipe
	if !strings.Contains(text, "   | ") {
		t.Fatalf("missing same-line marker: %q", text)
	}
}

func TestDisassembleJump(t *testing.T) {
	heap := runtime.NewHeap()
	fn := heap.NewFunction()
	fn.Chunk.Write(OP_JUMP_IF_FALSE, 1)
	fn.Chunk.Write(0, 1)
	fn.Chunk.Write(3, 1)
	fn.Chunk.Write(OP_POP, 1)
	fn.Chunk.Write(OP_NIL, 2)
	fn.Chunk.Write(OP_RETURN, 2)

	var out bytes.Buffer
	if err := NewDisassembler(&out).DisassembleFunction("jumps", fn); err != nil {
		t.Fatalf("disassemble error: %v", err)
	}
	// relative operand 3 from offset 0 lands at 6
	if !strings.Contains(out.String(), "OP_JUMP_IF_FALSE    0 -> 6") {
		t.Fatalf("jump target wrong: %q", out.String())
	}
}

func TestDisassembleNestedFunctions(t *testing.T) {
	heap := runtime.NewHeap()
	inner := heap.NewFunction()
	inner.Name = heap.CopyString("inner")
	inner.Chunk.Write(OP_NIL, 1)
	inner.Chunk.Write(OP_RETURN, 1)

	outer := heap.NewFunction()
	idx := outer.Chunk.AddConstant(runtime.ObjVal(inner))
	outer.Chunk.Write(OP_CLOSURE, 1)
	outer.Chunk.Write(byte(idx), 1)
	outer.Chunk.Write(OP_RETURN, 1)

	var out bytes.Buffer
	if err := NewDisassembler(&out).DisassembleFunction("", outer); err != nil {
		t.Fatalf("disassemble error: %v", err)
	}
	if !strings.Contains(out.String(), "== inner ==") {
		t.Fatalf("nested function not dumped: %q", out.String())
	}
}

func TestDisassembleTruncatedChunk(t *testing.T) {
	heap := runtime.NewHeap()
	fn := heap.NewFunction()
	fn.Chunk.Write(OP_CONSTANT, 1) // operand missing

	var out bytes.Buffer
	if err := NewDisassembler(&out).DisassembleFunction("bad", fn); err == nil {
		t.Fatalf("expected error for truncated chunk")
	}
}
