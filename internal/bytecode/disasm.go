package bytecode

import (
	"fmt"
	"io"

	"github.com/xirelogy/go-cinder/internal/runtime"
)

// Disassembler formats bytecode as a readable assembly-style dump.
// It is a debug facility only: nothing in the execution path depends
// on it.
type Disassembler struct {
	w       io.Writer
	visited map[*runtime.ObjFunction]bool
	printed bool
}

// NewDisassembler constructs a disassembler that writes to w.
func NewDisassembler(w io.Writer) *Disassembler {
	return &Disassembler{
		w:       w,
		visited: make(map[*runtime.ObjFunction]bool),
	}
}

// DisassembleFunction emits a dump for a function and any functions
// nested in its constant pool.
func (d *Disassembler) DisassembleFunction(label string, fn *runtime.ObjFunction) error {
	if fn == nil {
		return fmt.Errorf("nil function")
	}
	if d.visited[fn] {
		return nil
	}
	d.visited[fn] = true
	d.startSection()
	name := label
	if name == "" {
		if fn.Name != nil {
			name = fn.Name.Chars
		} else {
			name = "<script>"
		}
	}
	fmt.Fprintf(d.w, "== %s == (arity=%d, upvalues=%d)\n", name, fn.Arity, fn.UpvalueCount)
	if err := d.disassembleChunk(&fn.Chunk); err != nil {
		return err
	}
	for _, c := range fn.Chunk.Constants {
		if c.Kind != runtime.KindObj {
			continue
		}
		if child, ok := c.Obj.(*runtime.ObjFunction); ok {
			if err := d.DisassembleFunction("", child); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Disassembler) startSection() {
	if d.printed {
		fmt.Fprintln(d.w)
	}
	d.printed = true
}

func (d *Disassembler) disassembleChunk(chunk *runtime.Chunk) error {
	for ip := 0; ip < len(chunk.Code); {
		next, err := d.Instruction(chunk, ip)
		if err != nil {
			return err
		}
		ip = next
	}
	return nil
}

// Instruction prints the instruction at offset and returns the offset
// of the next one.
func (d *Disassembler) Instruction(chunk *runtime.Chunk, offset int) (int, error) {
	fmt.Fprintf(d.w, "%04d ", offset)
	if offset > 0 && chunk.Lines[offset] == chunk.Lines[offset-1] {
		fmt.Fprintf(d.w, "   | ")
	} else {
		fmt.Fprintf(d.w, "%4d ", chunk.Lines[offset])
	}

	op := chunk.Code[offset]
	switch op {
	case OP_CONSTANT, OP_GET_GLOBAL, OP_DEFINE_GLOBAL, OP_SET_GLOBAL:
		return d.constantInstruction(op, chunk, offset)
	case OP_GET_LOCAL, OP_SET_LOCAL, OP_GET_UPVALUE, OP_SET_UPVALUE, OP_CALL:
		return d.byteInstruction(op, chunk, offset)
	case OP_JUMP, OP_JUMP_IF_FALSE:
		return d.jumpInstruction(op, 1, chunk, offset)
	case OP_LOOP:
		return d.jumpInstruction(op, -1, chunk, offset)
	case OP_CLOSURE:
		return d.closureInstruction(chunk, offset)
	default:
		if _, known := opNames[op]; !known {
			fmt.Fprintf(d.w, "Unknown opcode %d\n", op)
			return offset + 1, nil
		}
		fmt.Fprintf(d.w, "%s\n", OpName(op))
		return offset + 1, nil
	}
}

func (d *Disassembler) constantInstruction(op byte, chunk *runtime.Chunk, offset int) (int, error) {
	if offset+1 >= len(chunk.Code) {
		return 0, fmt.Errorf("truncated %s at %d", OpName(op), offset)
	}
	idx := int(chunk.Code[offset+1])
	if idx >= len(chunk.Constants) {
		return 0, fmt.Errorf("constant index out of range: %d", idx)
	}
	fmt.Fprintf(d.w, "%-16s %4d '%s'\n", OpName(op), idx, chunk.Constants[idx])
	return offset + 2, nil
}

func (d *Disassembler) byteInstruction(op byte, chunk *runtime.Chunk, offset int) (int, error) {
	if offset+1 >= len(chunk.Code) {
		return 0, fmt.Errorf("truncated %s at %d", OpName(op), offset)
	}
	fmt.Fprintf(d.w, "%-16s %4d\n", OpName(op), chunk.Code[offset+1])
	return offset + 2, nil
}

func (d *Disassembler) jumpInstruction(op byte, sign int, chunk *runtime.Chunk, offset int) (int, error) {
	if offset+2 >= len(chunk.Code) {
		return 0, fmt.Errorf("truncated %s at %d", OpName(op), offset)
	}
	jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
	fmt.Fprintf(d.w, "%-16s %4d -> %d\n", OpName(op), offset, offset+3+sign*jump)
	return offset + 3, nil
}

func (d *Disassembler) closureInstruction(chunk *runtime.Chunk, offset int) (int, error) {
	if offset+1 >= len(chunk.Code) {
		return 0, fmt.Errorf("truncated OP_CLOSURE at %d", offset)
	}
	idx := int(chunk.Code[offset+1])
	if idx >= len(chunk.Constants) {
		return 0, fmt.Errorf("closure constant out of range: %d", idx)
	}
	fmt.Fprintf(d.w, "%-16s %4d %s\n", "OP_CLOSURE", idx, chunk.Constants[idx])
	next := offset + 2

	fn, ok := chunk.Constants[idx].Obj.(*runtime.ObjFunction)
	if !ok {
		return 0, fmt.Errorf("closure constant is not a function")
	}
	for i := 0; i < fn.UpvalueCount; i++ {
		if next+1 >= len(chunk.Code) {
			return 0, fmt.Errorf("truncated upvalue descriptors at %d", next)
		}
		isLocal := chunk.Code[next]
		index := chunk.Code[next+1]
		kind := "upvalue"
		if isLocal == 1 {
			kind = "local"
		}
		fmt.Fprintf(d.w, "%04d    |                     %s %d\n", next, kind, index)
		next += 2
	}
	return next, nil
}
