package vm

import (
	"io"

	"github.com/xirelogy/go-cinder/internal/bytecode"
	"github.com/xirelogy/go-cinder/internal/runtime"
)

const (
	// FramesMax bounds call depth; the value stack provides 256 slots
	// per frame.
	FramesMax = 64
	StackMax  = FramesMax * 256
)

// CallFrame is one active function invocation. base indexes the value
// stack at the callee's slot 0, which aliases the called closure.
type CallFrame struct {
	closure *runtime.ObjClosure
	ip      int
	base    int
}

// VM executes bytecode against a shared value stack and a call-frame
// stack. It owns the globals table and registers itself as a GC root.
type VM struct {
	heap *runtime.Heap

	stack    [StackMax]runtime.Value
	stackTop int

	frames     [FramesMax]CallFrame
	frameCount int

	globals runtime.Table

	// open upvalues, sorted by descending stack slot
	openUpvalues *runtime.ObjUpvalue

	stdout io.Writer
	stderr io.Writer

	traceHook TraceHook
}

// New constructs a VM bound to a heap and output streams.
func New(heap *runtime.Heap, stdout, stderr io.Writer) *VM {
	vm := &VM{
		heap:   heap,
		stdout: stdout,
		stderr: stderr,
	}
	heap.AddRootMarker(vm)
	return vm
}

// MarkRoots marks every live stack slot, frame closure, open upvalue
// and globals entry. The intern table is deliberately not a root.
func (vm *VM) MarkRoots(h *runtime.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].closure)
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.NextOpen {
		h.MarkObject(uv)
	}
	vm.globals.Mark(h)
}

// SetTraceHook registers a callback observing instruction dispatch.
func (vm *VM) SetTraceHook(h TraceHook) {
	vm.traceHook = h
}

// SetStdout redirects print output.
func (vm *VM) SetStdout(w io.Writer) {
	vm.stdout = w
}

// SetStderr redirects fault diagnostics.
func (vm *VM) SetStderr(w io.Writer) {
	vm.stderr = w
}

// DefineNative binds a host function as a global. Both the name and
// the wrapper are kept on the stack while the other allocates so a
// collection between the two cannot reap them.
func (vm *VM) DefineNative(name string, fn runtime.NativeFn) {
	vm.push(runtime.ObjVal(vm.heap.CopyString(name)))
	vm.push(runtime.ObjVal(vm.heap.NewNative(fn)))
	key, _ := runtime.AsString(vm.stack[vm.stackTop-2])
	vm.globals.Set(key, vm.stack[vm.stackTop-1])
	vm.pop()
	vm.pop()
}

// Interpret wraps a compiled top-level function in a closure and runs
// it to completion. A returned error is a *RuntimeError whose
// diagnostics have already been written to stderr.
func (vm *VM) Interpret(fn *runtime.ObjFunction) error {
	vm.push(runtime.ObjVal(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(runtime.ObjVal(closure))
	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) push(v runtime.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() runtime.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) runtime.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		hi := readByte()
		lo := readByte()
		return int(hi)<<8 | int(lo)
	}
	readConstant := func() runtime.Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *runtime.ObjString {
		s, _ := runtime.AsString(readConstant())
		return s
	}

	for {
		if vm.traceHook != nil {
			vm.trace(frame)
		}
		op := readByte()
		switch op {
		case bytecode.OP_CONSTANT:
			vm.push(readConstant())
		case bytecode.OP_NIL:
			vm.push(runtime.Nil())
		case bytecode.OP_TRUE:
			vm.push(runtime.Bool(true))
		case bytecode.OP_FALSE:
			vm.push(runtime.Bool(false))
		case bytecode.OP_POP:
			vm.pop()

		case bytecode.OP_GET_LOCAL:
			slot := readByte()
			vm.push(vm.stack[frame.base+int(slot)])
		case bytecode.OP_SET_LOCAL:
			slot := readByte()
			vm.stack[frame.base+int(slot)] = vm.peek(0)

		case bytecode.OP_GET_GLOBAL:
			name := readString()
			value, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(value)
		case bytecode.OP_DEFINE_GLOBAL:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case bytecode.OP_SET_GLOBAL:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				// assignment must not create: undo and fault
				vm.globals.Delete(name)
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}

		case bytecode.OP_GET_UPVALUE:
			slot := readByte()
			uv := frame.closure.Upvalues[slot]
			if uv.Open {
				vm.push(vm.stack[uv.Slot])
			} else {
				vm.push(uv.Closed)
			}
		case bytecode.OP_SET_UPVALUE:
			slot := readByte()
			uv := frame.closure.Upvalues[slot]
			if uv.Open {
				vm.stack[uv.Slot] = vm.peek(0)
			} else {
				uv.Closed = vm.peek(0)
			}

		case bytecode.OP_EQUAL:
			b := vm.pop()
			a := vm.pop()
			vm.push(runtime.Bool(runtime.Equal(a, b)))
		case bytecode.OP_GREATER:
			if err := vm.binaryCompare(func(a, b float64) bool { return a > b }); err != nil {
				return err
			}
		case bytecode.OP_LESS:
			if err := vm.binaryCompare(func(a, b float64) bool { return a < b }); err != nil {
				return err
			}

		case bytecode.OP_ADD:
			if _, aIsStr := runtime.AsString(vm.peek(1)); aIsStr {
				if _, bIsStr := runtime.AsString(vm.peek(0)); bIsStr {
					vm.concatenate()
					break
				}
			}
			if vm.peek(0).Kind == runtime.KindNumber && vm.peek(1).Kind == runtime.KindNumber {
				b := vm.pop()
				a := vm.pop()
				vm.push(runtime.Number(a.Num + b.Num))
				break
			}
			return vm.runtimeError("Operands must be two numbers or two strings.")
		case bytecode.OP_SUBTRACT:
			if err := vm.binaryArith(func(a, b float64) float64 { return a - b }); err != nil {
				return err
			}
		case bytecode.OP_MULTIPLY:
			if err := vm.binaryArith(func(a, b float64) float64 { return a * b }); err != nil {
				return err
			}
		case bytecode.OP_DIVIDE:
			if err := vm.binaryArith(func(a, b float64) float64 { return a / b }); err != nil {
				return err
			}

		case bytecode.OP_NOT:
			vm.push(runtime.Bool(!runtime.Truthy(vm.pop())))
		case bytecode.OP_NEGATE:
			if vm.peek(0).Kind != runtime.KindNumber {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(runtime.Number(-vm.pop().Num))

		case bytecode.OP_PRINT:
			v := vm.pop()
			io.WriteString(vm.stdout, v.String())
			io.WriteString(vm.stdout, "\n")

		case bytecode.OP_JUMP:
			offset := readShort()
			frame.ip += offset
		case bytecode.OP_JUMP_IF_FALSE:
			offset := readShort()
			if !runtime.Truthy(vm.peek(0)) {
				frame.ip += offset
			}
		case bytecode.OP_LOOP:
			offset := readShort()
			frame.ip -= offset

		case bytecode.OP_CALL:
			argCount := int(readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OP_CLOSURE:
			fn, _ := readConstant().Obj.(*runtime.ObjFunction)
			closure := vm.heap.NewClosure(fn)
			// on the stack before its upvalues allocate, so a
			// collection mid-capture keeps it alive
			vm.push(runtime.ObjVal(closure))
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.base + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case bytecode.OP_CLOSE_UPVALUE:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OP_RETURN:
			result := vm.pop()
			vm.closeUpvalues(frame.base)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.base
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		default:
			return vm.runtimeError("Unknown opcode %d.", op)
		}
	}
}

func (vm *VM) binaryArith(op func(a, b float64) float64) error {
	if vm.peek(0).Kind != runtime.KindNumber || vm.peek(1).Kind != runtime.KindNumber {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop()
	a := vm.pop()
	vm.push(runtime.Number(op(a.Num, b.Num)))
	return nil
}

func (vm *VM) binaryCompare(op func(a, b float64) bool) error {
	if vm.peek(0).Kind != runtime.KindNumber || vm.peek(1).Kind != runtime.KindNumber {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop()
	a := vm.pop()
	vm.push(runtime.Bool(op(a.Num, b.Num)))
	return nil
}

// concatenate joins the two strings on top of the stack. The operands
// stay on the stack until the result is interned so the allocation
// cannot collect them.
func (vm *VM) concatenate() {
	b, _ := runtime.AsString(vm.peek(0))
	a, _ := runtime.AsString(vm.peek(1))
	result := vm.heap.TakeString(a.Chars + b.Chars)
	vm.pop()
	vm.pop()
	vm.push(runtime.ObjVal(result))
}

func (vm *VM) callValue(callee runtime.Value, argCount int) error {
	if callee.Kind == runtime.KindObj {
		switch obj := callee.Obj.(type) {
		case *runtime.ObjClosure:
			return vm.call(obj, argCount)
		case *runtime.ObjNative:
			args := vm.stack[vm.stackTop-argCount : vm.stackTop]
			result := obj.Function(args)
			vm.stackTop -= argCount + 1
			vm.push(result)
			return nil
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

func (vm *VM) call(closure *runtime.ObjClosure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.",
			closure.Function.Arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeError("Stack overflow.")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.base = vm.stackTop - argCount - 1
	return nil
}

// captureUpvalue returns the open upvalue for a stack slot, creating
// and splicing one into the sorted list if none exists yet.
func (vm *VM) captureUpvalue(slot int) *runtime.ObjUpvalue {
	var prev *runtime.ObjUpvalue
	uv := vm.openUpvalues
	for uv != nil && uv.Slot > slot {
		prev = uv
		uv = uv.NextOpen
	}
	if uv != nil && uv.Slot == slot {
		return uv
	}

	created := vm.heap.NewUpvalue(slot)
	created.NextOpen = uv
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above from, copying
// the slot's value into the upvalue itself.
func (vm *VM) closeUpvalues(from int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= from {
		uv := vm.openUpvalues
		uv.Closed = vm.stack[uv.Slot]
		uv.Open = false
		vm.openUpvalues = uv.NextOpen
		uv.NextOpen = nil
	}
}
