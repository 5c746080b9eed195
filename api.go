// Package cinder implements the cinder scripting language: a
// single-pass bytecode compiler, a stack-based virtual machine with
// closures, and a precise mark-sweep garbage collector with string
// interning.
package cinder

import (
	"io"
	"os"

	"github.com/xirelogy/go-cinder/internal/compiler"
	"github.com/xirelogy/go-cinder/internal/runtime"
	"github.com/xirelogy/go-cinder/internal/vm"
)

// Result is the outcome of interpreting a source string.
type Result int

const (
	ResultOK Result = iota
	ResultCompileError
	ResultRuntimeError
)

// ValueKind mirrors the runtime kinds visible to host functions.
type ValueKind int

const (
	ValueNil ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueOther
)

// Value is the host-facing view of a runtime value. Host functions
// receive and return Values; heap details stay internal.
type Value struct {
	kind ValueKind
	b    bool
	num  float64
	str  string
}

func NilValue() Value        { return Value{kind: ValueNil} }
func BoolValue(b bool) Value { return Value{kind: ValueBool, b: b} }
func NumberValue(n float64) Value {
	return Value{kind: ValueNumber, num: n}
}
func StringValue(s string) Value {
	return Value{kind: ValueString, str: s}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) Bool() bool      { return v.b }
func (v Value) Number() float64 { return v.num }
func (v Value) Text() string    { return v.str }

// NativeFunc is the contract for host functions callable from script.
type NativeFunc func(args []Value) Value

// FrameTrace describes one stack frame of a runtime fault.
type FrameTrace struct {
	Function string
	Line     int
}

// RuntimeError is a fault surfaced from the VM. Its diagnostics have
// already been written to the engine's stderr.
type RuntimeError struct {
	Message string
	Line    int
	Stack   []FrameTrace
}

func (e *RuntimeError) Error() string {
	return e.Message
}

// CompileError reports that compilation failed; the individual
// diagnostics have been written to the engine's stderr.
type CompileError struct{}

func (e *CompileError) Error() string {
	return "compile error"
}

// TraceInfo captures execution steps for debug hooks.
type TraceInfo struct {
	Op       byte
	OpName   string
	Function string
	Line     int
	IP       int
}

// TraceHook observes instruction dispatch for debugging/profiling.
type TraceHook func(TraceInfo)

// Engine owns one interpreter instance: a managed heap, a VM, and the
// standard natives. It is not safe for concurrent use.
type Engine struct {
	heap    *runtime.Heap
	machine *vm.VM
	stderr  io.Writer
	gcLog   bool
}

// NewEngine constructs an engine writing to the process streams.
func NewEngine() *Engine {
	heap := runtime.NewHeap()
	e := &Engine{
		heap:    heap,
		machine: vm.New(heap, os.Stdout, os.Stderr),
		stderr:  os.Stderr,
	}
	for _, spec := range standardNatives {
		e.DefineNative(spec.name, spec.fn)
	}
	return e
}

// SetStdout redirects print output.
func (e *Engine) SetStdout(w io.Writer) {
	e.machine.SetStdout(w)
}

// SetStderr redirects compile and runtime diagnostics.
func (e *Engine) SetStderr(w io.Writer) {
	e.stderr = w
	e.machine.SetStderr(w)
	if e.gcLog {
		e.heap.SetLog(w)
	}
}

// SetStressGC forces a collection on every allocation. Deterministic
// and slow; meant for tests.
func (e *Engine) SetStressGC(on bool) {
	e.heap.Stress = on
}

// SetGCLog toggles collection logging on stderr.
func (e *Engine) SetGCLog(on bool) {
	e.gcLog = on
	if on {
		e.heap.SetLog(e.stderr)
	} else {
		e.heap.SetLog(nil)
	}
}

// SetTraceHook attaches a debug hook observing instruction dispatch.
func (e *Engine) SetTraceHook(h TraceHook) {
	if h == nil {
		e.machine.SetTraceHook(nil)
		return
	}
	e.machine.SetTraceHook(func(info vm.TraceInfo) {
		h(TraceInfo{
			Op:       info.Op,
			OpName:   info.OpName,
			Function: info.Function,
			Line:     info.Line,
			IP:       info.IP,
		})
	})
}

// DefineNative binds a host function as a global.
func (e *Engine) DefineNative(name string, fn NativeFunc) {
	e.machine.DefineNative(name, func(args []runtime.Value) runtime.Value {
		hostArgs := make([]Value, len(args))
		for i, a := range args {
			hostArgs[i] = fromRuntime(a)
		}
		return e.toRuntime(fn(hostArgs))
	})
}

// Run interprets source. It returns nil, a *CompileError, or a
// *RuntimeError.
func (e *Engine) Run(source string) error {
	fn, err := compiler.Compile(source, e.heap, e.stderr)
	if err != nil {
		return &CompileError{}
	}
	if err := e.machine.Interpret(fn); err != nil {
		return convertRuntimeError(err)
	}
	return nil
}

// Interpret interprets source and folds the outcome into a Result.
func (e *Engine) Interpret(source string) Result {
	switch e.Run(source).(type) {
	case nil:
		return ResultOK
	case *CompileError:
		return ResultCompileError
	default:
		return ResultRuntimeError
	}
}

// Interpret runs source on a fresh engine bound to the process
// streams.
func Interpret(source string) Result {
	return NewEngine().Interpret(source)
}

func convertRuntimeError(err error) error {
	rte, ok := err.(*vm.RuntimeError)
	if !ok {
		return &RuntimeError{Message: err.Error()}
	}
	out := &RuntimeError{
		Message: rte.Message,
		Line:    rte.Line,
	}
	for _, f := range rte.Stack {
		out.Stack = append(out.Stack, FrameTrace{Function: f.Function, Line: f.Line})
	}
	return out
}

func fromRuntime(v runtime.Value) Value {
	switch v.Kind {
	case runtime.KindNil:
		return NilValue()
	case runtime.KindBool:
		return BoolValue(v.B)
	case runtime.KindNumber:
		return NumberValue(v.Num)
	default:
		if s, ok := runtime.AsString(v); ok {
			return StringValue(s.Chars)
		}
		return Value{kind: ValueOther, str: v.String()}
	}
}

func (e *Engine) toRuntime(v Value) runtime.Value {
	switch v.kind {
	case ValueBool:
		return runtime.Bool(v.b)
	case ValueNumber:
		return runtime.Number(v.num)
	case ValueString:
		return runtime.ObjVal(e.heap.CopyString(v.str))
	default:
		return runtime.Nil()
	}
}
