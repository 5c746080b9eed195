package vm

import "github.com/xirelogy/go-cinder/internal/bytecode"

// TraceInfo describes a single instruction dispatch.
type TraceInfo struct {
	Op       byte
	OpName   string
	Function string
	Line     int
	IP       int
}

// TraceHook observes instruction dispatch for debugging/profiling.
type TraceHook func(TraceInfo)

func (vm *VM) trace(frame *CallFrame) {
	fn := frame.closure.Function
	op := fn.Chunk.Code[frame.ip]
	name := "script"
	if fn.Name != nil {
		name = fn.Name.Chars
	}
	vm.traceHook(TraceInfo{
		Op:       op,
		OpName:   bytecode.OpName(op),
		Function: name,
		Line:     fn.Chunk.Lines[frame.ip],
		IP:       frame.ip,
	})
}
