package runtime

// Obj is implemented by every heap-allocated variant. All variants
// embed ObjHeader, which carries the GC mark bit, the intrusive link
// for the heap's object list, and the accounted allocation size.
type Obj interface {
	Header() *ObjHeader
}

// ObjHeader is the common prefix of every heap object.
type ObjHeader struct {
	marked bool
	next   Obj
	size   int
}

// Header satisfies Obj for every embedding variant.
func (h *ObjHeader) Header() *ObjHeader { return h }

// Marked reports whether the collection in progress has marked the
// object. Sweep clears the bit on survivors, so outside a collection
// cycle this is always false.
func (h *ObjHeader) Marked() bool { return h.marked }

// ObjString is an immutable interned string with its FNV-1a hash.
// Two byte-equal strings are always the same object.
type ObjString struct {
	ObjHeader
	Chars string
	Hash  uint32
}

// ObjFunction is a compiled function body. Immutable once the
// compiler closes it.
type ObjFunction struct {
	ObjHeader
	Arity        int
	UpvalueCount int
	Chunk        Chunk
	Name         *ObjString // nil for the top-level script
}

// NativeFn is the host-function contract.
type NativeFn func(args []Value) Value

// ObjNative wraps a host-provided function.
type ObjNative struct {
	ObjHeader
	Function NativeFn
}

// ObjUpvalue is a captured variable. While open it refers to a live
// stack slot by index; closing copies the slot into Closed, after
// which the upvalue is independent of the stack.
type ObjUpvalue struct {
	ObjHeader
	Slot     int
	Closed   Value
	Open     bool
	NextOpen *ObjUpvalue // open-upvalue list, sorted by descending slot
}

// ObjClosure pairs a function with its captured upvalues. The VM only
// ever invokes closures; a bare function never reaches the stack.
type ObjClosure struct {
	ObjHeader
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}
