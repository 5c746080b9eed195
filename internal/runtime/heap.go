package runtime

import (
	"fmt"
	"io"
)

// RootMarker is implemented by components owning GC roots (the VM, and
// the compiler while a compile is in flight). Markers register with the
// heap and are invoked at the start of every collection.
type RootMarker interface {
	MarkRoots(h *Heap)
}

// Approximate accounted sizes, standing in for the C object layouts.
// Exact numbers only matter for the collection trigger; the invariant
// is that every allocation and release moves bytesAllocated by the same
// recorded amount.
const (
	objHeaderSize  = 32
	stringBaseSize = objHeaderSize + 24
	funcBaseSize   = objHeaderSize + 64
	nativeSize     = objHeaderSize + 16
	upvalueSize    = objHeaderSize + 40
	closureBase    = objHeaderSize + 24
	valueSize      = 24

	initialNextGC = 1024 * 1024
	growFactor    = 2
)

// Heap owns every managed object, the intern table, allocation
// accounting and the mark-sweep collector.
type Heap struct {
	objects        Obj
	strings        Table
	bytesAllocated int
	nextGC         int

	// gray worklist; plain Go slice so its growth cannot re-enter the
	// collector
	gray []Obj

	markers []RootMarker

	// Stress forces a collection on every allocation.
	Stress bool
	log    io.Writer
}

// NewHeap constructs an empty heap.
func NewHeap() *Heap {
	return &Heap{nextGC: initialNextGC}
}

// SetLog enables collection logging to w (nil disables).
func (h *Heap) SetLog(w io.Writer) {
	h.log = w
}

// AddRootMarker registers a root provider.
func (h *Heap) AddRootMarker(m RootMarker) {
	h.markers = append(h.markers, m)
}

// RemoveRootMarker unregisters a root provider.
func (h *Heap) RemoveRootMarker(m RootMarker) {
	for i, existing := range h.markers {
		if existing == m {
			h.markers = append(h.markers[:i], h.markers[i+1:]...)
			return
		}
	}
}

// BytesAllocated returns the current accounted heap size.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// LiveObjects counts objects on the managed list.
func (h *Heap) LiveObjects() int {
	n := 0
	for o := h.objects; o != nil; o = o.Header().next {
		n++
	}
	return n
}

// allocate links a fresh object into the managed list, charging size
// bytes. The collection check runs before the object becomes visible,
// so a triggered collection can never reap it.
func (h *Heap) allocate(obj Obj, size int) {
	if h.Stress || h.bytesAllocated+size > h.nextGC {
		h.Collect()
	}
	hdr := obj.Header()
	hdr.size = size
	hdr.next = h.objects
	h.objects = obj
	h.bytesAllocated += size
}

// HashString computes the 32-bit FNV-1a hash used by interning.
func HashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// CopyString interns chars, returning the canonical string object.
func (h *Heap) CopyString(chars string) *ObjString {
	return h.intern(chars)
}

// TakeString interns an already-built string, e.g. a concatenation
// result. With Go-owned memory it differs from CopyString only in
// intent.
func (h *Heap) TakeString(chars string) *ObjString {
	return h.intern(chars)
}

func (h *Heap) intern(chars string) *ObjString {
	hash := HashString(chars)
	if s := h.strings.FindString(chars, hash); s != nil {
		return s
	}
	s := &ObjString{Chars: chars, Hash: hash}
	h.allocate(s, stringBaseSize+len(chars))
	h.strings.Set(s, Nil())
	return s
}

// NewFunction allocates an empty function for the compiler to fill.
func (h *Heap) NewFunction() *ObjFunction {
	fn := &ObjFunction{}
	h.allocate(fn, funcBaseSize)
	return fn
}

// ReaccountFunction recharges fn for its final chunk contents. Called
// once when the compiler closes the function.
func (h *Heap) ReaccountFunction(fn *ObjFunction) {
	size := funcBaseSize +
		len(fn.Chunk.Code) +
		8*len(fn.Chunk.Lines) +
		valueSize*len(fn.Chunk.Constants)
	h.bytesAllocated += size - fn.size
	fn.size = size
}

// NewNative wraps a host function.
func (h *Heap) NewNative(fn NativeFn) *ObjNative {
	n := &ObjNative{Function: fn}
	h.allocate(n, nativeSize)
	return n
}

// NewClosure allocates a closure with room for the function's upvalues.
func (h *Heap) NewClosure(fn *ObjFunction) *ObjClosure {
	c := &ObjClosure{
		Function: fn,
		Upvalues: make([]*ObjUpvalue, fn.UpvalueCount),
	}
	h.allocate(c, closureBase+8*fn.UpvalueCount)
	return c
}

// NewUpvalue allocates an open upvalue for a stack slot.
func (h *Heap) NewUpvalue(slot int) *ObjUpvalue {
	uv := &ObjUpvalue{Slot: slot, Open: true}
	h.allocate(uv, upvalueSize)
	return uv
}

// MarkValue grays the object inside v, if any.
func (h *Heap) MarkValue(v Value) {
	if v.Kind == KindObj {
		h.MarkObject(v.Obj)
	}
}

// MarkObject grays an object exactly once per cycle.
func (h *Heap) MarkObject(o Obj) {
	if o == nil {
		return
	}
	hdr := o.Header()
	if hdr.marked {
		return
	}
	hdr.marked = true
	h.gray = append(h.gray, o)
}

// Collect runs a full mark-sweep cycle.
func (h *Heap) Collect() {
	if h.log != nil {
		fmt.Fprintf(h.log, "-- gc begin\n")
	}
	before := h.bytesAllocated

	h.markRoots()
	h.traceReferences()
	h.strings.RemoveUnmarked()
	h.sweep()

	h.nextGC = h.bytesAllocated * growFactor
	if h.log != nil {
		fmt.Fprintf(h.log, "-- gc end\n")
		fmt.Fprintf(h.log, "   collected %d bytes (from %d to %d) next at %d\n",
			before-h.bytesAllocated, before, h.bytesAllocated, h.nextGC)
	}
}

func (h *Heap) markRoots() {
	for _, m := range h.markers {
		m.MarkRoots(h)
	}
}

func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o Obj) {
	switch obj := o.(type) {
	case *ObjClosure:
		h.MarkObject(obj.Function)
		for _, uv := range obj.Upvalues {
			if uv != nil {
				h.MarkObject(uv)
			}
		}
	case *ObjFunction:
		if obj.Name != nil {
			h.MarkObject(obj.Name)
		}
		for _, c := range obj.Chunk.Constants {
			h.MarkValue(c)
		}
	case *ObjUpvalue:
		// an open upvalue's slot is reached through the stack root
		h.MarkValue(obj.Closed)
	case *ObjString, *ObjNative:
		// no out-references
	}
}

func (h *Heap) sweep() {
	var previous Obj
	object := h.objects
	for object != nil {
		hdr := object.Header()
		if hdr.marked {
			hdr.marked = false
			previous = object
			object = hdr.next
			continue
		}
		unreached := object
		object = hdr.next
		if previous != nil {
			previous.Header().next = object
		} else {
			h.objects = object
		}
		h.release(unreached)
	}
}

// release drops an unreachable object from the accounting. The Go
// allocator reclaims the memory once nothing references it; the gray
// worklist is never touched here.
func (h *Heap) release(o Obj) {
	hdr := o.Header()
	h.bytesAllocated -= hdr.size
	hdr.next = nil
}
