package cinder

import (
	"fmt"
	"time"
)

// nativeSpec describes a standard native installed into every engine.
type nativeSpec struct {
	name string
	fn   NativeFunc
}

var standardNatives []nativeSpec

func registerNative(spec nativeSpec) {
	for _, existing := range standardNatives {
		if existing.name == spec.name {
			panic(fmt.Sprintf("native %s already registered", spec.name))
		}
	}
	standardNatives = append(standardNatives, spec)
}

func init() {
	registerNative(nativeSpec{name: "clock", fn: clockNative})
}

// clockNative returns elapsed wall-clock time in seconds.
func clockNative(args []Value) Value {
	return NumberValue(float64(time.Now().UnixNano()) / 1e9)
}
