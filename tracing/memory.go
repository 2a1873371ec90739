package tracing

import (
	"math"
	"runtime"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// safeUint64ToInt64 clamps to the int64 maximum since otel attributes are
// signed
func safeUint64ToInt64(val uint64) int64 {
	if val > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(val)
}

// MemoryStats is a snapshot of the runtime's memory usage. Lambda bills and
// kills by memory, so runs record how much they used
type MemoryStats struct {
	HeapAlloc  int64 // bytes of allocated heap objects
	Sys        int64 // total bytes of memory obtained from the OS
	NumGC      int64 // number of completed GC cycles
	PauseTotal int64 // cumulative nanoseconds in GC stop-the-world pauses
}

// ReadMemoryStats captures current memory statistics
func ReadMemoryStats() MemoryStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return MemoryStats{
		HeapAlloc:  safeUint64ToInt64(memStats.HeapAlloc),
		Sys:        safeUint64ToInt64(memStats.Sys),
		NumGC:      int64(memStats.NumGC),
		PauseTotal: safeUint64ToInt64(memStats.PauseTotalNs),
	}
}

// SetMemoryAttributes records the memory in use at the end of a span, along
// with how much it changed since `before`
func SetMemoryAttributes(span trace.Span, prefix string, before, after MemoryStats) {
	span.SetAttributes(
		attribute.Int64(prefix+".memoryHeapBytes", after.HeapAlloc),
		attribute.Int64(prefix+".memorySysBytes", after.Sys),
		attribute.Int64(prefix+".memoryDeltaHeapBytes", after.HeapAlloc-before.HeapAlloc),
		attribute.Int64(prefix+".memoryDeltaNumGC", after.NumGC-before.NumGC),
		attribute.Int64(prefix+".memoryDeltaPauseTotalNs", after.PauseTotal-before.PauseTotal),
	)
}
