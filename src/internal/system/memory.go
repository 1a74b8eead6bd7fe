package system

import (
	"log/slog"
	"runtime"
)

// LogMemoryUsage logs heap figures at debug level; viewer sessions call it
// when they release their renderer.
func LogMemoryUsage(tag string) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	slog.Debug("memory usage",
		"tag", tag,
		"alloc_mb", bToMb(m.Alloc),
		"heap_objects", m.HeapObjects,
		"sys_mb", bToMb(m.Sys),
		"num_gc", m.NumGC,
		"goroutines", runtime.NumGoroutine(),
	)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
