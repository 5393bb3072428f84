package pipeline

import (
	"runtime"
	"time"
)

// snapshot 超时时的运行时诊断信息
func snapshot(started time.Time, step string, attempt int, limit time.Duration) map[string]any {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return map[string]any{
		"elapsed_ms":       time.Since(started).Milliseconds(),
		"limit_ms":         limit.Milliseconds(),
		"step":             step,
		"attempt":          attempt,
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_bytes": ms.HeapAlloc,
		"sys_bytes":        ms.Sys,
		"num_gc":           ms.NumGC,
	}
}
