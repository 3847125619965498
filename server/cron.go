package server

import (
	"runtime"

	"github.com/golang/glog"

	"github.com/microcosm-cc/imagecache/config"
	"github.com/microcosm-cc/imagecache/fetch"
)

// Field name   | Mandatory? | Allowed values  | Allowed special characters
// ----------   | ---------- | --------------  | --------------------------
// Seconds      | Yes        | 0-59            | * / , -
// Minutes      | Yes        | 0-59            | * / , -
// Hours        | Yes        | 0-23            | * / , -
// Day of month | Yes        | 1-31            | * / , - ?
// Month        | Yes        | 1-12 or JAN-DEC | * / , -
// Day of week  | Yes        | 0-6 or SUN-SAT  | * / , - ?

func jobs(conf *config.Config, co *fetch.Coordinator) map[string]func() {
	j := map[string]func(){}

	if conf.MemoryHighWaterMB > 0 {
		w := &MemoryWatcher{
			HighWater:  uint64(conf.MemoryHighWaterMB) * 1024 * 1024,
			ClearCache: conf.ClearCacheOnPressure,
			Trim:       co.Trim,
		}
		j[conf.MemoryCheckSchedule] = func() { w.Check() }
	}

	return j
}

// MemoryWatcher trims the fetch core when the heap grows past a high water
// mark
type MemoryWatcher struct {
	HighWater  uint64
	ClearCache bool
	Trim       func(clearCache bool)

	// HeapAlloc reads the current heap size, runtime.MemStats when nil
	HeapAlloc func() uint64
}

// Check samples the heap and trims if it is over the mark. It reports whether
// a trim happened.
func (m *MemoryWatcher) Check() bool {
	read := m.HeapAlloc
	if read == nil {
		read = heapAlloc
	}

	used := read()
	if used <= m.HighWater {
		return false
	}

	glog.Warningf(
		"heap at %d bytes is over the %d byte mark, trimming (clear cache: %t)",
		used,
		m.HighWater,
		m.ClearCache,
	)
	m.Trim(m.ClearCache)

	return true
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
