package system

import (
	"runtime"
	"time"
)

var started = time.Now()

// Info is the process snapshot reported by the admin health endpoint.
type Info struct {
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	GoVersion  string `json:"go_version"`
	CPUs       int    `json:"cpus"`
	Goroutines int    `json:"goroutines"`
	Uptime     string `json:"uptime"`
	AllocMB    uint64 `json:"alloc_mb"`
	SysMB      uint64 `json:"sys_mb"`
}

func GetInfo() Info {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Info{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		GoVersion:  runtime.Version(),
		CPUs:       runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(started).Truncate(time.Second).String(),
		AllocMB:    bToMb(m.Alloc),
		SysMB:      bToMb(m.Sys),
	}
}
