package system

import (
	"runtime"
	"testing"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	if info.OS != runtime.GOOS || info.Arch != runtime.GOARCH {
		t.Errorf("unexpected platform %s/%s", info.OS, info.Arch)
	}
	if info.CPUs < 1 || info.Goroutines < 1 || info.Uptime == "" {
		t.Errorf("incomplete info %+v", info)
	}
}

func TestBToMb(t *testing.T) {
	if got := bToMb(3 * 1024 * 1024); got != 3 {
		t.Errorf("bToMb = %d, want 3", got)
	}
}
