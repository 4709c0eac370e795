//go:build !windows

package resource

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdDirCandidates lists the descriptor pseudo-directories to try, in
// order, across unix-like platforms (procfs on Linux, devfs on
// Darwin/BSD).
var fdDirCandidates = []string{"/proc/self/fd", "/dev/fd"}

// UnixMonitor queries RLIMIT_NOFILE and the descriptor pseudo-filesystem
// for a best-effort open-file count.
type UnixMonitor struct{}

// NewMonitor returns the platform Monitor: Getrlimit-backed on unix.
func NewMonitor() Monitor {
	return &UnixMonitor{}
}

func (m *UnixMonitor) FDLimit() (current, limit uint64, ok bool) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 0, 0, false
	}

	current = countOpenDescriptors()
	return current, uint64(rlimit.Cur), true
}

// countOpenDescriptors is best-effort: on any error it returns 0,
// which only makes WarnIfLow's estimate conservative, never alarmist.
func countOpenDescriptors() uint64 {
	for _, dir := range fdDirCandidates {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		return uint64(len(entries))
	}
	return 0
}
