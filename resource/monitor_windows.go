//go:build windows

package resource

// WindowsMonitor is a no-op: Windows has no RLIMIT_NOFILE analogue
// exposed through golang.org/x/sys, and spec §4.10 explicitly allows
// skipping the check entirely where the query is unavailable.
type WindowsMonitor struct{}

// NewMonitor returns the platform Monitor: always-unavailable on
// Windows.
func NewMonitor() Monitor {
	return &WindowsMonitor{}
}

func (m *WindowsMonitor) FDLimit() (current, limit uint64, ok bool) {
	return 0, 0, false
}
