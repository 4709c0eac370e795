// Package resource implements the Resource Monitor (C10): a
// best-effort, advisory check of file-descriptor headroom before the
// receiver opens a batch of file writers (spec §4.10).
package resource

// Monitor reports the process's file-descriptor soft limit and
// current usage where the platform exposes one. Implementations that
// cannot query this (Windows) report ok=false and the caller skips
// the warning entirely, per spec §4.10.
type Monitor interface {
	FDLimit() (current, limit uint64, ok bool)
}

// WarnIfLow reports whether incomingFiles more open files would push
// usage past warnRatio of the soft limit (the receiver passes
// settings.ResourceMonitorWarnRatio, spec §4.10's 0.8 ratio). It never
// fails: an unavailable query is treated as "nothing to warn about".
func WarnIfLow(m Monitor, incomingFiles uint64, warnRatio float64) (shouldWarn bool, current, limit uint64) {
	current, limit, ok := m.FDLimit()
	if !ok || limit == 0 {
		return false, 0, 0
	}
	projected := current + incomingFiles
	return float64(projected) > warnRatio*float64(limit), current, limit
}
