package logging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"xfer/application"
)

// FileSink is the Warning Sink (C11): an append-only UTF-8 log at a
// fixed path, one "[timestamp] message" line per warning. Every I/O
// failure is swallowed; the sink must never cause a session to fail
// (spec §4.11).
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink returns a WarningSink appending to path. The file is
// opened lazily, once per Warn call, so a sink can be constructed
// before its directory necessarily exists.
func NewFileSink(path string) application.WarningSink {
	return &FileSink{path: path}
}

func (s *FileSink) Warn(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339), message)
	_, _ = f.WriteString(line)
}
