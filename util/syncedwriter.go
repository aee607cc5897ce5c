package util

import (
	"io"
	"sync"
)

// SyncedWriter serializes writes from multiple goroutines (a job's stdout
// and stderr streams, in particular) into one underlying writer.
type SyncedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncedWriter wraps w.
func NewSyncedWriter(w io.Writer) *SyncedWriter {
	return &SyncedWriter{w: w}
}

func (s *SyncedWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
