package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// ReportStore keeps archived reports in memory and returns pseudo URIs.
type ReportStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{data: make(map[string][]byte)}
}

// PutReport persists the content and returns a memory:// URI.
func (s *ReportStore) PutReport(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = byteData
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a copy of the stored report.
func (s *ReportStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}
