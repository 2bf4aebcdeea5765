package task

import "sync"

// ResultStore maps task ids to their serialized result list.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]string
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]string)}
}

func (s *ResultStore) Put(taskID, metadata string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[taskID] = metadata
}

func (s *ResultStore) Get(taskID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.results[taskID]
	return m, ok
}
