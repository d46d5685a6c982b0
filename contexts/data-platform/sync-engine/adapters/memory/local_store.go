package memory

import (
	"sort"
	"sync"
)

// LocalStore is a process-local ports.LocalStore. SetFailure makes every
// call return the given error until cleared with nil.
type LocalStore struct {
	mu      sync.RWMutex
	values  map[string]string
	failure error
}

func NewLocalStore() *LocalStore {
	return &LocalStore{values: make(map[string]string)}
}

func (s *LocalStore) SetFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

func (s *LocalStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return "", false, s.failure
	}
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *LocalStore) Set(key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	s.values[key] = value
	return nil
}

func (s *LocalStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	delete(s.values, key)
	return nil
}

func (s *LocalStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Raw returns the stored text for key, bypassing failure injection.
func (s *LocalStore) Raw(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

// Put writes raw text for key, bypassing failure injection.
func (s *LocalStore) Put(key string, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}
