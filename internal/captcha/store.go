package captcha

import (
	"sync"

	"github.com/google/uuid"
)

// SolutionStore holds operator-submitted captcha solutions keyed by job id.
// One writer (the API submit handler) and one consumer (the worker) exist
// per job; Take removes on read under the write lock so a solution can never
// be consumed twice.
type SolutionStore struct {
	mu        sync.RWMutex
	solutions map[uuid.UUID]string
}

// NewSolutionStore builds an empty store.
func NewSolutionStore() *SolutionStore {
	return &SolutionStore{solutions: make(map[uuid.UUID]string)}
}

// Put records a manual solution for a job, replacing any previous one.
func (s *SolutionStore) Put(jobID uuid.UUID, solution string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solutions[jobID] = solution
}

// Take atomically fetches and removes the solution for a job.
func (s *SolutionStore) Take(jobID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	solution, ok := s.solutions[jobID]
	if ok {
		delete(s.solutions, jobID)
	}
	return solution, ok
}

// Has reports whether a solution is waiting for a job.
func (s *SolutionStore) Has(jobID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.solutions[jobID]
	return ok
}
