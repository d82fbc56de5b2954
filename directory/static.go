package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/settlement-engine/generic"
)

// Static is an in-memory Directory. Tests and demo scenarios use it; the
// server binary reads employees from the sqlite store instead.
type Static struct {
	mu        sync.RWMutex
	employees map[string]Employee
}

func NewStatic(employees ...Employee) *Static {
	s := &Static{employees: make(map[string]Employee)}
	for _, e := range employees {
		s.employees[e.ID] = e
	}
	return s
}

// Put inserts or replaces an employee.
func (s *Static) Put(e Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[e.ID] = e
}

func (s *Static) GetEmployee(_ context.Context, id string) (*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return nil, generic.NewNotFound("employee", id)
	}
	return &e, nil
}

func (s *Static) ListEmployees(_ context.Context) ([]Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
