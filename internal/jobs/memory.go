package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process. Used in tests and in-memory mode.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	job       Job
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, job *Job, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = memoryEntry{job: *job, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	job := e.job
	return &job, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, ttl time.Duration, fn func(*Job) error) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	job := e.job
	if err := fn(&job); err != nil {
		return nil, err
	}
	m.jobs[id] = memoryEntry{job: job, expiresAt: m.now().Add(ttl)}
	return &job, nil
}

func (m *MemoryStore) Running(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.jobs {
		if e, ok := m.live(id); ok && !e.job.Done() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// live must be called with mu held. Expired entries are dropped.
func (m *MemoryStore) live(id string) (memoryEntry, bool) {
	e, ok := m.jobs[id]
	if !ok {
		return e, false
	}
	if m.now().After(e.expiresAt) {
		delete(m.jobs, id)
		return e, false
	}
	return e, true
}
