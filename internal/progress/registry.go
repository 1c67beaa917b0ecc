package progress

import "sync"

// Registry holds the live hubs keyed by job id. The orchestrator creates
// a hub at submit and removes it when the job record is evicted.
type Registry struct {
	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hubs: make(map[string]*Hub)}
}

// Create returns the hub for a job id, creating it if absent.
func (r *Registry) Create(jobID string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hubs[jobID]; ok {
		return h
	}
	h := NewHub(jobID)
	r.hubs[jobID] = h
	return h
}

// Get looks up the hub for a job id.
func (r *Registry) Get(jobID string) (*Hub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[jobID]
	return h, ok
}

// Remove closes and forgets a job's hub.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	h := r.hubs[jobID]
	delete(r.hubs, jobID)
	r.mu.Unlock()
	if h != nil {
		h.Close()
	}
}
