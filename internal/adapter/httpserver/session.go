package httpserver

import "sync"

// sessionRegistry maps a conversation session id to the job it has
// resolved to, if any. A session has no job until its first message
// successfully compiles a command into a created Job; every later
// message in the same session refines that job rather than creating a
// new one. This is in-memory only — a session that outlives the process
// is simply gone, which is acceptable since ShipAgent runs single-process
// with at most one running job at a time.
type sessionRegistry struct {
	mu   sync.RWMutex
	jobs map[string]string // sessionID -> jobID
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{jobs: make(map[string]string)}
}

func (r *sessionRegistry) jobFor(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobID, ok := r.jobs[sessionID]
	return jobID, ok
}

func (r *sessionRegistry) bind(sessionID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[sessionID] = jobID
}
