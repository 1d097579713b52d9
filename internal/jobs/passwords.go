package jobs

import "sync"

// pendingPasswordStore holds encryption passwords in memory only, keyed by
// job id, so they are never written to the durable job record. A worker
// takes (reads and deletes) the password exactly once when it writes the
// encrypted archive.
type pendingPasswordStore struct {
	mu        sync.Mutex
	passwords map[string]string
}

var pendingPasswords = &pendingPasswordStore{passwords: make(map[string]string)}

func (p *pendingPasswordStore) put(jobID, password string) {
	if password == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwords[jobID] = password
}

func (p *pendingPasswordStore) take(jobID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	pw := p.passwords[jobID]
	delete(p.passwords, jobID)
	return pw
}
