package engine

import "sync"

// runLocks tracks workflows with a run in progress in this process.
type runLocks struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunLocks() *runLocks {
	return &runLocks{running: make(map[string]struct{})}
}

func runKey(creatorID, workflowID string) string {
	return creatorID + "\x00" + workflowID
}

// tryLock marks key running. It returns false if it already was.
func (l *runLocks) tryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.running[key]; ok {
		return false
	}
	l.running[key] = struct{}{}
	return true
}

func (l *runLocks) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, key)
}
