package job

// LockCount reports the number of live per-job lock entries.
func LockCount(o *Orchestrator) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.locks)
}
