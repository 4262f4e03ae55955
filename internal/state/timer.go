package state

// Timer is the companion stopwatch of an event instance. All timestamps
// are epoch milliseconds; Target and Offset are millisecond durations.
type Timer struct {
	Target    int64  `json:"target"`
	StartedAt *int64 `json:"started_at"`
	Offset    int64  `json:"offset"`
	Message   string `json:"message"`
}

// Running reports whether the timer is currently counting.
func (t *Timer) Running() bool { return t.StartedAt != nil }

// Start begins counting at now. Starting a running timer is a user error.
func (t *Timer) Start(now int64) error {
	if t.Running() {
		return ErrTimerAlreadyStarted
	}
	t.StartedAt = &now
	return nil
}

// Stop halts the timer at now, folding the running span into the offset.
// Stopping a stopped timer is a user error.
func (t *Timer) Stop(now int64) error {
	if !t.Running() {
		return ErrTimerAlreadyStopped
	}
	t.Offset += now - *t.StartedAt
	t.StartedAt = nil
	return nil
}

// Reset zeroes the accumulated offset. A running timer keeps running,
// re-based to now, so it continues from zero elapsed.
func (t *Timer) Reset(now int64) {
	t.Offset = 0
	if t.Running() {
		t.StartedAt = &now
	}
}

// Elapsed returns the total elapsed milliseconds at now.
func (t *Timer) Elapsed(now int64) int64 {
	if t.Running() {
		return t.Offset + now - *t.StartedAt
	}
	return t.Offset
}
