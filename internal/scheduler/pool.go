package scheduler

import "sync"

// Pool tracks occupied worker slots and reports every change
type Pool struct {
	maxJobs        int
	active         int
	peak           int
	mu             sync.Mutex
	onSlotsChanged func(active int)
}

// NewPool creates a pool with the given capacity
func NewPool(maxJobs int) *Pool {
	return &Pool{maxJobs: maxJobs}
}

// SetOnSlotsChanged sets a callback invoked with the active count after each change
func (p *Pool) SetOnSlotsChanged(callback func(active int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Acquire claims a slot. Returns false when the pool is already full.
func (p *Pool) Acquire() bool {
	p.mu.Lock()
	if p.active >= p.maxJobs {
		p.mu.Unlock()
		return false
	}
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	callback := p.onSlotsChanged
	active := p.active
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(active)
	}
	return true
}

// Release returns a slot to the pool
func (p *Pool) Release() {
	p.mu.Lock()
	if p.active > 0 {
		p.active--
	}
	callback := p.onSlotsChanged
	active := p.active
	p.mu.Unlock()

	if callback != nil {
		callback(active)
	}
}

// Active returns the number of occupied slots
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Peak returns the highest number of simultaneously occupied slots seen
func (p *Pool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// MaxJobs returns the pool capacity
func (p *Pool) MaxJobs() int {
	return p.maxJobs
}
