package camera

import "sync"

// Mailbox is a single-slot frame buffer. A newer frame replaces an unread
// older one; readers get a private copy.
type Mailbox struct {
	mu    sync.Mutex
	frame Frame
	ok    bool
}

// Put stores f, overwriting any previous frame.
func (m *Mailbox) Put(f Frame) {
	m.mu.Lock()
	m.frame = f
	m.ok = true
	m.mu.Unlock()
}

// Get returns a copy of the latest frame, or false if none arrived yet.
func (m *Mailbox) Get() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ok {
		return Frame{}, false
	}
	return m.frame.Clone(), true
}

// Clear empties the slot.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	m.frame = Frame{}
	m.ok = false
	m.mu.Unlock()
}
