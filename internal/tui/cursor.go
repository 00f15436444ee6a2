package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// cursorMsg is a snapshot of the cursor after one or more moves.
type cursorMsg struct {
	Step    int
	Visible bool
}

// Cursor is the on-screen step marker driven by the playback engine. Its
// methods never block; moves made while the UI is busy are coalesced into
// one update.
type Cursor struct {
	mu      sync.Mutex
	step    int
	visible bool
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewCursor() *Cursor {
	return &Cursor{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *Cursor) Show() { c.update(func() { c.visible = true }) }
func (c *Cursor) Hide() { c.update(func() { c.visible = false }) }
func (c *Cursor) Reset() { c.update(func() { c.step = 0 }) }
func (c *Cursor) Next() { c.update(func() { c.step++ }) }

func (c *Cursor) update(f func()) {
	c.mu.Lock()
	f()
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Cursor) snapshot() cursorMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cursorMsg{Step: c.step, Visible: c.visible}
}

// Listen waits for the next cursor move.
func (c *Cursor) Listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-c.notify:
			return c.snapshot()
		case <-c.done:
			return nil
		}
	}
}

// Close releases a pending Listen.
func (c *Cursor) Close() {
	c.once.Do(func() { close(c.done) })
}
