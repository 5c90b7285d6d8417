// Package changefeed delivers row-change notifications from the store. A
// notification only says that something changed; readers resync to learn what.
package changefeed

import (
	"sync"

	"github.com/google/uuid"
)

const (
	TableRooms     = "rooms"
	TableTeams     = "teams"
	TableQuestions = "questions"
	TableBuzzes    = "buzzes"
	TableWagers    = "wagers"
)

// AllTables is every table a room watcher cares about.
var AllTables = []string{TableRooms, TableTeams, TableQuestions, TableBuzzes, TableWagers}

// Change is one row notification. Reconnect is set when the feed lost its
// connection and missed notifications may exist.
type Change struct {
	Table     string    `json:"table"`
	Op        string    `json:"op"`
	RoomID    uuid.UUID `json:"room_id"`
	RowID     uuid.UUID `json:"row_id"`
	Reconnect bool      `json:"-"`
}

type Handler func(Change)

// Feed lets a client watch one room's tables.
type Feed interface {
	Watch(roomID uuid.UUID, tables []string, fn Handler) (cancel func())
}

type watcher struct {
	roomID uuid.UUID
	tables map[string]bool
	fn     Handler
}

// hub fans changes out to the watchers whose room and table match.
type hub struct {
	mu       sync.RWMutex
	next     int
	watchers map[int]watcher
}

func newHub() *hub {
	return &hub{watchers: make(map[int]watcher)}
}

func (h *hub) Watch(roomID uuid.UUID, tables []string, fn Handler) func() {
	set := make(map[string]bool, len(tables))
	for _, t := range tables {
		set[t] = true
	}

	h.mu.Lock()
	id := h.next
	h.next++
	h.watchers[id] = watcher{roomID: roomID, tables: set, fn: fn}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.watchers, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub) dispatch(c Change) int {
	h.mu.RLock()
	var targets []Handler
	for _, w := range h.watchers {
		if c.Reconnect || (w.roomID == c.RoomID && w.tables[c.Table]) {
			targets = append(targets, w.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		fn(c)
	}
	return len(targets)
}

// Memory is an in-process feed. Notify is called by whatever mutates rows.
type Memory struct {
	*hub
}

func NewMemory() *Memory {
	return &Memory{hub: newHub()}
}

// Notify delivers c to matching watchers and returns how many were notified.
func (m *Memory) Notify(c Change) int {
	return m.dispatch(c)
}
