package session

import (
	"sync"
	"time"

	"github.com/psds-microservice/support-chat/internal/model"
)

// Room is the view state of one ticket chat: the message list and the set of
// operators present. It is fed by socket events and read by the UI.
type Room struct {
	mu       sync.Mutex
	messages []model.Message
	index    map[uint64]int
	presence []uint64
	onChange func()
}

func NewRoom() *Room {
	return &Room{index: make(map[uint64]int)}
}

// OnChange sets the function called after every mutation. It runs on the
// goroutine that made the change, outside the room lock.
func (r *Room) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Reset replaces the message list with history.
func (r *Room) Reset(history []model.Message) {
	r.mu.Lock()
	r.messages = append([]model.Message(nil), history...)
	r.index = make(map[uint64]int, len(history))
	for i, m := range r.messages {
		r.index[m.ID] = i
	}
	fn := r.onChange
	r.mu.Unlock()
	notify(fn)
}

// Append adds an incoming message at the end.
func (r *Room) Append(m model.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.index[m.ID] = len(r.messages) - 1
	fn := r.onChange
	r.mu.Unlock()
	notify(fn)
}

// MarkDeleted sets the deletion marker of id. Unknown ids are ignored.
func (r *Room) MarkDeleted(id uint64, at time.Time) bool {
	r.mu.Lock()
	i, ok := r.index[id]
	if ok && r.messages[i].DeletedAt == nil {
		r.messages[i].DeletedAt = &at
	}
	fn := r.onChange
	r.mu.Unlock()
	if ok {
		notify(fn)
	}
	return ok
}

// SetPresence replaces the presence set.
func (r *Room) SetPresence(ids []uint64) {
	r.mu.Lock()
	r.presence = append([]uint64(nil), ids...)
	fn := r.onChange
	r.mu.Unlock()
	notify(fn)
}

// Message looks up a message by id.
func (r *Room) Message(id uint64) (model.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return model.Message{}, false
	}
	return r.messages[i], true
}

// Snapshot is a copy of the room safe to render.
type Snapshot struct {
	Messages []model.Message
	Presence []uint64
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Messages: append([]model.Message(nil), r.messages...),
		Presence: append([]uint64(nil), r.presence...),
	}
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}
