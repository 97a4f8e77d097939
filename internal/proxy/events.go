package proxy

// EventType names a change notification.
type EventType string

// Proxy events.
const (
	EventUpdate EventType = "update"
	EventCommit EventType = "commit"
	EventReset  EventType = "reset"
)

// Manager events.
const (
	EventCreated EventType = "created"
	EventDeleted EventType = "deleted"
	EventChanged EventType = "changed"
)

// Event is delivered synchronously to listeners.
//
// Proxy events carry ProxyID. Update events also carry Property, Modified and
// the dirty set in Properties; commit and reset events list the affected
// property names in Properties. Manager events list proxy ids in IDs.
type Event struct {
	Type       EventType `json:"type"`
	ProxyID    string    `json:"proxy_id,omitempty"`
	Property   string    `json:"property,omitempty"`
	Modified   bool      `json:"modified,omitempty"`
	Properties []string  `json:"properties,omitempty"`
	IDs        []string  `json:"ids,omitempty"`
}

// Listener receives events.
type Listener func(Event)

type listenerEntry struct {
	id uint64
	fn Listener
}

// listeners is a subscription list. Iteration works on a snapshot so a
// listener may unsubscribe while being notified.
type listeners struct {
	next    uint64
	entries []listenerEntry
}

func (l *listeners) add(fn Listener) func() {
	l.next++
	id := l.next
	l.entries = append(l.entries, listenerEntry{id: id, fn: fn})
	return func() {
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners) snapshot() []listenerEntry {
	out := make([]listenerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *listeners) size() int { return len(l.entries) }
