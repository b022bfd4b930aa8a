package state

type entryKind uint8

const (
	entryWrite entryKind = iota
	entryEvent
)

type journalEntry struct {
	kind     entryKind
	key      string
	prev     []byte
	wasDirty bool
}

func (e journalEntry) undo(l *Ledger) {
	switch e.kind {
	case entryWrite:
		l.cache[e.key] = e.prev
		if !e.wasDirty {
			delete(l.dirty, e.key)
		}
	case entryEvent:
		if n := len(l.events); n > 0 {
			l.events = l.events[:n-1]
		}
	}
}
