package catalog

import "sync"

// Table is an ordered source of definition rows.
type Table interface {
	Name() string
	Rows() []Row
	// Subscribe registers fn to run after every content change.
	Subscribe(fn func()) (cancel func())
}

// MemTable is an in-memory Table.
type MemTable struct {
	mu      sync.Mutex
	name    string
	rows    []Row
	subs    map[int]func()
	nextSub int
}

// NewMemTable creates a table holding a copy of rows.
func NewMemTable(name string, rows []Row) *MemTable {
	t := &MemTable{name: name, subs: make(map[int]func())}
	t.rows = append(t.rows, rows...)
	return t
}

// Name returns the table name.
func (t *MemTable) Name() string { return t.name }

// Rows returns a copy of the rows in order.
func (t *MemTable) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// Len returns the row count.
func (t *MemTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Replace swaps the table contents and notifies subscribers.
func (t *MemTable) Replace(rows []Row) {
	t.mu.Lock()
	t.rows = append([]Row(nil), rows...)
	subs := t.snapshotSubs()
	t.mu.Unlock()
	notify(subs)
}

// Append adds rows and notifies subscribers.
func (t *MemTable) Append(rows ...Row) {
	t.mu.Lock()
	t.rows = append(t.rows, rows...)
	subs := t.snapshotSubs()
	t.mu.Unlock()
	notify(subs)
}

// Subscribe registers a change callback.
func (t *MemTable) Subscribe(fn func()) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *MemTable) snapshotSubs() []func() {
	out := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func()) {
	for _, fn := range subs {
		fn()
	}
}
