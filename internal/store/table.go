package store

// Entry is the serialized form of one table row.
type Entry[K comparable, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// Table is an append-only keyed store. Rows are never physically removed;
// retirement is expressed through fields on V. Iteration follows insertion
// order so that exports and scans are deterministic.
type Table[K comparable, V any] struct {
	rows  map[K]V
	order []K
}

func NewTable[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{rows: make(map[K]V)}
}

func (t *Table[K, V]) Get(k K) (V, bool) {
	v, ok := t.rows[k]
	return v, ok
}

func (t *Table[K, V]) Has(k K) bool {
	_, ok := t.rows[k]
	return ok
}

// Put writes v under k and records the inverse on tx.
func (t *Table[K, V]) Put(tx *Tx, k K, v V) {
	prev, had := t.rows[k]
	if !had {
		t.order = append(t.order, k)
	}
	t.rows[k] = v
	tx.OnRollback(func() {
		if had {
			t.rows[k] = prev
			return
		}
		delete(t.rows, k)
		t.order = t.order[:len(t.order)-1]
	})
}

func (t *Table[K, V]) Len() int {
	return len(t.order)
}

// Range calls fn for each row in insertion order until fn returns false.
func (t *Table[K, V]) Range(fn func(k K, v V) bool) {
	for _, k := range t.order {
		if !fn(k, t.rows[k]) {
			return
		}
	}
}

func (t *Table[K, V]) Entries() []Entry[K, V] {
	out := make([]Entry[K, V], 0, len(t.order))
	for _, k := range t.order {
		out = append(out, Entry[K, V]{Key: k, Value: t.rows[k]})
	}
	return out
}

// Load replaces the table contents. It is not transactional and is meant for
// restoring a snapshot before the engine starts serving.
func (t *Table[K, V]) Load(entries []Entry[K, V]) {
	t.rows = make(map[K]V, len(entries))
	t.order = t.order[:0]
	for _, e := range entries {
		if _, dup := t.rows[e.Key]; !dup {
			t.order = append(t.order, e.Key)
		}
		t.rows[e.Key] = e.Value
	}
}
