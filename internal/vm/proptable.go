package vm

const (
	propTableInitialCapacity = 8
	propTableMaxLoadFactor   = 0.75

	// propEntrySize approximates the retained bytes of one slot for heap
	// accounting. Entries are flat, so slot count dominates retained size.
	propEntrySize = 48
)

type propEntry struct {
	key      string
	value    Value
	occupied bool
	deleted  bool
}

// PropTable is the storage engine behind every object: an open-addressing
// hash table from string keys to Values. FNV-1a hashing, linear probing,
// tombstoned deletes. Capacity never shrinks; tombstones are reclaimed only
// by a resize.
type PropTable struct {
	entries    []propEntry
	count      int
	tombstones int
	keyBytes   int64

	// account reserves (positive) or returns (negative) retained bytes with
	// the collector. A non-nil error vetoes the growth that triggered it.
	account func(delta int64) error
}

// NewPropTable creates a table with the default initial capacity.
func NewPropTable(account func(delta int64) error) *PropTable {
	return NewPropTableWithCapacity(propTableInitialCapacity, account)
}

// NewPropTableWithCapacity creates a table pre-sized to hold capacity slots.
func NewPropTableWithCapacity(capacity int, account func(delta int64) error) *PropTable {
	if capacity < propTableInitialCapacity {
		capacity = propTableInitialCapacity
	}
	return &PropTable{
		entries: make([]propEntry, capacity),
		account: account,
	}
}

// Count returns the number of live entries.
func (t *PropTable) Count() int {
	return t.count
}

// Capacity returns the current slot count.
func (t *PropTable) Capacity() int {
	return len(t.entries)
}

// RetainedBytes reports the approximate heap bytes retained by the table.
func (t *PropTable) RetainedBytes() int64 {
	return int64(len(t.entries))*propEntrySize + t.keyBytes
}

// findEntry probes for key starting at hash % capacity. It returns the
// matching live slot, or the slot a new binding should use: the first
// tombstone seen on the probe path if any, else the first truly empty slot.
func findEntry(entries []propEntry, key string) *propEntry {
	hash := hashString(key)
	idx := int(hash % uint32(len(entries)))
	var tombstone *propEntry

	for {
		e := &entries[idx]
		if !e.occupied {
			if tombstone != nil {
				return tombstone
			}
			return e
		}
		if e.deleted {
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
		idx = (idx + 1) % len(entries)
	}
}

// Get returns the value bound to key.
func (t *PropTable) Get(key string) (Value, bool) {
	if t.count == 0 {
		return Value{}, false
	}
	e := findEntry(t.entries, key)
	if !e.occupied || e.deleted {
		return Value{}, false
	}
	return e.value, true
}

// Has reports whether key has a live binding.
func (t *PropTable) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

// Set binds key to value, growing first if the load factor would be
// exceeded. It reports whether the key is new. A vetoed resize leaves the
// table at its prior capacity and fails the set.
func (t *PropTable) Set(key string, value Value) (bool, error) {
	if float64(t.count+t.tombstones+1) > float64(len(t.entries))*propTableMaxLoadFactor {
		if err := t.resize(len(t.entries) * 2); err != nil {
			return false, err
		}
	}

	e := findEntry(t.entries, key)
	isNew := !e.occupied || e.deleted
	if isNew {
		if t.account != nil {
			if err := t.account(int64(len(key))); err != nil {
				return false, err
			}
		}
		if e.deleted {
			t.tombstones--
		}
		t.count++
		t.keyBytes += int64(len(key))
		e.key = cloneString(key)
	}
	e.value = value
	e.occupied = true
	e.deleted = false
	return isNew, nil
}

// SetBatch binds count pairs at once, growing a single time up front so the
// inserts never trigger an incremental rehash.
func (t *PropTable) SetBatch(keys []string, values []Value) error {
	n := len(keys)
	if n > len(values) {
		n = len(values)
	}
	if n == 0 {
		return nil
	}

	capacity := len(t.entries)
	for float64(t.count+t.tombstones+n) > float64(capacity)*propTableMaxLoadFactor {
		capacity *= 2
	}
	if capacity > len(t.entries) {
		if err := t.resize(capacity); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		if _, err := t.Set(keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Delete tombstones the binding for key. Slot space is reclaimed only by a
// later resize.
func (t *PropTable) Delete(key string) bool {
	if t.count == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if !e.occupied || e.deleted {
		return false
	}
	t.keyBytes -= int64(len(e.key))
	if t.account != nil {
		_ = t.account(-int64(len(e.key)))
	}
	e.key = ""
	e.value = Value{}
	e.deleted = true
	t.tombstones++
	t.count--
	return true
}

// Iterate calls fn for every live binding in slot order. Mutating the table
// during iteration is not supported.
func (t *PropTable) Iterate(fn func(key string, value Value)) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.occupied && !e.deleted {
			fn(e.key, e.value)
		}
	}
}

// resize rehashes every live entry into a table of newCapacity slots,
// dropping tombstones. On veto the table keeps its prior capacity.
func (t *PropTable) resize(newCapacity int) error {
	delta := int64(newCapacity-len(t.entries)) * propEntrySize
	if t.account != nil && delta > 0 {
		if err := t.account(delta); err != nil {
			return err
		}
	}

	next := make([]propEntry, newCapacity)
	count := 0
	for i := range t.entries {
		e := &t.entries[i]
		if !e.occupied || e.deleted {
			continue
		}
		dest := findEntry(next, e.key)
		*dest = propEntry{key: e.key, value: e.value, occupied: true}
		count++
	}
	t.entries = next
	t.count = count
	t.tombstones = 0
	return nil
}
