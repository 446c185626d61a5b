package vm

// StringEntry is one canonical string owned by the interner. Entry pointers
// are the string identity: two byte-identical interned strings share one entry.
// Contents are immutable once created.
type StringEntry struct {
	s        string
	hash     uint32
	next     *StringEntry // bucket chain (nil for one-off strings)
	allNext  *StringEntry // all-strings list for sweep
	marked   bool
	interned bool
}

// Contents returns the string bytes.
func (e *StringEntry) Contents() string {
	return e.s
}

// Len returns the byte length of the string.
func (e *StringEntry) Len() int {
	return len(e.s)
}

// Interned reports whether the entry is part of the dedup table, as opposed
// to a one-off owned string (e.g. a struct deep-copy duplicate).
func (e *StringEntry) Interned() bool {
	return e.interned
}

const (
	internerInitialBuckets = 64
	internerMaxLoadFactor  = 0.75
)

// Interner deduplicates string content and owns every string created by the
// runtime. Strings are tracked separately from heap objects and collected by
// a mark/sweep cycle the collector runs in lock-step with its own.
type Interner struct {
	buckets []*StringEntry
	count   int          // interned entries only
	all     *StringEntry // every entry, interned or not
	live    int          // entries on the all-strings list
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{
		buckets: make([]*StringEntry, internerInitialBuckets),
	}
}

// Count returns the number of interned entries.
func (in *Interner) Count() int {
	return in.count
}

// Live returns the number of strings the interner currently owns, counting
// one-off strings as well as interned ones.
func (in *Interner) Live() int {
	return in.live
}

// Has reports whether s is currently interned.
func (in *Interner) Has(s string) bool {
	h := hashString(s)
	for e := in.buckets[h%uint32(len(in.buckets))]; e != nil; e = e.next {
		if e.hash == h && e.s == s {
			return true
		}
	}
	return false
}

// hashString is FNV-1a over the raw bytes of s. Explicit over (bytes, length)
// so content with embedded NULs round-trips.
func hashString(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Intern returns the canonical entry for s, creating it on first use.
// Interning the same byte sequence twice returns the identical entry.
func (in *Interner) Intern(s string) *StringEntry {
	h := hashString(s)
	idx := h % uint32(len(in.buckets))
	for e := in.buckets[idx]; e != nil; e = e.next {
		if e.hash == h && len(e.s) == len(s) && e.s == s {
			return e
		}
	}

	if float64(in.count+1) > float64(len(in.buckets))*internerMaxLoadFactor {
		in.grow()
		idx = h % uint32(len(in.buckets))
	}

	// New entries are born marked so a string created while a collection
	// cycle is in flight survives that cycle.
	e := &StringEntry{
		s:        cloneString(s),
		hash:     h,
		marked:   true,
		interned: true,
	}
	e.next = in.buckets[idx]
	in.buckets[idx] = e
	in.count++

	e.allNext = in.all
	in.all = e
	in.live++
	return e
}

// NewOwned creates a one-off string entry that bypasses deduplication. The
// entry is threaded on the all-strings list so sweep governs its lifetime,
// but it never appears in a bucket chain.
func (in *Interner) NewOwned(s string) *StringEntry {
	e := &StringEntry{
		s:      cloneString(s),
		hash:   hashString(s),
		marked: true,
	}
	e.allNext = in.all
	in.all = e
	in.live++
	return e
}

// grow doubles the bucket array and rehashes every chain.
func (in *Interner) grow() {
	next := make([]*StringEntry, len(in.buckets)*2)
	for _, e := range in.buckets {
		for e != nil {
			chain := e.next
			idx := e.hash % uint32(len(next))
			e.next = next[idx]
			next[idx] = e
			e = chain
		}
	}
	in.buckets = next
}

// MarkBegin unmarks every entry, starting a string collection cycle.
func (in *Interner) MarkBegin() {
	for e := in.all; e != nil; e = e.allNext {
		e.marked = false
	}
}

// Mark flags an entry as reachable for the current cycle.
func (in *Interner) Mark(e *StringEntry) {
	if e != nil {
		e.marked = true
	}
}

// Sweep unlinks and drops every still-unmarked entry from its bucket chain
// and from the all-strings list. It returns the number of strings freed.
func (in *Interner) Sweep() int {
	freed := 0

	// Unlink dead interned entries from their bucket chains first so the
	// dedup table never points at freed content.
	for i, e := range in.buckets {
		var prev *StringEntry
		for e != nil {
			next := e.next
			if !e.marked {
				if prev == nil {
					in.buckets[i] = next
				} else {
					prev.next = next
				}
				e.next = nil
				in.count--
			} else {
				prev = e
			}
			e = next
		}
	}

	var prev *StringEntry
	for e := in.all; e != nil; {
		next := e.allNext
		if !e.marked {
			if prev == nil {
				in.all = next
			} else {
				prev.allNext = next
			}
			e.allNext = nil
			in.live--
			freed++
		} else {
			prev = e
		}
		e = next
	}
	return freed
}

// cloneString forces a copy so entries never alias a caller's backing array.
func cloneString(s string) string {
	b := make([]byte, len(s))
	copy(b, s)
	return string(b)
}
