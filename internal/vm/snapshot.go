package vm

import (
	"fmt"
	"io"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when Snapshot format changes
const snapshotSchemaVersion uint16 = 1

// SnapshotObject is one live heap object in a snapshot.
type SnapshotObject struct {
	Handle    uint32
	Kind      string
	Size      int64
	Color     string
	Pinned    bool
	PropCount int
	Proto     uint32
	IsArray   bool
	Struct    string // struct type name, empty otherwise
	FuncName  string // function name, empty otherwise
}

// SnapshotString is one interned or owned string in a snapshot.
type SnapshotString struct {
	Contents string
	Interned bool
}

// Snapshot is a point-in-time picture of the heap, suitable for offline
// inspection of leaks and retention.
type Snapshot struct {
	Schema uint16

	Phase   string
	Tuning  Tuning
	Stats   Stats
	Objects []SnapshotObject
	Strings []SnapshotString
}

// Snapshot captures the current heap. The result is stable-ordered by
// handle so two snapshots of the same heap compare equal.
func (vm *VM) Snapshot() *Snapshot {
	c := vm.gc
	snap := &Snapshot{
		Schema: snapshotSchemaVersion,
		Phase:  c.phase.String(),
		Tuning: c.tuning,
		Stats:  c.Stats(),
	}
	for i := range c.headers {
		hdr := &c.headers[i]
		if !hdr.live {
			continue
		}
		rec := SnapshotObject{
			Handle: uint32(i + 1),
			Kind:   hdr.obj.Kind.String(),
			Size:   hdr.size,
			Color:  hdr.color.String(),
			Pinned: hdr.pinned,
		}
		switch hdr.obj.Kind {
		case OKObject:
			rec.PropCount = hdr.obj.Props.Count()
			rec.Proto = uint32(hdr.obj.Proto)
			rec.IsArray = hdr.obj.IsArray
		case OKStruct:
			rec.Struct = hdr.obj.Struct.Type.Name
		case OKFunction:
			rec.FuncName = hdr.obj.Fn.Name
		}
		snap.Objects = append(snap.Objects, rec)
	}
	for e := vm.strings.all; e != nil; e = e.allNext {
		snap.Strings = append(snap.Strings, SnapshotString{
			Contents: e.Contents(),
			Interned: e.Interned(),
		})
	}
	sort.Slice(snap.Strings, func(i, j int) bool {
		return snap.Strings[i].Contents < snap.Strings[j].Contents
	})
	return snap
}

// WriteSnapshot encodes a snapshot to w.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode heap snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a snapshot from r, rejecting unknown schema
// versions.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	dec := msgpack.NewDecoder(r)
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode heap snapshot: %w", err)
	}
	if snap.Schema != snapshotSchemaVersion {
		return nil, fmt.Errorf("heap snapshot schema %d, want %d", snap.Schema, snapshotSchemaVersion)
	}
	return &snap, nil
}
