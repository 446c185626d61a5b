package vm_test

import (
	"errors"
	"fmt"
	"testing"

	"ember/internal/vm"
)

func TestPropTableSetGetDelete(t *testing.T) {
	pt := vm.NewPropTable(nil)

	isNew, err := pt.Set("name", vm.MakeNumber(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Errorf("expected first set to report a new key")
	}

	isNew, err = pt.Set("name", vm.MakeNumber(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isNew {
		t.Errorf("expected overwrite to report an existing key")
	}

	v, ok := pt.Get("name")
	if !ok || v.Num != 2 {
		t.Errorf("expected 2, got %v (%v)", v.Num, ok)
	}
	if pt.Count() != 1 {
		t.Errorf("expected count 1, got %d", pt.Count())
	}

	if !pt.Delete("name") {
		t.Errorf("expected delete to report success")
	}
	if pt.Delete("name") {
		t.Errorf("expected second delete to report a miss")
	}
	if _, ok := pt.Get("name"); ok {
		t.Errorf("expected deleted key to be gone")
	}
	if pt.Count() != 0 {
		t.Errorf("expected count 0, got %d", pt.Count())
	}
}

func TestPropTableGrowPreservesEntries(t *testing.T) {
	pt := vm.NewPropTable(nil)
	initial := pt.Capacity()

	for i := 0; i < 100; i++ {
		if _, err := pt.Set(fmt.Sprintf("key%d", i), vm.MakeNumber(float64(i))); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}

	if pt.Capacity() <= initial {
		t.Errorf("expected capacity to grow beyond %d, got %d", initial, pt.Capacity())
	}
	for i := 0; i < 100; i++ {
		v, ok := pt.Get(fmt.Sprintf("key%d", i))
		if !ok || v.Num != float64(i) {
			t.Errorf("expected key%d=%d after growth, got %v (%v)", i, i, v.Num, ok)
		}
	}
}

func TestPropTableTombstoneReuse(t *testing.T) {
	pt := vm.NewPropTable(nil)

	// Insert/delete churn at stable count must not grow the table: the
	// tombstones left behind are reused by later inserts or reclaimed on
	// rehash, never accumulated into a probe-path leak.
	for i := 0; i < 4; i++ {
		if _, err := pt.Set(fmt.Sprintf("k%d", i), vm.MakeNumber(float64(i))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	capAfterFill := pt.Capacity()

	for round := 0; round < 1000; round++ {
		key := fmt.Sprintf("churn%d", round%4)
		if _, err := pt.Set(key, vm.MakeNumber(float64(round))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !pt.Delete(key) {
			t.Fatalf("expected delete of %q to succeed", key)
		}
	}

	if pt.Count() != 4 {
		t.Errorf("expected 4 live entries, got %d", pt.Count())
	}
	if pt.Capacity() > capAfterFill*4 {
		t.Errorf("expected churn not to balloon capacity: %d -> %d", capAfterFill, pt.Capacity())
	}
	for i := 0; i < 4; i++ {
		if _, ok := pt.Get(fmt.Sprintf("k%d", i)); !ok {
			t.Errorf("expected k%d to survive churn", i)
		}
	}
}

func TestPropTableCapacityNeverShrinks(t *testing.T) {
	pt := vm.NewPropTable(nil)
	for i := 0; i < 50; i++ {
		if _, err := pt.Set(fmt.Sprintf("key%d", i), vm.MakeNil()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	grown := pt.Capacity()
	for i := 0; i < 50; i++ {
		pt.Delete(fmt.Sprintf("key%d", i))
	}
	if pt.Capacity() != grown {
		t.Errorf("expected capacity to stay at %d after deletes, got %d", grown, pt.Capacity())
	}
}

func TestPropTableBatchMatchesSequential(t *testing.T) {
	keys := make([]string, 40)
	values := make([]vm.Value, 40)
	for i := range keys {
		keys[i] = fmt.Sprintf("field%d", i)
		values[i] = vm.MakeNumber(float64(i * 3))
	}

	batch := vm.NewPropTable(nil)
	if err := batch.SetBatch(keys, values); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seq := vm.NewPropTable(nil)
	for i := range keys {
		if _, err := seq.Set(keys[i], values[i]); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if batch.Count() != seq.Count() {
		t.Fatalf("expected equal counts, got %d and %d", batch.Count(), seq.Count())
	}
	for i := range keys {
		bv, bok := batch.Get(keys[i])
		sv, sok := seq.Get(keys[i])
		if bok != sok || bv.Num != sv.Num {
			t.Errorf("expected %s to agree, got %v/%v and %v/%v", keys[i], bv.Num, bok, sv.Num, sok)
		}
	}
}

func TestPropTableIterateVisitsLiveOnly(t *testing.T) {
	pt := vm.NewPropTable(nil)
	for i := 0; i < 10; i++ {
		if _, err := pt.Set(fmt.Sprintf("key%d", i), vm.MakeNumber(float64(i))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for i := 0; i < 10; i += 2 {
		pt.Delete(fmt.Sprintf("key%d", i))
	}

	seen := map[string]float64{}
	pt.Iterate(func(key string, v vm.Value) {
		seen[key] = v.Num
	})

	if len(seen) != 5 {
		t.Fatalf("expected 5 visited entries, got %d", len(seen))
	}
	for i := 1; i < 10; i += 2 {
		key := fmt.Sprintf("key%d", i)
		if seen[key] != float64(i) {
			t.Errorf("expected %s=%d, got %v", key, i, seen[key])
		}
	}
}

func TestPropTableAccountVeto(t *testing.T) {
	limit := errors.New("retained byte limit")
	budget := int64(600)
	used := int64(0)
	pt := vm.NewPropTable(func(delta int64) error {
		if delta > 0 && used+delta > budget {
			return limit
		}
		used += delta
		return nil
	})

	var vetoed error
	inserted := 0
	for i := 0; i < 100; i++ {
		if _, err := pt.Set(fmt.Sprintf("key%d", i), vm.MakeNil()); err != nil {
			vetoed = err
			break
		}
		inserted++
	}

	if !errors.Is(vetoed, limit) {
		t.Fatalf("expected the accounting veto, got %v", vetoed)
	}
	// The vetoed grow leaves the table intact at its prior capacity.
	if pt.Count() != inserted {
		t.Errorf("expected %d entries after veto, got %d", inserted, pt.Count())
	}
	for i := 0; i < inserted; i++ {
		if !pt.Has(fmt.Sprintf("key%d", i)) {
			t.Errorf("expected key%d to survive the veto", i)
		}
	}
}
