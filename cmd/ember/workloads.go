package main

import (
	"fmt"
	"sort"
	"strconv"

	"ember/internal/vm"
)

// workloadFn drives one heap workload for iterations rounds, calling report
// after each round. Workloads leave the VM collectable: nothing they build
// stays rooted when they return.
type workloadFn func(m *vm.VM, iterations int, report func(done int)) error

var workloads = map[string]workloadFn{
	"objects": workloadObjects,
	"arrays":  workloadArrays,
	"structs": workloadStructs,
	"strings": workloadStrings,
	"cycles":  workloadCycles,
	"mixed":   workloadMixed,
}

func workloadNames() []string {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupWorkload(name string) (workloadFn, error) {
	fn, ok := workloads[name]
	if !ok {
		return nil, fmt.Errorf("unknown workload %q (available: %v)", name, workloadNames())
	}
	return fn, nil
}

// workloadObjects builds short prototype chains and churns properties.
func workloadObjects(m *vm.VM, iterations int, report func(done int)) error {
	for i := 0; i < iterations; i++ {
		proto, err := m.NewObject()
		if err != nil {
			return err
		}
		m.Push(vm.MakeObject(proto))
		if err := m.SetProperty(proto, "kind", m.InternValue("proto")); err != nil {
			return err
		}

		for j := 0; j < 8; j++ {
			child, err := m.NewObject()
			if err != nil {
				return err
			}
			m.SetPrototype(child, proto)
			if err := m.SetProperty(child, "idx", vm.MakeNumber(float64(j))); err != nil {
				return err
			}
			if _, ok := m.GetProperty(child, "kind"); !ok {
				return fmt.Errorf("objects: lost delegated property at round %d", i)
			}
			if m.DeleteProperty(child, "idx") == m.HasOwnProperty(child, "idx") {
				return fmt.Errorf("objects: delete bookkeeping broke at round %d", i)
			}
		}

		m.Pop()
		report(i + 1)
	}
	return nil
}

// workloadArrays grows and drains arrays of heap values.
func workloadArrays(m *vm.VM, iterations int, report func(done int)) error {
	for i := 0; i < iterations; i++ {
		arr, err := m.NewArrayWithCapacity(32)
		if err != nil {
			return err
		}
		m.Push(vm.MakeObject(arr))

		for j := 0; j < 32; j++ {
			elem, err := m.NewObject()
			if err != nil {
				return err
			}
			if err := m.ArrayPush(arr, vm.MakeObject(elem)); err != nil {
				return err
			}
		}
		for m.ArrayLength(arr) > 0 {
			if _, ok := m.ArrayPop(arr); !ok {
				return fmt.Errorf("arrays: pop lost an element at round %d", i)
			}
		}

		m.Pop()
		report(i + 1)
	}
	return nil
}

// workloadStructs copies nested struct values around.
func workloadStructs(m *vm.VM, iterations int, report func(done int)) error {
	point, err := m.DefineStruct("Point", []string{"x", "y"})
	if err != nil {
		return err
	}
	segment, err := m.DefineStruct("Segment", []string{"label", "a", "b"})
	if err != nil {
		return err
	}

	for i := 0; i < iterations; i++ {
		p, err := m.NewStructInstance(point)
		if err != nil {
			return err
		}
		m.Push(vm.MakeStruct(p))
		if err := m.SetStructField(p, "x", vm.MakeNumber(float64(i))); err != nil {
			return err
		}

		s, err := m.NewStructInstance(segment)
		if err != nil {
			return err
		}
		m.Push(vm.MakeStruct(s))
		if err := m.SetStructField(s, "label", m.InternValue("seg"+strconv.Itoa(i%16))); err != nil {
			return err
		}
		if err := m.SetStructField(s, "a", vm.MakeStruct(p)); err != nil {
			return err
		}
		if err := m.SetStructField(s, "b", vm.MakeStruct(p)); err != nil {
			return err
		}

		cp, err := m.CopyStruct(s)
		if err != nil {
			return err
		}
		if v, ok := m.StructField(cp, "label"); !ok || v.Str == nil {
			return fmt.Errorf("structs: copy lost its label at round %d", i)
		}

		m.Pop()
		m.Pop()
		report(i + 1)
	}
	return nil
}

// workloadStrings interleaves interned and owned strings.
func workloadStrings(m *vm.VM, iterations int, report func(done int)) error {
	for i := 0; i < iterations; i++ {
		holder, err := m.NewObject()
		if err != nil {
			return err
		}
		m.Push(vm.MakeObject(holder))

		for j := 0; j < 16; j++ {
			// Half the keys repeat, exercising dedup; values normalize.
			key := "k" + strconv.Itoa(j%8)
			val := m.InternNormalized("value-" + strconv.Itoa(i%32))
			if err := m.SetProperty(holder, key, vm.MakeString(val)); err != nil {
				return err
			}
		}

		m.Pop()
		report(i + 1)
	}
	return nil
}

// workloadCycles builds unreachable reference cycles the collector must
// reclaim.
func workloadCycles(m *vm.VM, iterations int, report func(done int)) error {
	for i := 0; i < iterations; i++ {
		ring := make([]vm.Handle, 4)
		for j := range ring {
			h, err := m.NewObject()
			if err != nil {
				return err
			}
			m.Push(vm.MakeObject(h))
			ring[j] = h
		}
		for j, h := range ring {
			next := ring[(j+1)%len(ring)]
			if err := m.SetProperty(h, "next", vm.MakeObject(next)); err != nil {
				return err
			}
		}
		// Unroot the whole ring; only the collector can reclaim it now.
		for range ring {
			m.Pop()
		}
		report(i + 1)
	}
	return nil
}

// workloadMixed runs every other workload round-robin.
func workloadMixed(m *vm.VM, iterations int, report func(done int)) error {
	parts := []workloadFn{workloadObjects, workloadArrays, workloadStructs, workloadStrings, workloadCycles}
	done := 0
	for i := 0; done < iterations; i++ {
		part := parts[i%len(parts)]
		if err := part(m, 1, func(int) {}); err != nil {
			return err
		}
		done++
		report(done)
	}
	return nil
}
