package vm

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"
)

// Profiler counts executed instructions by opcode. One Profiler may be
// shared by several VMs; counters are updated atomically.
type Profiler struct {
	counts [opcodeCount]uint64

	runs          uint64
	runtimeErrors uint64
}

// NewProfiler creates an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// WithProfiler records instruction counts in p.
func WithProfiler(p *Profiler) Option {
	return func(vm *VM) { vm.profiler = p }
}

func (p *Profiler) recordInstruction(op Opcode) {
	atomic.AddUint64(&p.counts[op], 1)
}

func (p *Profiler) recordRun(result InterpretResult) {
	atomic.AddUint64(&p.runs, 1)
	if result == InterpretRuntimeError {
		atomic.AddUint64(&p.runtimeErrors, 1)
	}
}

// Count returns how many times op has executed.
func (p *Profiler) Count(op Opcode) uint64 {
	if op >= opcodeCount {
		return 0
	}
	return atomic.LoadUint64(&p.counts[op])
}

// ProfilerStats summarizes a profile.
type ProfilerStats struct {
	Runs          uint64 // chunks executed
	RuntimeErrors uint64 // runs that ended in a runtime error
	Instructions  uint64 // instructions dispatched
	Distinct      int    // opcodes executed at least once
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	stats := ProfilerStats{
		Runs:          atomic.LoadUint64(&p.runs),
		RuntimeErrors: atomic.LoadUint64(&p.runtimeErrors),
	}
	for op := Opcode(0); op < opcodeCount; op++ {
		n := p.Count(op)
		stats.Instructions += n
		if n > 0 {
			stats.Distinct++
		}
	}
	return stats
}

// OpcodeCount pairs an opcode with its execution count.
type OpcodeCount struct {
	Op    Opcode
	Count uint64
}

// Top returns the n most executed opcodes, most frequent first. Opcodes
// that never ran are omitted; ties keep opcode order.
func (p *Profiler) Top(n int) []OpcodeCount {
	var all []OpcodeCount
	for op := Opcode(0); op < opcodeCount; op++ {
		if c := p.Count(op); c > 0 {
			all = append(all, OpcodeCount{op, c})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Count > all[j].Count })
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// WriteReport writes a table of opcode counts to w.
func (p *Profiler) WriteReport(w io.Writer) {
	stats := p.Stats()
	fmt.Fprintf(w, "== profile ==\n")
	fmt.Fprintf(w, "runs %d, runtime errors %d, instructions %d\n", stats.Runs, stats.RuntimeErrors, stats.Instructions)
	for _, oc := range p.Top(-1) {
		fmt.Fprintf(w, "%-16s %8d\n", oc.Op.Name(), oc.Count)
	}
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	for op := range p.counts {
		atomic.StoreUint64(&p.counts[op], 0)
	}
	atomic.StoreUint64(&p.runs, 0)
	atomic.StoreUint64(&p.runtimeErrors, 0)
}
