// Package stats implements brimd's shared counters: a worker_count ×
// name_count grid of atomic uint64s plus an immutable name->offset table,
// exactly the contract of spec §3/§4.4, translated from the source's mmap
// region to a plain atomic slice per SPEC_FULL.md §0 (no fork in this
// process model, so goroutines already share the address space the mmap
// existed to provide).
package stats

import "sync/atomic"

// Kind is a reporting-time aggregation annotation; storage treats all
// kinds identically (spec §3).
type Kind string

const (
	KindWorker Kind = "worker"
	KindSum    Kind = "sum"
	KindMin    Kind = "min"
	KindMax    Kind = "max"
)

// Declaration names one stat a subserver's handlers expose.
type Declaration struct {
	Name string
	Kind Kind
}

// Set is one subserver's bucket grid: workerCount rows, one column per
// declared name.
type Set struct {
	workerCount int
	offsets     map[string]int
	kinds       map[string]Kind
	names       []string
	counters    []atomic.Uint64 // row-major: row*len(names) + col
}

// NewSet builds a Set for workerCount buckets and the given declarations.
// Declarations with a duplicate name keep the first occurrence, matching
// "an immutable, process-wide naming table" built once before any worker
// starts.
func NewSet(workerCount int, decls []Declaration) *Set {
	if workerCount < 0 {
		workerCount = 0
	}
	s := &Set{
		workerCount: workerCount,
		offsets:     make(map[string]int, len(decls)),
		kinds:       make(map[string]Kind, len(decls)),
	}
	for _, d := range decls {
		if _, ok := s.offsets[d.Name]; ok {
			continue
		}
		s.offsets[d.Name] = len(s.names)
		s.kinds[d.Name] = d.Kind
		s.names = append(s.names, d.Name)
	}
	s.counters = make([]atomic.Uint64, workerCount*len(s.names))
	return s
}

// WorkerCount returns the number of buckets.
func (s *Set) WorkerCount() int { return s.workerCount }

// Names returns the declared stat names in declaration order.
func (s *Set) Names() []string { return append([]string(nil), s.names...) }

// Kind returns the reporting kind for a declared name.
func (s *Set) Kind(name string) Kind { return s.kinds[name] }

func (s *Set) index(bucket int, name string) (int, bool) {
	if bucket < 0 || bucket >= s.workerCount {
		return 0, false
	}
	col, ok := s.offsets[name]
	if !ok {
		return 0, false
	}
	return bucket*len(s.names) + col, true
}

// Get returns the bucket's counter value, or 0 for an unknown name. When
// the set has zero workers (worker_count == 0, inline/debug mode per
// spec §4.4) every bucket read returns 0. An out-of-range bucket on a
// non-empty set is a programming error and panics, matching spec §4.4
// ("Unknown bucket: behavior is an error.").
func (s *Set) Get(bucket int, name string) uint64 {
	if s.workerCount == 0 {
		return 0
	}
	if bucket < 0 || bucket >= s.workerCount {
		panic("stats: unknown bucket")
	}
	idx, ok := s.index(bucket, name)
	if !ok {
		return 0
	}
	return s.counters[idx].Load()
}

// Set stores a value in the bucket's counter; a no-op for an unknown name
// or for a zero-worker set.
func (s *Set) Set(bucket int, name string, value uint64) {
	if s.workerCount == 0 {
		return
	}
	if bucket < 0 || bucket >= s.workerCount {
		panic("stats: unknown bucket")
	}
	if idx, ok := s.index(bucket, name); ok {
		s.counters[idx].Store(value)
	}
}

// Incr increments the bucket's counter by 1; a no-op for an unknown name
// or for a zero-worker set.
func (s *Set) Incr(bucket int, name string) {
	if s.workerCount == 0 {
		return
	}
	if bucket < 0 || bucket >= s.workerCount {
		panic("stats: unknown bucket")
	}
	if idx, ok := s.index(bucket, name); ok {
		s.counters[idx].Add(1)
	}
}

// IncrBy increments the bucket's counter by delta; a no-op for an
// unknown name or for a zero-worker set. Used where a handler's natural
// unit is bytes rather than events (e.g. tcpecho/udpecho's byte_count).
func (s *Set) IncrBy(bucket int, name string, delta uint64) {
	if s.workerCount == 0 {
		return
	}
	if bucket < 0 || bucket >= s.workerCount {
		panic("stats: unknown bucket")
	}
	if idx, ok := s.index(bucket, name); ok {
		s.counters[idx].Add(delta)
	}
}

// Aggregate folds a stat's value across all buckets per its declared
// Kind. Matches original_source/brim/stats.py's per-kind reduction.
func (s *Set) Aggregate(name string) uint64 {
	switch s.Kind(name) {
	case KindMin:
		var min uint64
		for i := 0; i < s.workerCount; i++ {
			v := s.Get(i, name)
			if i == 0 || v < min {
				min = v
			}
		}
		return min
	case KindMax:
		var max uint64
		for i := 0; i < s.workerCount; i++ {
			v := s.Get(i, name)
			if v > max {
				max = v
			}
		}
		return max
	default: // sum and worker both report a total across buckets.
		var sum uint64
		for i := 0; i < s.workerCount; i++ {
			sum += s.Get(i, name)
		}
		return sum
	}
}

// View binds a Set to one bucket index, the shape WSGI/TCP/UDP/Daemon
// handlers are actually handed (env["brim.stats"] for WSGI, an argument
// for the others).
type View struct {
	set    *Set
	bucket int
}

// NewView returns a View over bucket i of set. If set is nil (e.g.
// worker_count == 0 no-daemon debug mode with no stats declared) every
// operation is a documented no-op.
func NewView(set *Set, bucket int) View { return View{set: set, bucket: bucket} }

func (v View) Get(name string) uint64 {
	if v.set == nil {
		return 0
	}
	return v.set.Get(v.bucket, name)
}

func (v View) Set(name string, value uint64) {
	if v.set == nil {
		return
	}
	v.set.Set(v.bucket, name, value)
}

func (v View) Incr(name string) {
	if v.set == nil {
		return
	}
	v.set.Incr(v.bucket, name)
}

func (v View) IncrBy(name string, delta uint64) {
	if v.set == nil {
		return
	}
	v.set.IncrBy(v.bucket, name, delta)
}
