package progress

import (
	"sort"
	"sync"
)

// State is the lifecycle phase of one pack.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Status is the mutable snapshot of one pack's download.
type Status struct {
	State      State
	Attempts   int
	URL        string
	FilePath   string
	Size       int64
	Downloaded int64
	Speed      float64 // bytes per second
}

// Counts are the batch-wide totals.
type Counts struct {
	Total     int
	Completed int
	Failed    int
}

// Table is the shared progress table. Workers publish status
// transitions into it and the reporter reads consistent snapshots out
// of it; every access goes through one mutex.
type Table struct {
	mu     sync.Mutex
	items  map[int]*Status
	counts Counts
}

// NewTable creates an empty progress table.
func NewTable() *Table {
	return &Table{items: make(map[int]*Status)}
}

// Add registers a pack as queued. Adding a known pack is a no-op so
// Total counts distinct packs.
func (t *Table) Add(pack int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.items[pack]; ok {
		return
	}

	t.items[pack] = &Status{State: StateQueued}
	t.counts.Total++
}

// MarkDownloading transitions a pack into the in-progress set.
func (t *Table) MarkDownloading(pack int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.items[pack]; ok {
		s.State = StateDownloading
	}
}

// SetTarget records the candidate currently being attempted.
func (t *Table) SetTarget(pack int, url, filePath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.items[pack]; ok {
		s.URL = url
		s.FilePath = filePath
		s.Attempts++
	}
}

// SetSize records the expected total size of the current attempt.
func (t *Table) SetSize(pack int, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.items[pack]; ok {
		s.Size = size
	}
}

// Publish records the running byte count and instantaneous speed.
func (t *Table) Publish(pack int, downloaded int64, speed float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.items[pack]; ok {
		s.Downloaded = downloaded
		s.Speed = speed
	}
}

// MarkDone records the terminal state for a pack and bumps the batch
// counters. Exactly one terminal write per pack.
func (t *Table) MarkDone(pack int, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.items[pack]
	if !ok {
		return
	}

	if success {
		s.State = StateCompleted
		t.counts.Completed++
	} else {
		s.State = StateFailed
		t.counts.Failed++
	}
}

// Counts returns the batch totals.
func (t *Table) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.counts
}

// Done reports whether every pack has reached a terminal state.
func (t *Table) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.counts.Completed+t.counts.Failed >= t.counts.Total
}

// Active is one in-flight download as seen by the reporter.
type Active struct {
	Pack       int
	Percent    float64
	Speed      float64
	Downloaded int64
	Size       int64
}

// Snapshot is a consistent copy of the table for rendering. It shares
// no memory with the live table.
type Snapshot struct {
	Counts Counts
	Active []Active
}

// Snapshot copies the current state under the table lock. Active items
// are sorted by pack number so output is stable between ticks.
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{Counts: t.counts}

	for pack, s := range t.items {
		if s.State != StateDownloading || s.Size <= 0 {
			continue
		}

		snap.Active = append(snap.Active, Active{
			Pack:       pack,
			Percent:    float64(s.Downloaded) / float64(s.Size) * 100,
			Speed:      s.Speed,
			Downloaded: s.Downloaded,
			Size:       s.Size,
		})
	}

	sort.Slice(snap.Active, func(i, j int) bool { return snap.Active[i].Pack < snap.Active[j].Pack })

	return snap
}

// Get returns a copy of one pack's status, for tests and the final
// report.
func (t *Table) Get(pack int) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.items[pack]
	if !ok {
		return Status{}, false
	}

	return *s, true
}
