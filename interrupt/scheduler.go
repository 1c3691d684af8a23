// Package interrupt implements the round-robin NVIC exception scheduler
// that drives firmware state changes during modeling and fuzzing
// (SPEC_FULL.md §4.E).
package interrupt

// Entry is one enabled/disabled exception number in the scheduler's table.
type Entry struct {
	ExcpNum uint32
	Enabled bool
}

const maxEntries = 16

// Table is the ordered sequence of interrupts the scheduler round-robins
// over. The zero value is ready to use.
type Table struct {
	entries []Entry
	curInt  int
	intRound uint64
}

// Enable adds excpNum if absent, or marks it enabled if already present.
// Returns an error once the table's fixed 16-slot capacity is exceeded
// (SPEC_FULL.md §6 exit code 0x77).
func (t *Table) Enable(excpNum uint32) error {
	for i := range t.entries {
		if t.entries[i].ExcpNum == excpNum {
			t.entries[i].Enabled = true
			return nil
		}
	}
	if len(t.entries) >= maxEntries {
		return errTableFull
	}
	t.entries = append(t.entries, Entry{ExcpNum: excpNum, Enabled: true})
	return nil
}

// Disable clears the enabled flag for excpNum; a no-op if absent.
func (t *Table) Disable(excpNum uint32) {
	for i := range t.entries {
		if t.entries[i].ExcpNum == excpNum {
			t.entries[i].Enabled = false
			return
		}
	}
}

// Fire scans at most one pass starting at the current cursor, fires the
// first enabled entry via setPending, and advances the cursor. If the scan
// wraps with nothing fired, IntRound still advances (SPEC_FULL.md §4.E).
func (t *Table) Fire(setPending func(excpNum uint32)) {
	n := len(t.entries)
	if n == 0 {
		return
	}
	fired := false
	for i := 0; i < n; i++ {
		idx := (t.curInt + i) % n
		if idx == n-1 {
			// a full lap has completed; there might be one interrupt fired
			// IntRound+1 times if it sits right before the wrap point.
			t.intRound++
		}
		if t.entries[idx].Enabled {
			setPending(t.entries[idx].ExcpNum)
			t.curInt = (idx + 1) % n
			fired = true
			break
		}
	}
	if !fired {
		t.intRound++
	}
}

// IntRound reports how many full scans have completed, the condition the
// Identify/Explore stages use to decide "every enabled interrupt has fired
// at least once."
func (t *Table) IntRound() uint64 { return t.intRound }

// All returns the interrupt table in scheduling order, for persistence.
func (t *Table) All() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Load replaces the table contents, used when restoring a persisted model.
func (t *Table) Load(entries []Entry) {
	t.entries = append([]Entry(nil), entries...)
	t.curInt = 0
	t.intRound = 0
}

type tableFullError string

func (e tableFullError) Error() string { return string(e) }

var errTableFull = tableFullError("interrupt table full")
