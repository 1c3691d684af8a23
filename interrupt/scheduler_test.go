package interrupt

import "testing"

func TestFireIsRoundRobinAcrossEnabled(t *testing.T) {
	var tbl Table
	for _, e := range []uint32{17, 18, 19} {
		if err := tbl.Enable(e); err != nil {
			t.Fatal(err)
		}
	}

	var fired []uint32
	for i := 0; i < 9; i++ {
		tbl.Fire(func(excpNum uint32) { fired = append(fired, excpNum) })
	}

	want := []uint32{17, 18, 19, 17, 18, 19, 17, 18, 19}
	if len(fired) != len(want) {
		t.Fatalf("fired %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired[%d] = %d, want %d (full: %v)", i, fired[i], want[i], fired)
		}
	}
}

func TestFireSkipsDisabled(t *testing.T) {
	var tbl Table
	tbl.Enable(1)
	tbl.Enable(2)
	tbl.Disable(1)

	var fired []uint32
	tbl.Fire(func(e uint32) { fired = append(fired, e) })
	tbl.Fire(func(e uint32) { fired = append(fired, e) })

	if len(fired) != 2 || fired[0] != 2 || fired[1] != 2 {
		t.Fatalf("fired = %v, want only excpNum 2 to ever fire", fired)
	}
}

func TestFireWithNothingEnabledStillAdvancesRound(t *testing.T) {
	var tbl Table
	tbl.Enable(5)
	tbl.Disable(5)

	before := tbl.IntRound()
	tbl.Fire(func(uint32) { t.Fatalf("nothing should fire") })
	if tbl.IntRound() <= before {
		t.Fatalf("expected IntRound to advance when nothing is enabled")
	}
}

func TestEnableCapacity(t *testing.T) {
	var tbl Table
	for i := uint32(0); i < maxEntries; i++ {
		if err := tbl.Enable(i); err != nil {
			t.Fatalf("unexpected error enabling entry %d: %v", i, err)
		}
	}
	if err := tbl.Enable(maxEntries); err == nil {
		t.Fatalf("expected error once the table exceeds %d entries", maxEntries)
	}
}
