package peripheral

import "testing"

func TestStoreBaseAddrMasksToRange(t *testing.T) {
	s := NewStore(DefaultRange, DefaultBankSize, DefaultDRBytes)
	addr := uint64(0x40000214)
	want := uint64(0x40000200)
	if got := s.BaseAddr(addr); got != want {
		t.Fatalf("BaseAddr(%#x) = %#x, want %#x", addr, got, want)
	}
}

func TestGetOrCreateIsLazyAndStable(t *testing.T) {
	s := NewStore(DefaultRange, DefaultBankSize, DefaultDRBytes)
	if _, ok := s.Get(0x40000000); ok {
		t.Fatalf("expected no peripheral before first access")
	}
	p1 := s.GetOrCreate(0x40000004, 4)
	p2 := s.GetOrCreate(0x40000010, 4)
	if p1 != p2 {
		t.Fatalf("expected same peripheral for addresses in the same window")
	}
	if p1.BaseAddr != 0x40000000 {
		t.Fatalf("BaseAddr = %#x, want 0x40000000", p1.BaseAddr)
	}
}

func TestEventCapacityEnforced(t *testing.T) {
	p := NewPeripheral(0x40000000, DefaultBankSize, 4, DefaultDRBytes)
	for i := 0; i < MaxEventsPerPeri; i++ {
		if err := p.AddEvent("k", uint64(i), &Event{}); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
	if err := p.AddEvent("k", uint64(MaxEventsPerPeri), &Event{}); err == nil {
		t.Fatalf("expected capacity error once %d events are attached", MaxEventsPerPeri)
	}
}

func TestLookupEventRoundTrip(t *testing.T) {
	p := NewPeripheral(0x40000000, DefaultBankSize, 4, DefaultDRBytes)
	ev := &Event{SRNum: 1, SetBits: 1, Satisfy: [][]SatisfyEntry{{{SetClear: 1, Bits: []int{3}}}}}
	if err := p.AddEvent("0:0x1", 0x800, ev); err != nil {
		t.Fatal(err)
	}
	got, ok := p.LookupEvent("0:0x1", 0x800)
	if !ok || got != ev {
		t.Fatalf("LookupEvent did not return the stored event")
	}
	if _, ok := p.LookupEvent("0:0x1", 0x900); ok {
		t.Fatalf("expected no match for different bbl_e")
	}
}
