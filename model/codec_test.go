package model

import (
	"testing"

	"github.com/p2im-re/modelengine/interrupt"
	"github.com/p2im-re/modelengine/peripheral"
)

func TestCRValBuildsAscendingSnapshot(t *testing.T) {
	p := peripheral.NewPeripheral(0x40000000, peripheral.DefaultBankSize, 4, peripheral.DefaultDRBytes)
	p.Regs[0].Category = peripheral.CR
	peripheral.SetRegValue(&p.Regs[0], 1)
	p.Regs[2].Category = peripheral.CRSR
	peripheral.SetRegValue(&p.Regs[2], 0xff)
	p.MaxRegIdx = 2

	got, err := CRVal(p)
	if err != nil {
		t.Fatal(err)
	}
	want := "0:0x1,2:0xff"
	if got != want {
		t.Fatalf("CRVal = %q, want %q", got, want)
	}
}

func TestCRValEmptyWhenNoCRRegisters(t *testing.T) {
	p := peripheral.NewPeripheral(0x40000000, peripheral.DefaultBankSize, 4, peripheral.DefaultDRBytes)
	got, err := CRVal(p)
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Fatalf("CRVal = %q, want empty string", got)
	}
}

func TestServeSRRoundRobinsAndWraps(t *testing.T) {
	ev := &peripheral.Event{
		SRNum:   1,
		SetBits: 1,
		Satisfy: [][]peripheral.SatisfyEntry{
			{{SetClear: 1, Bits: []int{0}}},
			{{SetClear: 1, Bits: []int{1}}},
		},
	}
	var got []uint32
	for i := 0; i < 4; i++ {
		got = append(got, ServeSR(ev))
	}
	want := []uint32{0x1, 0x2, 0x1, 0x2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ServeSR sequence = %v, want %v", got, want)
		}
	}
}

func TestServeSRFullCycleReturnsCursorToOrigin(t *testing.T) {
	ev := &peripheral.Event{
		SRNum:   2,
		SetBits: 1,
		Satisfy: [][]peripheral.SatisfyEntry{
			{{SetClear: 1, Bits: []int{0}}, {SetClear: 0}},
			{{SetClear: 0}, {SetClear: 1, Bits: []int{2}}},
			{{SetClear: 1, Bits: []int{1}}, {SetClear: 1, Bits: []int{3}}},
		},
	}
	for i := 0; i < ev.SRNum*len(ev.Satisfy); i++ {
		ServeSR(ev)
	}
	if ev.CurSR != 0 || ev.CurSatisfy != 0 {
		t.Fatalf("expected cursor to return to origin, got sr=%d satisfy=%d", ev.CurSR, ev.CurSatisfy)
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	store := peripheral.NewStore(peripheral.DefaultRange, peripheral.DefaultBankSize, peripheral.DefaultDRBytes)
	p := store.GetOrCreate(0x40000000, 4)
	p.Regs[0].Category = peripheral.SR
	p.Regs[0].Read = true
	p.Regs[1].Category = peripheral.CR
	p.Regs[1].Write = true
	peripheral.SetRegValue(&p.Regs[1], 0x42)
	p.MaxRegIdx = 1
	if err := p.AddEvent("1:0x42", 0x1000, &peripheral.Event{
		SRNum: 1, SetBits: 1,
		Satisfy: [][]peripheral.SatisfyEntry{{{SetClear: 1, Bits: []int{3}}}},
	}); err != nil {
		t.Fatal(err)
	}

	var intr interrupt.Table
	intr.Enable(17)

	sr := &StageOneRecord{PeriBaseAddr: 0x40000000, RegIdx: 0, CRVal: "1:0x42", BBLCnt: 5, BBLEnd: 0x1000, SRFunc: true}

	data, err := Dump(store, &intr, sr, nil)
	if err != nil {
		t.Fatal(err)
	}

	loadedStore, loadedIntr, loadedSR, loadedAUP, err := Load(data)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loadedAUP != nil {
		t.Fatalf("expected no access_to_unmodeled_peri record")
	}

	lp, ok := loadedStore.Get(0x40000000)
	if !ok {
		t.Fatalf("expected peripheral at 0x40000000 after load")
	}
	if lp.Regs[0].Category != peripheral.SR || lp.Regs[1].Category != peripheral.CR {
		t.Fatalf("register categories not preserved: %v, %v", lp.Regs[0].Category, lp.Regs[1].Category)
	}
	if peripheral.RegValue(&lp.Regs[1]) != 0x42 {
		t.Fatalf("CR value not preserved: got %#x", peripheral.RegValue(&lp.Regs[1]))
	}
	ev, ok := lp.LookupEvent("1:0x42", 0x1000)
	if !ok || ev.SRNum != 1 {
		t.Fatalf("event not preserved")
	}
	if len(loadedIntr.All()) != 1 || loadedIntr.All()[0].ExcpNum != 17 {
		t.Fatalf("interrupt table not preserved: %v", loadedIntr.All())
	}
	if loadedSR == nil || loadedSR.PeriBaseAddr != 0x40000000 || loadedSR.CRVal != "1:0x42" {
		t.Fatalf("sr_read record not preserved: %+v", loadedSR)
	}
}

func TestLoadRejectsTooManySatisfyingCombinations(t *testing.T) {
	store := peripheral.NewStore(peripheral.DefaultRange, peripheral.DefaultBankSize, peripheral.DefaultDRBytes)
	p := store.GetOrCreate(0x40000000, 4)
	p.Regs[0].Category = peripheral.SR
	p.MaxRegIdx = 0

	ev := &peripheral.Event{SRNum: 1, SetBits: 1}
	for i := 0; i < peripheral.MaxSatisfyPerEvt+1; i++ {
		ev.Satisfy = append(ev.Satisfy, []peripheral.SatisfyEntry{{SetClear: 1, Bits: []int{0}}})
	}
	if err := p.AddEvent("", 0x1000, ev); err != nil {
		t.Fatal(err)
	}

	data, err := Dump(store, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, _, _, err := Load(data); err == nil {
		t.Fatalf("expected a CapacityError for a model with more than %d satisfying combinations", peripheral.MaxSatisfyPerEvt)
	} else if _, ok := err.(*CapacityError); !ok {
		t.Fatalf("expected *CapacityError, got %T", err)
	}
}

func TestLoadRejectsCorruptJSON(t *testing.T) {
	_, _, _, _, err := Load([]byte("{not json"))
	if err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
	if _, ok := err.(*CorruptError); !ok {
		t.Fatalf("expected *CorruptError, got %T", err)
	}
}
