// Package model implements the status-register satisfaction model: the
// CR-snapshot key used to look up a learned event, the round-robin server
// that answers SR reads from it, and the JSON codec that persists the whole
// learned model to and from disk (SPEC_FULL.md §4.D, §6).
package model

import (
	"fmt"
	"strings"

	"github.com/p2im-re/modelengine/peripheral"
)

// CRVal builds the canonical snapshot string used as the outer event key:
// "<idx>:0x<hex>," for every CR/CR_SR register in ascending index order,
// trailing comma stripped (SPEC_FULL.md §3 "Event", §4.D).
func CRVal(p *peripheral.Peripheral) (string, error) {
	var b strings.Builder
	limit := p.MaxRegIdx
	if limit >= len(p.Regs) {
		limit = len(p.Regs) - 1
	}
	for i := 0; i <= limit; i++ {
		reg := &p.Regs[i]
		if reg.Category != peripheral.CR && reg.Category != peripheral.CRSR {
			continue
		}
		fmt.Fprintf(&b, "%d:0x%x,", i, peripheral.RegValue(reg))
		if b.Len() > peripheral.MaxCRValBytes {
			return "", &CapacityError{Msg: "CR_val snapshot exceeded 256 bytes"}
		}
	}
	return strings.TrimSuffix(b.String(), ","), nil
}

// ServeSR returns the next value to hand back for an SR/CR_SR read governed
// by ev, round-robining across satisfying combinations and, within a
// combination, across participating status registers (SPEC_FULL.md §4.D).
func ServeSR(ev *peripheral.Event) uint32 {
	if ev.SRNum == 0 || len(ev.Satisfy) == 0 {
		return 0
	}
	if ev.CurSatisfy >= len(ev.Satisfy) {
		ev.CurSatisfy = 0
	}
	combo := ev.Satisfy[ev.CurSatisfy]
	if ev.CurSR >= len(combo) {
		ev.CurSR = 0
	}
	entry := combo[ev.CurSR]

	var val uint32
	if entry.SetClear == 1 {
		for _, bit := range entry.Bits {
			val |= 1 << uint(bit)
		}
	}

	ev.CurSR = (ev.CurSR + 1) % ev.SRNum
	if ev.CurSR == 0 {
		ev.CurSatisfy = (ev.CurSatisfy + 1) % len(ev.Satisfy)
	}
	return val
}

// StageOneRecord is the "sr_read" termination record dumped when the
// Identify stage finds an unmodeled SR/CR_SR read site (SPEC_FULL.md §4.H,
// §2C). SRIdx is written and read back by Dump/Load as "sr_idx"; the stage
// controller does not fill it, so records it produces carry no sr_idx.
type StageOneRecord struct {
	PeriBaseAddr uint64
	RegIdx       int
	CRVal        string
	BBLCnt       uint64
	BBLStart     uint64
	BBLEnd       uint64
	SRFunc       bool
	SRIdx        []int
	CRSRRIdx     int
}

// AccessToUnmodeledPeripheral is the stage-3 upcall record describing an
// unmodeled SRRS or uncategorized-register access (SPEC_FULL.md §4.H, §2C).
type AccessToUnmodeledPeripheral struct {
	PeriBaseAddr uint64
	Reason       string // "unmodeled_srrs" | "uncategorized_register"
	Func         string // best-effort symbol name from lookup_symbol
	ReplayBBLCnt uint64
}
