package model

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/p2im-re/modelengine/interrupt"
	"github.com/p2im-re/modelengine/peripheral"
)

// wireRegister is the on-disk representation of one register slot.
type wireRegister struct {
	Type     int     `json:"type"`
	Read     int     `json:"read"`
	Write    int     `json:"write"`
	SRLocked *int    `json:"sr_locked,omitempty"`
	CRValue  *string `json:"cr_value,omitempty"`
}

type wireSatisfyEntry struct {
	SetClear int   `json:"set_clear"`
	Bits     []int `json:"bits,omitempty"`
}

type wireEvent struct {
	SRNum    int                    `json:"sr_num"`
	SetBits  int                    `json:"set_bits"`
	CRSRRIdx *int                   `json:"CR_SR_r_idx,omitempty"`
	Satisfy  [][]wireSatisfyEntry   `json:"satisfy"`
}

type wirePeripheral struct {
	DRBytesNum int                             `json:"DR_bytes_num"`
	RegSize    int                             `json:"reg_size"`
	Regs       []wireRegister                  `json:"regs"`
	Events     map[string]map[string]wireEvent `json:"events,omitempty"`
}

type wireInterrupt struct {
	ExcpNum uint32 `json:"excp_num"`
	Enabled int    `json:"enabled"`
}

// Document is the full persisted-model JSON file (SPEC_FULL.md §6).
type Document struct {
	Model                 map[string]wirePeripheral    `json:"model"`
	Interrupts            []wireInterrupt              `json:"interrupts,omitempty"`
	SRRead                *wireStageOneRecord           `json:"sr_read,omitempty"`
	AccessToUnmodeledPeri *wireUnmodeledAccess          `json:"access_to_unmodeled_peri,omitempty"`
}

type wireStageOneRecord struct {
	PeriBaseAddr string `json:"peri_base_addr"`
	RegIdx       int    `json:"reg_idx"`
	CRVal        string `json:"cr_val"`
	BBLCnt       uint64 `json:"bbl_cnt"`
	BBLStart     string `json:"cur_bbl_s"`
	BBLEnd       string `json:"cur_bbl_e"`
	SRFunc       int    `json:"sr_func"`
	SRIdx        []int  `json:"sr_idx,omitempty"`
	CRSRRIdx     int    `json:"CR_SR_r_idx,omitempty"`
}

type wireUnmodeledAccess struct {
	PeriBaseAddr string `json:"peri_base_addr"`
	Reason       string `json:"aup_reason"`
	Func         string `json:"aup_func,omitempty"`
	ReplayBBLCnt uint64 `json:"replay_bbl_cnt"`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Dump serializes the store, interrupt table, and optional stage-termination
// records into the persisted JSON model format.
func Dump(store *peripheral.Store, intr *interrupt.Table, sr *StageOneRecord, aup *AccessToUnmodeledPeripheral) ([]byte, error) {
	doc := Document{Model: make(map[string]wirePeripheral)}

	for _, p := range store.All() {
		wp := wirePeripheral{DRBytesNum: p.DRBytesNum, RegSize: p.RegSize}
		limit := p.MaxRegIdx
		if limit >= len(p.Regs) {
			limit = len(p.Regs) - 1
		}
		for i := 0; i <= limit; i++ {
			reg := &p.Regs[i]
			wr := wireRegister{Type: int(reg.Category), Read: boolToInt(reg.Read), Write: boolToInt(reg.Write)}
			if reg.SRLocked {
				one := 1
				wr.SRLocked = &one
			}
			if reg.Category == peripheral.CR || reg.Category == peripheral.CRSR {
				v := fmt.Sprintf("0x%x", peripheral.RegValue(reg))
				wr.CRValue = &v
			}
			wp.Regs = append(wp.Regs, wr)
		}
		if len(p.Events) > 0 {
			wp.Events = make(map[string]map[string]wireEvent)
			for crVal, byBBL := range p.Events {
				m := make(map[string]wireEvent)
				for bblEnd, ev := range byBBL {
					we := wireEvent{SRNum: ev.SRNum, SetBits: ev.SetBits}
					if ev.CRSRRIdx >= 0 {
						idx := ev.CRSRRIdx
						we.CRSRRIdx = &idx
					}
					for _, combo := range ev.Satisfy {
						var wc []wireSatisfyEntry
						for _, e := range combo {
							wc = append(wc, wireSatisfyEntry{SetClear: e.SetClear, Bits: e.Bits})
						}
						we.Satisfy = append(we.Satisfy, wc)
					}
					m[fmt.Sprintf("0x%x", bblEnd)] = we
				}
				wp.Events[crVal] = m
			}
		}
		doc.Model[fmt.Sprintf("0x%x", p.BaseAddr)] = wp
	}

	if intr != nil {
		for _, e := range intr.All() {
			doc.Interrupts = append(doc.Interrupts, wireInterrupt{ExcpNum: e.ExcpNum, Enabled: boolToInt(e.Enabled)})
		}
	}
	if sr != nil {
		doc.SRRead = &wireStageOneRecord{
			PeriBaseAddr: fmt.Sprintf("0x%x", sr.PeriBaseAddr),
			RegIdx:       sr.RegIdx,
			CRVal:        sr.CRVal,
			BBLCnt:       sr.BBLCnt,
			BBLStart:     fmt.Sprintf("0x%x", sr.BBLStart),
			BBLEnd:       fmt.Sprintf("0x%x", sr.BBLEnd),
			SRFunc:       boolToInt(sr.SRFunc),
			SRIdx:        sr.SRIdx,
			CRSRRIdx:     sr.CRSRRIdx,
		}
	}
	if aup != nil {
		doc.AccessToUnmodeledPeri = &wireUnmodeledAccess{
			PeriBaseAddr: fmt.Sprintf("0x%x", aup.PeriBaseAddr),
			Reason:       aup.Reason,
			Func:         aup.Func,
			ReplayBBLCnt: aup.ReplayBBLCnt,
		}
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, &IOError{Op: "marshal", Err: err}
	}
	return data, nil
}

// Load parses a persisted model and rebuilds a peripheral Store and
// interrupt Table from it, along with any stage-termination records.
func Load(data []byte) (*peripheral.Store, *interrupt.Table, *StageOneRecord, *AccessToUnmodeledPeripheral, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, nil, nil, &CorruptError{Field: "<root>", Msg: err.Error()}
	}

	store := peripheral.NewStore(peripheral.DefaultRange, peripheral.DefaultBankSize, peripheral.DefaultDRBytes)
	for baseHex, wp := range doc.Model {
		base, err := strconv.ParseUint(baseHex, 0, 64)
		if err != nil {
			return nil, nil, nil, nil, &CorruptError{Field: "model." + baseHex, Msg: "invalid base address: " + err.Error()}
		}
		p := peripheral.NewPeripheral(base, peripheral.DefaultBankSize, wp.RegSize, wp.DRBytesNum)
		for i, wr := range wp.Regs {
			if i >= len(p.Regs) {
				return nil, nil, nil, nil, &CorruptError{Field: fmt.Sprintf("model.%s.regs[%d]", baseHex, i), Msg: "register index exceeds bank size"}
			}
			reg := &p.Regs[i]
			reg.Category = peripheral.Category(wr.Type)
			reg.Read = wr.Read != 0
			reg.Write = wr.Write != 0
			if wr.SRLocked != nil && *wr.SRLocked != 0 {
				reg.SRLocked = true
			}
			if wr.CRValue != nil {
				v, err := strconv.ParseUint(*wr.CRValue, 0, 32)
				if err != nil {
					return nil, nil, nil, nil, &CorruptError{Field: fmt.Sprintf("model.%s.regs[%d].cr_value", baseHex, i), Msg: err.Error()}
				}
				peripheral.SetRegValue(reg, uint32(v))
			}
			if i > p.MaxRegIdx {
				p.MaxRegIdx = i
			}
		}
		for crVal, byBBL := range wp.Events {
			for bblHex, we := range byBBL {
				bblEnd, err := strconv.ParseUint(bblHex, 0, 64)
				if err != nil {
					return nil, nil, nil, nil, &CorruptError{Field: fmt.Sprintf("model.%s.events[%s]", baseHex, crVal), Msg: "invalid bbl_e: " + err.Error()}
				}
				if len(we.Satisfy) > peripheral.MaxSatisfyPerEvt {
					return nil, nil, nil, nil, &CapacityError{Msg: "satisfying combination table exceeds 16 entries"}
				}
				ev := &peripheral.Event{SRNum: we.SRNum, SetBits: we.SetBits, CRSRRIdx: -1}
				if we.CRSRRIdx != nil {
					ev.CRSRRIdx = *we.CRSRRIdx
				}
				for _, combo := range we.Satisfy {
					var c []peripheral.SatisfyEntry
					for _, e := range combo {
						c = append(c, peripheral.SatisfyEntry{SetClear: e.SetClear, Bits: e.Bits})
					}
					ev.Satisfy = append(ev.Satisfy, c)
				}
				if err := p.AddEvent(crVal, bblEnd, ev); err != nil {
					return nil, nil, nil, nil, &CapacityError{Msg: err.Error()}
				}
			}
		}
		store.Adopt(p)
	}

	var intr interrupt.Table
	if len(doc.Interrupts) > 0 {
		entries := make([]interrupt.Entry, len(doc.Interrupts))
		for i, wi := range doc.Interrupts {
			entries[i] = interrupt.Entry{ExcpNum: wi.ExcpNum, Enabled: wi.Enabled != 0}
		}
		intr.Load(entries)
	}

	var sr *StageOneRecord
	if doc.SRRead != nil {
		base, err := strconv.ParseUint(doc.SRRead.PeriBaseAddr, 0, 64)
		if err != nil {
			return nil, nil, nil, nil, &CorruptError{Field: "sr_read.peri_base_addr", Msg: err.Error()}
		}
		bblS, _ := strconv.ParseUint(doc.SRRead.BBLStart, 0, 64)
		bblE, _ := strconv.ParseUint(doc.SRRead.BBLEnd, 0, 64)
		sr = &StageOneRecord{
			PeriBaseAddr: base,
			RegIdx:       doc.SRRead.RegIdx,
			CRVal:        doc.SRRead.CRVal,
			BBLCnt:       doc.SRRead.BBLCnt,
			BBLStart:     bblS,
			BBLEnd:       bblE,
			SRFunc:       doc.SRRead.SRFunc != 0,
			SRIdx:        doc.SRRead.SRIdx,
			CRSRRIdx:     doc.SRRead.CRSRRIdx,
		}
	}

	var aup *AccessToUnmodeledPeripheral
	if doc.AccessToUnmodeledPeri != nil {
		base, err := strconv.ParseUint(doc.AccessToUnmodeledPeri.PeriBaseAddr, 0, 64)
		if err != nil {
			return nil, nil, nil, nil, &CorruptError{Field: "access_to_unmodeled_peri.peri_base_addr", Msg: err.Error()}
		}
		aup = &AccessToUnmodeledPeripheral{
			PeriBaseAddr: base,
			Reason:       doc.AccessToUnmodeledPeri.Reason,
			Func:         doc.AccessToUnmodeledPeri.Func,
			ReplayBBLCnt: doc.AccessToUnmodeledPeri.ReplayBBLCnt,
		}
	}

	return store, &intr, sr, aup, nil
}
