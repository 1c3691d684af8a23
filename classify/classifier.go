// Package classify implements the register classification state machine:
// the rules that promote or demote an MMIO register's category from
// observed read/write access patterns (SPEC_FULL.md §4.C).
package classify

import "github.com/p2im-re/modelengine/peripheral"

// Mode is the subset of stage behavior the classifier needs to know about.
// It intentionally does not depend on the stage package, to keep stage the
// only package that wires classify, model, interrupt, and feeder together.
type Mode int

const (
	ModeIdentify Mode = iota
	ModeExplore
	ModeFuzzing
)

// Config carries the one threshold the classifier's fix-up logic needs.
type Config struct {
	ConsecNonSRReadThreshold int
}

// DefaultConfig matches the modeling engine's historical default.
func DefaultConfig() Config {
	return Config{ConsecNonSRReadThreshold: 100}
}

// Access describes one MMIO event the classifier must react to.
type Access struct {
	Addr      uint64
	BBLCnt    uint64
	PIStarted bool // whether the fuzzer input phase has begun
}

// Result reports what changed so the caller (the StageController) can act.
type Result struct {
	Category     peripheral.Category
	HandleAsSR   bool // serve this specific read from the event model
	Fatal        bool // firmware hung polling an already-locked SR
	DemotedFromSR bool // a read-modify-write converted SR -> CR; caller should
	// decrement its own per-BBL SR-read counter.
}

// Classifier holds the scratch state that spans accesses to different
// registers: the previous address/direction, used to detect
// read-then-write-same-address sequences.
type Classifier struct {
	cfg Config

	prevValid   bool
	prevAddr    uint64
	prevWasRead bool
}

// New builds a classifier; a zero-value Config falls back to DefaultConfig.
func New(cfg Config) *Classifier {
	if cfg.ConsecNonSRReadThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Classifier{cfg: cfg}
}

// OnRead classifies a read of reg and returns how the caller should serve it.
func (c *Classifier) OnRead(reg *peripheral.Register, mode Mode, access Access) Result {
	sameAddrAsPrevRead := c.prevValid && c.prevWasRead && c.prevAddr == access.Addr
	reg.Read = true

	if reg.Category == peripheral.UC {
		if mode == ModeExplore && access.PIStarted {
			reg.Category = peripheral.DR
		} else {
			reg.Category = peripheral.SR
		}
	}

	if sameAddrAsPrevRead {
		reg.ConsecSameRegR++
	} else {
		reg.ConsecSameRegR = 0
	}

	result := Result{Category: reg.Category}

	if reg.ConsecSameRegR > c.cfg.ConsecNonSRReadThreshold {
		switch reg.Category {
		case peripheral.CR:
			reg.Category = peripheral.CRSR
			reg.SRLocked = true
			result.HandleAsSR = true
		case peripheral.DR:
			reg.Category = peripheral.SR
			reg.SRLocked = true
			reg.SRCatByFixup = true
			reg.ConsecSameRegR = 0
		case peripheral.CRSR:
			result.HandleAsSR = true
		case peripheral.SR:
			result.Fatal = true
		}
		result.Category = reg.Category
	}

	if reg.Category == peripheral.CR || reg.Category == peripheral.CRSR {
		if reg.LastRBBLCnt == access.BBLCnt {
			reg.RIdxInBBL++
		} else {
			reg.RIdxInBBL = 1
			reg.LastRBBLCnt = access.BBLCnt
		}
	}

	c.prevValid = true
	c.prevAddr = access.Addr
	c.prevWasRead = true
	return result
}

// OnWrite classifies a write to reg.
func (c *Classifier) OnWrite(reg *peripheral.Register, mode Mode, access Access) Result {
	reg.Write = true

	if reg.Category == peripheral.UC {
		reg.Category = peripheral.DR
	}

	sameAddrAsPrevRead := c.prevValid && c.prevWasRead && c.prevAddr == access.Addr
	result := Result{Category: reg.Category}
	if sameAddrAsPrevRead && mode != ModeExplore && !reg.SRLocked &&
		(reg.Category == peripheral.SR || reg.Category == peripheral.DR) {
		wasSR := reg.Category == peripheral.SR
		reg.Category = peripheral.CR
		result.DemotedFromSR = wasSR
	}

	reg.ConsecSameRegR = 0
	result.Category = reg.Category

	c.prevValid = true
	c.prevAddr = access.Addr
	c.prevWasRead = false
	return result
}
