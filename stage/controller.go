package stage

import (
	"fmt"

	"github.com/p2im-re/modelengine/classify"
	"github.com/p2im-re/modelengine/feeder"
	"github.com/p2im-re/modelengine/interrupt"
	"github.com/p2im-re/modelengine/model"
	"github.com/p2im-re/modelengine/peripheral"
)

// Stage is one of the three modeling phases (SPEC_FULL.md §4.H).
type Stage int

const (
	Invalid Stage = iota
	Identify
	Explore
	Fuzzing
)

// Config collects every tunable threshold the pipeline needs, per the
// ambient-stack configuration approach in SPEC_FULL.md §2A.
type Config struct {
	ConsecNonSRReadThreshold int
	MeTermThreshold          uint64
	SRRWorkerBBLCntCap       uint64
	SRRThreshold             int
	MaxSRPerBBL              int
	MaxMEInvocPerCase        int
	FuzzingIntFreq           uint64
	IntRoundTarget           uint64
}

// Option sets one field of the Config that DefaultConfig builds; fields no
// option sets keep their defaults, mirroring the teacher's
// NewVirtualMachine(memSize, numVCPUs, ...) pattern of defaulting unset
// parameters. NewController uses the Config it is given as is.
type Option func(*Config)

func WithConsecutiveReadThreshold(n int) Option { return func(c *Config) { c.ConsecNonSRReadThreshold = n } }
func WithMeTermThreshold(n uint64) Option        { return func(c *Config) { c.MeTermThreshold = n } }
func WithExploreBBLCntCap(n uint64) Option       { return func(c *Config) { c.SRRWorkerBBLCntCap = n } }
func WithExploreSRThreshold(n int) Option        { return func(c *Config) { c.SRRThreshold = n } }
func WithMaxSRPerBBL(n int) Option               { return func(c *Config) { c.MaxSRPerBBL = n } }
func WithMaxMEInvocPerCase(n int) Option         { return func(c *Config) { c.MaxMEInvocPerCase = n } }
func WithFuzzingIntFreq(n uint64) Option         { return func(c *Config) { c.FuzzingIntFreq = n } }
func WithIntRoundTarget(n uint64) Option         { return func(c *Config) { c.IntRoundTarget = n } }

// DefaultConfig matches the modeling engine's historical constants.
func DefaultConfig(opts ...Option) Config {
	c := Config{
		ConsecNonSRReadThreshold: 100,
		MeTermThreshold:          30000,
		SRRWorkerBBLCntCap:       20000,
		SRRThreshold:             4,
		MaxSRPerBBL:              12,
		MaxMEInvocPerCase:        6,
		FuzzingIntFreq:           1000,
		IntRoundTarget:           1,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Hooks are the host upcalls the controller invokes; any nil hook is simply
// not called (SPEC_FULL.md §6 "Host upcalls").
type Hooks struct {
	DoneWork     func(code ExitCode)
	SetPending   func(excpNum uint32)
	LookupSymbol func(pc uint64) string
}

// Controller orchestrates the peripheral store, classifier, event model,
// interrupt scheduler, and input feeder across the three modeling stages
// (SPEC_FULL.md §4.H). It is the "H" component the MmioDispatcher ("I")
// composes on every MMIO access.
type Controller struct {
	cfg   Config
	hooks Hooks

	store      *peripheral.Store
	classifier *classify.Classifier
	intr       *interrupt.Table
	input      *feeder.Feeder

	stage Stage

	bblCnt      uint64
	curBBLStart uint64
	curBBLEnd   uint64
	curBBLSRReads int

	piStarted bool
	meInvocCount int

	targetBBLCnt    uint64
	replayBBLCnt    uint64
	sinceLastFind   uint64
	srrSite         uint64
	crsrRIdxTarget  int

	exploreInput           []byte
	exploreCursor          int
	exploreUnexpectedReads int
	lastExploreVal         uint32

	pendingSR  *model.StageOneRecord
	pendingAUP *model.AccessToUnmodeledPeripheral
}

// NewController builds a fresh controller with an empty store.
func NewController(cfg Config, hooks Hooks, addrRange uint64, bankSize, drBytesNum int) *Controller {
	return &Controller{
		cfg:        cfg,
		hooks:      hooks,
		store:      peripheral.NewStore(addrRange, bankSize, drBytesNum),
		classifier: classify.New(classify.Config{ConsecNonSRReadThreshold: cfg.ConsecNonSRReadThreshold}),
		intr:       &interrupt.Table{},
	}
}

func (c *Controller) SetStage(s Stage) { c.stage = s }
func (c *Controller) Stage() Stage     { return c.stage }
func (c *Controller) SetInput(f *feeder.Feeder) { c.input = f }

// SetExplorationInput attaches the SR_r_file byte stream the Explore stage
// reads from once firmware reaches the basic block that triggered stage 1
// (SPEC_FULL.md §4.H). Values are consumed 4 bytes at a time, MSB-first.
func (c *Controller) SetExplorationInput(data []byte) {
	c.exploreInput = data
	c.exploreCursor = 0
	c.exploreUnexpectedReads = 0
	c.lastExploreVal = 0
}
func (c *Controller) SetPIStarted(started bool)  { c.piStarted = started }
func (c *Controller) BBLCount() uint64           { return c.bblCnt }
func (c *Controller) Store() *peripheral.Store   { return c.store }

func (c *Controller) mode() classify.Mode {
	switch c.stage {
	case Explore:
		return classify.ModeExplore
	case Fuzzing:
		return classify.ModeFuzzing
	default:
		return classify.ModeIdentify
	}
}

// replaying reports whether the controller is still fast-forwarding to the
// replay_bbl_cnt gate loaded from a prior stage's dump (SPEC_FULL.md §4.H
// "Replay gating").
func (c *Controller) replaying() bool {
	return c.replayBBLCnt > 0 && c.bblCnt < c.replayBBLCnt
}

// EnableInterrupt enables excpNum in the round-robin schedule.
func (c *Controller) EnableInterrupt(excpNum uint32) error {
	if err := c.intr.Enable(excpNum); err != nil {
		return &FatalError{Code: InterruptTableFull, Msg: err.Error()}
	}
	return nil
}

// DisableInterrupt disables excpNum.
func (c *Controller) DisableInterrupt(excpNum uint32) { c.intr.Disable(excpNum) }

func (c *Controller) setPending(excpNum uint32) {
	if c.hooks.SetPending != nil {
		c.hooks.SetPending(excpNum)
	}
}

// OnBBLBegin marks the start of a new basic block.
func (c *Controller) OnBBLBegin(pc uint64) {
	c.curBBLStart = pc
	c.curBBLSRReads = 0
}

// OnBBLEnd marks the end of a basic block, advances the BBL counter, fires
// interrupts per the current stage's cadence, and reports whether a
// termination condition (other than a fatal one surfaced from Read/Write)
// has been reached.
func (c *Controller) OnBBLEnd(pc uint64) (terminated bool, err error) {
	c.curBBLEnd = pc
	c.bblCnt++
	c.sinceLastFind++

	switch c.stage {
	case Identify, Explore:
		c.intr.Fire(c.setPending)
		if c.intr.IntRound() > c.cfg.IntRoundTarget {
			return true, nil
		}
		if c.stage == Identify && c.sinceLastFind > c.cfg.MeTermThreshold {
			return true, nil
		}
		if c.stage == Explore && c.bblCnt > c.cfg.SRRWorkerBBLCntCap {
			return true, &FatalError{Code: StageTwoExhausted, Msg: "explore stage exceeded its BBL budget"}
		}
	case Fuzzing:
		if c.bblCnt%c.cfg.FuzzingIntFreq == 0 {
			c.intr.Fire(c.setPending)
		}
	}
	return false, nil
}

// Read serves an MMIO read through classification and, where applicable,
// the event model or input feeder (SPEC_FULL.md §4.I).
func (c *Controller) Read(addr uint64, size int) (uint32, error) {
	p := c.store.GetOrCreate(addr, size)
	regIdx := int((addr - p.BaseAddr) / uint64(p.RegSize))
	if regIdx < 0 || regIdx >= len(p.Regs) {
		return 0, fmt.Errorf("stage: read address %#x outside register bank", addr)
	}
	if regIdx > p.MaxRegIdx {
		p.MaxRegIdx = regIdx
	}
	reg := &p.Regs[regIdx]

	res := c.classifier.OnRead(reg, c.mode(), classify.Access{Addr: addr, BBLCnt: c.bblCnt, PIStarted: c.piStarted})
	if res.Fatal {
		return 0, &FatalError{Code: HangOnUnmodeledSR, Msg: fmt.Sprintf("locked SR at %#x polled past threshold", addr)}
	}

	switch reg.Category {
	case peripheral.DR:
		if c.input != nil && (c.stage == Fuzzing || (c.stage == Explore && c.piStarted)) {
			v, ferr := c.input.Read(p.DRBytesNum)
			if ferr != nil {
				return 0, &FatalError{Code: InputExhausted, Msg: ferr.Error()}
			}
			return v, nil
		}
		return 0, nil
	case peripheral.SR, peripheral.CRSR:
		return c.serveStatus(p, reg, regIdx, res.HandleAsSR)
	default: // UC, CR
		return peripheral.RegValue(reg), nil
	}
}

func (c *Controller) serveStatus(p *peripheral.Peripheral, reg *peripheral.Register, regIdx int, handleAsSR bool) (uint32, error) {
	// Once Explore has re-executed firmware up to the BBL that triggered
	// stage 1 (bbl_cnt >= target_bbl_cnt-1), every SR/CR_SR read is handed
	// to serveExploreSite instead of the learned model (SPEC_FULL.md
	// §4.H "SR_R_EXPLORE", original_source's unassigned_mem_read).
	if c.stage == Explore && !c.replaying() && c.targetBBLCnt > 0 && c.bblCnt >= c.targetBBLCnt-1 {
		return c.serveExploreSite(reg)
	}

	crVal, err := model.CRVal(p)
	if err != nil {
		return 0, &FatalError{Code: CRValOverflow, Msg: err.Error()}
	}

	ev, ok := p.LookupEvent(crVal, c.curBBLEnd)
	if ok && reg.Category == peripheral.CRSR {
		ok = reg.RIdxInBBL == ev.CRSRRIdx
	}

	if !ok {
		if c.replaying() {
			return peripheral.RegValue(reg), nil
		}
		if reg.Category == peripheral.CRSR && !handleAsSR {
			return peripheral.RegValue(reg), nil
		}
		switch c.stage {
		case Identify:
			c.recordStageOne(p, regIdx, crVal, reg)
			return 0, c.terminateForStageOne()
		case Explore:
			return 0, &FatalError{Code: StageTwoModelMissing, Msg: fmt.Sprintf(
				"explore stage found no model for SR read at peripheral %#x reg %d before the replay target", p.BaseAddr, regIdx)}
		case Fuzzing:
			return c.unmodeledSRRS(p, regIdx, crVal)
		default:
			return 0, nil
		}
	}

	c.curBBLSRReads++
	if c.curBBLSRReads > c.cfg.MaxSRPerBBL {
		return 0, &FatalError{Code: TooManySRsInBBL, Msg: "too many SR reads in one basic block"}
	}
	return model.ServeSR(ev), nil
}

// serveExploreSite implements the SR_r_file-driven read path: once firmware
// has reached the basic block under exploration, values come from a raw
// 4-byte-word stream rather than the event model. In the BBL at
// target_bbl_cnt-1 every CR_SR read is served this way; in later BBLs a
// CR_SR register is served this way only at the r_idx_in_bbl that
// triggered stage 1, and its other reads fall back to its byte shadow.
// Reads past the end of the stream return the previous value while on the
// original call site, 0 otherwise; the first SRRThreshold+1 such reads are
// answered this way and the next one terminates the stage (SPEC_FULL.md
// §4.H).
func (c *Controller) serveExploreSite(reg *peripheral.Register) (uint32, error) {
	if reg.Category == peripheral.CRSR &&
		!(c.bblCnt == c.targetBBLCnt-1 || reg.RIdxInBBL == c.crsrRIdxTarget) {
		return peripheral.RegValue(reg), nil
	}

	if c.exploreCursor+4 > len(c.exploreInput) {
		if c.exploreUnexpectedReads > c.cfg.SRRThreshold {
			return 0, &FatalError{Code: StageTwoExhausted, Msg: "explore stage exhausted its SR_r_file past SR_R_THRESH_HOLD"}
		}
		var v uint32
		if c.curBBLEnd == c.srrSite {
			v = c.lastExploreVal
		}
		c.exploreUnexpectedReads++
		return v, nil
	}

	var v uint32
	for i := 0; i < 4; i++ {
		v = (v << 8) | uint32(c.exploreInput[c.exploreCursor+i])
	}
	c.exploreCursor += 4
	c.lastExploreVal = v
	return v, nil
}

func (c *Controller) recordStageOne(p *peripheral.Peripheral, regIdx int, crVal string, reg *peripheral.Register) {
	c.sinceLastFind = 0
	rec := &model.StageOneRecord{
		PeriBaseAddr: p.BaseAddr,
		RegIdx:       regIdx,
		CRVal:        crVal,
		BBLCnt:       c.bblCnt,
		BBLStart:     c.curBBLStart,
		BBLEnd:       c.curBBLEnd,
		SRFunc:       reg.Category == peripheral.SR,
	}
	if reg.Category == peripheral.CRSR {
		rec.CRSRRIdx = reg.RIdxInBBL
	}
	c.pendingSR = rec
}

func (c *Controller) terminateForStageOne() error {
	if c.hooks.DoneWork != nil {
		c.hooks.DoneWork(ModelExtractorExit)
	}
	return &FatalError{Code: ModelExtractorExit, Msg: "identify stage found an unmodeled SR read site"}
}

func (c *Controller) unmodeledSRRS(p *peripheral.Peripheral, regIdx int, crVal string) (uint32, error) {
	c.meInvocCount++
	if c.meInvocCount > c.cfg.MaxMEInvocPerCase {
		return 0, &FatalError{Code: MaxMEInvocPerCaseViolation, Msg: "model extractor invoked too many times for this test case"}
	}
	c.pendingAUP = &model.AccessToUnmodeledPeripheral{
		PeriBaseAddr: p.BaseAddr,
		Reason:       "unmodeled_srrs",
		ReplayBBLCnt: c.bblCnt,
	}
	if c.hooks.LookupSymbol != nil {
		c.pendingAUP.Func = c.hooks.LookupSymbol(c.curBBLEnd)
	}
	if c.hooks.DoneWork != nil {
		c.hooks.DoneWork(UnmodeledSRRS)
	}
	return 0, &FatalError{Code: UnmodeledSRRS, Msg: fmt.Sprintf("unmodeled SRRS at peripheral %#x reg %d (CR_val=%q)", p.BaseAddr, regIdx, crVal)}
}

// Write serves an MMIO write through classification and updates the
// register's byte shadow (SPEC_FULL.md §4.I).
func (c *Controller) Write(addr uint64, size int, value uint32) error {
	p := c.store.GetOrCreate(addr, size)
	regIdx := int((addr - p.BaseAddr) / uint64(p.RegSize))
	if regIdx < 0 || regIdx >= len(p.Regs) {
		return fmt.Errorf("stage: write address %#x outside register bank", addr)
	}
	if regIdx > p.MaxRegIdx {
		p.MaxRegIdx = regIdx
	}
	reg := &p.Regs[regIdx]

	res := c.classifier.OnWrite(reg, c.mode(), classify.Access{Addr: addr, BBLCnt: c.bblCnt})
	if res.DemotedFromSR && c.curBBLSRReads > 0 {
		c.curBBLSRReads--
	}
	peripheral.SetRegValue(reg, value)
	return nil
}

// LoadModel restores a persisted model and wires the replay gate for the
// current stage, clamping explore's replay_bbl_cnt to target_bbl_cnt-1 per
// SPEC_FULL.md §4.H.
func (c *Controller) LoadModel(data []byte) error {
	store, intr, sr, aup, err := model.Load(data)
	if err != nil {
		return err
	}
	c.store = store
	c.intr = intr
	c.pendingSR = sr
	c.pendingAUP = aup

	if sr != nil {
		c.targetBBLCnt = sr.BBLCnt
		c.srrSite = sr.BBLEnd
		c.crsrRIdxTarget = sr.CRSRRIdx
	}
	if aup != nil {
		c.replayBBLCnt = aup.ReplayBBLCnt
		if c.stage == Explore && c.targetBBLCnt > 0 && c.replayBBLCnt > c.targetBBLCnt-1 {
			c.replayBBLCnt = c.targetBBLCnt - 1
		}
	}
	return nil
}

// DumpModel serializes the current store, interrupt table, and any pending
// stage-termination records.
func (c *Controller) DumpModel() ([]byte, error) {
	return model.Dump(c.store, c.intr, c.pendingSR, c.pendingAUP)
}

// MEInvocations reports how many times the model extractor has been invoked
// for the current test case, for host-side diagnostics.
func (c *Controller) MEInvocations() int { return c.meInvocCount }

// ResetMEInvocations clears the per-test-case model-extractor invocation
// counter; the fuzzer calls this each time it hands the engine a fresh
// input (SPEC_FULL.md §2C).
func (c *Controller) ResetMEInvocations() { c.meInvocCount = 0 }
