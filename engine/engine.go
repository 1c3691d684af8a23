// Package engine wires the peripheral store, register classifier, event
// model, interrupt scheduler, and input feeder into the two entry points an
// emulator actually calls: ReadMMIO and WriteMMIO. This is the
// MmioDispatcher of SPEC_FULL.md §4.I, the glue that composes every other
// component on each access.
package engine

import (
	"fmt"
	"log"

	"github.com/p2im-re/modelengine/feeder"
	"github.com/p2im-re/modelengine/peripheral"
	"github.com/p2im-re/modelengine/stage"
)

// Default peripheral MMIO window, per SPEC_FULL.md §6 "Address ranges".
const (
	DefaultRangeLow  uint64 = 0x40000000
	DefaultRangeHigh uint64 = 0x60000000
)

// Config mirrors the teacher's NewVirtualMachine(memSize, numVCPUs,
// enableDebug) style of defaulting zero values (SPEC_FULL.md §2A):
// RangeLow/RangeHigh fall back to the default window when both are zero,
// and Stage falls back to stage.DefaultConfig() when it is entirely zero.
// A partly filled Stage is used as given; its zero fields are not defaulted.
type Config struct {
	RangeLow  uint64
	RangeHigh uint64
	Stage     stage.Config
	Debug     bool
}

func (c Config) withDefaults() Config {
	if c.RangeLow == 0 && c.RangeHigh == 0 {
		c.RangeLow, c.RangeHigh = DefaultRangeLow, DefaultRangeHigh
	}
	if (c.Stage == stage.Config{}) {
		c.Stage = stage.DefaultConfig()
	}
	return c
}

// Engine is the top-level handle an emulator holds: one per guest process,
// composing the whole modeling pipeline behind two calls.
type Engine struct {
	cfg        Config
	controller *stage.Controller
	Debug      bool
}

// New builds an Engine ready to serve MMIO accesses. hooks wires the host
// upcalls (doneWork, nvic_set_pending, lookup_symbol); a zero-valued Hooks
// is valid and simply makes those upcalls no-ops.
func New(cfg Config, hooks stage.Hooks) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.RangeHigh <= cfg.RangeLow {
		return nil, fmt.Errorf("engine: invalid MMIO range [%#x, %#x)", cfg.RangeLow, cfg.RangeHigh)
	}
	e := &Engine{
		cfg:        cfg,
		controller: stage.NewController(cfg.Stage, hooks, peripheral.DefaultRange, 0, 0),
		Debug:      cfg.Debug,
	}
	e.logf("engine: ready, MMIO range [%#x, %#x)", cfg.RangeLow, cfg.RangeHigh)
	return e, nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Debug {
		log.Printf(format, args...)
	}
}

// InRange reports whether addr falls inside the configured peripheral
// window — the AddressRouter of SPEC_FULL.md §2.
func (e *Engine) InRange(addr uint64) bool {
	return addr >= e.cfg.RangeLow && addr < e.cfg.RangeHigh
}

// ReadMMIO is the emulator-facing read entry point. Addresses outside the
// configured range return 0 with no error, the same "unhandled, let the
// outer handler deal with it" contract SPEC_FULL.md §4.I describes.
func (e *Engine) ReadMMIO(addr uint64, size int) (uint32, error) {
	if !e.InRange(addr) {
		return 0, nil
	}
	v, err := e.controller.Read(addr, size)
	if err != nil {
		e.logf("engine: read %#x/%d failed: %v", addr, size, err)
		return 0, err
	}
	return v, nil
}

// WriteMMIO is the emulator-facing write entry point.
func (e *Engine) WriteMMIO(addr uint64, size int, value uint32) error {
	if !e.InRange(addr) {
		return nil
	}
	if err := e.controller.Write(addr, size, value); err != nil {
		e.logf("engine: write %#x/%d=%#x failed: %v", addr, size, value, err)
		return err
	}
	return nil
}

// OnBBLBegin/OnBBLEnd advance the basic-block counter the pipeline uses as
// its unit of progress instead of wall-clock time (SPEC_FULL.md §5).
func (e *Engine) OnBBLBegin(pc uint64) { e.controller.OnBBLBegin(pc) }

func (e *Engine) OnBBLEnd(pc uint64) error {
	done, err := e.controller.OnBBLEnd(pc)
	if err != nil {
		e.logf("engine: BBL end %#x: %v", pc, err)
		return err
	}
	if done {
		e.logf("engine: stage %v terminated at BBL %d", e.controller.Stage(), e.controller.BBLCount())
	}
	return nil
}

// SetStage advances the modeling pipeline to s.
func (e *Engine) SetStage(s stage.Stage) { e.controller.SetStage(s) }

// LoadModel restores a persisted model, typically before entering Explore
// or Fuzzing.
func (e *Engine) LoadModel(data []byte) error { return e.controller.LoadModel(data) }

// DumpModel serializes the current model, typically on stage termination.
func (e *Engine) DumpModel() ([]byte, error) { return e.controller.DumpModel() }

// SetInput attaches a fuzzer input feeder, backing Data-register reads.
func (e *Engine) SetInput(f *feeder.Feeder) { e.controller.SetInput(f) }

// SetExplorationInput attaches the SR_r_file byte stream the Explore stage
// reads from once it reaches the basic block under exploration.
func (e *Engine) SetExplorationInput(data []byte) { e.controller.SetExplorationInput(data) }

// EnableInterrupt/DisableInterrupt manage the round-robin NVIC schedule.
func (e *Engine) EnableInterrupt(excpNum uint32) error { return e.controller.EnableInterrupt(excpNum) }
func (e *Engine) DisableInterrupt(excpNum uint32)      { e.controller.DisableInterrupt(excpNum) }
