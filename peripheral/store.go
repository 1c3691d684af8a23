package peripheral

// Store is the keyed collection of peripherals the engine has discovered,
// replacing the original's process-global linked list with a contained
// handle an MmioDispatcher threads through (SPEC_FULL.md §9, design note on
// the singleton head).
type Store struct {
	addrRange  uint64
	bankSize   int
	drBytes    int
	byBaseAddr map[uint64]*Peripheral
	order      []uint64 // insertion order, for deterministic dumps
}

// NewStore builds an empty store. addrRange must be a power of two; it is
// the size of the address window each peripheral occupies.
func NewStore(addrRange uint64, bankSize, drBytesNum int) *Store {
	if addrRange == 0 {
		addrRange = DefaultRange
	}
	return &Store{
		addrRange:  addrRange,
		bankSize:   bankSize,
		drBytes:    drBytesNum,
		byBaseAddr: make(map[uint64]*Peripheral),
	}
}

// BaseAddr masks addr down to the peripheral window it falls in.
func (s *Store) BaseAddr(addr uint64) uint64 {
	return addr &^ (s.addrRange - 1)
}

// Get returns the peripheral owning addr, if one has been created yet.
func (s *Store) Get(addr uint64) (*Peripheral, bool) {
	p, ok := s.byBaseAddr[s.BaseAddr(addr)]
	return p, ok
}

// GetOrCreate returns the peripheral owning addr, lazily creating it with
// regSize inferred from the first observed access (SPEC_FULL.md §3).
func (s *Store) GetOrCreate(addr uint64, regSize int) *Peripheral {
	base := s.BaseAddr(addr)
	if p, ok := s.byBaseAddr[base]; ok {
		return p
	}
	p := NewPeripheral(base, s.bankSize, regSize, s.drBytes)
	s.byBaseAddr[base] = p
	s.order = append(s.order, base)
	return p
}

// Adopt inserts an already-constructed peripheral (used by the model codec
// when rebuilding a store from a persisted file).
func (s *Store) Adopt(p *Peripheral) {
	if _, exists := s.byBaseAddr[p.BaseAddr]; !exists {
		s.order = append(s.order, p.BaseAddr)
	}
	s.byBaseAddr[p.BaseAddr] = p
}

// All returns every peripheral in insertion order.
func (s *Store) All() []*Peripheral {
	out := make([]*Peripheral, 0, len(s.order))
	for _, base := range s.order {
		out = append(out, s.byBaseAddr[base])
	}
	return out
}

// Reset discards every peripheral, used when a model reload starts the
// register bank over from scratch (SPEC_FULL.md §3 "Lifecycles").
func (s *Store) Reset() {
	s.byBaseAddr = make(map[uint64]*Peripheral)
	s.order = nil
}

// AddrRange reports the configured peripheral window size.
func (s *Store) AddrRange() uint64 { return s.addrRange }
