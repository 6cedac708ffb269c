package core

// Gas metering. The concrete per-action costs are this implementation's own
// choice, recorded here rather than left ambient: costs are charged in flat
// units without overflow/dynamic pricing, an opcode-indexed flat-cost table
// rather than an EVM-style refund/rebate scheme, which has no analogue in a
// single-handler-per-call execution model.

import "fmt"

// GasSchedule is the flat per-action cost table a Meter charges against.
type GasSchedule struct {
	BaseOperation    uint64 // flat cost of accepting any operation
	StorageWriteByte uint64 // per byte written to durable storage
	StorageReadByte  uint64 // per byte read from durable storage
	StorageDeleteKey uint64 // flat cost per key deleted
	CryptoVerify     uint64 // flat cost of one signature verification
	CryptoHash       uint64 // flat cost of one Keccak256 call
	JSStep           uint64 // flat cost per goja VM interrupt tick
	NestedCallBase   uint64 // flat cost of opening a nested SmartFunction.call
	RevealChunk      uint64 // flat cost per chunk walked during Assemble
	OracleRequest    uint64 // flat cost of issuing an outbound fetch
}

// DefaultGasSchedule is the schedule used unless overridden by
// KernelConfig.
var DefaultGasSchedule = GasSchedule{
	BaseOperation:    1_000,
	StorageWriteByte: 20,
	StorageReadByte:  5,
	StorageDeleteKey: 200,
	CryptoVerify:     3_000,
	CryptoHash:       300,
	JSStep:           1,
	NestedCallBase:   2_000,
	RevealChunk:      500,
	OracleRequest:    5_000,
}

// GasLimit is the maximum gas a single top-level operation may consume
// before the dispatcher aborts it with KindOutOfGas.
const GasLimit = 10_000_000

// Meter tracks gas consumption for a single operation's execution,
// including everything performed by nested SmartFunction.call frames — gas
// is a property of the whole operation, not of any one frame, so nested
// calls share the caller's budget.
type Meter struct {
	schedule GasSchedule
	limit    uint64
	used     uint64
	parent   *Meter
}

// NewMeter constructs a Meter with the given schedule and limit.
func NewMeter(schedule GasSchedule, limit uint64) *Meter {
	return &Meter{schedule: schedule, limit: limit}
}

// BoundedBy returns a view of m that also fails with KindOutOfGas once
// callLimit additional units have been charged through it, on top of
// whatever m has already used and independent of m's own remaining
// headroom — the per-call budget a RunFunction's own gas_limit enforces
// alongside the dispatcher-wide ceiling. Every charge made through the
// returned Meter is forwarded to m, so m.Used() always reflects the whole
// operation's total consumption even when the call-scoped budget is what
// actually runs out first.
func (m *Meter) BoundedBy(callLimit uint64) *Meter {
	headroom := m.limit - m.used
	if headroom > callLimit {
		headroom = callLimit
	}
	return &Meter{schedule: m.schedule, limit: m.used + headroom, used: m.used, parent: m}
}

// Used returns gas consumed so far.
func (m *Meter) Used() uint64 { return m.used }

// Remaining returns gas left before the limit is hit.
func (m *Meter) Remaining() uint64 {
	if m.used >= m.limit {
		return 0
	}
	return m.limit - m.used
}

// Charge deducts amount units, returning KindOutOfGas if doing so would
// exceed the limit. On out-of-gas the meter is left pinned at the limit so
// subsequent charges also fail fast.
func (m *Meter) Charge(amount uint64) error {
	if amount == 0 {
		return nil
	}
	if m.used+amount > m.limit || m.used+amount < m.used {
		m.used = m.limit
		return NewError(KindOutOfGas, fmt.Sprintf("gas limit %d exceeded", m.limit), nil)
	}
	m.used += amount
	if m.parent != nil {
		return m.parent.Charge(amount)
	}
	return nil
}

func (m *Meter) ChargeBaseOperation() error { return m.Charge(m.schedule.BaseOperation) }

func (m *Meter) ChargeStorageWrite(nbytes int) error {
	return m.Charge(m.schedule.StorageWriteByte * uint64(nbytes))
}

func (m *Meter) ChargeStorageRead(nbytes int) error {
	return m.Charge(m.schedule.StorageReadByte * uint64(nbytes))
}

func (m *Meter) ChargeStorageDelete() error { return m.Charge(m.schedule.StorageDeleteKey) }

func (m *Meter) ChargeCryptoVerify() error { return m.Charge(m.schedule.CryptoVerify) }

func (m *Meter) ChargeCryptoHash() error { return m.Charge(m.schedule.CryptoHash) }

func (m *Meter) ChargeJSStep(steps uint64) error { return m.Charge(m.schedule.JSStep * steps) }

func (m *Meter) ChargeNestedCall() error { return m.Charge(m.schedule.NestedCallBase) }

func (m *Meter) ChargeRevealChunk() error { return m.Charge(m.schedule.RevealChunk) }

func (m *Meter) ChargeOracleRequest() error { return m.Charge(m.schedule.OracleRequest) }
