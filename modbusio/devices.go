package modbusio

import (
	"sync"

	"github.com/chocotoneg/cc-mek-scada/protocol"
)

// Bank is a four-space MODBUS register bank mirroring one remote device.
// With mirroring enabled, holding-register and coil writes are shadowed
// into the input-register and discrete-input spaces at the same address,
// the way field devices commonly expose pushed readings read-only.
type Bank struct {
	mu        sync.RWMutex
	coils     []bool
	discretes []bool
	holding   []uint16
	input     []uint16
	mirror    bool
}

// NewBank allocates a bank with the given space sizes.
func NewBank(coils, discretes, holding, input int, mirror bool) *Bank {
	return &Bank{
		coils:     make([]bool, coils),
		discretes: make([]bool, discretes),
		holding:   make([]uint16, holding),
		input:     make([]uint16, input),
		mirror:    mirror,
	}
}

// ReadCoil implements DeviceIO.
func (b *Bank) ReadCoil(addr uint16) (bool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(addr) >= len(b.coils) {
		return false, false
	}
	return b.coils[addr], true
}

// WriteCoil implements DeviceIO.
func (b *Bank) WriteCoil(addr uint16, v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) >= len(b.coils) {
		return false
	}
	b.coils[addr] = v
	if b.mirror && int(addr) < len(b.discretes) {
		b.discretes[addr] = v
	}
	return true
}

// ReadDiscrete implements DeviceIO.
func (b *Bank) ReadDiscrete(addr uint16) (bool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(addr) >= len(b.discretes) {
		return false, false
	}
	return b.discretes[addr], true
}

// ReadHolding implements DeviceIO.
func (b *Bank) ReadHolding(addr uint16) (uint16, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(addr) >= len(b.holding) {
		return 0, false
	}
	return b.holding[addr], true
}

// WriteHolding implements DeviceIO.
func (b *Bank) WriteHolding(addr uint16, v uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) >= len(b.holding) {
		return false
	}
	b.holding[addr] = v
	if b.mirror && int(addr) < len(b.input) {
		b.input[addr] = v
	}
	return true
}

// ReadInput implements DeviceIO.
func (b *Bank) ReadInput(addr uint16) (uint16, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(addr) >= len(b.input) {
		return 0, false
	}
	return b.input[addr], true
}

// WriteInput implements DeviceIO.
func (b *Bank) WriteInput(addr uint16, v uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) >= len(b.input) {
		return false
	}
	b.input[addr] = v
	return true
}

// u32 reads a 32-bit value from an input-register pair (hi, lo).
func (b *Bank) u32(addr uint16) uint32 {
	hi, _ := b.ReadInput(addr)
	lo, _ := b.ReadInput(addr + 1)
	return uint32(hi)<<16 | uint32(lo)
}

// Well-known register layouts per device kind. All multi-word values
// are big-endian register pairs pushed by the RTU gateway with
// write-multi-holding requests (mirrored into the input space).
const (
	// shared
	regFormed = 0 // discrete: multiblock formed

	// induction matrix input registers (values in kFE and kFE/t)
	imtxRegChargeHi = 0
	imtxRegMaxHi    = 2
	imtxRegInputHi  = 4
	imtxRegOutputHi = 6

	// SPS input registers
	spsRegProcessHi = 0

	// dynamic tank input registers (fill in permille)
	tankRegFill = 0

	// boiler input registers
	boilerRegTempHi = 0
	boilerRegBoilHi = 2

	// turbine input registers
	turbineRegFlowHi = 0
	turbineRegProdHi = 2

	// environment detector input registers (Sv/h scaled by 1e9)
	envdRegRadiationHi = 0

	// SNA input registers
	snaRegPeakHi = 0
)

// BankFor allocates the register bank for a device kind.
func BankFor(kind protocol.RTUDeviceKind) *Bank {
	switch kind {
	case protocol.KindIMatrix:
		return NewBank(1, 1, 8, 8, true)
	case protocol.KindSPS:
		return NewBank(1, 1, 2, 2, true)
	case protocol.KindDynamicValve:
		return NewBank(1, 1, 2, 2, true)
	case protocol.KindBoilerValve, protocol.KindTurbineValve:
		return NewBank(1, 1, 4, 4, true)
	case protocol.KindEnvDetector:
		return NewBank(0, 0, 2, 2, true)
	case protocol.KindSNA:
		return NewBank(1, 1, 2, 2, true)
	case protocol.KindRedstone:
		// 16 digital outs, 16 digital ins, 4 analog each way; outputs
		// are not readings, so no mirroring
		return NewBank(16, 16, 4, 4, false)
	default:
		return NewBank(1, 1, 2, 2, true)
	}
}

// MatrixView exposes an induction matrix bank to the facility. online
// reports the owning entry's hardware state.
type MatrixView struct {
	Bank     *Bank
	OnlineFn func() bool
}

// Online implements facility.IMatrix.
func (v *MatrixView) Online() bool { return v.OnlineFn == nil || v.OnlineFn() }

// Charge implements facility.IMatrix, in FE.
func (v *MatrixView) Charge() float64 { return float64(v.Bank.u32(imtxRegChargeHi)) * 1000 }

// MaxCharge implements facility.IMatrix, in FE.
func (v *MatrixView) MaxCharge() float64 { return float64(v.Bank.u32(imtxRegMaxHi)) * 1000 }

// InputRate implements facility.IMatrix, in FE/t.
func (v *MatrixView) InputRate() float64 { return float64(v.Bank.u32(imtxRegInputHi)) * 1000 }

// OutputRate implements facility.IMatrix, in FE/t.
func (v *MatrixView) OutputRate() float64 { return float64(v.Bank.u32(imtxRegOutputHi)) * 1000 }

// SPSView exposes an SPS bank to the facility.
type SPSView struct {
	Bank     *Bank
	OnlineFn func() bool
}

// Online implements facility.SPSDevice.
func (v *SPSView) Online() bool { return v.OnlineFn == nil || v.OnlineFn() }

// Formed implements facility.SPSDevice.
func (v *SPSView) Formed() bool {
	formed, _ := v.Bank.ReadDiscrete(regFormed)
	return formed
}

// ProcessRate returns the SPS antimatter process rate.
func (v *SPSView) ProcessRate() float64 { return float64(v.Bank.u32(spsRegProcessHi)) }

// EnvDetectorView exposes an environment detector bank to the facility.
type EnvDetectorView struct {
	Bank     *Bank
	OnlineFn func() bool
}

// Online implements facility.EnvDetector.
func (v *EnvDetectorView) Online() bool { return v.OnlineFn == nil || v.OnlineFn() }

// Radiation implements facility.EnvDetector, in Sv/h.
func (v *EnvDetectorView) Radiation() float64 {
	return float64(v.Bank.u32(envdRegRadiationHi)) / 1e9
}

// TankView exposes a dynamic tank bank to the facility.
type TankView struct {
	Bank     *Bank
	OnlineFn func() bool
}

// Online implements facility.TankDevice.
func (v *TankView) Online() bool { return v.OnlineFn == nil || v.OnlineFn() }

// Fill implements facility.TankDevice, as a 0..1 fraction.
func (v *TankView) Fill() float64 {
	fill, _ := v.Bank.ReadInput(tankRegFill)
	return float64(fill) / 1000
}

// Formed reports whether a multiblock bank's device is formed.
func Formed(b *Bank) bool {
	formed, _ := b.ReadDiscrete(regFormed)
	return formed
}

// SetFormed pushes the formed flag the way the RTU gateway does, through
// the coil write path so the discrete mirror stays consistent.
func SetFormed(b *Bank, formed bool) {
	b.WriteCoil(regFormed, formed)
}
