package facility

import (
	"fmt"
	"log/slog"

	"github.com/chocotoneg/cc-mek-scada/config"
	"github.com/chocotoneg/cc-mek-scada/errors"
	"github.com/chocotoneg/cc-mek-scada/protocol"
	"github.com/chocotoneg/cc-mek-scada/translate"
)

// IMatrix is the facility's view of the induction matrix RTU device.
type IMatrix interface {
	Online() bool
	Charge() float64
	MaxCharge() float64
	InputRate() float64
	OutputRate() float64
}

// SPSDevice is the facility's view of the supercritical phase shifter.
type SPSDevice interface {
	Online() bool
	Formed() bool
}

// EnvDetector is the facility's view of an environment detector.
type EnvDetector interface {
	Online() bool
	Radiation() float64
}

// TankDevice is the facility's view of a shared dynamic tank.
type TankDevice interface {
	Online() bool
	Fill() float64
}

// AlarmTestCount is the number of diagnostic alarm-test flags.
const AlarmTestCount = 12

// genAvgWindow is the 60-second generation averaging window at 2 Hz.
const genAvgWindow = 120

// Facility is the supervisor's facility-wide control state. All methods
// must be called from the owner task; concurrent readers use Snapshot.
type Facility struct {
	cfg   *config.Settings
	units []*Unit

	tankDefs []int
	tankList []int

	mode    Mode
	modeSet Mode

	burnTarget100    int
	chargeSetpoint   float64
	genRateSetpoint  float64
	ctrl             piController
	commandedTotal   int
	statusText       [2]string
	puFallback       bool
	spsLowPower      bool
	extChargeIdling  bool

	ascram       bool
	ascramReason ScramReason

	Tones      ToneMixer
	alarmTests [AlarmTestCount]bool

	avgCharge  *movingAverage
	avgInflow  *movingAverage
	avgOutflow *movingAverage
	avgNet     *movingAverage

	imtxLastCharge  float64
	imtxLastChargeT float64

	imtx  IMatrix
	sps   SPSDevice
	envds []EnvDetector
	tanks []TankDevice

	logger *slog.Logger
}

// New builds the facility from validated settings.
func New(cfg *config.Settings, logger *slog.Logger) *Facility {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	units := make([]*Unit, cfg.UnitCount)
	defs := make([]int, cfg.UnitCount)
	explicit := false
	for _, d := range cfg.FacilityTankDefs {
		explicit = explicit || d != 0
	}
	for i := range units {
		cc := cfg.CoolingConfig[i]
		units[i] = NewUnit(i+1, cc.BoilerCount, cc.TurbineCount, logger)
		// explicit facility tank defs win over the per-unit connection
		if explicit && i < len(cfg.FacilityTankDefs) {
			defs[i] = cfg.FacilityTankDefs[i]
		} else {
			defs[i] = int(cc.TankConnection)
		}
	}

	return &Facility{
		cfg:             cfg,
		units:           units,
		tankDefs:        defs,
		tankList:        SolveTankList(cfg.FacilityTankMode, defs),
		extChargeIdling: cfg.ExtChargeIdling,
		avgCharge:       newMovingAverage(genAvgWindow),
		avgInflow:       newMovingAverage(genAvgWindow),
		avgOutflow:      newMovingAverage(genAvgWindow),
		avgNet:          newMovingAverage(genAvgWindow),
		logger:          logger.With("component", "facility"),
	}
}

// Unit returns the unit with the given 1-based id, or nil.
func (f *Facility) Unit(id int) *Unit {
	if id < 1 || id > len(f.units) {
		return nil
	}
	return f.units[id-1]
}

// Units returns the unit list.
func (f *Facility) Units() []*Unit {
	return f.units
}

// TankList returns the solved facility tank layout.
func (f *Facility) TankList() []int {
	return f.tankList
}

// Mode returns the current process mode.
func (f *Facility) Mode() Mode {
	return f.mode
}

// Ascram returns the latched auto-SCRAM state and reason.
func (f *Facility) Ascram() (bool, ScramReason) {
	return f.ascram, f.ascramReason
}

// StatusText returns the two operator status lines.
func (f *Facility) StatusText() [2]string {
	return f.statusText
}

// AttachIMatrix registers the induction matrix device. Only one is
// accepted facility-wide; the registry enforces this before attach.
func (f *Facility) AttachIMatrix(d IMatrix) {
	f.imtx = d
}

// DetachIMatrix removes the induction matrix device.
func (f *Facility) DetachIMatrix() {
	f.imtx = nil
}

// HasIMatrix reports whether an induction matrix is registered.
func (f *Facility) HasIMatrix() bool {
	return f.imtx != nil
}

// AttachSPS registers the SPS device.
func (f *Facility) AttachSPS(d SPSDevice) {
	f.sps = d
}

// DetachSPS removes the SPS device.
func (f *Facility) DetachSPS() {
	f.sps = nil
}

// HasSPS reports whether an SPS is registered.
func (f *Facility) HasSPS() bool {
	return f.sps != nil
}

// AttachEnvDetector registers an environment detector.
func (f *Facility) AttachEnvDetector(d EnvDetector) {
	f.envds = append(f.envds, d)
}

// DetachEnvDetector removes an environment detector.
func (f *Facility) DetachEnvDetector(d EnvDetector) {
	for i, e := range f.envds {
		if e == d {
			f.envds = append(f.envds[:i], f.envds[i+1:]...)
			return
		}
	}
}

// AttachTank registers a shared dynamic tank device.
func (f *Facility) AttachTank(d TankDevice) {
	f.tanks = append(f.tanks, d)
}

// DetachTank removes a shared dynamic tank device.
func (f *Facility) DetachTank(d TankDevice) {
	for i, e := range f.tanks {
		if e == d {
			f.tanks = append(f.tanks[:i], f.tanks[i+1:]...)
			return
		}
	}
}

// UnitsReady reports whether every unit in an active group is ready.
func (f *Facility) UnitsReady() bool {
	any := false
	for _, u := range f.units {
		if u.Group == 0 {
			continue
		}
		any = true
		if !u.Ready() {
			return false
		}
	}
	return any
}

// SetGroup assigns a unit to a priority group 0..4. Group assignments
// are frozen while auto control is engaged.
func (f *Facility) SetGroup(unitID, group int) error {
	if f.mode != ModeInactive {
		return errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "SetGroup",
			"auto control engaged")
	}
	if group < 0 || group > 4 {
		return errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "SetGroup",
			fmt.Sprintf("group %d", group))
	}
	u := f.Unit(unitID)
	if u == nil {
		return errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "SetGroup",
			fmt.Sprintf("unit %d", unitID))
	}
	u.Group = group
	return nil
}

// SetPuFallback enables routing waste to plutonium when the SPS is
// unavailable.
func (f *Facility) SetPuFallback(enable bool) {
	f.puFallback = enable
	f.routeWaste()
}

// SetSPSLowPower marks the SPS as a low-power consumer, excluding it
// from auto waste routing.
func (f *Facility) SetSPSLowPower(enable bool) {
	f.spsLowPower = enable
	f.routeWaste()
}

// SetUnitWaste sets one unit's waste mode; WasteAuto re-enters facility
// routing.
func (f *Facility) SetUnitWaste(unitID int, mode WasteMode) error {
	u := f.Unit(unitID)
	if u == nil {
		return errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "SetUnitWaste",
			fmt.Sprintf("unit %d", unitID))
	}
	u.AutoWaste = mode == WasteAuto
	if !u.AutoWaste {
		u.SetWaste(mode)
	} else {
		f.routeWaste()
	}
	return nil
}

// routeWaste applies facility waste routing to auto-waste units: feed
// the SPS with polonium when one is available, fall back to plutonium
// when there is no SPS, it is held in low power, or the operator enabled
// the plutonium fallback and the SPS is unformed.
func (f *Facility) routeWaste() {
	target := WastePlutonium
	if f.sps != nil && !f.spsLowPower {
		if (f.sps.Online() && f.sps.Formed()) || !f.puFallback {
			target = WastePolonium
		}
	}
	for _, u := range f.units {
		if u.AutoWaste && u.Waste != target {
			u.SetWaste(target)
		}
	}
}

// validateAutoStart checks an auto_start command. Limits are validated
// against the unit count; numeric setpoints against per-mode minima.
func (f *Facility) validateAutoStart(cfg protocol.AutoStartConfig) (Mode, error) {
	mode, ok := ModeFromString(cfg.Mode)
	if !ok {
		return ModeInactive, errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "AutoStart",
			fmt.Sprintf("mode %q", cfg.Mode))
	}
	if len(cfg.Limits) != len(f.units) {
		return ModeInactive, errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "AutoStart",
			fmt.Sprintf("limits length %d for %d units", len(cfg.Limits), len(f.units)))
	}
	for i, lim := range cfg.Limits {
		if lim < 0.1 {
			return ModeInactive, errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "AutoStart",
				fmt.Sprintf("unit %d limit %f below 0.1", i+1, lim))
		}
	}
	switch mode {
	case ModeBurnRate:
		if cfg.BurnTarget < 0.1 {
			return ModeInactive, errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "AutoStart",
				fmt.Sprintf("burn target %f below 0.1", cfg.BurnTarget))
		}
	case ModeCharge:
		if cfg.Charge < 0 {
			return ModeInactive, errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "AutoStart",
				"negative charge setpoint")
		}
	case ModeGenRate:
		if cfg.GenRate < 0 {
			return ModeInactive, errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "AutoStart",
				"negative generation setpoint")
		}
	}
	return mode, nil
}

// AutoStart engages auto control. Limits apply to the units
// unconditionally; the mode only advances out of INACTIVE when every
// grouped unit is ready and the chosen mode's setpoint is positive.
func (f *Facility) AutoStart(cfg protocol.AutoStartConfig) error {
	if f.ascram {
		return errors.WrapInvalid(errors.ErrProtocolViolation, "Facility", "AutoStart",
			"auto-SCRAM latched")
	}
	mode, err := f.validateAutoStart(cfg)
	if err != nil {
		return err
	}

	for i, lim := range cfg.Limits {
		f.units[i].BurnLimit100 = int(lim*100 + 0.5)
	}
	f.burnTarget100 = int(cfg.BurnTarget*100 + 0.5)
	f.chargeSetpoint = cfg.Charge
	f.genRateSetpoint = cfg.GenRate
	f.modeSet = mode

	setpointPositive := false
	switch mode {
	case ModeMonitored:
		setpointPositive = true
	case ModeBurnRate:
		setpointPositive = f.burnTarget100 > 0
	case ModeCharge:
		setpointPositive = f.chargeSetpoint > 0
	case ModeGenRate:
		setpointPositive = f.genRateSetpoint > 0
	}

	if f.mode == ModeInactive && setpointPositive && f.UnitsReady() {
		f.mode = mode
		f.ctrl.reset()
		f.statusText = [2]string{
			translate.T("status.auto_engaged"),
			fmt.Sprintf("%s %s", translate.T("status.mode"), mode.String()),
		}
		f.logger.Info("auto control engaged", "mode", mode.String())
	}
	return nil
}

// AutoStop disengages auto control and zeroes commanded burns.
func (f *Facility) AutoStop() {
	f.mode = ModeInactive
	f.modeSet = ModeInactive
	f.commandedTotal = 0
	for _, u := range f.units {
		if u.Group != 0 {
			u.SetCommandedBurn(0)
			u.PushBurnCommand()
		}
	}
	f.statusText = [2]string{translate.T("status.auto_disengaged"), ""}
	f.logger.Info("auto control disengaged")
}

// SetAlarmTest sets one diagnostic alarm-test flag.
func (f *Facility) SetAlarmTest(alarm int, state bool) {
	if alarm >= 0 && alarm < AlarmTestCount {
		f.alarmTests[alarm] = state
	}
}

// AlarmTests returns the diagnostic alarm-test flags.
func (f *Facility) AlarmTests() [AlarmTestCount]bool {
	return f.alarmTests
}

// Tick runs one facility update: telemetry averaging, alarm evaluation,
// safety supervision, the control loop, and burn command push. dt is the
// tick period in seconds.
func (f *Facility) Tick(dt float64) {
	f.sampleMatrix(dt)

	for i, u := range f.units {
		// alarm test flags force the corresponding condition on unit 1
		if i == 0 {
			for a := 0; a < AlarmTestCount && a < int(AlarmCount); a++ {
				if f.alarmTests[a] {
					u.Annunciator.Evaluate(Alarm(a), true)
				}
			}
		}
		u.EvaluateAlarms()
	}

	f.checkSafety()
	f.runControl(dt)
	f.routeWaste()

	annunciators := make([]*Annunciator, len(f.units))
	for i, u := range f.units {
		annunciators[i] = &u.Annunciator
	}
	f.Tones.Update(annunciators)
}

// sampleMatrix records induction matrix readings into the averaging
// windows and tracks the charge delta.
func (f *Facility) sampleMatrix(dt float64) {
	if f.imtx == nil || !f.imtx.Online() {
		return
	}
	charge := f.imtx.Charge()
	f.avgCharge.add(charge)
	f.avgInflow.add(f.imtx.InputRate())
	f.avgOutflow.add(f.imtx.OutputRate())
	f.avgNet.add(f.imtx.InputRate() - f.imtx.OutputRate())
	f.imtxLastCharge = charge
	f.imtxLastChargeT += dt
}

// runControl advances the mode machine and distributes commanded burn.
func (f *Facility) runControl(dt float64) {
	switch f.mode {
	case ModeInactive, ModeMonitored:
		return

	case ModeBurnRate:
		f.commandedTotal = DistributeBurn(f.burnTarget100, f.units)

	case ModeCharge:
		if f.imtx == nil {
			return
		}
		out := f.ctrl.step(f.chargeSetpoint, f.avgCharge.value(), dt)
		f.commandedTotal = DistributeBurn(f.scaleToCapacity(out), f.units)

	case ModeGenRate:
		if !f.UnitsReady() {
			// a unit dropped out: idle the burn but hold the gen_rate
			// configuration until the units return
			f.mode = ModeGenRateFaultIdle
			f.commandedTotal = DistributeBurn(0, f.units)
			f.logger.Warn("generation tracking idled, units not ready")
			break
		}
		out := f.ctrl.step(f.genRateSetpoint, f.avgNet.value(), dt)
		f.commandedTotal = DistributeBurn(f.scaleToCapacity(out), f.units)

	case ModeGenRateFaultIdle:
		if f.UnitsReady() {
			f.mode = ModeGenRate
			f.logger.Info("units ready, generation tracking resumed")
		}
	}

	measured := 0
	for _, u := range f.units {
		if u.Group != 0 {
			measured += u.CurrentBurn100()
			u.PushBurnCommand()
		}
	}
	f.ctrl.clearRampIfSettled(f.commandedTotal, measured)
}

// scaleToCapacity converts a controller output fraction into hundredths
// of mB/t across the grouped units' limits.
func (f *Facility) scaleToCapacity(out float64) int {
	capacity := 0
	for _, u := range f.units {
		if u.Group != 0 {
			capacity += u.BurnLimit100
		}
	}
	return int(out*float64(capacity) + 0.5)
}

// CommandedTotal returns the last distributed burn total in hundredths.
func (f *Facility) CommandedTotal() int {
	return f.commandedTotal
}

// scramStatusText renders the operator status lines for a trip reason.
func scramStatusText(reason ScramReason) [2]string {
	return [2]string{
		translate.T("status.auto_scram"),
		translate.T("ascram." + reason.String()),
	}
}
