package facility

import (
	"log/slog"

	"github.com/chocotoneg/cc-mek-scada/protocol"
)

// WasteMode selects a unit's waste processing route.
type WasteMode int

// Waste processing routes
const (
	// WasteAuto lets the facility choose plutonium or polonium
	WasteAuto WasteMode = iota
	// WastePlutonium routes waste to plutonium production
	WastePlutonium
	// WastePolonium routes waste to polonium for SPS feed
	WastePolonium
	// WasteAntiMatter routes polonium onward to the SPS
	WasteAntiMatter
)

// String returns the waste mode name
func (w WasteMode) String() string {
	switch w {
	case WasteAuto:
		return "auto"
	case WastePlutonium:
		return "plutonium"
	case WastePolonium:
		return "polonium"
	case WasteAntiMatter:
		return "anti_matter"
	default:
		return "unknown"
	}
}

// PLCHandle is the unit's non-owning view of its PLC session. The session
// owns the back-reference slot and clears it on teardown; lookups through
// a cleared handle fail safely.
type PLCHandle interface {
	Linked() bool
	SendCommand(cmd protocol.PLCCommand)
}

// Alarm thresholds applied to reactor telemetry.
const (
	damageBreach    = 100.0
	damageCritical  = 50.0
	damageAny       = 1.0
	tempOverLimit   = 1200.0
	tempHighLimit   = 1150.0
	wasteLeakFill   = 0.99
	wasteHighFill   = 0.85
	coolantLowFill  = 0.10
	heatedHighFill  = 0.95
	radiationLimit  = 0.00001
	burnTolerance   = 5 // hundredths of mB/t
	burnResendTicks = 4
)

// Unit is one reactor unit's control state.
type Unit struct {
	ID       int
	Boilers  int
	Turbines int

	plc        PLCHandle
	boilerOK   []bool
	turbineOK  []bool
	wasActive  bool
	plcFaulted bool

	// burn rates in hundredths of mB/t
	BurnLimit100 int
	// RequestedBurn100 is the operator's manual burn request
	RequestedBurn100 int
	// BurnTarget100 is the auto controller's commanded burn
	BurnTarget100 int

	Group     int
	AutoWaste bool
	Waste     WasteMode

	db        protocol.ReactorTelemetry
	status    protocol.ReactorStatus
	rpsMirror protocol.RPSStatus
	hasRPS    bool

	Annunciator Annunciator
	ackStates   [AnnunciatorSize]bool

	resendCountdown int

	logger *slog.Logger
}

// NewUnit creates a unit with its boiler/turbine slots.
func NewUnit(id, boilers, turbines int, logger *slog.Logger) *Unit {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Unit{
		ID:        id,
		Boilers:   boilers,
		Turbines:  turbines,
		boilerOK:  make([]bool, boilers),
		turbineOK: make([]bool, turbines),
		Group:     1, // ranked by default; operators may detach to group 0
		AutoWaste: true,
		logger:    logger.With("unit", id),
	}
}

// AttachPLC installs the PLC session handle.
func (u *Unit) AttachPLC(h PLCHandle) {
	u.plc = h
}

// DetachPLC clears the PLC back-reference. Called by the session on
// teardown; readiness collapses immediately.
func (u *Unit) DetachPLC() {
	u.plc = nil
	u.plcFaulted = false
}

// PLCLinked reports whether the unit's PLC session is up.
func (u *Unit) PLCLinked() bool {
	return u.plc != nil && u.plc.Linked()
}

// SetBoilerLink marks one boiler valve RTU entry linked and healthy.
// Index is 1-based.
func (u *Unit) SetBoilerLink(index int, ok bool) {
	if index >= 1 && index <= len(u.boilerOK) {
		u.boilerOK[index-1] = ok
	}
}

// SetTurbineLink marks one turbine valve RTU entry linked and healthy.
// Index is 1-based.
func (u *Unit) SetTurbineLink(index int, ok bool) {
	if index >= 1 && index <= len(u.turbineOK) {
		u.turbineOK[index-1] = ok
	}
}

// Ready reports whether the unit can participate in auto control: PLC
// linked and every required boiler and turbine linked and unfaulted.
func (u *Unit) Ready() bool {
	if !u.PLCLinked() || u.plcFaulted {
		return false
	}
	for _, ok := range u.boilerOK {
		if !ok {
			return false
		}
	}
	for _, ok := range u.turbineOK {
		if !ok {
			return false
		}
	}
	return true
}

// IngestStatus records a PLC status report.
func (u *Unit) IngestStatus(s protocol.ReactorStatus) {
	u.status = s
	u.plcFaulted = s.Faulted
	if s.Active {
		u.wasActive = true
	}
}

// IngestRPS records the PLC's RPS mirror.
func (u *Unit) IngestRPS(s protocol.RPSStatus) {
	u.rpsMirror = s
	u.hasRPS = true
}

// IngestTelemetry replaces the unit db with the reported telemetry block.
func (u *Unit) IngestTelemetry(t protocol.ReactorTelemetry) {
	u.db = t
}

// Telemetry returns the most recent reactor instrument block.
func (u *Unit) Telemetry() protocol.ReactorTelemetry {
	return u.db
}

// Status returns the most recent PLC status report.
func (u *Unit) Status() protocol.ReactorStatus {
	return u.status
}

// RPSMirror returns the most recent RPS state.
func (u *Unit) RPSMirror() protocol.RPSStatus {
	return u.rpsMirror
}

// EvaluateAlarms advances the unit's annunciator from current telemetry.
func (u *Unit) EvaluateAlarms() {
	linked := u.PLCLinked()

	u.Annunciator.Evaluate(AlarmContainmentBreach, linked && u.db.Damage >= damageBreach)
	u.Annunciator.Evaluate(AlarmContainmentRadiation, u.db.EnvRadiation > radiationLimit)
	u.Annunciator.Evaluate(AlarmReactorLost, u.wasActive && !linked)
	u.Annunciator.Evaluate(AlarmCriticalDamage, linked && u.db.Damage >= damageCritical)
	u.Annunciator.Evaluate(AlarmReactorDamage, linked && u.db.Damage >= damageAny)
	u.Annunciator.Evaluate(AlarmReactorOverTemp, linked && u.db.Temperature >= tempOverLimit)
	u.Annunciator.Evaluate(AlarmReactorHighTemp, linked && u.db.Temperature >= tempHighLimit)
	u.Annunciator.Evaluate(AlarmReactorWasteLeak, linked && u.db.WasteFill >= wasteLeakFill)
	u.Annunciator.Evaluate(AlarmReactorHighWaste, linked && u.db.WasteFill >= wasteHighFill)
	u.Annunciator.Evaluate(AlarmRPSTransient, u.hasRPS && u.rpsMirror.Tripped)
	u.Annunciator.Evaluate(AlarmRCSTransient, linked && u.status.Active &&
		(u.db.CoolantFill < coolantLowFill || u.db.HeatedFill > heatedHighFill))

	turbineFault := false
	for _, ok := range u.turbineOK {
		turbineFault = turbineFault || !ok
	}
	u.Annunciator.Evaluate(AlarmTurbineTrip, u.status.Active && turbineFault)
}

// AckAlarm acknowledges one annunciator window.
func (u *Unit) AckAlarm(a Alarm) {
	u.Annunciator.Ack(a)
}

// SetCommandedBurn sets the auto controller's burn target for this unit
// and forces a command on the next tick.
func (u *Unit) SetCommandedBurn(hundredths int) {
	if hundredths < 0 {
		hundredths = 0
	}
	if u.BurnLimit100 > 0 && hundredths > u.BurnLimit100 {
		hundredths = u.BurnLimit100
	}
	if hundredths != u.BurnTarget100 {
		u.BurnTarget100 = hundredths
		u.resendCountdown = 0
	}
}

// CurrentBurn100 returns the PLC-reported burn rate in hundredths.
func (u *Unit) CurrentBurn100() int {
	return int(u.status.BurnRate*100 + 0.5)
}

// PushBurnCommand re-sends set_burn_rate until the PLC's reported burn
// matches the target within tolerance. Commands are idempotent on the
// wire; after each send the next burnResendTicks calls are skipped, so a
// re-send goes out on every (burnResendTicks+1)th call.
func (u *Unit) PushBurnCommand() {
	if !u.PLCLinked() {
		return
	}
	diff := u.CurrentBurn100() - u.BurnTarget100
	if diff < 0 {
		diff = -diff
	}
	if diff <= burnTolerance {
		u.resendCountdown = 0
		return
	}
	if u.resendCountdown > 0 {
		u.resendCountdown--
		return
	}
	u.plc.SendCommand(protocol.PLCCommand{
		Cmd:      protocol.CmdSetBurnRate,
		BurnRate: float64(u.BurnTarget100) / 100,
	})
	u.resendCountdown = burnResendTicks
}

// Scram sends an emergency shutdown to the PLC.
func (u *Unit) Scram() {
	if u.PLCLinked() {
		u.plc.SendCommand(protocol.PLCCommand{Cmd: protocol.CmdScram})
	}
	u.BurnTarget100 = 0
}

// ResetRPS sends an RPS reset to the PLC.
func (u *Unit) ResetRPS() {
	if u.PLCLinked() {
		u.plc.SendCommand(protocol.PLCCommand{Cmd: protocol.CmdResetRPS})
	}
}

// SetWaste pushes a waste routing mode to the PLC and records it.
func (u *Unit) SetWaste(mode WasteMode) {
	u.Waste = mode
	if u.PLCLinked() {
		u.plc.SendCommand(protocol.PLCCommand{Cmd: protocol.CmdSetWaste, Waste: int(mode)})
	}
}
