package facility

// ScramReason is the cause latched by the auto-SCRAM safety supervisor.
type ScramReason int

// Auto-SCRAM reasons, in evaluation order. First match wins.
const (
	// ScramNone means no safety condition is present
	ScramNone ScramReason = iota
	// ScramMatrixDC fires when the induction matrix disconnects while active
	ScramMatrixDC
	// ScramMatrixFill fires at 99% matrix charge
	ScramMatrixFill
	// ScramCritAlarm fires on any critical alarm on any unit
	ScramCritAlarm
	// ScramRadiation fires when any environment detector reads above limit
	ScramRadiation
	// ScramGenFault fires in GEN_RATE when no generation is achievable
	ScramGenFault
)

// String returns the reason name
func (r ScramReason) String() string {
	switch r {
	case ScramNone:
		return "none"
	case ScramMatrixDC:
		return "MATRIX_DC"
	case ScramMatrixFill:
		return "MATRIX_FILL"
	case ScramCritAlarm:
		return "CRIT_ALARM"
	case ScramRadiation:
		return "RADIATION"
	case ScramGenFault:
		return "GEN_FAULT"
	default:
		return "unknown"
	}
}

// matrixFillLimit is the charge fraction that trips MATRIX_FILL.
const matrixFillLimit = 0.99

// evalScram checks the six reasons in order and returns the first match.
func (f *Facility) evalScram() ScramReason {
	active := f.mode != ModeInactive

	if active && f.imtx != nil && !f.imtx.Online() {
		return ScramMatrixDC
	}
	if f.imtx != nil && f.imtx.Online() && f.imtx.MaxCharge() > 0 &&
		f.imtx.Charge()/f.imtx.MaxCharge() >= matrixFillLimit {
		return ScramMatrixFill
	}
	for _, u := range f.units {
		if u.Annunciator.AnyCritical() {
			return ScramCritAlarm
		}
	}
	for _, d := range f.envds {
		if d.Online() && d.Radiation() > radiationLimit {
			return ScramRadiation
		}
	}
	if f.mode == ModeGenRate && f.genFault() {
		return ScramGenFault
	}
	return ScramNone
}

// genFault reports whether GEN_RATE tracking is hopeless: units are
// ready and the integrator is pinned at full output, yet the facility
// still measures no burn and no net generation. A unit merely dropping
// out of readiness is not a fault; that parks the mode machine in
// GEN_RATE_FAULT_IDLE instead.
func (f *Facility) genFault() bool {
	if !f.ctrl.saturated {
		return false
	}
	measured := 0
	ready := 0
	for _, u := range f.units {
		if u.Group != 0 && u.Ready() {
			ready++
			measured += u.CurrentBurn100()
		}
	}
	return ready > 0 && measured == 0 && f.avgNet.value() <= 0
}

// checkSafety runs the auto-SCRAM supervisor. On a trip the mode drops
// to INACTIVE, the reason latches, and scram_all is broadcast exactly
// once; re-evaluating with unchanged inputs does not re-broadcast.
func (f *Facility) checkSafety() {
	reason := f.evalScram()
	if reason == ScramNone {
		return
	}
	if f.ascram {
		return
	}
	f.ascram = true
	f.ascramReason = reason
	f.mode = ModeInactive
	f.modeSet = ModeInactive
	f.statusText = scramStatusText(reason)
	f.logger.Warn("auto-SCRAM", "reason", reason.String())
	f.ScramAll()
}

// ScramAll broadcasts an emergency shutdown to every linked PLC.
func (f *Facility) ScramAll() {
	for _, u := range f.units {
		u.Scram()
	}
}

// AckScram clears the latched auto-SCRAM once the condition has passed.
// The operator must re-issue auto_start afterwards.
func (f *Facility) AckScram() bool {
	if !f.ascram {
		return true
	}
	if f.evalScram() != ScramNone {
		return false
	}
	f.ascram = false
	f.ascramReason = ScramNone
	f.statusText = [2]string{}
	return true
}
