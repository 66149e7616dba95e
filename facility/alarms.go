package facility

// AlarmState is one annunciator window's latch state, following the
// standard alarm annunciator discipline.
type AlarmState int

// Annunciator latch states
const (
	// AlarmInactive means the condition is clear and acknowledged
	AlarmInactive AlarmState = iota
	// AlarmTripped means the condition is present and unacknowledged
	AlarmTripped
	// AlarmAcked means the condition is present and acknowledged
	AlarmAcked
	// AlarmRingBack means the condition cleared before acknowledgment
	AlarmRingBack
)

// String returns the annunciator state name
func (s AlarmState) String() string {
	switch s {
	case AlarmInactive:
		return "inactive"
	case AlarmTripped:
		return "tripped"
	case AlarmAcked:
		return "acked"
	case AlarmRingBack:
		return "ring_back"
	default:
		return "unknown"
	}
}

// Alarm identifies one of the unit alarm conditions.
type Alarm int

// Unit alarms, in annunciator window order.
const (
	AlarmContainmentBreach Alarm = iota
	AlarmContainmentRadiation
	AlarmReactorLost
	AlarmCriticalDamage
	AlarmReactorDamage
	AlarmReactorOverTemp
	AlarmReactorHighTemp
	AlarmReactorWasteLeak
	AlarmReactorHighWaste
	AlarmRPSTransient
	AlarmRCSTransient
	AlarmTurbineTrip

	// AlarmCount is the number of defined alarms
	AlarmCount
)

// AnnunciatorSize is the number of annunciator windows per unit; windows
// past AlarmCount are reserved.
const AnnunciatorSize = 16

var alarmNames = [AlarmCount]string{
	"ContainmentBreach", "ContainmentRadiation", "ReactorLost", "CriticalDamage",
	"ReactorDamage", "ReactorOverTemp", "ReactorHighTemp", "ReactorWasteLeak",
	"ReactorHighWaste", "RPSTransient", "RCSTransient", "TurbineTrip",
}

// String returns the alarm name
func (a Alarm) String() string {
	if a >= 0 && a < AlarmCount {
		return alarmNames[a]
	}
	return "Reserved"
}

// critical alarms force an auto-SCRAM facility-wide
var criticalAlarms = map[Alarm]bool{
	AlarmContainmentBreach: true,
	AlarmReactorLost:       true,
	AlarmCriticalDamage:    true,
}

// Critical reports whether the alarm is a critical alarm.
func (a Alarm) Critical() bool {
	return criticalAlarms[a]
}

// ToneCount is the number of mixer tone slots.
const ToneCount = 8

// alarmTones assigns each alarm's priority to a mixer slot.
var alarmTones = [AlarmCount]int{
	AlarmContainmentBreach:    0,
	AlarmContainmentRadiation: 1,
	AlarmReactorLost:          2,
	AlarmCriticalDamage:       0,
	AlarmReactorDamage:        3,
	AlarmReactorOverTemp:      4,
	AlarmReactorHighTemp:      5,
	AlarmReactorWasteLeak:     6,
	AlarmReactorHighWaste:     7,
	AlarmRPSTransient:         5,
	AlarmRCSTransient:         6,
	AlarmTurbineTrip:          4,
}

// Tone returns the mixer slot for this alarm.
func (a Alarm) Tone() int {
	if a >= 0 && a < AlarmCount {
		return alarmTones[a]
	}
	return ToneCount - 1
}

// Annunciator is one unit's bank of alarm latches.
type Annunciator struct {
	states [AnnunciatorSize]AlarmState
}

// Evaluate advances one alarm latch given whether its condition is
// currently present.
func (an *Annunciator) Evaluate(a Alarm, condition bool) {
	if a < 0 || int(a) >= AnnunciatorSize {
		return
	}
	switch an.states[a] {
	case AlarmInactive:
		if condition {
			an.states[a] = AlarmTripped
		}
	case AlarmTripped:
		if !condition {
			an.states[a] = AlarmRingBack
		}
	case AlarmAcked:
		if !condition {
			an.states[a] = AlarmInactive
		}
	case AlarmRingBack:
		if condition {
			an.states[a] = AlarmTripped
		}
	}
}

// Ack acknowledges one alarm window.
func (an *Annunciator) Ack(a Alarm) {
	if a < 0 || int(a) >= AnnunciatorSize {
		return
	}
	switch an.states[a] {
	case AlarmTripped:
		an.states[a] = AlarmAcked
	case AlarmRingBack:
		an.states[a] = AlarmInactive
	}
}

// AckAll acknowledges every window.
func (an *Annunciator) AckAll() {
	for i := 0; i < AnnunciatorSize; i++ {
		an.Ack(Alarm(i))
	}
}

// State returns one window's latch state.
func (an *Annunciator) State(a Alarm) AlarmState {
	if a < 0 || int(a) >= AnnunciatorSize {
		return AlarmInactive
	}
	return an.states[a]
}

// States returns a copy of all window states.
func (an *Annunciator) States() [AnnunciatorSize]AlarmState {
	return an.states
}

// AnyCritical reports whether any critical alarm is tripped or acked
// (condition still present).
func (an *Annunciator) AnyCritical() bool {
	for a := Alarm(0); a < AlarmCount; a++ {
		if !a.Critical() {
			continue
		}
		if an.states[a] == AlarmTripped || an.states[a] == AlarmAcked {
			return true
		}
	}
	return false
}

// ToneMixer derives the 8 tone slot states from the facility's alarms.
// Test tones and real tones are mutually exclusive: engaging a test slot
// clears the real states and vice versa.
type ToneMixer struct {
	tones     [ToneCount]bool
	testTones [ToneCount]bool
	testMode  bool
}

// Update recomputes the real tone states from the given annunciators.
// A slot sounds iff any alarm assigned to it is TRIPPED or RING_BACK.
// An update with any real tone sounding drops the mixer out of test
// mode; an update with no real tone sounding leaves test mode engaged.
func (m *ToneMixer) Update(annunciators []*Annunciator) {
	var next [ToneCount]bool
	for _, an := range annunciators {
		if an == nil {
			continue
		}
		for a := Alarm(0); a < AlarmCount; a++ {
			st := an.State(a)
			if st == AlarmTripped || st == AlarmRingBack {
				next[a.Tone()] = true
			}
		}
	}
	if m.testMode {
		// real alarms override an in-progress test
		active := false
		for _, v := range next {
			active = active || v
		}
		if !active {
			return
		}
		m.testMode = false
		m.testTones = [ToneCount]bool{}
	}
	m.tones = next
}

// SetTestTone engages or releases one test slot. Engaging clears the
// real tone states.
func (m *ToneMixer) SetTestTone(slot int, state bool) {
	if slot < 0 || slot >= ToneCount {
		return
	}
	if state && !m.testMode {
		m.testMode = true
		m.tones = [ToneCount]bool{}
	}
	m.testTones[slot] = state
	if !state && m.testMode {
		// drop out of test mode when the last test slot clears
		any := false
		for _, v := range m.testTones {
			any = any || v
		}
		m.testMode = any
	}
}

// TestMode reports whether the mixer is substituting test tones.
func (m *ToneMixer) TestMode() bool {
	return m.testMode
}

// States returns the bitmap handed to the tone renderer once per tick.
func (m *ToneMixer) States() [ToneCount]bool {
	if m.testMode {
		return m.testTones
	}
	return m.tones
}
