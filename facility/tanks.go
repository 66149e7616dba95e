// Package facility implements the supervisor's facility model: per-unit
// control state, the auto-control state machine with its setpoint loops,
// the auto-SCRAM safety supervisor, the facility tank topology solver, and
// the alarm annunciators feeding the tone mixer.
//
// The facility is the single source of truth for control decisions. All
// writes happen on the owner task; consumers read cloned snapshots.
package facility

// TankDef values describe how one unit's dynamic tank is plumbed:
// 0 = none, 1 = unit-local, 2 = shared facility tank.
const (
	TankDefNone     = 0
	TankDefUnit     = 1
	TankDefFacility = 2
)

// tankWindows lists, per facility tank mode 1..7, the unit position
// groupings that share one facility tank. Positions are 1-based.
var tankWindows = map[int][][]int{
	1: {{1, 2, 3, 4}},
	2: {{1, 2, 3}, {4}},
	3: {{1, 2}, {3, 4}},
	4: {{1}, {2, 3, 4}},
	5: {{1, 2}, {3}, {4}},
	6: {{1}, {2, 3}, {4}},
	7: {{1}, {2}, {3, 4}},
}

// SolveTankList decodes a facility tank layout. Given per-unit tank defs
// and a mode in 0..7, it returns the tank list where a non-zero entry
// means a tank object is physically present in that slot; positions whose
// facility tank is provided by an earlier slot in the same window are
// zeroed. Mode 0 copies the defs unchanged.
func SolveTankList(mode int, defs []int) []int {
	list := make([]int, len(defs))
	copy(list, defs)

	windows, ok := tankWindows[mode]
	if !ok {
		return list
	}

	for _, window := range windows {
		if len(window) < 2 {
			continue
		}
		found := false
		for _, pos := range window {
			if pos > len(defs) {
				break
			}
			if defs[pos-1] == TankDefFacility {
				if found {
					list[pos-1] = 0
				}
				found = true
			}
		}
	}
	return list
}
