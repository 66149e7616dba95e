package facility

import "github.com/chocotoneg/cc-mek-scada/protocol"

// UnitSnapshot is a read-only copy of one unit's state for push to the
// coordinator and the status gateway.
type UnitSnapshot struct {
	ID         int                       `json:"id"`
	Boilers    int                       `json:"boilers"`
	Turbines   int                       `json:"turbines"`
	Group      int                       `json:"group"`
	Ready      bool                      `json:"ready"`
	PLCLinked  bool                      `json:"plc_linked"`
	BurnLimit  float64                   `json:"burn_limit"`
	BurnTarget float64                   `json:"burn_target"`
	BurnActual float64                   `json:"burn_actual"`
	Waste      string                    `json:"waste"`
	AutoWaste  bool                      `json:"auto_waste"`
	RPSTripped bool                      `json:"rps_tripped"`
	Telemetry  protocol.ReactorTelemetry `json:"telemetry"`
	Alarms     []string                  `json:"alarms"`
}

// Snapshot is a read-only copy of the facility state, cloned once per
// tick for consumers outside the owner task.
type Snapshot struct {
	Mode           string          `json:"mode"`
	ModeSet        string          `json:"mode_set"`
	Ascram         bool            `json:"ascram"`
	AscramReason   string          `json:"ascram_reason"`
	StatusText     [2]string       `json:"status_text"`
	Tones          [ToneCount]bool `json:"tones"`
	TankList       []int           `json:"tank_list"`
	CommandedBurn  float64         `json:"commanded_burn"`
	AvgCharge      float64         `json:"avg_charge"`
	AvgInflow      float64         `json:"avg_inflow"`
	AvgOutflow     float64         `json:"avg_outflow"`
	AvgNet         float64         `json:"avg_net"`
	HasIMatrix     bool            `json:"has_imatrix"`
	HasSPS         bool            `json:"has_sps"`
	EnvDetectors   int             `json:"env_detectors"`
	Units          []UnitSnapshot  `json:"units"`
}

// Snapshot clones the facility state for read-only consumers.
func (f *Facility) Snapshot() Snapshot {
	snap := Snapshot{
		Mode:          f.mode.String(),
		ModeSet:       f.modeSet.String(),
		Ascram:        f.ascram,
		AscramReason:  f.ascramReason.String(),
		StatusText:    f.statusText,
		Tones:         f.Tones.States(),
		TankList:      append([]int(nil), f.tankList...),
		CommandedBurn: float64(f.commandedTotal) / 100,
		AvgCharge:     f.avgCharge.value(),
		AvgInflow:     f.avgInflow.value(),
		AvgOutflow:    f.avgOutflow.value(),
		AvgNet:        f.avgNet.value(),
		HasIMatrix:    f.imtx != nil,
		HasSPS:        f.sps != nil,
		EnvDetectors:  len(f.envds),
		Units:         make([]UnitSnapshot, len(f.units)),
	}

	for i, u := range f.units {
		states := u.Annunciator.States()
		alarms := make([]string, 0, AlarmCount)
		for a := Alarm(0); a < AlarmCount; a++ {
			if states[a] != AlarmInactive {
				alarms = append(alarms, a.String()+":"+states[a].String())
			}
		}
		snap.Units[i] = UnitSnapshot{
			ID:         u.ID,
			Boilers:    u.Boilers,
			Turbines:   u.Turbines,
			Group:      u.Group,
			Ready:      u.Ready(),
			PLCLinked:  u.PLCLinked(),
			BurnLimit:  float64(u.BurnLimit100) / 100,
			BurnTarget: float64(u.BurnTarget100) / 100,
			BurnActual: u.status.BurnRate,
			Waste:      u.Waste.String(),
			AutoWaste:  u.AutoWaste,
			RPSTripped: u.hasRPS && u.rpsMirror.Tripped,
			Telemetry:  u.db,
			Alarms:     alarms,
		}
	}
	return snap
}
