package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

// CoordType identifies a coordinator/pocket API packet.
type CoordType string

// Coordinator API packet types
const (
	CoordFacBuilds  CoordType = "fac_builds"
	CoordFacStatus  CoordType = "fac_status"
	CoordFacCmd     CoordType = "fac_cmd"
	CoordUnitBuilds CoordType = "unit_builds"
	CoordUnitStatus CoordType = "unit_status"
	CoordUnitCmd    CoordType = "unit_cmd"
)

// FacCmdKind identifies a facility-level operator command.
type FacCmdKind string

// Facility operator commands
const (
	FacAutoStart      FacCmdKind = "auto_start"
	FacAutoStop       FacCmdKind = "auto_stop"
	FacAck            FacCmdKind = "ack"
	FacSetGroup       FacCmdKind = "set_group"
	FacSetWaste       FacCmdKind = "set_waste"
	FacSetPuFallback  FacCmdKind = "set_pu_fallback"
	FacSetSPSLowPower FacCmdKind = "set_sps_low_power"
)

// UnitCmdKind identifies a per-unit operator command.
type UnitCmdKind string

// Unit operator commands
const (
	UnitScram    UnitCmdKind = "scram"
	UnitResetRPS UnitCmdKind = "reset_rps"
	UnitAck      UnitCmdKind = "ack"
	UnitBurnRate UnitCmdKind = "burn_rate"
	UnitWaste    UnitCmdKind = "waste"
	UnitGroup    UnitCmdKind = "group"
)

// AutoStartConfig carries the auto_start command arguments.
type AutoStartConfig struct {
	Mode       string    `json:"mode"`
	BurnTarget float64   `json:"burn_target,omitempty"`
	Charge     float64   `json:"charge,omitempty"`
	GenRate    float64   `json:"gen_rate,omitempty"`
	Limits     []float64 `json:"limits"`
}

// FacCmd is a facility-level command from the coordinator.
type FacCmd struct {
	Cmd    FacCmdKind       `json:"cmd"`
	Start  *AutoStartConfig `json:"start,omitempty"`
	Unit   int              `json:"unit,omitempty"`
	Group  int              `json:"group,omitempty"`
	Waste  int              `json:"waste,omitempty"`
	Enable bool             `json:"enable,omitempty"`
	Alarm  int              `json:"alarm,omitempty"`
}

// UnitCmd is a per-unit command from the coordinator.
type UnitCmd struct {
	Cmd      UnitCmdKind `json:"cmd"`
	Unit     int         `json:"unit"`
	BurnRate float64     `json:"burn_rate,omitempty"`
	Waste    int         `json:"waste,omitempty"`
	Group    int         `json:"group,omitempty"`
	Alarm    int         `json:"alarm,omitempty"`
}

// CoordPacket is a decoded coordinator packet. Status and builds frames
// carry opaque snapshot blobs typed at the facility layer.
type CoordPacket struct {
	Type CoordType
	Body any
}

// EncodeCoord serializes a coordinator packet for a ProtoCoord frame
// payload. Status and builds bodies may be any JSON-marshalable snapshot.
func EncodeCoord(typ CoordType, body any) ([]byte, error) {
	return encodeEnvelope("Coord", string(typ), body)
}

// DecodeCoord parses a ProtoCoord frame payload.
func DecodeCoord(payload []byte) (CoordPacket, error) {
	env, err := decodeEnvelope("Coord", payload)
	if err != nil {
		return CoordPacket{}, err
	}

	pkt := CoordPacket{Type: CoordType(env.Type)}
	switch pkt.Type {
	case CoordFacCmd:
		var b FacCmd
		err = decodeBody("Coord", env, &b)
		pkt.Body = b
	case CoordUnitCmd:
		var b UnitCmd
		err = decodeBody("Coord", env, &b)
		pkt.Body = b
	case CoordFacBuilds, CoordFacStatus, CoordUnitBuilds, CoordUnitStatus:
		pkt.Body = json.RawMessage(env.Body)
	default:
		return CoordPacket{}, errors.WrapInvalid(errors.ErrDecode, "Coord", "Decode",
			fmt.Sprintf("packet type %q", env.Type))
	}
	if err != nil {
		return CoordPacket{}, err
	}
	return pkt, nil
}
