package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

// CommsVersion is the supervisor's link protocol version. A PLC or RTU
// announcing a different version is refused with BAD_VERSION.
const CommsVersion uint16 = 5

// RPLCType identifies a reactor PLC packet.
type RPLCType string

// RPLC packet types
const (
	RPLCLinkReq        RPLCType = "link_req"
	RPLCLinkAck        RPLCType = "link_ack"
	RPLCStatus         RPLCType = "status"
	RPLCRPSStatus      RPLCType = "rps_status"
	RPLCRPSAlarm       RPLCType = "rps_alarm"
	RPLCCommand        RPLCType = "command"
	RPLCTelemetryDelta RPLCType = "telemetry_delta"
)

// LinkStatus is the handshake outcome returned in a LINK_ACK.
type LinkStatus string

// Link handshake outcomes
const (
	LinkAllow      LinkStatus = "allow"
	LinkDeny       LinkStatus = "deny"
	LinkCollision  LinkStatus = "collision"
	LinkBadVersion LinkStatus = "bad_version"
)

// envelope is the shared JSON wrapper for the three JSON-bodied families.
type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

func encodeEnvelope(component, typ string, body any) ([]byte, error) {
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.WrapInvalid(err, component, "Encode", "body marshaling")
		}
		raw = b
	}
	out, err := json.Marshal(envelope{Type: typ, Body: raw})
	if err != nil {
		return nil, errors.WrapInvalid(err, component, "Encode", "envelope marshaling")
	}
	return out, nil
}

func decodeEnvelope(component string, payload []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, errors.WrapInvalid(errors.ErrDecode, component, "Decode",
			fmt.Sprintf("envelope parsing: %v", err))
	}
	if env.Type == "" {
		return env, errors.WrapInvalid(errors.ErrDecode, component, "Decode",
			"missing packet type")
	}
	return env, nil
}

func decodeBody(component string, env envelope, out any) error {
	if len(env.Body) == 0 {
		return errors.WrapInvalid(errors.ErrDecode, component, "Decode",
			fmt.Sprintf("%s packet missing body", env.Type))
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return errors.WrapInvalid(errors.ErrDecode, component, "Decode",
			fmt.Sprintf("%s body parsing: %v", env.Type, err))
	}
	return nil
}

// LinkReq is a PLC's request to attach to the supervisor.
type LinkReq struct {
	Version uint16 `json:"version"`
	Reactor int    `json:"reactor"`
	Role    string `json:"role"`
}

// LinkAck is the supervisor's handshake reply.
type LinkAck struct {
	Status  LinkStatus `json:"status"`
	Version uint16     `json:"version"`
}

// ReactorStatus is the PLC's periodic state report.
type ReactorStatus struct {
	Reactor   int     `json:"reactor"`
	Formed    bool    `json:"formed"`
	Faulted   bool    `json:"faulted"`
	Active    bool    `json:"active"`
	BurnRate  float64 `json:"burn_rate"`
	ActualMax float64 `json:"actual_max"`
}

// RPSStatus mirrors the PLC's reactor protection system state.
type RPSStatus struct {
	Reactor    int      `json:"reactor"`
	Tripped    bool     `json:"tripped"`
	TripCause  string   `json:"trip_cause,omitempty"`
	AutoScram  bool     `json:"auto_scram"`
	ManualHold bool     `json:"manual_hold"`
	Flags      []bool   `json:"flags"`
	Alarms     []string `json:"alarms,omitempty"`
}

// RPSAlarm reports an RPS trip as it happens.
type RPSAlarm struct {
	Reactor int    `json:"reactor"`
	Cause   string `json:"cause"`
}

// PLCCommandKind identifies a supervisor-to-PLC command.
type PLCCommandKind string

// PLC command kinds
const (
	CmdSetBurnRate PLCCommandKind = "set_burn_rate"
	CmdScram       PLCCommandKind = "scram"
	CmdResetRPS    PLCCommandKind = "reset_rps"
	CmdSetWaste    PLCCommandKind = "set_waste"
)

// PLCCommand is a supervisor command pushed to a PLC.
type PLCCommand struct {
	Cmd      PLCCommandKind `json:"cmd"`
	BurnRate float64        `json:"burn_rate,omitempty"`
	Waste    int            `json:"waste,omitempty"`
}

// ReactorTelemetry is the most recent reactor instrument block.
type ReactorTelemetry struct {
	Temperature  float64 `json:"temperature"`
	Damage       float64 `json:"damage"`
	WasteFill    float64 `json:"waste_fill"`
	CoolantFill  float64 `json:"coolant_fill"`
	HeatedFill   float64 `json:"heated_fill"`
	FuelFill     float64 `json:"fuel_fill"`
	HeatingRate  float64 `json:"heating_rate"`
	EnvRadiation float64 `json:"env_radiation"`
}

// TelemetryDelta carries the reactor's full telemetry block with the
// reactor id; every field is sent.
type TelemetryDelta struct {
	Reactor   int              `json:"reactor"`
	Telemetry ReactorTelemetry `json:"telemetry"`
}

// RPLCPacket is a decoded reactor PLC packet.
type RPLCPacket struct {
	Type RPLCType
	Body any
}

// EncodeRPLC serializes an RPLC packet body for a ProtoRPLC frame payload.
func EncodeRPLC(typ RPLCType, body any) ([]byte, error) {
	return encodeEnvelope("RPLC", string(typ), body)
}

// DecodeRPLC parses a ProtoRPLC frame payload into a typed packet.
func DecodeRPLC(payload []byte) (RPLCPacket, error) {
	env, err := decodeEnvelope("RPLC", payload)
	if err != nil {
		return RPLCPacket{}, err
	}

	pkt := RPLCPacket{Type: RPLCType(env.Type)}
	switch pkt.Type {
	case RPLCLinkReq:
		var b LinkReq
		err = decodeBody("RPLC", env, &b)
		pkt.Body = b
	case RPLCLinkAck:
		var b LinkAck
		err = decodeBody("RPLC", env, &b)
		pkt.Body = b
	case RPLCStatus:
		var b ReactorStatus
		err = decodeBody("RPLC", env, &b)
		pkt.Body = b
	case RPLCRPSStatus:
		var b RPSStatus
		err = decodeBody("RPLC", env, &b)
		pkt.Body = b
	case RPLCRPSAlarm:
		var b RPSAlarm
		err = decodeBody("RPLC", env, &b)
		pkt.Body = b
	case RPLCCommand:
		var b PLCCommand
		err = decodeBody("RPLC", env, &b)
		pkt.Body = b
	case RPLCTelemetryDelta:
		var b TelemetryDelta
		err = decodeBody("RPLC", env, &b)
		pkt.Body = b
	default:
		return RPLCPacket{}, errors.WrapInvalid(errors.ErrDecode, "RPLC", "Decode",
			fmt.Sprintf("packet type %q", env.Type))
	}
	if err != nil {
		return RPLCPacket{}, err
	}
	return pkt, nil
}
