package protocol

import (
	"fmt"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

// MgmtType identifies a SCADA management packet.
type MgmtType string

// SCADA management packet types
const (
	MgmtEstablish     MgmtType = "establish"
	MgmtEstablishAck  MgmtType = "establish_ack"
	MgmtKeepAlive     MgmtType = "keep_alive"
	MgmtClose         MgmtType = "close"
	MgmtRemounted     MgmtType = "remounted"
	MgmtDiagToneTest  MgmtType = "diag_tone_test"
	MgmtDiagAlarmTest MgmtType = "diag_alarm_test"
	MgmtRTUAdvert     MgmtType = "rtu_advert"
	MgmtRTUAdvertAck  MgmtType = "rtu_advert_ack"
)

// PeerKind identifies what kind of peer a session belongs to.
type PeerKind string

// Session peer kinds
const (
	PeerPLC         PeerKind = "plc"
	PeerRTU         PeerKind = "rtu"
	PeerCoordinator PeerKind = "coordinator"
	PeerPocket      PeerKind = "pocket"
)

// Valid reports whether k is a known peer kind.
func (k PeerKind) Valid() bool {
	switch k {
	case PeerPLC, PeerRTU, PeerCoordinator, PeerPocket:
		return true
	}
	return false
}

// Establish opens a session for coordinator and pocket peers (PLCs link
// via RPLC LINK_REQ, RTUs via RTU_ADVERT).
type Establish struct {
	Kind    PeerKind `json:"kind"`
	Version uint16   `json:"version"`
}

// EstablishAck is the reply to an Establish, and the DENY hint sent to
// orphan senders so they re-link.
type EstablishAck struct {
	Status  LinkStatus `json:"status"`
	Version uint16     `json:"version"`
}

// KeepAlive carries the sender's clock for RTT estimation.
type KeepAlive struct {
	SentAt int64 `json:"sent_at"`
	Echo   int64 `json:"echo,omitempty"`
}

// Remounted tells the coordinator a multiblock RTU unit re-formed.
type Remounted struct {
	UnitUID uint16 `json:"unit_uid"`
}

// DiagToneTest sets or clears one of the 8 test tone slots.
type DiagToneTest struct {
	Slot  int  `json:"slot"`
	State bool `json:"state"`
}

// DiagAlarmTest sets or clears one of the 12 alarm test flags.
type DiagAlarmTest struct {
	Alarm int  `json:"alarm"`
	State bool `json:"state"`
}

// RTUDeviceKind identifies the hardware behind an advertised RTU unit.
type RTUDeviceKind string

// RTU unit kinds. Virtual marks an entry whose device detached and must
// be re-typed on reconnect.
const (
	KindBoilerValve  RTUDeviceKind = "boiler_valve"
	KindTurbineValve RTUDeviceKind = "turbine_valve"
	KindDynamicValve RTUDeviceKind = "dynamic_valve"
	KindIMatrix      RTUDeviceKind = "imatrix"
	KindSPS          RTUDeviceKind = "sps"
	KindSNA          RTUDeviceKind = "sna"
	KindEnvDetector  RTUDeviceKind = "env_detector"
	KindRedstone     RTUDeviceKind = "redstone"
	KindVirtual      RTUDeviceKind = "virtual"
)

// Valid reports whether k is an advertisable device kind.
func (k RTUDeviceKind) Valid() bool {
	switch k {
	case KindBoilerValve, KindTurbineValve, KindDynamicValve, KindIMatrix,
		KindSPS, KindSNA, KindEnvDetector, KindRedstone:
		return true
	}
	return false
}

// Multiblock reports whether the device kind is a multiblock that must
// poll formed state.
func (k RTUDeviceKind) Multiblock() bool {
	switch k {
	case KindBoilerValve, KindTurbineValve, KindDynamicValve, KindIMatrix, KindSPS, KindSNA:
		return true
	}
	return false
}

// AdvertUnit is one device announced in an RTU_ADVERT.
type AdvertUnit struct {
	Kind    RTUDeviceKind `json:"kind"`
	Name    string        `json:"name"`
	Index   int           `json:"index"`
	Reactor int           `json:"reactor"`
}

// RTUAdvert announces an RTU gateway's device list.
type RTUAdvert struct {
	Version uint16       `json:"version"`
	Units   []AdvertUnit `json:"units"`
}

// RejectReason explains why an advertised unit was refused.
type RejectReason string

// Advertised unit rejection reasons
const (
	RejectDuplicateIMatrix RejectReason = "DUPLICATE_IMATRIX"
	RejectDuplicateSPS     RejectReason = "DUPLICATE_SPS"
	RejectBadReactor       RejectReason = "BAD_REACTOR"
	RejectBadIndex         RejectReason = "BAD_INDEX"
	RejectDuplicateIndex   RejectReason = "DUPLICATE_INDEX"
	RejectBadKind          RejectReason = "BAD_KIND"
)

// RejectedUnit pairs an advert list position with its rejection reason.
type RejectedUnit struct {
	Pos    int          `json:"pos"`
	Reason RejectReason `json:"reason"`
}

// RTUAdvertAck returns the accepted unit UIDs (by advert position) and
// the rejections so the RTU may warn.
type RTUAdvertAck struct {
	Status   LinkStatus     `json:"status"`
	Version  uint16         `json:"version"`
	Accepted []uint16       `json:"accepted"`
	Rejected []RejectedUnit `json:"rejected,omitempty"`
}

// MgmtPacket is a decoded SCADA management packet.
type MgmtPacket struct {
	Type MgmtType
	Body any
}

// EncodeMgmt serializes a management packet for a ProtoMgmt frame payload.
func EncodeMgmt(typ MgmtType, body any) ([]byte, error) {
	return encodeEnvelope("Mgmt", string(typ), body)
}

// DecodeMgmt parses a ProtoMgmt frame payload into a typed packet.
func DecodeMgmt(payload []byte) (MgmtPacket, error) {
	env, err := decodeEnvelope("Mgmt", payload)
	if err != nil {
		return MgmtPacket{}, err
	}

	pkt := MgmtPacket{Type: MgmtType(env.Type)}
	switch pkt.Type {
	case MgmtEstablish:
		var b Establish
		err = decodeBody("Mgmt", env, &b)
		pkt.Body = b
	case MgmtEstablishAck:
		var b EstablishAck
		err = decodeBody("Mgmt", env, &b)
		pkt.Body = b
	case MgmtKeepAlive:
		var b KeepAlive
		err = decodeBody("Mgmt", env, &b)
		pkt.Body = b
	case MgmtClose:
		pkt.Body = nil
	case MgmtRemounted:
		var b Remounted
		err = decodeBody("Mgmt", env, &b)
		pkt.Body = b
	case MgmtDiagToneTest:
		var b DiagToneTest
		err = decodeBody("Mgmt", env, &b)
		pkt.Body = b
	case MgmtDiagAlarmTest:
		var b DiagAlarmTest
		err = decodeBody("Mgmt", env, &b)
		pkt.Body = b
	case MgmtRTUAdvert:
		var b RTUAdvert
		err = decodeBody("Mgmt", env, &b)
		pkt.Body = b
	case MgmtRTUAdvertAck:
		var b RTUAdvertAck
		err = decodeBody("Mgmt", env, &b)
		pkt.Body = b
	default:
		return MgmtPacket{}, errors.WrapInvalid(errors.ErrDecode, "Mgmt", "Decode",
			fmt.Sprintf("packet type %q", env.Type))
	}
	if err != nil {
		return MgmtPacket{}, err
	}
	return pkt, nil
}
