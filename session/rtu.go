package session

import (
	"log/slog"
	"time"

	"github.com/chocotoneg/cc-mek-scada/facility"
	"github.com/chocotoneg/cc-mek-scada/modbusio"
	"github.com/chocotoneg/cc-mek-scada/pkg/buffer"
	"github.com/chocotoneg/cc-mek-scada/protocol"
)

// HWState is an RTU unit entry's hardware state.
type HWState int

// RTU unit hardware states
const (
	// HWOffline means the backing device detached
	HWOffline HWState = iota
	// HWUnformed means a multiblock device is present but not formed
	HWUnformed
	// HWFaulted means the device reported a fault
	HWFaulted
	// HWOK means the device is operational
	HWOK
)

// String returns the hardware state name
func (s HWState) String() string {
	switch s {
	case HWOffline:
		return "offline"
	case HWUnformed:
		return "unformed"
	case HWFaulted:
		return "faulted"
	case HWOK:
		return "ok"
	default:
		return "unknown"
	}
}

// entryQueueDepth bounds one RTU unit's unserviced request backlog.
const entryQueueDepth = 16

// RTUEntry is one device unit advertised by an RTU gateway. The entry
// owns its packet queue and MODBUS server; its service loop mutates only
// its own state.
type RTUEntry struct {
	UID     uint16
	Kind    protocol.RTUDeviceKind
	Name    string
	Index   int
	Reactor int
	State   HWState

	// acceptedKind is the kind fixed at advertisement; a detached entry
	// re-types to virtual and must re-attach with this kind
	acceptedKind protocol.RTUDeviceKind

	Bank   *modbusio.Bank
	Server *modbusio.Server
	queue  *buffer.Queue[protocol.ModbusPDU]

	// view is the typed facility projection attached for this entry
	view any

	wasFormed bool
}

// Online reports whether the entry is serving its device.
func (e *RTUEntry) Online() bool {
	return e.State == HWOK
}

// RTU is one RTU gateway's session, pairing every accepted unit entry
// with a MODBUS server instance.
type RTU struct {
	base
	entries []*RTUEntry
	byUnit  map[uint8]*RTUEntry

	fac    *facility.Facility
	notify func(typ protocol.MgmtType, body any)
}

func newRTU(addr uint16, link *Link, fac *facility.Facility,
	notify func(protocol.MgmtType, any), now time.Time, timeout time.Duration,
	logger *slog.Logger) *RTU {
	s := &RTU{
		base:   newBase(protocol.PeerRTU, addr, link, now, timeout, logger),
		byUnit: make(map[uint8]*RTUEntry),
		fac:    fac,
		notify: notify,
	}
	s.linked = true
	return s
}

// accept installs one validated advertised unit and wires it to the
// facility model.
func (s *RTU) accept(adv protocol.AdvertUnit) *RTUEntry {
	uid := uint8(len(s.entries) + 1)
	bank := modbusio.BankFor(adv.Kind)

	state := HWOK
	if adv.Kind.Multiblock() {
		state = HWUnformed
	}

	e := &RTUEntry{
		UID:          uint16(uid),
		Kind:         adv.Kind,
		Name:         adv.Name,
		Index:        adv.Index,
		Reactor:      adv.Reactor,
		State:        state,
		acceptedKind: adv.Kind,
		Bank:         bank,
		Server:       modbusio.NewServer(uid, bank),
		queue:        buffer.New[protocol.ModbusPDU](entryQueueDepth),
	}
	s.entries = append(s.entries, e)
	s.byUnit[uid] = e
	s.attachFacility(e)
	return e
}

// attachFacility registers the entry's typed view with the facility.
func (s *RTU) attachFacility(e *RTUEntry) {
	online := func() bool { return e.Online() }
	switch e.acceptedKind {
	case protocol.KindIMatrix:
		v := &modbusio.MatrixView{Bank: e.Bank, OnlineFn: online}
		e.view = v
		s.fac.AttachIMatrix(v)
	case protocol.KindSPS:
		v := &modbusio.SPSView{Bank: e.Bank, OnlineFn: online}
		e.view = v
		s.fac.AttachSPS(v)
	case protocol.KindEnvDetector:
		v := &modbusio.EnvDetectorView{Bank: e.Bank, OnlineFn: online}
		e.view = v
		s.fac.AttachEnvDetector(v)
	case protocol.KindDynamicValve:
		if e.Reactor == 0 {
			v := &modbusio.TankView{Bank: e.Bank, OnlineFn: online}
			e.view = v
			s.fac.AttachTank(v)
		}
	case protocol.KindBoilerValve, protocol.KindTurbineValve:
		s.syncUnitLink(e)
	}
}

// syncUnitLink pushes a boiler/turbine entry's health into its unit.
func (s *RTU) syncUnitLink(e *RTUEntry) {
	u := s.fac.Unit(e.Reactor)
	if u == nil {
		return
	}
	switch e.acceptedKind {
	case protocol.KindBoilerValve:
		u.SetBoilerLink(e.Index, e.Online())
	case protocol.KindTurbineValve:
		u.SetTurbineLink(e.Index, e.Online())
	}
}

// detachFacility removes the entry's view from the facility. Boiler and
// turbine links collapse to unhealthy.
func (s *RTU) detachFacility(e *RTUEntry) {
	switch e.acceptedKind {
	case protocol.KindIMatrix:
		s.fac.DetachIMatrix()
	case protocol.KindSPS:
		s.fac.DetachSPS()
	case protocol.KindEnvDetector:
		if v, ok := e.view.(*modbusio.EnvDetectorView); ok {
			s.fac.DetachEnvDetector(v)
		}
	case protocol.KindDynamicValve:
		if v, ok := e.view.(*modbusio.TankView); ok {
			s.fac.DetachTank(v)
		}
	case protocol.KindBoilerValve, protocol.KindTurbineValve:
		s.syncUnitLink(e)
	}
}

// Entries returns the accepted unit entries.
func (s *RTU) Entries() []*RTUEntry {
	return s.entries
}

// Entry returns the entry with the given MODBUS unit id.
func (s *RTU) Entry(unit uint8) *RTUEntry {
	return s.byUnit[unit]
}

// OnTick drains the inbox, services every entry's request queue, and
// polls multiblock formed state.
func (s *RTU) OnTick(now time.Time) {
	for _, f := range s.inbox.Drain() {
		s.handle(f, now)
	}
	for _, e := range s.entries {
		s.serviceEntry(e)
		s.pollFormed(e)
	}
}

func (s *RTU) handle(f protocol.Frame, _ time.Time) {
	switch f.Protocol {
	case protocol.ProtoModbus:
		pdu, err := protocol.DecodeModbus(f.Payload)
		if err != nil {
			s.logger.Debug("undecodable MODBUS packet dropped", "error", err)
			return
		}
		e := s.byUnit[pdu.Unit]
		if e == nil {
			reply := pdu.Exception(protocol.ExIllegalAddress)
			_ = s.link.Send(protocol.ProtoModbus, protocol.EncodeModbus(reply))
			return
		}
		_ = e.queue.Push(pdu)

	case protocol.ProtoMgmt:
		pkt, err := protocol.DecodeMgmt(f.Payload)
		if err != nil {
			s.logger.Debug("undecodable mgmt packet dropped", "error", err)
			return
		}
		switch body := pkt.Body.(type) {
		case protocol.KeepAlive:
			payload, err := protocol.EncodeMgmt(protocol.MgmtKeepAlive,
				protocol.KeepAlive{SentAt: s.link.now(), Echo: body.SentAt})
			if err == nil {
				_ = s.link.Send(protocol.ProtoMgmt, payload)
			}
		default:
			if pkt.Type == protocol.MgmtClose {
				s.linked = false
			}
		}

	default:
		s.logger.Debug("unexpected protocol on RTU session", "protocol", f.Protocol.String())
	}
}

// serviceEntry answers the entry's queued MODBUS requests.
func (s *RTU) serviceEntry(e *RTUEntry) {
	for {
		pdu, ok := e.queue.Pop()
		if !ok {
			return
		}
		var reply protocol.ModbusPDU
		if e.State == HWOffline {
			reply = pdu.Exception(protocol.ExDeviceFailure)
		} else {
			reply = e.Server.Handle(pdu)
		}
		if err := s.link.Send(protocol.ProtoModbus, protocol.EncodeModbus(reply)); err != nil {
			s.logger.Debug("MODBUS reply send failed", "unit", pdu.Unit, "error", err)
		}
	}
}

// pollFormed checks a multiblock entry's formed flag. A false-to-true
// transition remounts the entry: state OK, server re-bound, coordinator
// notified.
func (s *RTU) pollFormed(e *RTUEntry) {
	if !e.Kind.Multiblock() || e.State == HWOffline {
		return
	}
	formed := modbusio.Formed(e.Bank)
	switch {
	case formed && !e.wasFormed:
		e.State = HWOK
		e.Server.Rebind(e.Bank)
		s.syncUnitLink(e)
		s.logger.Info("unit remounted", "name", e.Name, "uid", e.UID)
		if s.notify != nil {
			s.notify(protocol.MgmtRemounted, protocol.Remounted{UnitUID: e.UID})
		}
	case !formed && e.wasFormed:
		e.State = HWUnformed
		s.syncUnitLink(e)
		s.logger.Info("unit multiblock unformed", "name", e.Name, "uid", e.UID)
	}
	e.wasFormed = formed
}

// OnDeviceDetach handles the peripheral manager's detach event: the
// entry goes offline and re-types to virtual until the device returns.
func (s *RTU) OnDeviceDetach(name string) {
	for _, e := range s.entries {
		if e.Name != name {
			continue
		}
		e.State = HWOffline
		e.Kind = protocol.KindVirtual
		e.wasFormed = false
		s.detachFacility(e)
		s.logger.Info("device lost", "name", name, "uid", e.UID)
		return
	}
}

// OnDeviceAttach restores a virtual entry when its device returns. A
// hardware kind differing from the accepted kind is an error, not an
// implicit retype.
func (s *RTU) OnDeviceAttach(name string, kind protocol.RTUDeviceKind) {
	for _, e := range s.entries {
		if e.Name != name {
			continue
		}
		if e.Kind != protocol.KindVirtual {
			return
		}
		if kind != e.acceptedKind {
			s.logger.Error("device kind mismatch on reconnect",
				"name", name, "accepted", string(e.acceptedKind), "got", string(kind))
			return
		}
		e.Kind = e.acceptedKind
		if kind.Multiblock() {
			e.State = HWUnformed
		} else {
			e.State = HWOK
		}
		e.Server.Rebind(e.Bank)
		s.attachFacility(e)
		s.logger.Info("device restored", "name", name, "uid", e.UID)
		return
	}
}

// Close tears the session down and detaches every entry's facility view.
func (s *RTU) Close() {
	s.teardown()
	for _, e := range s.entries {
		e.State = HWOffline
		e.queue.Close()
		s.detachFacility(e)
	}
}
