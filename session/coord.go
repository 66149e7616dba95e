package session

import (
	"log/slog"
	"time"

	"github.com/chocotoneg/cc-mek-scada/facility"
	"github.com/chocotoneg/cc-mek-scada/protocol"
)

// Coord is a coordinator or pocket session. Coordinators submit operator
// commands and receive telemetry frames; pockets are read-only consumers
// of the same frames.
type Coord struct {
	base
	fac *facility.Facility
}

func newCoord(kind protocol.PeerKind, addr uint16, fac *facility.Facility,
	link *Link, now time.Time, timeout time.Duration, logger *slog.Logger) *Coord {
	s := &Coord{
		base: newBase(kind, addr, link, now, timeout, logger),
		fac:  fac,
	}
	s.linked = true
	return s
}

// OnTick drains and applies the inbox; commands apply in submission
// order.
func (s *Coord) OnTick(now time.Time) {
	for _, f := range s.inbox.Drain() {
		s.handle(f, now)
	}
}

func (s *Coord) handle(f protocol.Frame, _ time.Time) {
	switch f.Protocol {
	case protocol.ProtoCoord:
		pkt, err := protocol.DecodeCoord(f.Payload)
		if err != nil {
			s.logger.Debug("undecodable coordinator packet dropped", "error", err)
			return
		}
		s.handleCoord(pkt)

	case protocol.ProtoMgmt:
		pkt, err := protocol.DecodeMgmt(f.Payload)
		if err != nil {
			s.logger.Debug("undecodable mgmt packet dropped", "error", err)
			return
		}
		s.handleMgmt(pkt)

	default:
		s.logger.Debug("unexpected protocol on coordinator session", "protocol", f.Protocol.String())
	}
}

func (s *Coord) handleCoord(pkt protocol.CoordPacket) {
	if s.kind == protocol.PeerPocket {
		switch pkt.Type {
		case protocol.CoordFacCmd, protocol.CoordUnitCmd:
			s.logger.Warn("command from read-only pocket dropped", "type", string(pkt.Type))
			return
		}
	}

	switch body := pkt.Body.(type) {
	case protocol.FacCmd:
		s.applyFacCmd(body)
	case protocol.UnitCmd:
		s.applyUnitCmd(body)
	default:
		switch pkt.Type {
		case protocol.CoordFacBuilds, protocol.CoordUnitBuilds:
			s.sendBuilds(pkt.Type)
		}
	}
}

// sendBuilds answers a builds request with the facility's static layout.
func (s *Coord) sendBuilds(typ protocol.CoordType) {
	type unitBuild struct {
		ID       int `json:"id"`
		Boilers  int `json:"boilers"`
		Turbines int `json:"turbines"`
	}
	units := make([]unitBuild, 0, len(s.fac.Units()))
	for _, u := range s.fac.Units() {
		units = append(units, unitBuild{ID: u.ID, Boilers: u.Boilers, Turbines: u.Turbines})
	}
	builds := map[string]any{
		"unit_count": len(units),
		"tank_list":  s.fac.TankList(),
		"units":      units,
	}
	payload, err := protocol.EncodeCoord(typ, builds)
	if err != nil {
		s.logger.Warn("builds encoding failed", "error", err)
		return
	}
	_ = s.link.Send(protocol.ProtoCoord, payload)
}

func (s *Coord) applyFacCmd(cmd protocol.FacCmd) {
	switch cmd.Cmd {
	case protocol.FacAutoStart:
		if cmd.Start == nil {
			s.logger.Warn("auto_start without config dropped")
			return
		}
		if err := s.fac.AutoStart(*cmd.Start); err != nil {
			s.logger.Warn("auto_start refused", "error", err)
		}
	case protocol.FacAutoStop:
		s.fac.AutoStop()
	case protocol.FacAck:
		if !s.fac.AckScram() {
			s.logger.Info("SCRAM ack refused, condition still present")
		}
	case protocol.FacSetGroup:
		if err := s.fac.SetGroup(cmd.Unit, cmd.Group); err != nil {
			s.logger.Warn("set_group refused", "error", err)
		}
	case protocol.FacSetWaste:
		if err := s.fac.SetUnitWaste(cmd.Unit, facility.WasteMode(cmd.Waste)); err != nil {
			s.logger.Warn("set_waste refused", "error", err)
		}
	case protocol.FacSetPuFallback:
		s.fac.SetPuFallback(cmd.Enable)
	case protocol.FacSetSPSLowPower:
		s.fac.SetSPSLowPower(cmd.Enable)
	default:
		s.logger.Debug("unknown facility command", "cmd", string(cmd.Cmd))
	}
}

func (s *Coord) applyUnitCmd(cmd protocol.UnitCmd) {
	u := s.fac.Unit(cmd.Unit)
	if u == nil {
		s.logger.Warn("unit command for unknown unit", "unit", cmd.Unit)
		return
	}
	switch cmd.Cmd {
	case protocol.UnitScram:
		u.Scram()
	case protocol.UnitResetRPS:
		u.ResetRPS()
	case protocol.UnitAck:
		if cmd.Alarm < 0 {
			u.Annunciator.AckAll()
		} else {
			u.AckAlarm(facility.Alarm(cmd.Alarm))
		}
	case protocol.UnitBurnRate:
		// manual burn requests apply only while auto control is inactive
		if s.fac.Mode() != facility.ModeInactive {
			s.logger.Warn("manual burn rate refused while auto engaged", "unit", cmd.Unit)
			return
		}
		u.RequestedBurn100 = int(cmd.BurnRate*100 + 0.5)
		u.SetCommandedBurn(u.RequestedBurn100)
		u.PushBurnCommand()
	case protocol.UnitWaste:
		if err := s.fac.SetUnitWaste(cmd.Unit, facility.WasteMode(cmd.Waste)); err != nil {
			s.logger.Warn("waste command refused", "error", err)
		}
	case protocol.UnitGroup:
		if err := s.fac.SetGroup(cmd.Unit, cmd.Group); err != nil {
			s.logger.Warn("group command refused", "error", err)
		}
	default:
		s.logger.Debug("unknown unit command", "cmd", string(cmd.Cmd))
	}
}

func (s *Coord) handleMgmt(pkt protocol.MgmtPacket) {
	if s.kind == protocol.PeerPocket {
		switch pkt.Type {
		case protocol.MgmtDiagToneTest, protocol.MgmtDiagAlarmTest:
			s.logger.Warn("diagnostic from read-only pocket dropped", "type", string(pkt.Type))
			return
		}
	}

	switch body := pkt.Body.(type) {
	case protocol.KeepAlive:
		payload, err := protocol.EncodeMgmt(protocol.MgmtKeepAlive,
			protocol.KeepAlive{SentAt: s.link.now(), Echo: body.SentAt})
		if err == nil {
			_ = s.link.Send(protocol.ProtoMgmt, payload)
		}
	case protocol.DiagToneTest:
		s.fac.Tones.SetTestTone(body.Slot, body.State)
	case protocol.DiagAlarmTest:
		s.fac.SetAlarmTest(body.Alarm, body.State)
	default:
		if pkt.Type == protocol.MgmtClose {
			s.linked = false
		}
	}
}

// PushStatus sends the per-tick facility telemetry frame.
func (s *Coord) PushStatus(snap facility.Snapshot) {
	payload, err := protocol.EncodeCoord(protocol.CoordFacStatus, snap)
	if err != nil {
		s.logger.Warn("status encoding failed", "error", err)
		return
	}
	if err := s.link.Send(protocol.ProtoCoord, payload); err != nil {
		s.logger.Debug("status push failed", "error", err)
	}
}

// SendMgmt sends one management packet to this peer.
func (s *Coord) SendMgmt(typ protocol.MgmtType, body any) {
	payload, err := protocol.EncodeMgmt(typ, body)
	if err != nil {
		s.logger.Warn("mgmt encoding failed", "type", string(typ), "error", err)
		return
	}
	_ = s.link.Send(protocol.ProtoMgmt, payload)
}

// Close tears the session down.
func (s *Coord) Close() {
	s.teardown()
}
