package session

import (
	"log/slog"
	"time"

	"github.com/chocotoneg/cc-mek-scada/facility"
	"github.com/chocotoneg/cc-mek-scada/protocol"
)

// PLC is one reactor PLC's session. It ingests the PLC's status,
// telemetry, and RPS mirror into the unit, and implements the unit's
// command handle.
type PLC struct {
	base
	reactor int
	unit    *facility.Unit
}

var _ facility.PLCHandle = (*PLC)(nil)

func newPLC(addr uint16, reactor int, unit *facility.Unit, link *Link,
	now time.Time, timeout time.Duration, logger *slog.Logger) *PLC {
	s := &PLC{
		base:    newBase(protocol.PeerPLC, addr, link, now, timeout, logger),
		reactor: reactor,
		unit:    unit,
	}
	s.linked = true
	unit.AttachPLC(s)
	return s
}

// Reactor returns the reactor id this session claims.
func (s *PLC) Reactor() int {
	return s.reactor
}

// SendCommand implements facility.PLCHandle.
func (s *PLC) SendCommand(cmd protocol.PLCCommand) {
	payload, err := protocol.EncodeRPLC(protocol.RPLCCommand, cmd)
	if err != nil {
		s.logger.Warn("command encoding failed", "error", err)
		return
	}
	if err := s.link.Send(protocol.ProtoRPLC, payload); err != nil {
		s.logger.Warn("command send failed", "cmd", string(cmd.Cmd), "error", err)
	}
}

// OnTick drains and applies the inbox.
func (s *PLC) OnTick(now time.Time) {
	for _, f := range s.inbox.Drain() {
		s.handle(f, now)
	}
}

func (s *PLC) handle(f protocol.Frame, now time.Time) {
	switch f.Protocol {
	case protocol.ProtoRPLC:
		pkt, err := protocol.DecodeRPLC(f.Payload)
		if err != nil {
			s.logger.Debug("undecodable RPLC packet dropped", "error", err)
			return
		}
		s.handleRPLC(pkt)

	case protocol.ProtoMgmt:
		pkt, err := protocol.DecodeMgmt(f.Payload)
		if err != nil {
			s.logger.Debug("undecodable mgmt packet dropped", "error", err)
			return
		}
		s.handleMgmt(pkt, now)

	default:
		s.logger.Debug("unexpected protocol on PLC session", "protocol", f.Protocol.String())
	}
}

func (s *PLC) handleRPLC(pkt protocol.RPLCPacket) {
	switch body := pkt.Body.(type) {
	case protocol.ReactorStatus:
		s.unit.IngestStatus(body)
	case protocol.RPSStatus:
		s.unit.IngestRPS(body)
	case protocol.RPSAlarm:
		s.logger.Info("RPS trip reported", "cause", body.Cause)
		s.unit.IngestRPS(protocol.RPSStatus{Reactor: body.Reactor, Tripped: true, TripCause: body.Cause})
	case protocol.TelemetryDelta:
		s.unit.IngestTelemetry(body.Telemetry)
	case protocol.LinkReq:
		// re-link on an established session: confirm with ALLOW
		s.ackLink(protocol.LinkAllow)
	default:
		s.logger.Debug("unexpected RPLC packet", "type", string(pkt.Type))
	}
}

func (s *PLC) handleMgmt(pkt protocol.MgmtPacket, _ time.Time) {
	switch body := pkt.Body.(type) {
	case protocol.KeepAlive:
		payload, err := protocol.EncodeMgmt(protocol.MgmtKeepAlive,
			protocol.KeepAlive{SentAt: s.link.now(), Echo: body.SentAt})
		if err == nil {
			_ = s.link.Send(protocol.ProtoMgmt, payload)
		}
	default:
		if pkt.Type == protocol.MgmtClose {
			s.logger.Info("peer closed session")
			s.linked = false
		}
	}
}

func (s *PLC) ackLink(status protocol.LinkStatus) {
	payload, err := protocol.EncodeRPLC(protocol.RPLCLinkAck,
		protocol.LinkAck{Status: status, Version: protocol.CommsVersion})
	if err == nil {
		_ = s.link.Send(protocol.ProtoRPLC, payload)
	}
}

// Close tears the session down and clears the unit back-reference.
func (s *PLC) Close() {
	s.teardown()
	s.unit.DetachPLC()
}
