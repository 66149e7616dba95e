package session

import (
	"time"

	"github.com/chocotoneg/cc-mek-scada/errors"
	"github.com/chocotoneg/cc-mek-scada/protocol"
	"github.com/chocotoneg/cc-mek-scada/transport"
)

// HandleDelivery decodes and routes one inbound datagram: known peers
// get their session inbox, link requests begin a handshake, and every
// other orphan is answered with a DENY hint so the sender re-links.
func (r *Registry) HandleDelivery(d transport.Delivery, now time.Time) {
	if !transport.WithinRange(d, r.deps.Settings.TrustedRange) {
		r.drop("range")
		r.logger.Debug("frame outside trusted range dropped",
			"src", d.Src, "distance", d.Distance)
		return
	}
	if d.Dst != r.devListen && d.Dst != r.coordListen {
		r.drop("channel")
		return
	}

	f, err := r.deps.Codec.Decode(d.Payload, r.deps.Now())
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrAuth):
			r.drop("auth")
			r.logger.Warn("frame failed authentication", "src", d.Src)
		case errors.Is(err, errors.ErrStale):
			r.drop("stale")
			r.logger.Warn("stale frame dropped", "src", d.Src)
		case errors.Is(err, errors.ErrUnknownProtocol):
			r.drop("protocol")
			r.logger.Warn("unknown protocol tag dropped", "src", d.Src)
		default:
			r.drop("decode")
			r.logger.Debug("undecodable frame dropped", "src", d.Src, "error", err)
		}
		return
	}

	// protocol-to-channel pairing: device traffic on the device channel,
	// coordination traffic on the coordination channel
	switch f.Protocol {
	case protocol.ProtoRPLC, protocol.ProtoModbus:
		if d.Dst != r.devListen {
			r.drop("channel")
			return
		}
	case protocol.ProtoCoord:
		if d.Dst != r.coordListen {
			r.drop("channel")
			return
		}
	}

	switch f.Protocol {
	case protocol.ProtoRPLC:
		r.routeRPLC(d.Src, f, now)
	case protocol.ProtoModbus:
		r.routeModbus(d.Src, f, now)
	case protocol.ProtoMgmt:
		r.routeMgmt(d.Src, d.Dst, f, now)
	case protocol.ProtoCoord:
		r.routeCoord(d.Src, f, now)
	}
}

func (r *Registry) routeRPLC(src uint16, f protocol.Frame, now time.Time) {
	if s := r.plcs[src]; s != nil {
		r.enqueue(&s.base, f, now)
		return
	}

	pkt, err := protocol.DecodeRPLC(f.Payload)
	if err != nil || pkt.Type != protocol.RPLCLinkReq {
		r.denyHint(src)
		return
	}
	req := pkt.Body.(protocol.LinkReq)
	s, status := r.EstablishPLC(src, req, now)

	ackPayload, encErr := protocol.EncodeRPLC(protocol.RPLCLinkAck,
		protocol.LinkAck{Status: status, Version: protocol.CommsVersion})
	if encErr != nil {
		return
	}
	if s != nil {
		s.seqRx.Accept(f.Seq)
		r.received(f.Protocol)
		_ = s.link.Send(protocol.ProtoRPLC, ackPayload)
	} else {
		_ = r.newLink(src).Send(protocol.ProtoRPLC, ackPayload)
	}
}

func (r *Registry) routeModbus(src uint16, f protocol.Frame, now time.Time) {
	if s := r.rtus[src]; s != nil {
		r.enqueue(&s.base, f, now)
		return
	}
	r.denyHint(src)
}

func (r *Registry) routeMgmt(src, dst uint16, f protocol.Frame, now time.Time) {
	if s := r.plcs[src]; s != nil {
		r.enqueue(&s.base, f, now)
		return
	}
	if s := r.rtus[src]; s != nil {
		r.enqueue(&s.base, f, now)
		return
	}
	if s := r.coords[src]; s != nil {
		r.enqueue(&s.base, f, now)
		return
	}

	pkt, err := protocol.DecodeMgmt(f.Payload)
	if err != nil {
		r.denyHint(src)
		return
	}

	switch body := pkt.Body.(type) {
	case protocol.RTUAdvert:
		if dst != r.devListen {
			r.drop("channel")
			return
		}
		s, ack := r.EstablishRTU(src, body, now)
		payload, encErr := protocol.EncodeMgmt(protocol.MgmtRTUAdvertAck, ack)
		if encErr != nil {
			return
		}
		if s != nil {
			s.seqRx.Accept(f.Seq)
			r.received(f.Protocol)
			_ = s.link.Send(protocol.ProtoMgmt, payload)
		} else {
			_ = r.newLink(src).Send(protocol.ProtoMgmt, payload)
		}

	case protocol.Establish:
		if dst != r.coordListen {
			r.drop("channel")
			return
		}
		s, status := r.EstablishCoord(src, body, now)
		payload, encErr := protocol.EncodeMgmt(protocol.MgmtEstablishAck,
			protocol.EstablishAck{Status: status, Version: protocol.CommsVersion})
		if encErr != nil {
			return
		}
		if s != nil {
			s.seqRx.Accept(f.Seq)
			r.received(f.Protocol)
			_ = s.link.Send(protocol.ProtoMgmt, payload)
		} else {
			link := NewLink(r.deps.Transport, r.deps.Codec, r.coordListen, src, r.deps.Now)
			_ = link.Send(protocol.ProtoMgmt, payload)
		}

	default:
		r.denyHint(src)
	}
}

func (r *Registry) routeCoord(src uint16, f protocol.Frame, now time.Time) {
	if s := r.coords[src]; s != nil {
		r.enqueue(&s.base, f, now)
		return
	}
	r.denyHint(src)
}

func (r *Registry) enqueue(b *base, f protocol.Frame, now time.Time) {
	if b.Enqueue(f, now) {
		r.received(f.Protocol)
	} else {
		r.drop("replay")
	}
}

// denyHint answers an orphan sender so it knows to re-link.
func (r *Registry) denyHint(src uint16) {
	r.drop("orphan")
	payload, err := protocol.EncodeMgmt(protocol.MgmtEstablishAck,
		protocol.EstablishAck{Status: protocol.LinkDeny, Version: protocol.CommsVersion})
	if err != nil {
		return
	}
	_ = r.newLink(src).Send(protocol.ProtoMgmt, payload)
}

func (r *Registry) received(p protocol.Protocol) {
	if m := r.deps.Metrics; m != nil {
		m.Core.PacketsReceived.WithLabelValues(p.String()).Inc()
	}
}

func (r *Registry) drop(reason string) {
	if m := r.deps.Metrics; m != nil {
		m.Core.PacketsDropped.WithLabelValues(reason).Inc()
	}
}
