package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chocotoneg/cc-mek-scada/config"
	"github.com/chocotoneg/cc-mek-scada/facility"
	"github.com/chocotoneg/cc-mek-scada/metric"
	"github.com/chocotoneg/cc-mek-scada/protocol"
	"github.com/chocotoneg/cc-mek-scada/transport"
)

// Deps carries everything the registry needs to run sessions.
type Deps struct {
	Settings  *config.Settings
	Facility  *facility.Facility
	Transport transport.Transport
	Codec     *protocol.Codec
	Metrics   *metric.Registry
	Logger    *slog.Logger
	// Now returns the supervisor clock in unix milliseconds for frame
	// timestamps
	Now func() int64
}

// Registry owns every peer session, keyed by (kind, remote channel). All
// methods run on the owner task; the comms pump hands deliveries in and
// the tick drives session updates and watchdog pruning.
type Registry struct {
	deps   Deps
	logger *slog.Logger

	plcs         map[uint16]*PLC
	plcByReactor map[int]*PLC
	rtus         map[uint16]*RTU
	coords       map[uint16]*Coord

	devListen   uint16
	coordListen uint16
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		deps:         deps,
		logger:       logger.With("component", "sessions"),
		plcs:         make(map[uint16]*PLC),
		plcByReactor: make(map[int]*PLC),
		rtus:         make(map[uint16]*RTU),
		coords:       make(map[uint16]*Coord),
		devListen:    deps.Settings.SVRChannel,
		coordListen:  deps.Settings.CRDChannel,
	}
}

// Channels returns the two listen channels the supervisor must open.
func (r *Registry) Channels() (dev, coord uint16) {
	return r.devListen, r.coordListen
}

func (r *Registry) newLink(peer uint16) *Link {
	src := r.devListen
	return NewLink(r.deps.Transport, r.deps.Codec, src, peer, r.deps.Now)
}

// FindPLC returns the PLC session at a channel, or nil.
func (r *Registry) FindPLC(addr uint16) *PLC { return r.plcs[addr] }

// FindRTU returns the RTU session at a channel, or nil.
func (r *Registry) FindRTU(addr uint16) *RTU { return r.rtus[addr] }

// FindCoord returns the coordinator/pocket session at a channel, or nil.
func (r *Registry) FindCoord(addr uint16) *Coord { return r.coords[addr] }

// Count returns the number of live sessions by kind.
func (r *Registry) Count(kind protocol.PeerKind) int {
	switch kind {
	case protocol.PeerPLC:
		return len(r.plcs)
	case protocol.PeerRTU:
		return len(r.rtus)
	default:
		n := 0
		for _, c := range r.coords {
			if c.kind == kind {
				n++
			}
		}
		return n
	}
}

// EstablishPLC handles a LINK_REQ from a new address and returns the
// handshake outcome.
func (r *Registry) EstablishPLC(addr uint16, req protocol.LinkReq, now time.Time) (*PLC, protocol.LinkStatus) {
	if req.Version != protocol.CommsVersion {
		r.logger.Warn("PLC link refused, version mismatch",
			"addr", addr, "version", req.Version)
		return nil, protocol.LinkBadVersion
	}
	unit := r.deps.Facility.Unit(req.Reactor)
	if unit == nil {
		r.logger.Warn("PLC link refused, reactor out of range",
			"addr", addr, "reactor", req.Reactor)
		return nil, protocol.LinkDeny
	}
	if existing := r.plcByReactor[req.Reactor]; existing != nil {
		r.logger.Warn("PLC link refused, reactor already claimed",
			"addr", addr, "reactor", req.Reactor, "holder", existing.Addr())
		return nil, protocol.LinkCollision
	}

	s := newPLC(addr, req.Reactor, unit, r.newLink(addr), now,
		r.deps.Settings.PLCTimeout, r.logger)
	s.version = req.Version
	r.plcs[addr] = s
	r.plcByReactor[req.Reactor] = s
	r.trackEstablish(protocol.PeerPLC)
	r.logger.Info("PLC linked", "addr", addr, "reactor", req.Reactor)
	return s, protocol.LinkAllow
}

// EstablishRTU handles an RTU_ADVERT from a new address, validating each
// advertised unit and returning the acceptance reply.
func (r *Registry) EstablishRTU(addr uint16, adv protocol.RTUAdvert, now time.Time) (*RTU, protocol.RTUAdvertAck) {
	if adv.Version != protocol.CommsVersion {
		r.logger.Warn("RTU link refused, version mismatch",
			"addr", addr, "version", adv.Version)
		return nil, protocol.RTUAdvertAck{Status: protocol.LinkBadVersion, Version: protocol.CommsVersion}
	}

	s := newRTU(addr, r.newLink(addr), r.deps.Facility, r.notifyCoords, now,
		r.deps.Settings.RTUTimeout, r.logger)

	ack := protocol.RTUAdvertAck{Status: protocol.LinkAllow, Version: protocol.CommsVersion}
	hasIMatrix := r.deps.Facility.HasIMatrix()
	hasSPS := r.deps.Facility.HasSPS()
	indexSeen := make(map[[3]int]bool) // (kind-class, reactor, index)

	for pos, unit := range adv.Units {
		reason, ok := r.validateAdvert(unit, hasIMatrix, hasSPS, indexSeen)
		if !ok {
			ack.Rejected = append(ack.Rejected, protocol.RejectedUnit{Pos: pos, Reason: reason})
			continue
		}
		switch unit.Kind {
		case protocol.KindIMatrix:
			hasIMatrix = true
		case protocol.KindSPS:
			hasSPS = true
		}
		e := s.accept(unit)
		ack.Accepted = append(ack.Accepted, e.UID)
	}

	r.rtus[addr] = s
	r.trackEstablish(protocol.PeerRTU)
	r.logger.Info("RTU linked", "addr", addr,
		"accepted", len(ack.Accepted), "rejected", len(ack.Rejected))
	return s, ack
}

func (r *Registry) validateAdvert(unit protocol.AdvertUnit, hasIMatrix, hasSPS bool,
	indexSeen map[[3]int]bool) (protocol.RejectReason, bool) {
	if !unit.Kind.Valid() {
		return protocol.RejectBadKind, false
	}

	switch unit.Kind {
	case protocol.KindIMatrix:
		if hasIMatrix {
			return protocol.RejectDuplicateIMatrix, false
		}
		return "", true
	case protocol.KindSPS:
		if hasSPS {
			return protocol.RejectDuplicateSPS, false
		}
		return "", true
	}

	// reactor-scoped kinds
	switch unit.Kind {
	case protocol.KindBoilerValve, protocol.KindTurbineValve:
		u := r.deps.Facility.Unit(unit.Reactor)
		if u == nil {
			return protocol.RejectBadReactor, false
		}
		max := u.Boilers
		class := 0
		if unit.Kind == protocol.KindTurbineValve {
			max = u.Turbines
			class = 1
		}
		if unit.Index < 1 || unit.Index > max {
			return protocol.RejectBadIndex, false
		}
		key := [3]int{class, unit.Reactor, unit.Index}
		if indexSeen[key] {
			return protocol.RejectDuplicateIndex, false
		}
		indexSeen[key] = true
		return "", true

	case protocol.KindDynamicValve, protocol.KindSNA:
		// reactor 0 denotes a facility-shared device
		if unit.Reactor != 0 && r.deps.Facility.Unit(unit.Reactor) == nil {
			return protocol.RejectBadReactor, false
		}
		return "", true
	}

	// env detectors and redstone are facility-scoped
	return "", true
}

// EstablishCoord handles an ESTABLISH from a coordinator or pocket.
func (r *Registry) EstablishCoord(addr uint16, est protocol.Establish, now time.Time) (*Coord, protocol.LinkStatus) {
	if est.Version != protocol.CommsVersion {
		return nil, protocol.LinkBadVersion
	}
	if est.Kind != protocol.PeerCoordinator && est.Kind != protocol.PeerPocket {
		return nil, protocol.LinkDeny
	}
	if existing := r.coords[addr]; existing != nil {
		return nil, protocol.LinkCollision
	}
	// a second coordinator (not pocket) is refused: one operator console
	if est.Kind == protocol.PeerCoordinator {
		for _, c := range r.coords {
			if c.kind == protocol.PeerCoordinator {
				return nil, protocol.LinkCollision
			}
		}
	}

	timeout := r.deps.Settings.CRDTimeout
	if est.Kind == protocol.PeerPocket {
		timeout = r.deps.Settings.PKTTimeout
	}
	link := NewLink(r.deps.Transport, r.deps.Codec, r.coordListen, addr, r.deps.Now)
	s := newCoord(est.Kind, addr, r.deps.Facility, link, now, timeout, r.logger)
	s.version = est.Version
	r.coords[addr] = s
	r.trackEstablish(est.Kind)
	r.logger.Info("coordination peer linked", "addr", addr, "kind", string(est.Kind))
	return s, protocol.LinkAllow
}

// Close tears down the session with the given id. Returns whether it
// existed.
func (r *Registry) Close(id uuid.UUID) bool {
	for addr, s := range r.plcs {
		if s.ID() == id {
			r.closePLC(addr, s)
			return true
		}
	}
	for addr, s := range r.rtus {
		if s.ID() == id {
			r.closeRTU(addr, s)
			return true
		}
	}
	for addr, s := range r.coords {
		if s.ID() == id {
			r.closeCoord(addr, s)
			return true
		}
	}
	return false
}

func (r *Registry) closePLC(addr uint16, s *PLC) {
	s.Close()
	delete(r.plcs, addr)
	delete(r.plcByReactor, s.reactor)
	r.trackClose(protocol.PeerPLC)
}

func (r *Registry) closeRTU(addr uint16, s *RTU) {
	s.Close()
	delete(r.rtus, addr)
	r.trackClose(protocol.PeerRTU)
}

func (r *Registry) closeCoord(addr uint16, s *Coord) {
	kind := s.kind
	s.Close()
	delete(r.coords, addr)
	r.trackClose(kind)
}

// Tick runs every session's update and prunes expired watchdogs.
func (r *Registry) Tick(now time.Time) {
	for addr, s := range r.plcs {
		if s.Expired(now) {
			r.logger.Info("PLC session timed out", "addr", addr, "reactor", s.reactor)
			r.trackTimeout(protocol.PeerPLC)
			r.closePLC(addr, s)
			continue
		}
		s.OnTick(now)
	}
	for addr, s := range r.rtus {
		if s.Expired(now) {
			r.logger.Info("RTU session timed out", "addr", addr)
			r.trackTimeout(protocol.PeerRTU)
			r.closeRTU(addr, s)
			continue
		}
		s.OnTick(now)
	}
	for addr, s := range r.coords {
		if s.Expired(now) {
			r.logger.Info("coordination session timed out", "addr", addr, "kind", string(s.kind))
			r.trackTimeout(s.kind)
			r.closeCoord(addr, s)
			continue
		}
		s.OnTick(now)
	}
}

// PushStatus sends the facility telemetry frame to every coordination
// peer.
func (r *Registry) PushStatus(snap facility.Snapshot) {
	for _, c := range r.coords {
		c.PushStatus(snap)
	}
}

// notifyCoords broadcasts one management packet to coordination peers.
func (r *Registry) notifyCoords(typ protocol.MgmtType, body any) {
	for _, c := range r.coords {
		c.SendMgmt(typ, body)
	}
}

// CloseAll tears down every session for shutdown.
func (r *Registry) CloseAll() {
	for addr, s := range r.plcs {
		r.closePLC(addr, s)
	}
	for addr, s := range r.rtus {
		r.closeRTU(addr, s)
	}
	for addr, s := range r.coords {
		r.closeCoord(addr, s)
	}
}

func (r *Registry) trackEstablish(kind protocol.PeerKind) {
	if m := r.deps.Metrics; m != nil {
		m.Core.SessionsEstablished.WithLabelValues(string(kind)).Inc()
		m.Core.SessionsActive.WithLabelValues(string(kind)).Set(float64(r.Count(kind)))
	}
}

func (r *Registry) trackClose(kind protocol.PeerKind) {
	if m := r.deps.Metrics; m != nil {
		m.Core.SessionsActive.WithLabelValues(string(kind)).Set(float64(r.Count(kind)))
	}
}

func (r *Registry) trackTimeout(kind protocol.PeerKind) {
	if m := r.deps.Metrics; m != nil {
		m.Core.WatchdogTimeouts.WithLabelValues(string(kind)).Inc()
	}
}
