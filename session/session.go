// Package session implements the supervisor's peer sessions: the registry
// keyed by (kind, remote channel), the reactor PLC session, the RTU
// gateway session with its per-entry MODBUS pairing, and the coordinator
// and pocket sessions.
//
// Sessions own their inbox queue and watchdog. Inbound frames are
// enqueued by the comms pump and processed at tick boundaries, so no
// consumer ever observes a partially applied update within a tick.
package session

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chocotoneg/cc-mek-scada/pkg/buffer"
	"github.com/chocotoneg/cc-mek-scada/protocol"
	"github.com/chocotoneg/cc-mek-scada/scheduler"
	"github.com/chocotoneg/cc-mek-scada/transport"
)

// inboxDepth bounds a session's unprocessed frame backlog.
const inboxDepth = 64

// Link is a session's outbound path: it stamps the per-session sequence
// number, signs the frame, and transmits from the supervisor's channel to
// the peer's.
type Link struct {
	tr    transport.Transport
	codec *protocol.Codec
	src   uint16
	dst   uint16
	seq   atomic.Uint32
	now   func() int64
}

// NewLink builds an outbound link to a peer channel.
func NewLink(tr transport.Transport, codec *protocol.Codec, src, dst uint16, now func() int64) *Link {
	return &Link{tr: tr, codec: codec, src: src, dst: dst, now: now}
}

// Send encodes and transmits one frame.
func (l *Link) Send(proto protocol.Protocol, payload []byte) error {
	frame := protocol.Frame{
		Seq:       l.seq.Add(1) - 1,
		Protocol:  proto,
		Timestamp: l.now(),
		Payload:   payload,
	}
	wire, err := l.codec.Encode(frame)
	if err != nil {
		return err
	}
	return l.tr.Send(l.src, l.dst, wire)
}

// Dst returns the peer channel this link transmits to.
func (l *Link) Dst() uint16 {
	return l.dst
}

// base carries the state shared by every session kind.
type base struct {
	id       uuid.UUID
	kind     protocol.PeerKind
	addr     uint16
	link     *Link
	seqRx    protocol.SeqTracker
	watchdog *scheduler.Watchdog
	inbox    *buffer.Queue[protocol.Frame]
	linked   bool
	version  uint16
	lastRx   time.Time
	logger   *slog.Logger
}

func newBase(kind protocol.PeerKind, addr uint16, link *Link, now time.Time,
	timeout time.Duration, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return base{
		id:       uuid.New(),
		kind:     kind,
		addr:     addr,
		link:     link,
		watchdog: scheduler.NewWatchdog(now, timeout),
		inbox:    buffer.New[protocol.Frame](inboxDepth),
		logger:   logger.With("session", kind, "addr", addr),
	}
}

// ID returns the session identifier.
func (b *base) ID() uuid.UUID { return b.id }

// Kind returns the peer kind.
func (b *base) Kind() protocol.PeerKind { return b.kind }

// Addr returns the peer's channel.
func (b *base) Addr() uint16 { return b.addr }

// Linked reports whether the handshake completed.
func (b *base) Linked() bool { return b.linked }

// Enqueue accepts one inbound frame after sequence validation, feeding
// the watchdog. Replayed frames are dropped.
func (b *base) Enqueue(f protocol.Frame, now time.Time) bool {
	if !b.seqRx.Accept(f.Seq) {
		b.logger.Debug("replayed frame dropped", "seq", f.Seq)
		return false
	}
	b.watchdog.Feed(now)
	b.lastRx = now
	if err := b.inbox.Push(f); err != nil {
		return false
	}
	return true
}

// Expired reports whether the watchdog fired.
func (b *base) Expired(now time.Time) bool {
	return b.watchdog.Expired(now)
}

// teardown cancels the watchdog and drains the inbox.
func (b *base) teardown() {
	b.watchdog.Cancel()
	b.inbox.Drain()
	b.inbox.Close()
	b.linked = false
}
