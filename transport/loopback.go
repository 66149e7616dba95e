package transport

import (
	"context"
	"sync"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

// Hub is an in-memory datagram fabric connecting Loopback endpoints.
type Hub struct {
	mu        sync.RWMutex
	endpoints []*Loopback
}

// NewHub creates an empty fabric.
func NewHub() *Hub {
	return &Hub{}
}

// Endpoint attaches a new endpoint to the fabric. distance is the
// simulated distance stamped on datagrams this endpoint sends.
func (h *Hub) Endpoint(distance float64) *Loopback {
	l := &Loopback{
		hub:      h,
		distance: distance,
		open:     make(map[uint16]bool),
		events:   make(chan Delivery, 256),
	}
	h.mu.Lock()
	h.endpoints = append(h.endpoints, l)
	h.mu.Unlock()
	return l
}

func (h *Hub) deliver(from *Loopback, d Delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ep := range h.endpoints {
		if ep == from {
			continue
		}
		ep.mu.Lock()
		listening := !ep.closed && ep.open[d.Dst]
		ep.mu.Unlock()
		if !listening {
			continue
		}
		select {
		case ep.events <- d:
		default:
			// receiver backlogged: datagrams are lossy by contract
		}
	}
}

// Loopback is one endpoint on an in-memory Hub.
type Loopback struct {
	hub      *Hub
	distance float64

	mu     sync.Mutex
	open   map[uint16]bool
	closed bool
	events chan Delivery
}

// Open implements Transport.
func (l *Loopback) Open(channel uint16) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.ErrAlreadyStopped
	}
	l.open[channel] = true
	return nil
}

// Send implements Transport.
func (l *Loopback) Send(src, dst uint16, payload []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return errors.ErrAlreadyStopped
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	l.hub.deliver(l, Delivery{Src: src, Dst: dst, Payload: buf, Distance: l.distance})
	return nil
}

// Events implements Transport.
func (l *Loopback) Events() <-chan Delivery {
	return l.events
}

// Close implements Transport.
func (l *Loopback) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	return nil
}
