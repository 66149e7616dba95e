// Package gateway serves the read-only operations surface: a WebSocket
// feed pushing one facility snapshot per tick, the latest snapshot over
// plain HTTP, and the Prometheus scrape endpoint. Slow WebSocket
// consumers are dropped rather than allowed to backpressure the tick.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chocotoneg/cc-mek-scada/errors"
	"github.com/chocotoneg/cc-mek-scada/facility"
	"github.com/chocotoneg/cc-mek-scada/metric"
)

// clientQueueDepth bounds one WebSocket client's unsent frame backlog.
const clientQueueDepth = 8

// Gateway is the operations HTTP/WebSocket server.
type Gateway struct {
	addr    string
	metrics *metric.Registry
	logger  *slog.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	mu       sync.RWMutex
	clients  map[*websocket.Conn]chan []byte
	lastSnap []byte
	running  bool
}

// New creates a gateway bound to addr (typically loopback).
func New(addr string, metrics *metric.Registry, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{
		addr:    addr,
		metrics: metrics,
		logger:  logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Start begins serving. The listener error surfaces through the logger;
// a failed bind is returned synchronously.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return errors.ErrAlreadyStarted
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/status", g.handleStatus)
	if g.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			g.metrics.PrometheusRegistry(), promhttp.HandlerOpts{}))
	}

	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return errors.Wrap(err, "Gateway", "Start", "listener bind")
	}
	g.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g.addr = ln.Addr().String()
	g.running = true

	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway serve failed", "error", err)
		}
	}()
	g.logger.Info("gateway listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.addr
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	out := make(chan []byte, clientQueueDepth)
	g.mu.Lock()
	g.clients[conn] = out
	last := g.lastSnap
	g.mu.Unlock()

	if last != nil {
		select {
		case out <- last:
		default:
		}
	}

	go g.writePump(conn, out)
	go g.readPump(conn)
}

// writePump sends queued frames until the client queue closes.
func (g *Gateway) writePump(conn *websocket.Conn, out chan []byte) {
	defer func() { _ = conn.Close() }()
	for frame := range out {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			g.dropClient(conn)
			return
		}
	}
}

// readPump discards client input; the feed is one-way. A read error
// retires the client.
func (g *Gateway) readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			g.dropClient(conn)
			return
		}
	}
}

func (g *Gateway) dropClient(conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if out, ok := g.clients[conn]; ok {
		delete(g.clients, conn)
		close(out)
	}
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	g.mu.RLock()
	snap := g.lastSnap
	g.mu.RUnlock()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(snap)
}

// Broadcast implements the supervisor's Broadcaster: one frame per tick
// to every connected client, dropping any whose queue is full.
func (g *Gateway) Broadcast(snap facility.Snapshot) {
	frame, err := json.Marshal(snap)
	if err != nil {
		g.logger.Warn("snapshot encoding failed", "error", err)
		return
	}

	g.mu.Lock()
	g.lastSnap = frame
	for conn, out := range g.clients {
		select {
		case out <- frame:
		default:
			delete(g.clients, conn)
			close(out)
		}
	}
	g.mu.Unlock()
}

// Stop closes every client and shuts the server down.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return errors.ErrNotStarted
	}
	g.running = false
	for conn, out := range g.clients {
		close(out)
		_ = conn.Close()
	}
	g.clients = make(map[*websocket.Conn]chan []byte)
	server := g.server
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
