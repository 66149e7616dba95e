package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/chocotoneg/cc-mek-scada/errors"
	"github.com/chocotoneg/cc-mek-scada/metric"
	"github.com/chocotoneg/cc-mek-scada/natsclient"
)

const (
	subjectPrefix = "scada.ch"

	hdrSrc      = "Scada-Src"
	hdrDistance = "Scada-Distance"

	// outbound serialization queue depth
	sendQueueDepth = 512
	// outbound frame rate cap; control traffic is small and bursty
	sendRateLimit = 500 // frames/s
	sendBurst     = 64
)

// Metrics holds Prometheus metrics for the NATS transport
type Metrics struct {
	framesSent     prometheus.Counter
	framesReceived prometheus.Counter
	framesDropped  prometheus.Counter
	sendQueueDepth prometheus.Gauge
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scada_supervisor", Subsystem: "transport", Name: "frames_sent_total",
			Help: "Datagrams published to the broker",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scada_supervisor", Subsystem: "transport", Name: "frames_received_total",
			Help: "Datagrams received from the broker",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scada_supervisor", Subsystem: "transport", Name: "frames_dropped_total",
			Help: "Datagrams dropped by the transport (queue full or malformed)",
		}),
		sendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scada_supervisor", Subsystem: "transport", Name: "send_queue_depth",
			Help: "Outbound queue occupancy",
		}),
	}
	_ = registry.RegisterCounter("transport", "frames_sent", m.framesSent)
	_ = registry.RegisterCounter("transport", "frames_received", m.framesReceived)
	_ = registry.RegisterCounter("transport", "frames_dropped", m.framesDropped)
	_ = registry.RegisterGauge("transport", "send_queue_depth", m.sendQueueDepth)
	return m
}

type outFrame struct {
	src, dst uint16
	payload  []byte
}

// NATS overlays the datagram transport on broker subjects: one subject
// per channel, sender channel and simulated distance in headers. The
// outbound path is serialized through a single goroutine behind a rate
// limiter; it is the only point of concurrent contention.
type NATS struct {
	client  *natsclient.Client
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	subs    []*nats.Subscription
	started bool
	closed  bool

	events  chan Delivery
	sendQ   chan outFrame
	limiter *rate.Limiter
	done    chan struct{}
}

// NewNATS creates the transport over a connected client.
func NewNATS(client *natsclient.Client, registry *metric.Registry, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &NATS{
		client:  client,
		logger:  logger.With("component", "transport"),
		metrics: newMetrics(registry),
		events:  make(chan Delivery, 256),
		sendQ:   make(chan outFrame, sendQueueDepth),
		limiter: rate.NewLimiter(rate.Limit(sendRateLimit), sendBurst),
		done:    make(chan struct{}),
	}
	go t.sendLoop()
	return t
}

func channelSubject(ch uint16) string {
	return fmt.Sprintf("%s.%d", subjectPrefix, ch)
}

// Open implements Transport: subscribes to a channel subject.
func (t *NATS) Open(channel uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.ErrAlreadyStopped
	}

	ch := channel
	sub, err := t.client.Subscribe(channelSubject(channel), func(msg *nats.Msg) {
		t.receive(ch, msg)
	})
	if err != nil {
		return errors.Wrap(err, "NATS", "Open", fmt.Sprintf("channel %d subscribe", channel))
	}
	t.subs = append(t.subs, sub)
	t.logger.Debug("channel opened", "channel", channel)
	return nil
}

func (t *NATS) receive(dst uint16, msg *nats.Msg) {
	src, err := strconv.ParseUint(msg.Header.Get(hdrSrc), 10, 16)
	if err != nil {
		if t.metrics != nil {
			t.metrics.framesDropped.Inc()
		}
		t.logger.Debug("frame missing source header")
		return
	}
	distance, _ := strconv.ParseFloat(msg.Header.Get(hdrDistance), 64)

	d := Delivery{Src: uint16(src), Dst: dst, Payload: msg.Data, Distance: distance}
	select {
	case t.events <- d:
		if t.metrics != nil {
			t.metrics.framesReceived.Inc()
		}
	default:
		if t.metrics != nil {
			t.metrics.framesDropped.Inc()
		}
		t.logger.Debug("event queue full, frame dropped", "src", src, "dst", dst)
	}
}

// Send implements Transport: enqueues the frame for the serialized
// outbound path.
func (t *NATS) Send(src, dst uint16, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.ErrAlreadyStopped
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case t.sendQ <- outFrame{src: src, dst: dst, payload: buf}:
		if t.metrics != nil {
			t.metrics.sendQueueDepth.Set(float64(len(t.sendQ)))
		}
		return nil
	default:
		if t.metrics != nil {
			t.metrics.framesDropped.Inc()
		}
		return errors.WrapTransient(errors.ErrQueueFull, "NATS", "Send", "outbound enqueue")
	}
}

func (t *NATS) sendLoop() {
	for {
		select {
		case <-t.done:
			return
		case f := <-t.sendQ:
			_ = t.limiter.Wait(context.Background())
			msg := nats.NewMsg(channelSubject(f.dst))
			msg.Data = f.payload
			msg.Header.Set(hdrSrc, strconv.Itoa(int(f.src)))
			msg.Header.Set(hdrDistance, "0")
			if err := t.client.PublishMsg(msg); err != nil {
				t.logger.Warn("publish failed", "dst", f.dst, "error", err)
				continue
			}
			if t.metrics != nil {
				t.metrics.framesSent.Inc()
				t.metrics.sendQueueDepth.Set(float64(len(t.sendQ)))
			}
		}
	}
}

// Events implements Transport.
func (t *NATS) Events() <-chan Delivery {
	return t.events
}

// Close implements Transport: unsubscribes, stops the send loop, and
// closes the event stream.
func (t *NATS) Close(context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	close(t.done)
	close(t.events)
	return nil
}
