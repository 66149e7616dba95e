// Package supervisor wires the supervisor service: the comms pump feeding
// the session registry, the tick-driven facility update, per-task
// supervision with restart backoff, and the shutdown cascade.
//
// The facility and session registry are shared by the tick task and the
// comms pump under one state mutex. The comms pump validates deliveries,
// enqueues session inboxes and completes link handshakes, which attach PLC
// handles and RTU device views to the facility; session processing and the
// facility update run on the tick task. The facility has no single writer
// task: the mutex keeps a delivery and a tick from interleaving, so no
// consumer observes a partially applied facility update.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chocotoneg/cc-mek-scada/config"
	"github.com/chocotoneg/cc-mek-scada/errors"
	"github.com/chocotoneg/cc-mek-scada/facility"
	"github.com/chocotoneg/cc-mek-scada/metric"
	"github.com/chocotoneg/cc-mek-scada/protocol"
	"github.com/chocotoneg/cc-mek-scada/scheduler"
	"github.com/chocotoneg/cc-mek-scada/session"
	"github.com/chocotoneg/cc-mek-scada/transport"
)

// restartBackoff is the delay before a failed task restarts.
const restartBackoff = 5 * time.Second

// heartbeatPeriod is the interval of the supervisor's status log line.
const heartbeatPeriod = 30 * time.Second

// Broadcaster receives one facility snapshot per tick (the status
// gateway; nil disables).
type Broadcaster interface {
	Broadcast(snap facility.Snapshot)
}

// Deps carries the supervisor service dependencies.
type Deps struct {
	Settings    *config.Settings
	Transport   transport.Transport
	Metrics     *metric.Registry
	Broadcaster Broadcaster
	Logger      *slog.Logger
}

// Supervisor is the facility supervisor service.
type Supervisor struct {
	cfg     *config.Settings
	tr      transport.Transport
	metrics *metric.Registry
	cast    Broadcaster
	logger  *slog.Logger

	fac    *facility.Facility
	reg    *session.Registry
	codec  *protocol.Codec
	clock  *scheduler.Clock
	timers *scheduler.Timers

	mu sync.Mutex
	// stateMu serializes the facility/session state between the comms
	// pump and the tick task
	stateMu    sync.Mutex
	running    bool
	shutdown   chan struct{}
	lastReason facility.ScramReason
	lastTick   time.Time

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New validates the settings and builds the service.
func New(deps Deps) (*Supervisor, error) {
	if deps.Settings == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Supervisor", "New", "settings")
	}
	if err := deps.Settings.Validate(); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Supervisor", "New", "transport")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Supervisor{
		cfg:      deps.Settings,
		tr:       deps.Transport,
		metrics:  deps.Metrics,
		cast:     deps.Broadcaster,
		logger:   logger.With("component", "supervisor"),
		shutdown: make(chan struct{}),
	}

	s.codec = protocol.NewCodec([]byte(deps.Settings.AuthKey), 10*time.Second)
	s.fac = facility.New(deps.Settings, logger)
	s.clock = scheduler.NewClock()
	s.timers = scheduler.NewTimers()
	s.reg = session.NewRegistry(session.Deps{
		Settings:  deps.Settings,
		Facility:  s.fac,
		Transport: deps.Transport,
		Codec:     s.codec,
		Metrics:   deps.Metrics,
		Logger:    logger,
		Now:       func() int64 { return time.Now().UnixMilli() },
	})
	return s, nil
}

// Facility returns the facility model. Callers outside the tick task
// must use Snapshot for reads.
func (s *Supervisor) Facility() *facility.Facility {
	return s.fac
}

// Registry returns the session registry.
func (s *Supervisor) Registry() *session.Registry {
	return s.reg
}

// Start opens the listen channels and launches the comms pump and tick
// clock.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	s.running = true
	s.mu.Unlock()

	dev, coord := s.reg.Channels()
	if err := s.tr.Open(dev); err != nil {
		return errors.Wrap(err, "Supervisor", "Start", "device channel open")
	}
	if err := s.tr.Open(coord); err != nil {
		return errors.Wrap(err, "Supervisor", "Start", "coordination channel open")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, runCtx = errgroup.WithContext(runCtx)

	s.group.Go(func() error {
		return s.supervise(runCtx, "comms_pump", func() error {
			return s.commsPump(runCtx)
		})
	})

	s.lastTick = time.Now()
	s.timers.After(s.lastTick, heartbeatPeriod, s.heartbeat)
	s.clock.OnTick(s.onTick)
	s.clock.Start(runCtx)

	s.logger.Info("supervisor started",
		"dev_channel", dev, "coord_channel", coord,
		"units", s.cfg.UnitCount, "authenticated", s.codec.Authenticated())
	return nil
}

// supervise restarts a task after a backoff until shutdown.
func (s *Supervisor) supervise(ctx context.Context, name string, task func() error) error {
	for {
		err := task()
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdown:
			return nil
		default:
		}
		if err == nil {
			return nil
		}
		if errors.IsFatal(err) {
			s.logger.Error("task failed fatally", "task", name, "error", err)
			return err
		}
		s.logger.Warn("task failed, restarting", "task", name, "error", err, "backoff", restartBackoff)

		timer := time.NewTimer(restartBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.shutdown:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// commsPump moves deliveries from the transport into session inboxes.
func (s *Supervisor) commsPump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdown:
			return nil
		case d, ok := <-s.tr.Events():
			if !ok {
				return nil
			}
			s.stateMu.Lock()
			s.reg.HandleDelivery(d, time.Now())
			s.stateMu.Unlock()
		}
	}
}

// onTick runs one serialized facility update: session processing and
// watchdog pruning, the control loop, then telemetry push.
func (s *Supervisor) onTick(now time.Time) {
	dt := now.Sub(s.lastTick).Seconds()
	s.lastTick = now
	if dt <= 0 || dt > 2 {
		dt = 1.0 / scheduler.TickRate
	}

	s.stateMu.Lock()
	s.reg.Tick(now)
	s.fac.Tick(dt)
	snap := s.fac.Snapshot()
	s.reg.PushStatus(snap)
	s.stateMu.Unlock()

	s.timers.Sweep(now)
	if s.cast != nil {
		s.cast.Broadcast(snap)
	}
	s.updateMetrics(snap)
}

func (s *Supervisor) updateMetrics(snap facility.Snapshot) {
	if s.metrics == nil {
		return
	}
	mode, _ := facility.ModeFromString(snap.Mode)
	s.metrics.Core.ControlMode.Set(float64(mode))
	s.metrics.Core.CommandedBurn.Set(snap.CommandedBurn)

	_, reason := s.fac.Ascram()
	if reason != s.lastReason && reason != facility.ScramNone {
		s.metrics.Core.AutoScrams.WithLabelValues(reason.String()).Inc()
	}
	s.lastReason = reason
}

// heartbeat logs a periodic status line and re-arms itself on the timer
// dispatch table.
func (s *Supervisor) heartbeat() {
	s.stateMu.Lock()
	plcs := s.reg.Count(protocol.PeerPLC)
	rtus := s.reg.Count(protocol.PeerRTU)
	mode := s.fac.Mode()
	s.stateMu.Unlock()

	s.logger.Info("facility heartbeat",
		"mode", mode.String(), "plc_sessions", plcs, "rtu_sessions", rtus)
	s.timers.After(time.Now(), heartbeatPeriod, s.heartbeat)
}

// Tick drives one update manually; used by tests and the simulation
// harness in place of the wall clock.
func (s *Supervisor) Tick(now time.Time) {
	s.onTick(now)
}

// Stop cascades the shutdown: stop the clock, close every session, then
// the transport.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.ErrNotStarted
	}
	s.running = false
	s.mu.Unlock()

	close(s.shutdown)
	s.clock.Stop()
	s.stateMu.Lock()
	s.reg.CloseAll()
	s.stateMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = s.tr.Close(ctx)

	select {
	case err := <-done:
		s.logger.Info("supervisor stopped")
		return err
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out")
		return errors.ErrConnectionTimeout
	}
}
