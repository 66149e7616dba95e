package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocotoneg/cc-mek-scada/config"
	"github.com/chocotoneg/cc-mek-scada/facility"
	"github.com/chocotoneg/cc-mek-scada/protocol"
	"github.com/chocotoneg/cc-mek-scada/transport"
)

// remotePeer simulates one device computer on the loopback fabric with
// its own frame codec and sequence counter.
type remotePeer struct {
	t     *testing.T
	ep    *transport.Loopback
	codec *protocol.Codec
	ch    uint16
	seq   uint32
}

func newRemote(t *testing.T, hub *transport.Hub, ch uint16) *remotePeer {
	ep := hub.Endpoint(1)
	require.NoError(t, ep.Open(ch))
	return &remotePeer{t: t, ep: ep, codec: protocol.NewCodec(nil, 0), ch: ch}
}

func (p *remotePeer) send(dst uint16, proto protocol.Protocol, payload []byte) {
	wire, err := p.codec.Encode(protocol.Frame{
		Seq: p.seq, Protocol: proto, Timestamp: time.Now().UnixMilli(), Payload: payload,
	})
	require.NoError(p.t, err)
	p.seq++
	require.NoError(p.t, p.ep.Send(p.ch, dst, wire))
}

func (p *remotePeer) recv(timeout time.Duration) (protocol.Frame, bool) {
	select {
	case d, ok := <-p.ep.Events():
		if !ok {
			return protocol.Frame{}, false
		}
		f, err := p.codec.Decode(d.Payload, time.Now().UnixMilli())
		require.NoError(p.t, err)
		return f, true
	case <-time.After(timeout):
		return protocol.Frame{}, false
	}
}

func testSettings() *config.Settings {
	cfg := config.DefaultSettings()
	cfg.UnitCount = 1
	cfg.CoolingConfig = []config.CoolingConfig{{BoilerCount: 0, TurbineCount: 1}}
	return &cfg
}

func startSupervisor(t *testing.T, cfg *config.Settings, hub *transport.Hub) *Supervisor {
	t.Helper()
	s, err := New(Deps{Settings: cfg, Transport: hub.Endpoint(0)})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(2 * time.Second) })
	return s
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	cfg := testSettings()
	cfg.UnitCount = 9
	_, err := New(Deps{Settings: cfg, Transport: transport.NewHub().Endpoint(0)})
	require.Error(t, err)
}

func TestEndToEndLinkAndAutoStart(t *testing.T) {
	// S1: single unit, PLC links with ALLOW, auto_start in burn_rate
	// commands 5.0 mB/t to reactor 1
	cfg := testSettings()
	hub := transport.NewHub()
	s := startSupervisor(t, cfg, hub)

	plc := newRemote(t, hub, 17001)
	payload, err := protocol.EncodeRPLC(protocol.RPLCLinkReq,
		protocol.LinkReq{Version: protocol.CommsVersion, Reactor: 1, Role: "plc"})
	require.NoError(t, err)
	plc.send(cfg.SVRChannel, protocol.ProtoRPLC, payload)

	f, ok := plc.recv(2 * time.Second)
	require.True(t, ok, "link ack expected")
	pkt, err := protocol.DecodeRPLC(f.Payload)
	require.NoError(t, err)
	require.Equal(t, protocol.RPLCLinkAck, pkt.Type)
	require.Equal(t, protocol.LinkAllow, pkt.Body.(protocol.LinkAck).Status)

	// make the unit ready (the single turbine reports in via telemetry
	// path: mark directly on the model for this scenario)
	s.stateMu.Lock()
	s.Facility().Unit(1).SetTurbineLink(1, true)
	s.stateMu.Unlock()

	// coordinator links and issues auto_start
	crd := newRemote(t, hub, 17100)
	payload, err = protocol.EncodeMgmt(protocol.MgmtEstablish,
		protocol.Establish{Kind: protocol.PeerCoordinator, Version: protocol.CommsVersion})
	require.NoError(t, err)
	crd.send(cfg.CRDChannel, protocol.ProtoMgmt, payload)
	_, ok = crd.recv(2 * time.Second)
	require.True(t, ok, "establish ack expected")

	payload, err = protocol.EncodeCoord(protocol.CoordFacCmd, protocol.FacCmd{
		Cmd: protocol.FacAutoStart,
		Start: &protocol.AutoStartConfig{
			Mode: "burn_rate", BurnTarget: 5.0, Limits: []float64{10},
		},
	})
	require.NoError(t, err)
	crd.send(cfg.CRDChannel, protocol.ProtoCoord, payload)

	// the PLC receives set_burn_rate(5.0) within a few ticks
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("no burn command received")
		default:
		}
		f, ok := plc.recv(time.Second)
		if !ok {
			continue
		}
		if f.Protocol != protocol.ProtoRPLC {
			continue
		}
		pkt, err := protocol.DecodeRPLC(f.Payload)
		require.NoError(t, err)
		if pkt.Type != protocol.RPLCCommand {
			continue
		}
		cmd := pkt.Body.(protocol.PLCCommand)
		if cmd.Cmd == protocol.CmdSetBurnRate {
			assert.InDelta(t, 5.0, cmd.BurnRate, 1e-9)
			assert.Equal(t, facility.ModeBurnRate, s.Facility().Mode())
			return
		}
	}
}

func TestCoordinatorReceivesStatusFrames(t *testing.T) {
	cfg := testSettings()
	hub := transport.NewHub()
	startSupervisor(t, cfg, hub)

	crd := newRemote(t, hub, 17100)
	payload, err := protocol.EncodeMgmt(protocol.MgmtEstablish,
		protocol.Establish{Kind: protocol.PeerCoordinator, Version: protocol.CommsVersion})
	require.NoError(t, err)
	crd.send(cfg.CRDChannel, protocol.ProtoMgmt, payload)
	_, ok := crd.recv(2 * time.Second)
	require.True(t, ok)

	// a FAC_STATUS frame arrives on the next tick
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("no status frame received")
		default:
		}
		f, ok := crd.recv(time.Second)
		if !ok || f.Protocol != protocol.ProtoCoord {
			continue
		}
		pkt, err := protocol.DecodeCoord(f.Payload)
		require.NoError(t, err)
		if pkt.Type != protocol.CoordFacStatus {
			continue
		}
		var snap facility.Snapshot
		require.NoError(t, json.Unmarshal(pkt.Body.(json.RawMessage), &snap))
		assert.Len(t, snap.Units, 1)
		return
	}
}

func TestStopIsIdempotentGuarded(t *testing.T) {
	cfg := testSettings()
	hub := transport.NewHub()
	s, err := New(Deps{Settings: cfg, Transport: hub.Endpoint(0)})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(2*time.Second))
	assert.Error(t, s.Stop(time.Second), "second stop reports not started")
}
