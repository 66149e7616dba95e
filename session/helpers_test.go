package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chocotoneg/cc-mek-scada/config"
	"github.com/chocotoneg/cc-mek-scada/facility"
	"github.com/chocotoneg/cc-mek-scada/protocol"
	"github.com/chocotoneg/cc-mek-scada/transport"
)

// testRig wires a registry to a loopback fabric with one peer endpoint
// per remote device under test.
type testRig struct {
	hub   *transport.Hub
	svr   transport.Transport
	reg   *Registry
	fac   *facility.Facility
	codec *protocol.Codec
	cfg   *config.Settings
	now   time.Time
}

func newRig(t *testing.T, unitCount int) *testRig {
	t.Helper()
	cfg := config.DefaultSettings()
	cfg.UnitCount = unitCount
	cfg.CoolingConfig = make([]config.CoolingConfig, unitCount)
	for i := range cfg.CoolingConfig {
		cfg.CoolingConfig[i] = config.CoolingConfig{BoilerCount: 1, TurbineCount: 1}
	}
	require.NoError(t, cfg.Validate())

	hub := transport.NewHub()
	svr := hub.Endpoint(0)
	require.NoError(t, svr.Open(cfg.SVRChannel))
	require.NoError(t, svr.Open(cfg.CRDChannel))

	codec := protocol.NewCodec(nil, 0)
	fac := facility.New(&cfg, nil)

	rig := &testRig{
		hub:   hub,
		svr:   svr,
		fac:   fac,
		codec: codec,
		cfg:   &cfg,
		now:   time.Unix(10000, 0),
	}
	rig.reg = NewRegistry(Deps{
		Settings:  &cfg,
		Facility:  fac,
		Transport: svr,
		Codec:     codec,
		Now:       func() int64 { return rig.now.UnixMilli() },
	})
	return rig
}

func (r *testRig) advance(d time.Duration) {
	r.now = r.now.Add(d)
}

func (r *testRig) tick() {
	r.reg.Tick(r.now)
}

// peer is a simulated remote device on the fabric.
type peer struct {
	rig *testRig
	ep  *transport.Loopback
	ch  uint16
	seq uint32
}

func (r *testRig) peer(t *testing.T, ch uint16, distance float64) *peer {
	t.Helper()
	ep := r.hub.Endpoint(distance)
	require.NoError(t, ep.Open(ch))
	return &peer{rig: r, ep: ep, ch: ch}
}

// send encodes a frame and hands the delivery to the registry the way
// the comms pump would.
func (p *peer) send(t *testing.T, dst uint16, proto protocol.Protocol, payload []byte) {
	t.Helper()
	wire, err := p.rig.codec.Encode(protocol.Frame{
		Seq:       p.seq,
		Protocol:  proto,
		Timestamp: p.rig.now.UnixMilli(),
		Payload:   payload,
	})
	require.NoError(t, err)
	p.seq++
	p.rig.reg.HandleDelivery(transport.Delivery{
		Src: p.ch, Dst: dst, Payload: wire, Distance: 0,
	}, p.rig.now)
}

func (p *peer) sendRPLC(t *testing.T, typ protocol.RPLCType, body any) {
	t.Helper()
	payload, err := protocol.EncodeRPLC(typ, body)
	require.NoError(t, err)
	p.send(t, p.rig.cfg.SVRChannel, protocol.ProtoRPLC, payload)
}

func (p *peer) sendMgmt(t *testing.T, dst uint16, typ protocol.MgmtType, body any) {
	t.Helper()
	payload, err := protocol.EncodeMgmt(typ, body)
	require.NoError(t, err)
	p.send(t, dst, protocol.ProtoMgmt, payload)
}

func (p *peer) sendCoord(t *testing.T, typ protocol.CoordType, body any) {
	t.Helper()
	payload, err := protocol.EncodeCoord(typ, body)
	require.NoError(t, err)
	p.send(t, p.rig.cfg.CRDChannel, protocol.ProtoCoord, payload)
}

// recv decodes the next frame delivered to this peer.
func (p *peer) recv(t *testing.T) protocol.Frame {
	t.Helper()
	select {
	case d := <-p.ep.Events():
		f, err := p.rig.codec.Decode(d.Payload, p.rig.now.UnixMilli())
		require.NoError(t, err)
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered to peer")
		return protocol.Frame{}
	}
}

// recvNone asserts no frame arrives.
func (p *peer) recvNone(t *testing.T) {
	t.Helper()
	select {
	case <-p.ep.Events():
		t.Fatal("unexpected frame delivered to peer")
	case <-time.After(50 * time.Millisecond):
	}
}

// linkPLC completes a PLC handshake and asserts the outcome.
func (p *peer) linkPLC(t *testing.T, reactor int, want protocol.LinkStatus) {
	t.Helper()
	p.sendRPLC(t, protocol.RPLCLinkReq, protocol.LinkReq{
		Version: protocol.CommsVersion, Reactor: reactor, Role: "plc",
	})
	f := p.recv(t)
	require.Equal(t, protocol.ProtoRPLC, f.Protocol)
	pkt, err := protocol.DecodeRPLC(f.Payload)
	require.NoError(t, err)
	require.Equal(t, protocol.RPLCLinkAck, pkt.Type)
	require.Equal(t, want, pkt.Body.(protocol.LinkAck).Status)
}

// advertise sends an RTU advert and returns the acknowledgment.
func (p *peer) advertise(t *testing.T, units []protocol.AdvertUnit) protocol.RTUAdvertAck {
	t.Helper()
	p.sendMgmt(t, p.rig.cfg.SVRChannel, protocol.MgmtRTUAdvert, protocol.RTUAdvert{
		Version: protocol.CommsVersion, Units: units,
	})
	f := p.recv(t)
	pkt, err := protocol.DecodeMgmt(f.Payload)
	require.NoError(t, err)
	require.Equal(t, protocol.MgmtRTUAdvertAck, pkt.Type)
	return pkt.Body.(protocol.RTUAdvertAck)
}
