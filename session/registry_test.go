package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocotoneg/cc-mek-scada/protocol"
	"github.com/chocotoneg/cc-mek-scada/transport"
)

func TestPLCLinkOnePerReactor(t *testing.T) {
	rig := newRig(t, 2)

	plc1 := rig.peer(t, 17001, 0)
	plc2 := rig.peer(t, 17002, 0)
	plc1.linkPLC(t, 1, protocol.LinkAllow)
	plc2.linkPLC(t, 2, protocol.LinkAllow)

	assert.Equal(t, 2, rig.reg.Count(protocol.PeerPLC))
	assert.True(t, rig.fac.Unit(1).PLCLinked())
	assert.True(t, rig.fac.Unit(2).PLCLinked())

	// a second claim on reactor 1 from a new address collides and does
	// not replace the session
	intruder := rig.peer(t, 17009, 0)
	intruder.linkPLC(t, 1, protocol.LinkCollision)
	assert.Equal(t, 2, rig.reg.Count(protocol.PeerPLC))
	assert.NotNil(t, rig.reg.FindPLC(17001))
	assert.Nil(t, rig.reg.FindPLC(17009))
}

func TestPLCLinkBadVersion(t *testing.T) {
	rig := newRig(t, 1)
	plc := rig.peer(t, 17001, 0)

	plc.sendRPLC(t, protocol.RPLCLinkReq, protocol.LinkReq{
		Version: protocol.CommsVersion + 1, Reactor: 1, Role: "plc",
	})
	f := plc.recv(t)
	pkt, err := protocol.DecodeRPLC(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.LinkBadVersion, pkt.Body.(protocol.LinkAck).Status)
	assert.Zero(t, rig.reg.Count(protocol.PeerPLC))
}

func TestPLCLinkReactorOutOfRange(t *testing.T) {
	rig := newRig(t, 1)
	plc := rig.peer(t, 17001, 0)
	plc.linkPLC(t, 5, protocol.LinkDeny)
}

func TestPLCTelemetryIngest(t *testing.T) {
	rig := newRig(t, 1)
	plc := rig.peer(t, 17001, 0)
	plc.linkPLC(t, 1, protocol.LinkAllow)

	plc.sendRPLC(t, protocol.RPLCStatus, protocol.ReactorStatus{
		Reactor: 1, Formed: true, Active: true, BurnRate: 3.5,
	})
	plc.sendRPLC(t, protocol.RPLCTelemetryDelta, protocol.TelemetryDelta{
		Reactor: 1, Telemetry: protocol.ReactorTelemetry{Temperature: 600},
	})
	plc.sendRPLC(t, protocol.RPLCRPSStatus, protocol.RPSStatus{Reactor: 1, Tripped: true})

	rig.tick()
	u := rig.fac.Unit(1)
	assert.Equal(t, 3.5, u.Status().BurnRate)
	assert.Equal(t, 600.0, u.Telemetry().Temperature)
	assert.True(t, u.RPSMirror().Tripped)
}

func TestPLCWatchdogTimeout(t *testing.T) {
	// scenario: all inbound packets stop; after PLC_Timeout the session
	// is pruned at the tick boundary and the unit unlinks, and the same
	// address can re-link
	rig := newRig(t, 1)
	plc := rig.peer(t, 17001, 0)
	plc.linkPLC(t, 1, protocol.LinkAllow)
	require.True(t, rig.fac.Unit(1).PLCLinked())

	rig.advance(rig.cfg.PLCTimeout - time.Second)
	rig.tick()
	assert.NotNil(t, rig.reg.FindPLC(17001), "still within timeout")

	rig.advance(2 * time.Second)
	rig.tick()
	assert.Nil(t, rig.reg.FindPLC(17001))
	assert.False(t, rig.fac.Unit(1).PLCLinked())

	plc.linkPLC(t, 1, protocol.LinkAllow)
	assert.True(t, rig.fac.Unit(1).PLCLinked())
}

func TestKeepAliveFeedsWatchdog(t *testing.T) {
	rig := newRig(t, 1)
	plc := rig.peer(t, 17001, 0)
	plc.linkPLC(t, 1, protocol.LinkAllow)

	// keep-alives every 2s hold the session past several timeouts
	for i := 0; i < 10; i++ {
		rig.advance(2 * time.Second)
		plc.sendMgmt(t, rig.cfg.SVRChannel, protocol.MgmtKeepAlive,
			protocol.KeepAlive{SentAt: rig.now.UnixMilli()})
		rig.tick()
		plc.recv(t) // keep-alive echo
	}
	assert.NotNil(t, rig.reg.FindPLC(17001))
}

func TestOrphanPacketGetsDenyHint(t *testing.T) {
	rig := newRig(t, 1)
	stray := rig.peer(t, 17050, 0)

	// status from an unlinked PLC address
	stray.sendRPLC(t, protocol.RPLCStatus, protocol.ReactorStatus{Reactor: 1})

	f := stray.recv(t)
	require.Equal(t, protocol.ProtoMgmt, f.Protocol)
	pkt, err := protocol.DecodeMgmt(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.MgmtEstablishAck, pkt.Type)
	assert.Equal(t, protocol.LinkDeny, pkt.Body.(protocol.EstablishAck).Status)
}

func TestTrustedRangeFilter(t *testing.T) {
	rig := newRig(t, 1)
	rig.cfg.TrustedRange = 50

	far := rig.hub.Endpoint(100)
	require.NoError(t, far.Open(17001))
	wire, err := rig.codec.Encode(protocol.Frame{
		Seq: 0, Protocol: protocol.ProtoRPLC, Timestamp: rig.now.UnixMilli(),
		Payload: mustRPLC(t, protocol.RPLCLinkReq, protocol.LinkReq{Version: protocol.CommsVersion, Reactor: 1}),
	})
	require.NoError(t, err)
	rig.reg.HandleDelivery(transport.Delivery{
		Src: 17001, Dst: rig.cfg.SVRChannel, Payload: wire, Distance: 100,
	}, rig.now)

	assert.Zero(t, rig.reg.Count(protocol.PeerPLC), "out-of-range link ignored")
}

func mustRPLC(t *testing.T, typ protocol.RPLCType, body any) []byte {
	t.Helper()
	payload, err := protocol.EncodeRPLC(typ, body)
	require.NoError(t, err)
	return payload
}

func TestAuthenticatedRigRejectsWrongKey(t *testing.T) {
	rig := newRig(t, 1)
	// supervisor expects a key
	rig.codec = protocol.NewCodec([]byte("right"), 0)
	rig.reg.deps.Codec = rig.codec

	bad := protocol.NewCodec([]byte("wrong"), 0)
	wire, err := bad.Encode(protocol.Frame{
		Seq: 0, Protocol: protocol.ProtoRPLC, Timestamp: rig.now.UnixMilli(),
		Payload: mustRPLC(t, protocol.RPLCLinkReq, protocol.LinkReq{Version: protocol.CommsVersion, Reactor: 1}),
	})
	require.NoError(t, err)
	rig.reg.HandleDelivery(transport.Delivery{
		Src: 17001, Dst: rig.cfg.SVRChannel, Payload: wire,
	}, rig.now)

	assert.Zero(t, rig.reg.Count(protocol.PeerPLC))
}

func TestCoordinatorSingleton(t *testing.T) {
	rig := newRig(t, 1)
	crd := rig.peer(t, 17100, 0)
	crd.sendMgmt(t, rig.cfg.CRDChannel, protocol.MgmtEstablish,
		protocol.Establish{Kind: protocol.PeerCoordinator, Version: protocol.CommsVersion})
	f := crd.recv(t)
	pkt, err := protocol.DecodeMgmt(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.LinkAllow, pkt.Body.(protocol.EstablishAck).Status)

	// a second coordinator collides; a pocket is still welcome
	crd2 := rig.peer(t, 17101, 0)
	crd2.sendMgmt(t, rig.cfg.CRDChannel, protocol.MgmtEstablish,
		protocol.Establish{Kind: protocol.PeerCoordinator, Version: protocol.CommsVersion})
	f = crd2.recv(t)
	pkt, err = protocol.DecodeMgmt(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.LinkCollision, pkt.Body.(protocol.EstablishAck).Status)

	pkt1 := rig.peer(t, 17102, 0)
	pkt1.sendMgmt(t, rig.cfg.CRDChannel, protocol.MgmtEstablish,
		protocol.Establish{Kind: protocol.PeerPocket, Version: protocol.CommsVersion})
	f = pkt1.recv(t)
	mp, err := protocol.DecodeMgmt(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.LinkAllow, mp.Body.(protocol.EstablishAck).Status)
}

func TestReplayedFrameDropped(t *testing.T) {
	rig := newRig(t, 1)
	plc := rig.peer(t, 17001, 0)
	plc.linkPLC(t, 1, protocol.LinkAllow)

	// advance the peer's sequence well past the replay window
	for i := 0; i < 40; i++ {
		plc.sendRPLC(t, protocol.RPLCStatus, protocol.ReactorStatus{Reactor: 1, BurnRate: float64(i)})
	}
	rig.tick()
	require.Equal(t, 39.0, rig.fac.Unit(1).Status().BurnRate)

	// replay an ancient sequence number carrying different data
	old, err := rig.codec.Encode(protocol.Frame{
		Seq: 2, Protocol: protocol.ProtoRPLC, Timestamp: rig.now.UnixMilli(),
		Payload: mustRPLC(t, protocol.RPLCStatus, protocol.ReactorStatus{Reactor: 1, BurnRate: 999}),
	})
	require.NoError(t, err)
	rig.reg.HandleDelivery(transport.Delivery{
		Src: 17001, Dst: rig.cfg.SVRChannel, Payload: old,
	}, rig.now)

	rig.tick()
	assert.Equal(t, 39.0, rig.fac.Unit(1).Status().BurnRate, "replayed status ignored")
}
