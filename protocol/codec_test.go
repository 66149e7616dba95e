package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

func TestModbusRoundTrip(t *testing.T) {
	req := ModbusPDU{
		Txn:  77,
		Unit: 3,
		Func: FuncReadHoldingRegs,
		Data: []byte{0x00, 0x10, 0x00, 0x04},
	}

	got, err := DecodeModbus(EncodeModbus(req))
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestModbusExceptionReply(t *testing.T) {
	req := ModbusPDU{Txn: 5, Unit: 2, Func: FuncWriteSingleCoil}
	ex := req.Exception(ExIllegalAddress)

	assert.True(t, ex.IsException())
	assert.Equal(t, req.Txn, ex.Txn)
	assert.Equal(t, req.Unit, ex.Unit)
	assert.Equal(t, []byte{byte(ExIllegalAddress)}, ex.Data)

	got, err := DecodeModbus(EncodeModbus(ex))
	require.NoError(t, err)
	assert.True(t, got.IsException())
}

func TestModbusRejectsUnknownFunction(t *testing.T) {
	wire := EncodeModbus(ModbusPDU{Txn: 1, Unit: 1, Func: FunctionCode(99)})
	_, err := DecodeModbus(wire)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDecode))
}

func TestModbusReadRequestParsing(t *testing.T) {
	r, err := ParseReadRequest([]byte{0x00, 0x08, 0x00, 0x02})
	require.NoError(t, err)
	assert.Equal(t, ReadRequest{Addr: 8, Count: 2}, r)

	_, err = ParseReadRequest([]byte{0x00, 0x08, 0x00, 0x00})
	assert.Error(t, err, "zero count")

	_, err = ParseReadRequest([]byte{0x00})
	assert.Error(t, err, "short request")
}

func TestModbusWriteMultiRegsRoundTrip(t *testing.T) {
	// addr=4, count=3, bytecount=6, values 10/20/30
	data := []byte{0x00, 0x04, 0x00, 0x03, 6, 0, 10, 0, 20, 0, 30}
	addr, values, err := ParseWriteMultiRegs(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), addr)
	assert.Equal(t, []uint16{10, 20, 30}, values)

	// inconsistent byte count is rejected
	data[4] = 4
	_, _, err = ParseWriteMultiRegs(data)
	assert.Error(t, err)
}

func TestModbusCoilPacking(t *testing.T) {
	coils := []bool{true, false, true, true, false, false, false, false, true}
	packed := PackCoils(coils)
	assert.Equal(t, []byte{0b00001101, 0b00000001}, packed)
	assert.Equal(t, coils, UnpackCoils(packed, len(coils)))

	addr, got, err := ParseWriteMultiCoils(append([]byte{0x00, 0x02, 0x00, 0x09, 2}, packed...))
	require.NoError(t, err)
	assert.Equal(t, uint16(2), addr)
	assert.Equal(t, coils, got)
}

func TestModbusReplyBuilders(t *testing.T) {
	assert.Equal(t, []byte{2, 0b00000011, 0}, CoilsReply([]bool{true, true, false, false, false, false, false, false, false}))
	assert.Equal(t, []byte{4, 0, 1, 0, 2}, RegistersReply([]uint16{1, 2}))
	assert.Equal(t, []byte{0, 9, 0xFF, 0}, EchoReply(9, 0xFF00))
}

func TestRPLCRoundTrip(t *testing.T) {
	tests := []struct {
		typ  RPLCType
		body any
	}{
		{RPLCLinkReq, LinkReq{Version: CommsVersion, Reactor: 2, Role: "plc"}},
		{RPLCLinkAck, LinkAck{Status: LinkCollision, Version: CommsVersion}},
		{RPLCStatus, ReactorStatus{Reactor: 1, Formed: true, Active: true, BurnRate: 4.2, ActualMax: 20}},
		{RPLCCommand, PLCCommand{Cmd: CmdSetBurnRate, BurnRate: 5.0}},
		{RPLCTelemetryDelta, TelemetryDelta{Reactor: 1, Telemetry: ReactorTelemetry{Temperature: 350.5, Damage: 0, FuelFill: 0.8}}},
		{RPLCRPSAlarm, RPSAlarm{Reactor: 3, Cause: "high_temp"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			payload, err := EncodeRPLC(tt.typ, tt.body)
			require.NoError(t, err)

			pkt, err := DecodeRPLC(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, pkt.Type)
			assert.Equal(t, tt.body, pkt.Body)
		})
	}
}

func TestRPLCUnknownType(t *testing.T) {
	_, err := DecodeRPLC([]byte(`{"type":"bogus","body":{}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDecode))
}

func TestRPLCMalformedEnvelope(t *testing.T) {
	_, err := DecodeRPLC([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDecode))

	_, err = DecodeRPLC([]byte(`{"body":{}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDecode))
}

func TestMgmtRoundTrip(t *testing.T) {
	tests := []struct {
		typ  MgmtType
		body any
	}{
		{MgmtEstablish, Establish{Kind: PeerCoordinator, Version: CommsVersion}},
		{MgmtEstablishAck, EstablishAck{Status: LinkAllow, Version: CommsVersion}},
		{MgmtKeepAlive, KeepAlive{SentAt: 123456}},
		{MgmtRemounted, Remounted{UnitUID: 12}},
		{MgmtDiagToneTest, DiagToneTest{Slot: 3, State: true}},
		{MgmtDiagAlarmTest, DiagAlarmTest{Alarm: 11, State: true}},
		{MgmtRTUAdvert, RTUAdvert{Version: CommsVersion, Units: []AdvertUnit{
			{Kind: KindIMatrix, Name: "imatrix_0", Index: 1, Reactor: 0},
			{Kind: KindBoilerValve, Name: "boiler_1_1", Index: 1, Reactor: 1},
		}}},
		{MgmtRTUAdvertAck, RTUAdvertAck{Status: LinkAllow, Version: CommsVersion,
			Accepted: []uint16{1}, Rejected: []RejectedUnit{{Pos: 1, Reason: RejectDuplicateIMatrix}}}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			payload, err := EncodeMgmt(tt.typ, tt.body)
			require.NoError(t, err)

			pkt, err := DecodeMgmt(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, pkt.Type)
			assert.Equal(t, tt.body, pkt.Body)
		})
	}
}

func TestMgmtCloseHasNoBody(t *testing.T) {
	payload, err := EncodeMgmt(MgmtClose, nil)
	require.NoError(t, err)

	pkt, err := DecodeMgmt(payload)
	require.NoError(t, err)
	assert.Equal(t, MgmtClose, pkt.Type)
	assert.Nil(t, pkt.Body)
}

func TestCoordRoundTrip(t *testing.T) {
	cmd := FacCmd{
		Cmd: FacAutoStart,
		Start: &AutoStartConfig{
			Mode:       "burn_rate",
			BurnTarget: 5.0,
			Limits:     []float64{10},
		},
	}
	payload, err := EncodeCoord(CoordFacCmd, cmd)
	require.NoError(t, err)

	pkt, err := DecodeCoord(payload)
	require.NoError(t, err)
	assert.Equal(t, CoordFacCmd, pkt.Type)
	assert.Equal(t, cmd, pkt.Body)

	ucmd := UnitCmd{Cmd: UnitBurnRate, Unit: 2, BurnRate: 7.5}
	payload, err = EncodeCoord(CoordUnitCmd, ucmd)
	require.NoError(t, err)
	pkt, err = DecodeCoord(payload)
	require.NoError(t, err)
	assert.Equal(t, ucmd, pkt.Body)
}

func TestCoordStatusCarriesRawSnapshot(t *testing.T) {
	snap := map[string]any{"mode": "charge", "units": []any{}}
	payload, err := EncodeCoord(CoordFacStatus, snap)
	require.NoError(t, err)

	pkt, err := DecodeCoord(payload)
	require.NoError(t, err)
	raw, ok := pkt.Body.(json.RawMessage)
	require.True(t, ok)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "charge", got["mode"])
}
