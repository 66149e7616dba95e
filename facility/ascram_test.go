package facility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocotoneg/cc-mek-scada/protocol"
)

func startGenRate(t *testing.T, f *Facility, setpoint float64) {
	t.Helper()
	require.NoError(t, f.AutoStart(protocol.AutoStartConfig{
		Mode: "gen_rate", GenRate: setpoint, Limits: limitsFor(f),
	}))
	require.Equal(t, ModeGenRate, f.Mode())
}

func limitsFor(f *Facility) []float64 {
	lims := make([]float64, len(f.Units()))
	for i := range lims {
		lims[i] = 10
	}
	return lims
}

func TestScramMatrixDisconnect(t *testing.T) {
	f, plcs := readyFacility(1)
	matrix := &fakeMatrix{online: true, max: 1e9}
	f.AttachIMatrix(matrix)

	require.NoError(t, f.AutoStart(protocol.AutoStartConfig{
		Mode: "burn_rate", BurnTarget: 2, Limits: []float64{10},
	}))
	f.Tick(tickDt)
	require.Zero(t, plcs[0].countScrams())

	matrix.online = false
	f.Tick(tickDt)

	ascram, reason := f.Ascram()
	assert.True(t, ascram)
	assert.Equal(t, ScramMatrixDC, reason)
	assert.Equal(t, ModeInactive, f.Mode())
	assert.Equal(t, 1, plcs[0].countScrams())
}

func TestScramMatrixFill(t *testing.T) {
	f, plcs := readyFacility(1)
	matrix := &fakeMatrix{online: true, charge: 0.995e9, max: 1e9}
	f.AttachIMatrix(matrix)

	f.Tick(tickDt)
	ascram, reason := f.Ascram()
	assert.True(t, ascram)
	assert.Equal(t, ScramMatrixFill, reason)
	assert.Equal(t, 1, plcs[0].countScrams())
}

func TestScramCriticalAlarm(t *testing.T) {
	f, plcs := readyFacility(2)
	f.Unit(2).IngestTelemetry(protocol.ReactorTelemetry{Damage: 60})

	f.Tick(tickDt)
	ascram, reason := f.Ascram()
	assert.True(t, ascram)
	assert.Equal(t, ScramCritAlarm, reason)
	assert.Equal(t, 1, plcs[0].countScrams(), "broadcast reaches every PLC")
	assert.Equal(t, 1, plcs[1].countScrams())
}

func TestScramRadiation(t *testing.T) {
	f, plcs := readyFacility(1)
	f.AttachEnvDetector(&fakeEnvd{online: true, radiation: 0.01})

	f.Tick(tickDt)
	_, reason := f.Ascram()
	assert.Equal(t, ScramRadiation, reason)
	assert.Equal(t, 1, plcs[0].countScrams())
}

func TestScramIdempotence(t *testing.T) {
	// property: unchanged inputs issue at most one scram_all broadcast
	f, plcs := readyFacility(1)
	f.AttachEnvDetector(&fakeEnvd{online: true, radiation: 0.01})

	f.Tick(tickDt)
	f.Tick(tickDt)
	f.Tick(tickDt)
	assert.Equal(t, 1, plcs[0].countScrams())
}

func TestScramOrderFirstMatchWins(t *testing.T) {
	f, _ := readyFacility(1)
	matrix := &fakeMatrix{online: true, charge: 0.999e9, max: 1e9}
	f.AttachIMatrix(matrix)
	f.AttachEnvDetector(&fakeEnvd{online: true, radiation: 0.01})

	f.Tick(tickDt)
	_, reason := f.Ascram()
	assert.Equal(t, ScramMatrixFill, reason, "fill checked before radiation")
}

func TestGenFaultAfterSaturation(t *testing.T) {
	// scenario: GEN_RATE at 1000 with zero measured generation; within
	// ten ticks the integrator pins and GEN_FAULT latches
	f, _ := readyFacility(1)
	matrix := &fakeMatrix{online: true, charge: 1e6, max: 1e9}
	f.AttachIMatrix(matrix)
	startGenRate(t, f, 1000)

	for i := 0; i < 10; i++ {
		f.Tick(tickDt)
	}

	ascram, reason := f.Ascram()
	assert.True(t, ascram)
	assert.Equal(t, ScramGenFault, reason)
	assert.Equal(t, ModeInactive, f.Mode())
}

func TestGenRateFaultIdleOnUnitDropout(t *testing.T) {
	// a unit losing readiness parks GEN_RATE in fault idle with zero
	// commanded burn; it is not a SCRAM condition
	f, plcs := readyFacility(2)
	matrix := &fakeMatrix{online: true, charge: 1e6, max: 1e9}
	f.AttachIMatrix(matrix)
	startGenRate(t, f, 1000)

	f.Tick(tickDt)
	require.Positive(t, f.Unit(1).BurnTarget100, "tracking commands burn")

	plcs[1].linked = false
	f.Tick(tickDt)

	assert.Equal(t, ModeGenRateFaultIdle, f.Mode())
	assert.Zero(t, f.Unit(1).BurnTarget100, "burn idled while degraded")
	ascram, _ := f.Ascram()
	assert.False(t, ascram, "dropout does not trip auto-SCRAM")

	// further ticks hold the idle state
	f.Tick(tickDt)
	assert.Equal(t, ModeGenRateFaultIdle, f.Mode())
}

func TestGenRateFaultIdleResumesWhenReady(t *testing.T) {
	f, plcs := readyFacility(2)
	matrix := &fakeMatrix{online: true, charge: 1e6, max: 1e9}
	f.AttachIMatrix(matrix)
	startGenRate(t, f, 1000)

	plcs[1].linked = false
	f.Tick(tickDt)
	require.Equal(t, ModeGenRateFaultIdle, f.Mode())

	plcs[1].linked = true
	f.Tick(tickDt)
	assert.Equal(t, ModeGenRate, f.Mode(), "tracking resumes once units return")

	f.Tick(tickDt)
	assert.Positive(t, f.Unit(1).BurnTarget100, "controller commands burn again")
}

func TestAckScramRequiresClearCondition(t *testing.T) {
	f, _ := readyFacility(1)
	envd := &fakeEnvd{online: true, radiation: 0.01}
	f.AttachEnvDetector(envd)

	f.Tick(tickDt)
	ascram, _ := f.Ascram()
	require.True(t, ascram)

	assert.False(t, f.AckScram(), "condition still present")

	envd.radiation = 0
	assert.True(t, f.AckScram())
	ascram, reason := f.Ascram()
	assert.False(t, ascram)
	assert.Equal(t, ScramNone, reason)

	// operator must re-issue auto_start after the ack
	assert.Equal(t, ModeInactive, f.Mode())
	require.NoError(t, f.AutoStart(protocol.AutoStartConfig{
		Mode: "burn_rate", BurnTarget: 1, Limits: []float64{10},
	}))
	assert.Equal(t, ModeBurnRate, f.Mode())
}

func TestAutoStartRefusedWhileLatched(t *testing.T) {
	f, _ := readyFacility(1)
	f.AttachEnvDetector(&fakeEnvd{online: true, radiation: 0.01})
	f.Tick(tickDt)

	err := f.AutoStart(protocol.AutoStartConfig{
		Mode: "burn_rate", BurnTarget: 1, Limits: []float64{10},
	})
	assert.Error(t, err)
}
