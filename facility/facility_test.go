package facility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocotoneg/cc-mek-scada/config"
)

func TestNewSolvesTankListFromSettings(t *testing.T) {
	// scenario: four units sharing facility tanks pairwise (mode 3)
	s := config.DefaultSettings()
	s.UnitCount = 4
	s.CoolingConfig = make([]config.CoolingConfig, 4)
	for i := range s.CoolingConfig {
		s.CoolingConfig[i] = config.CoolingConfig{BoilerCount: 1, TurbineCount: 1}
	}
	s.FacilityTankMode = 3
	s.FacilityTankDefs = []int{2, 2, 2, 2}
	require.NoError(t, s.Validate())

	f := New(&s, nil)
	assert.Equal(t, []int{2, 0, 2, 0}, f.TankList())
}

func TestNewSingleUnitLocalTank(t *testing.T) {
	// scenario: one unit, mode 0, unit-local tank
	s := config.DefaultSettings()
	s.CoolingConfig[0].TankConnection = config.TankUnit
	require.NoError(t, s.Validate())

	f := New(&s, nil)
	assert.Equal(t, []int{1}, f.TankList())
}

func TestSnapshotIsDetached(t *testing.T) {
	f, _ := readyFacility(2)
	f.Unit(1).BurnLimit100 = 1000

	snap := f.Snapshot()
	require.Len(t, snap.Units, 2)
	assert.True(t, snap.Units[0].Ready)
	assert.Equal(t, 10.0, snap.Units[0].BurnLimit)

	// mutating the snapshot does not touch the facility
	snap.TankList[0] = 9
	snap.Units[0].Group = 7
	assert.NotEqual(t, 9, f.TankList()[0])
	assert.Equal(t, 1, f.Unit(1).Group)
}
