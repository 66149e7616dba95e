package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

func TestDefaultSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	assert.NoError(t, s.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero units", func(s *Settings) { s.UnitCount = 0 }},
		{"five units", func(s *Settings) { s.UnitCount = 5 }},
		{"cooling config mismatch", func(s *Settings) { s.UnitCount = 2 }},
		{"boiler count", func(s *Settings) { s.CoolingConfig[0].BoilerCount = 3 }},
		{"turbine count", func(s *Settings) { s.CoolingConfig[0].TurbineCount = 0 }},
		{"tank mode", func(s *Settings) { s.FacilityTankMode = 8 }},
		{"tank defs length", func(s *Settings) { s.FacilityTankDefs = []int{0} }},
		{"tank def value", func(s *Settings) { s.FacilityTankDefs[2] = 3 }},
		{"duplicate channels", func(s *Settings) { s.PLCChannel = s.RTUChannel }},
		{"zero channel", func(s *Settings) { s.CRDChannel = 0 }},
		{"short timeout", func(s *Settings) { s.PLCTimeout = 100 * time.Millisecond }},
		{"negative trusted range", func(s *Settings) { s.TrustedRange = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
		})
	}
}

func TestFromLegacyFullBlob(t *testing.T) {
	kv := map[string]string{
		"UnitCount":                    "2",
		"CoolingConfig.1.BoilerCount":  "2",
		"CoolingConfig.1.TurbineCount": "2",
		"CoolingConfig.2.BoilerCount":  "0",
		"CoolingConfig.2.TurbineCount": "1",
		"CoolingConfig.2.TankConnection": "2",
		"FacilityTankMode":   "3",
		"FacilityTankDefs.1": "2",
		"FacilityTankDefs.2": "1",
		"SVR_Channel":        "16250",
		"PLC_Timeout":        "8",
		"TrustedRange":       "64.5",
		"AuthKey":            "secret",
		"LogDebug":           "true",
	}

	s, err := FromLegacy(kv)
	require.NoError(t, err)
	assert.Equal(t, 2, s.UnitCount)
	require.Len(t, s.CoolingConfig, 2)
	assert.Equal(t, CoolingConfig{BoilerCount: 2, TurbineCount: 2}, s.CoolingConfig[0])
	assert.Equal(t, CoolingConfig{BoilerCount: 0, TurbineCount: 1, TankConnection: TankFacility}, s.CoolingConfig[1])
	assert.Equal(t, 3, s.FacilityTankMode)
	assert.Equal(t, []int{2, 1, 0, 0}, s.FacilityTankDefs)
	assert.Equal(t, uint16(16250), s.SVRChannel)
	assert.Equal(t, uint16(DefaultPLCChannel), s.PLCChannel, "missing key keeps default")
	assert.Equal(t, 8*time.Second, s.PLCTimeout)
	assert.Equal(t, 64.5, s.TrustedRange)
	assert.Equal(t, "secret", s.AuthKey)
	assert.True(t, s.LogDebug)
	assert.NoError(t, s.Validate())
}

func TestFromLegacyBadValue(t *testing.T) {
	_, err := FromLegacy(map[string]string{"UnitCount": "two"})
	require.Error(t, err)

	_, err = FromLegacy(map[string]string{"SVR_Channel": "70000"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestValidateDocument(t *testing.T) {
	good := []byte(`{"unit_count": 2, "cooling_config": [
		{"boiler_count": 1, "turbine_count": 1},
		{"boiler_count": 0, "turbine_count": 2}
	]}`)
	assert.NoError(t, ValidateDocument(good))

	bad := []byte(`{"unit_count": 9, "cooling_config": []}`)
	err := ValidateDocument(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestParseAppliesDefaults(t *testing.T) {
	raw := []byte(`{"unit_count": 1, "cooling_config": [{"boiler_count": 1, "turbine_count": 1}]}`)
	s, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(DefaultSVRChannel), s.SVRChannel)
	assert.Equal(t, 5*time.Second, s.PLCTimeout)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))

	s := DefaultSettings()
	s.UnitCount = 1
	s.AuthKey = "k"
	require.NoError(t, store.Save(ctx, &s))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.AuthKey, got.AuthKey)
	assert.Equal(t, s.UnitCount, got.UnitCount)
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	s := DefaultSettings()
	s.UnitCount = 7
	err := store.Save(context.Background(), &s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestClone(t *testing.T) {
	s := DefaultSettings()
	clone := s.Clone()
	clone.CoolingConfig[0].BoilerCount = 2
	assert.Equal(t, 1, s.CoolingConfig[0].BoilerCount, "clone is deep")
}
