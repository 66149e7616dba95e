// Package config defines the supervisor's persisted settings: facility
// layout, comms channels and timeouts, and the authentication key. Settings
// are an explicit struct with validators; the legacy flat key/value blob
// maps 1:1 onto it via FromLegacy. Invalid or missing configuration refuses
// startup and directs the operator to the configurator.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

// Default comms channels
const (
	DefaultSVRChannel = 16240
	DefaultPLCChannel = 16241
	DefaultRTUChannel = 16242
	DefaultCRDChannel = 16243
	DefaultPKTChannel = 16244
)

// TankConnection describes how one unit's dynamic tank is plumbed.
// 0 = none, 1 = unit-local, 2 = facility shared.
type TankConnection int

// Tank connection modes
const (
	TankNone     TankConnection = 0
	TankUnit     TankConnection = 1
	TankFacility TankConnection = 2
)

// CoolingConfig describes one unit's cooling loop.
type CoolingConfig struct {
	BoilerCount    int            `json:"boiler_count"`
	TurbineCount   int            `json:"turbine_count"`
	TankConnection TankConnection `json:"tank_connection"`
}

// Settings is the supervisor's complete persisted configuration.
type Settings struct {
	UnitCount        int             `json:"unit_count"`
	CoolingConfig    []CoolingConfig `json:"cooling_config"`
	FacilityTankMode int             `json:"facility_tank_mode"`
	FacilityTankDefs []int           `json:"facility_tank_defs"`
	TankFluidTypes   []int           `json:"tank_fluid_types"`
	AuxiliaryCoolant []bool          `json:"auxiliary_coolant"`
	ExtChargeIdling  bool            `json:"ext_charge_idling"`

	SVRChannel uint16 `json:"svr_channel"`
	PLCChannel uint16 `json:"plc_channel"`
	RTUChannel uint16 `json:"rtu_channel"`
	CRDChannel uint16 `json:"crd_channel"`
	PKTChannel uint16 `json:"pkt_channel"`

	PLCTimeout time.Duration `json:"plc_timeout"`
	RTUTimeout time.Duration `json:"rtu_timeout"`
	CRDTimeout time.Duration `json:"crd_timeout"`
	PKTTimeout time.Duration `json:"pkt_timeout"`

	TrustedRange float64 `json:"trusted_range"`
	AuthKey      string  `json:"auth_key,omitempty"`

	LogMode  string `json:"log_mode"`
	LogPath  string `json:"log_path"`
	LogDebug bool   `json:"log_debug"`

	FrontPanelTheme string `json:"front_panel_theme"`
	ColorMode       string `json:"color_mode"`
}

// DefaultSettings returns the settings applied to new fields when a
// legacy blob omits them.
func DefaultSettings() Settings {
	return Settings{
		UnitCount:        1,
		CoolingConfig:    []CoolingConfig{{BoilerCount: 1, TurbineCount: 1}},
		FacilityTankMode: 0,
		FacilityTankDefs: []int{0, 0, 0, 0},
		TankFluidTypes:   []int{0, 0, 0, 0},
		AuxiliaryCoolant: []bool{false, false, false, false},

		SVRChannel: DefaultSVRChannel,
		PLCChannel: DefaultPLCChannel,
		RTUChannel: DefaultRTUChannel,
		CRDChannel: DefaultCRDChannel,
		PKTChannel: DefaultPKTChannel,

		PLCTimeout: 5 * time.Second,
		RTUTimeout: 5 * time.Second,
		CRDTimeout: 5 * time.Second,
		PKTTimeout: 5 * time.Second,

		TrustedRange: 0,

		LogMode:         "append",
		LogPath:         "/log.txt",
		FrontPanelTheme: "sandstone",
		ColorMode:       "standard",
	}
}

// Validate checks the settings for startup. A non-nil error means the
// operator must be directed through the configurator.
func (s *Settings) Validate() error {
	if s.UnitCount < 1 || s.UnitCount > 4 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
			fmt.Sprintf("unit count %d (want 1..4)", s.UnitCount))
	}
	if len(s.CoolingConfig) != s.UnitCount {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
			fmt.Sprintf("cooling config length %d for %d units", len(s.CoolingConfig), s.UnitCount))
	}
	for i, cc := range s.CoolingConfig {
		if cc.BoilerCount < 0 || cc.BoilerCount > 2 {
			return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
				fmt.Sprintf("unit %d boiler count %d (want 0..2)", i+1, cc.BoilerCount))
		}
		if cc.TurbineCount < 1 || cc.TurbineCount > 3 {
			return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
				fmt.Sprintf("unit %d turbine count %d (want 1..3)", i+1, cc.TurbineCount))
		}
		if cc.TankConnection < TankNone || cc.TankConnection > TankFacility {
			return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
				fmt.Sprintf("unit %d tank connection %d", i+1, cc.TankConnection))
		}
	}
	if s.FacilityTankMode < 0 || s.FacilityTankMode > 7 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
			fmt.Sprintf("facility tank mode %d (want 0..7)", s.FacilityTankMode))
	}
	if len(s.FacilityTankDefs) != 4 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
			fmt.Sprintf("facility tank defs length %d (want 4)", len(s.FacilityTankDefs)))
	}
	for i, def := range s.FacilityTankDefs {
		if def < 0 || def > 2 {
			return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
				fmt.Sprintf("facility tank def %d value %d", i+1, def))
		}
	}

	channels := map[string]uint16{
		"svr": s.SVRChannel, "plc": s.PLCChannel, "rtu": s.RTUChannel,
		"crd": s.CRDChannel, "pkt": s.PKTChannel,
	}
	seen := make(map[uint16]string, len(channels))
	for name, ch := range channels {
		if ch == 0 {
			return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
				fmt.Sprintf("%s channel unset", name))
		}
		if prev, dup := seen[ch]; dup {
			return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
				fmt.Sprintf("%s and %s channels both %d", prev, name, ch))
		}
		seen[ch] = name
	}

	for name, d := range map[string]time.Duration{
		"plc": s.PLCTimeout, "rtu": s.RTUTimeout, "crd": s.CRDTimeout, "pkt": s.PKTTimeout,
	} {
		if d < time.Second {
			return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
				fmt.Sprintf("%s timeout %s below 1s", name, d))
		}
	}

	if s.TrustedRange < 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Settings", "Validate",
			fmt.Sprintf("trusted range %f", s.TrustedRange))
	}
	return nil
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return &Settings{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		copied := *s
		return &copied
	}
	var clone Settings
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *s
		return &copied
	}
	return &clone
}

// FromLegacy maps the legacy flat key/value settings blob onto a Settings
// struct. Unknown keys are ignored; missing keys keep their defaults.
// Legacy timeouts are seconds.
func FromLegacy(kv map[string]string) (Settings, error) {
	s := DefaultSettings()

	getInt := func(key string, dst *int) error {
		v, ok := kv[key]
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.WrapInvalid(err, "Settings", "FromLegacy", fmt.Sprintf("key %s", key))
		}
		*dst = n
		return nil
	}
	getBool := func(key string, dst *bool) {
		if v, ok := kv[key]; ok {
			*dst = v == "true" || v == "1"
		}
	}

	if err := getInt("UnitCount", &s.UnitCount); err != nil {
		return s, err
	}

	// CoolingConfig entries are flattened as CoolingConfig.N.Field
	if s.UnitCount >= 1 && s.UnitCount <= 4 {
		cfgs := make([]CoolingConfig, s.UnitCount)
		for i := range cfgs {
			cfgs[i] = CoolingConfig{BoilerCount: 1, TurbineCount: 1}
			prefix := fmt.Sprintf("CoolingConfig.%d.", i+1)
			if err := getInt(prefix+"BoilerCount", &cfgs[i].BoilerCount); err != nil {
				return s, err
			}
			if err := getInt(prefix+"TurbineCount", &cfgs[i].TurbineCount); err != nil {
				return s, err
			}
			tc := int(cfgs[i].TankConnection)
			if err := getInt(prefix+"TankConnection", &tc); err != nil {
				return s, err
			}
			cfgs[i].TankConnection = TankConnection(tc)
		}
		s.CoolingConfig = cfgs
	}

	if err := getInt("FacilityTankMode", &s.FacilityTankMode); err != nil {
		return s, err
	}
	for i := 0; i < 4; i++ {
		if err := getInt(fmt.Sprintf("FacilityTankDefs.%d", i+1), &s.FacilityTankDefs[i]); err != nil {
			return s, err
		}
		if err := getInt(fmt.Sprintf("TankFluidTypes.%d", i+1), &s.TankFluidTypes[i]); err != nil {
			return s, err
		}
		getBool(fmt.Sprintf("AuxiliaryCoolant.%d", i+1), &s.AuxiliaryCoolant[i])
	}
	getBool("ExtChargeIdling", &s.ExtChargeIdling)

	for key, dst := range map[string]*uint16{
		"SVR_Channel": &s.SVRChannel, "PLC_Channel": &s.PLCChannel,
		"RTU_Channel": &s.RTUChannel, "CRD_Channel": &s.CRDChannel,
		"PKT_Channel": &s.PKTChannel,
	} {
		var n int
		n = int(*dst)
		if err := getInt(key, &n); err != nil {
			return s, err
		}
		if n < 0 || n > 65535 {
			return s, errors.WrapInvalid(errors.ErrInvalidConfig, "Settings", "FromLegacy",
				fmt.Sprintf("key %s value %d", key, n))
		}
		*dst = uint16(n)
	}

	for key, dst := range map[string]*time.Duration{
		"PLC_Timeout": &s.PLCTimeout, "RTU_Timeout": &s.RTUTimeout,
		"CRD_Timeout": &s.CRDTimeout, "PKT_Timeout": &s.PKTTimeout,
	} {
		var secs int
		secs = int(dst.Seconds())
		if err := getInt(key, &secs); err != nil {
			return s, err
		}
		*dst = time.Duration(secs) * time.Second
	}

	if v, ok := kv["TrustedRange"]; ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return s, errors.WrapInvalid(err, "Settings", "FromLegacy", "key TrustedRange")
		}
		s.TrustedRange = f
	}
	if v, ok := kv["AuthKey"]; ok {
		s.AuthKey = v
	}
	if v, ok := kv["LogMode"]; ok {
		s.LogMode = v
	}
	if v, ok := kv["LogPath"]; ok {
		s.LogPath = v
	}
	getBool("LogDebug", &s.LogDebug)
	if v, ok := kv["FrontPanelTheme"]; ok {
		s.FrontPanelTheme = v
	}
	if v, ok := kv["ColorMode"]; ok {
		s.ColorMode = v
	}

	return s, nil
}
