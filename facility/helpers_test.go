package facility

import (
	"github.com/chocotoneg/cc-mek-scada/config"
	"github.com/chocotoneg/cc-mek-scada/protocol"
)

// fakePLC implements PLCHandle for tests and records pushed commands.
type fakePLC struct {
	linked bool
	cmds   []protocol.PLCCommand
}

func (p *fakePLC) Linked() bool { return p.linked }

func (p *fakePLC) SendCommand(cmd protocol.PLCCommand) {
	p.cmds = append(p.cmds, cmd)
}

func (p *fakePLC) lastBurn() (float64, bool) {
	for i := len(p.cmds) - 1; i >= 0; i-- {
		if p.cmds[i].Cmd == protocol.CmdSetBurnRate {
			return p.cmds[i].BurnRate, true
		}
	}
	return 0, false
}

func (p *fakePLC) countScrams() int {
	n := 0
	for _, c := range p.cmds {
		if c.Cmd == protocol.CmdScram {
			n++
		}
	}
	return n
}

// fakeMatrix implements IMatrix.
type fakeMatrix struct {
	online  bool
	charge  float64
	max     float64
	in, out float64
}

func (m *fakeMatrix) Online() bool        { return m.online }
func (m *fakeMatrix) Charge() float64     { return m.charge }
func (m *fakeMatrix) MaxCharge() float64  { return m.max }
func (m *fakeMatrix) InputRate() float64  { return m.in }
func (m *fakeMatrix) OutputRate() float64 { return m.out }

// fakeEnvd implements EnvDetector.
type fakeEnvd struct {
	online    bool
	radiation float64
}

func (e *fakeEnvd) Online() bool       { return e.online }
func (e *fakeEnvd) Radiation() float64 { return e.radiation }

// fakeSPS implements SPSDevice.
type fakeSPS struct {
	online bool
	formed bool
}

func (s *fakeSPS) Online() bool { return s.online }
func (s *fakeSPS) Formed() bool { return s.formed }

// testSettings builds validated settings for n units with one boiler and
// one turbine each.
func testSettings(n int) *config.Settings {
	s := config.DefaultSettings()
	s.UnitCount = n
	s.CoolingConfig = make([]config.CoolingConfig, n)
	for i := range s.CoolingConfig {
		s.CoolingConfig[i] = config.CoolingConfig{BoilerCount: 1, TurbineCount: 1}
	}
	return &s
}

// readyFacility builds a facility of n units, each with a linked fake
// PLC and healthy boiler/turbine entries.
func readyFacility(n int) (*Facility, []*fakePLC) {
	f := New(testSettings(n), nil)
	plcs := make([]*fakePLC, n)
	for i, u := range f.Units() {
		plcs[i] = &fakePLC{linked: true}
		u.AttachPLC(plcs[i])
		u.SetBoilerLink(1, true)
		u.SetTurbineLink(1, true)
	}
	return f, plcs
}
