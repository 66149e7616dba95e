// Package modbusio implements the per-RTU-unit MODBUS server: a register
// bank mirroring one remote device, served over the eight supported
// function codes. RTU gateways push device readings by writing registers;
// the facility reads typed views over well-known addresses.
package modbusio

import (
	"sync"

	"github.com/chocotoneg/cc-mek-scada/protocol"
)

// DeviceIO is the register surface a MODBUS server serves.
type DeviceIO interface {
	ReadCoil(addr uint16) (bool, bool)
	WriteCoil(addr uint16, v bool) bool
	ReadDiscrete(addr uint16) (bool, bool)
	ReadHolding(addr uint16) (uint16, bool)
	WriteHolding(addr uint16, v uint16) bool
	ReadInput(addr uint16) (uint16, bool)
	WriteInput(addr uint16, v uint16) bool
}

// Server answers MODBUS requests for one RTU unit entry.
type Server struct {
	mu   sync.Mutex
	unit uint8
	io   DeviceIO
}

// NewServer binds a server to a device register bank.
func NewServer(unit uint8, io DeviceIO) *Server {
	return &Server{unit: unit, io: io}
}

// Rebind swaps the backing device on remount.
func (s *Server) Rebind(io DeviceIO) {
	s.mu.Lock()
	s.io = io
	s.mu.Unlock()
}

// Handle services one request and produces the reply PDU. Unknown
// addresses produce ILLEGAL DATA ADDRESS; a missing device produces
// DEVICE FAILURE.
func (s *Server) Handle(req protocol.ModbusPDU) protocol.ModbusPDU {
	s.mu.Lock()
	io := s.io
	s.mu.Unlock()

	if io == nil {
		return req.Exception(protocol.ExDeviceFailure)
	}
	if req.Unit != s.unit {
		return req.Exception(protocol.ExIllegalAddress)
	}

	switch req.Func {
	case protocol.FuncReadCoils:
		return s.readBits(req, io.ReadCoil)
	case protocol.FuncReadDiscreteInputs:
		return s.readBits(req, io.ReadDiscrete)
	case protocol.FuncReadHoldingRegs:
		return s.readWords(req, io.ReadHolding)
	case protocol.FuncReadInputRegs:
		return s.readWords(req, io.ReadInput)

	case protocol.FuncWriteSingleCoil:
		addr, value, err := protocol.ParseWriteSingle(req.Data)
		if err != nil {
			return req.Exception(protocol.ExIllegalValue)
		}
		if !io.WriteCoil(addr, value == 0xFF00) {
			return req.Exception(protocol.ExIllegalAddress)
		}
		return req.Reply(protocol.EchoReply(addr, value))

	case protocol.FuncWriteSingleReg:
		addr, value, err := protocol.ParseWriteSingle(req.Data)
		if err != nil {
			return req.Exception(protocol.ExIllegalValue)
		}
		if !io.WriteHolding(addr, value) {
			return req.Exception(protocol.ExIllegalAddress)
		}
		return req.Reply(protocol.EchoReply(addr, value))

	case protocol.FuncWriteMultiCoils:
		addr, coils, err := protocol.ParseWriteMultiCoils(req.Data)
		if err != nil {
			return req.Exception(protocol.ExIllegalValue)
		}
		for i, v := range coils {
			if !io.WriteCoil(addr+uint16(i), v) {
				return req.Exception(protocol.ExIllegalAddress)
			}
		}
		return req.Reply(protocol.EchoReply(addr, uint16(len(coils))))

	case protocol.FuncWriteMultiRegs:
		addr, values, err := protocol.ParseWriteMultiRegs(req.Data)
		if err != nil {
			return req.Exception(protocol.ExIllegalValue)
		}
		for i, v := range values {
			if !io.WriteHolding(addr+uint16(i), v) {
				return req.Exception(protocol.ExIllegalAddress)
			}
		}
		return req.Reply(protocol.EchoReply(addr, uint16(len(values))))
	}

	return req.Exception(protocol.ExIllegalFunction)
}

func (s *Server) readBits(req protocol.ModbusPDU, read func(uint16) (bool, bool)) protocol.ModbusPDU {
	r, err := protocol.ParseReadRequest(req.Data)
	if err != nil {
		return req.Exception(protocol.ExIllegalValue)
	}
	values := make([]bool, r.Count)
	for i := range values {
		v, ok := read(r.Addr + uint16(i))
		if !ok {
			return req.Exception(protocol.ExIllegalAddress)
		}
		values[i] = v
	}
	return req.Reply(protocol.CoilsReply(values))
}

func (s *Server) readWords(req protocol.ModbusPDU, read func(uint16) (uint16, bool)) protocol.ModbusPDU {
	r, err := protocol.ParseReadRequest(req.Data)
	if err != nil {
		return req.Exception(protocol.ExIllegalValue)
	}
	values := make([]uint16, r.Count)
	for i := range values {
		v, ok := read(r.Addr + uint16(i))
		if !ok {
			return req.Exception(protocol.ExIllegalAddress)
		}
		values[i] = v
	}
	return req.Reply(protocol.RegistersReply(values))
}
