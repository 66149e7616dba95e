package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/chocotoneg/cc-mek-scada/errors"
)

// FunctionCode is a MODBUS function code.
type FunctionCode uint8

// Supported MODBUS function codes
const (
	FuncReadCoils          FunctionCode = 1
	FuncReadDiscreteInputs FunctionCode = 2
	FuncReadHoldingRegs    FunctionCode = 3
	FuncReadInputRegs      FunctionCode = 4
	FuncWriteSingleCoil    FunctionCode = 5
	FuncWriteSingleReg     FunctionCode = 6
	FuncWriteMultiCoils    FunctionCode = 15
	FuncWriteMultiRegs     FunctionCode = 16

	// exceptionBit is set on the function code of an exception reply
	exceptionBit = 0x80
)

// ExceptionCode is a MODBUS exception reply code.
type ExceptionCode uint8

// MODBUS exception codes
const (
	ExIllegalFunction ExceptionCode = 1
	ExIllegalAddress  ExceptionCode = 2
	ExIllegalValue    ExceptionCode = 3
	ExDeviceFailure   ExceptionCode = 4
	ExDeviceBusy      ExceptionCode = 6
)

// ModbusPDU is one MODBUS request or reply carried in a ProtoModbus frame:
// transaction id, addressed RTU unit, function code and function data.
type ModbusPDU struct {
	Txn  uint16
	Unit uint8
	Func FunctionCode
	Data []byte
}

// IsException reports whether the PDU is an exception reply.
func (p ModbusPDU) IsException() bool {
	return uint8(p.Func)&exceptionBit != 0
}

// Exception builds the exception reply for this request.
func (p ModbusPDU) Exception(code ExceptionCode) ModbusPDU {
	return ModbusPDU{
		Txn:  p.Txn,
		Unit: p.Unit,
		Func: FunctionCode(uint8(p.Func) | exceptionBit),
		Data: []byte{byte(code)},
	}
}

// Reply builds a normal reply to this request with the given data.
func (p ModbusPDU) Reply(data []byte) ModbusPDU {
	return ModbusPDU{Txn: p.Txn, Unit: p.Unit, Func: p.Func, Data: data}
}

// EncodeModbus serializes a PDU for the ProtoModbus frame payload.
func EncodeModbus(p ModbusPDU) []byte {
	buf := make([]byte, 0, 4+len(p.Data))
	buf = binary.BigEndian.AppendUint16(buf, p.Txn)
	buf = append(buf, p.Unit, byte(p.Func))
	buf = append(buf, p.Data...)
	return buf
}

// DecodeModbus parses a ProtoModbus frame payload.
func DecodeModbus(b []byte) (ModbusPDU, error) {
	if len(b) < 4 {
		return ModbusPDU{}, errors.WrapInvalid(errors.ErrDecode, "Modbus", "Decode",
			fmt.Sprintf("PDU length %d", len(b)))
	}
	p := ModbusPDU{
		Txn:  binary.BigEndian.Uint16(b[0:2]),
		Unit: b[2],
		Func: FunctionCode(b[3]),
		Data: b[4:],
	}
	switch FunctionCode(uint8(p.Func) &^ exceptionBit) {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegs, FuncReadInputRegs,
		FuncWriteSingleCoil, FuncWriteSingleReg, FuncWriteMultiCoils, FuncWriteMultiRegs:
	default:
		return ModbusPDU{}, errors.WrapInvalid(errors.ErrDecode, "Modbus", "Decode",
			fmt.Sprintf("function code %d", p.Func))
	}
	return p, nil
}

// ReadRequest is the (address, count) pair shared by the four read
// function codes.
type ReadRequest struct {
	Addr  uint16
	Count uint16
}

// ParseReadRequest parses the data of a read request.
func ParseReadRequest(data []byte) (ReadRequest, error) {
	if len(data) < 4 {
		return ReadRequest{}, errors.WrapInvalid(errors.ErrDecode, "Modbus", "ParseReadRequest",
			"short read request")
	}
	r := ReadRequest{
		Addr:  binary.BigEndian.Uint16(data[0:2]),
		Count: binary.BigEndian.Uint16(data[2:4]),
	}
	if r.Count == 0 || r.Count > 2000 {
		return ReadRequest{}, errors.WrapInvalid(errors.ErrDecode, "Modbus", "ParseReadRequest",
			fmt.Sprintf("count %d", r.Count))
	}
	return r, nil
}

// ParseWriteSingle parses the data of a write-single-coil or
// write-single-register request. Coil values are 0xFF00 (on) or 0x0000.
func ParseWriteSingle(data []byte) (addr, value uint16, err error) {
	if len(data) < 4 {
		return 0, 0, errors.WrapInvalid(errors.ErrDecode, "Modbus", "ParseWriteSingle",
			"short write request")
	}
	return binary.BigEndian.Uint16(data[0:2]), binary.BigEndian.Uint16(data[2:4]), nil
}

// ParseWriteMultiCoils parses a write-multi-coil request.
func ParseWriteMultiCoils(data []byte) (addr uint16, coils []bool, err error) {
	if len(data) < 5 {
		return 0, nil, errors.WrapInvalid(errors.ErrDecode, "Modbus", "ParseWriteMultiCoils",
			"short write request")
	}
	addr = binary.BigEndian.Uint16(data[0:2])
	count := int(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])
	if count == 0 || count > 1968 || byteCount != (count+7)/8 || len(data) < 5+byteCount {
		return 0, nil, errors.WrapInvalid(errors.ErrDecode, "Modbus", "ParseWriteMultiCoils",
			fmt.Sprintf("count %d byte count %d", count, byteCount))
	}
	return addr, UnpackCoils(data[5:5+byteCount], count), nil
}

// ParseWriteMultiRegs parses a write-multi-register request.
func ParseWriteMultiRegs(data []byte) (addr uint16, values []uint16, err error) {
	if len(data) < 5 {
		return 0, nil, errors.WrapInvalid(errors.ErrDecode, "Modbus", "ParseWriteMultiRegs",
			"short write request")
	}
	addr = binary.BigEndian.Uint16(data[0:2])
	count := int(binary.BigEndian.Uint16(data[2:4]))
	byteCount := int(data[4])
	if count == 0 || count > 123 || byteCount != count*2 || len(data) < 5+byteCount {
		return 0, nil, errors.WrapInvalid(errors.ErrDecode, "Modbus", "ParseWriteMultiRegs",
			fmt.Sprintf("count %d byte count %d", count, byteCount))
	}
	values = make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[5+i*2 : 7+i*2])
	}
	return addr, values, nil
}

// CoilsReply builds the data of a coil/discrete-input read reply.
func CoilsReply(values []bool) []byte {
	packed := PackCoils(values)
	out := make([]byte, 0, 1+len(packed))
	out = append(out, byte(len(packed)))
	return append(out, packed...)
}

// RegistersReply builds the data of a register read reply.
func RegistersReply(values []uint16) []byte {
	out := make([]byte, 0, 1+len(values)*2)
	out = append(out, byte(len(values)*2))
	for _, v := range values {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	return out
}

// EchoReply builds the data of a write reply (address and value/count
// echoed per the standard).
func EchoReply(addr, value uint16) []byte {
	out := make([]byte, 0, 4)
	out = binary.BigEndian.AppendUint16(out, addr)
	return binary.BigEndian.AppendUint16(out, value)
}

// PackCoils packs booleans LSB-first into bytes.
func PackCoils(values []bool) []byte {
	out := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// UnpackCoils unpacks count booleans from LSB-first packed bytes.
func UnpackCoils(b []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count && i/8 < len(b); i++ {
		out[i] = b[i/8]&(1<<(i%8)) != 0
	}
	return out
}
