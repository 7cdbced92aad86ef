package analyzer

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

// Modbus RTU 功能码
const (
	FnReadCoils          = 0x01
	FnReadDiscreteInputs = 0x02
	FnReadHoldingRegs    = 0x03
	FnReadInputRegs      = 0x04
	FnWriteSingleCoil    = 0x05
	FnWriteSingleReg     = 0x06
	FnWriteMultiCoils    = 0x0F
	FnWriteMultiRegs     = 0x10
)

// 最短帧：地址 + 功能码 + CRC16
const modbusMinFrameLen = 4

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC16 计算 Modbus CRC（多项式 0xA001，反射）
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// ModbusFrame 是一次 RTU 帧解析的结果。
// CRC 不匹配不视为解析失败：帧照常解出，仅置 CRCValid=false，
// 严格与否由上层自行决定。
type ModbusFrame struct {
	SlaveID  byte
	Function byte
	Payload  []byte // 去掉地址/功能码/CRC 后的数据域
	CRC      uint16 // 帧尾携带的 CRC（小端）
	CRCValid bool
	Detail   *ModbusDetail // 已识别功能码的子字段，未识别时为 nil
}

// FunctionName 返回功能码的可读名称
func (f *ModbusFrame) FunctionName() string {
	switch f.Function {
	case FnReadCoils:
		return "Read Coils"
	case FnReadDiscreteInputs:
		return "Read Discrete Inputs"
	case FnReadHoldingRegs:
		return "Read Holding Registers"
	case FnReadInputRegs:
		return "Read Input Registers"
	case FnWriteSingleCoil:
		return "Write Single Coil"
	case FnWriteSingleReg:
		return "Write Single Register"
	case FnWriteMultiCoils:
		return "Write Multiple Coils"
	case FnWriteMultiRegs:
		return "Write Multiple Registers"
	}
	return fmt.Sprintf("Unknown (0x%02X)", f.Function)
}

// ModbusDetail 是按标准字段布局解出的子字段。
// 请求还是响应由数据域长度启发式判断（写单个对象时两者回显一致）。
type ModbusDetail struct {
	IsRequest    bool
	StartAddress uint16
	Quantity     uint16
	ByteCount    int
	Registers    []uint16 // 寄存器类响应
	Bits         []byte   // 线圈/离散量类响应的位图
	Address      uint16   // 写单个对象
	Value        uint16   // 写单个对象
}

// ParseModbus 解析一个 RawChunk 的字节序列。
// 长度不足 4 字节返回 ErrTooShort；否则总能产出一个 ModbusFrame ——
// 分析器从不拒绝结构长度合法的数据。
func ParseModbus(data []byte) *Result {
	if len(data) < modbusMinFrameLen {
		return &Result{Err: &ParseError{
			Kind: ErrTooShort,
			Msg:  fmt.Sprintf("frame needs at least %d bytes, got %d", modbusMinFrameLen, len(data)),
		}}
	}

	payload := make([]byte, len(data)-4)
	copy(payload, data[2:len(data)-2])
	received := binary.LittleEndian.Uint16(data[len(data)-2:])

	frame := &ModbusFrame{
		SlaveID:  data[0],
		Function: data[1],
		Payload:  payload,
		CRC:      received,
		CRCValid: CRC16(data[:len(data)-2]) == received,
	}
	frame.Detail = decodeModbusDetail(frame.Function, payload)
	return &Result{Modbus: frame}
}

// decodeModbusDetail 对已识别的功能码做子字段解码，
// 解不出来（布局不合启发式）时返回 nil，不算错误
func decodeModbusDetail(fn byte, p []byte) *ModbusDetail {
	switch fn {
	case FnReadCoils, FnReadDiscreteInputs:
		if len(p) == 4 {
			return &ModbusDetail{
				IsRequest:    true,
				StartAddress: binary.BigEndian.Uint16(p[0:2]),
				Quantity:     binary.BigEndian.Uint16(p[2:4]),
			}
		}
		if len(p) >= 2 && int(p[0]) == len(p)-1 {
			return &ModbusDetail{
				ByteCount: int(p[0]),
				Bits:      append([]byte(nil), p[1:]...),
			}
		}

	case FnReadHoldingRegs, FnReadInputRegs:
		if len(p) == 4 {
			return &ModbusDetail{
				IsRequest:    true,
				StartAddress: binary.BigEndian.Uint16(p[0:2]),
				Quantity:     binary.BigEndian.Uint16(p[2:4]),
			}
		}
		if len(p) >= 3 && int(p[0]) == len(p)-1 && (len(p)-1)%2 == 0 {
			regs := make([]uint16, 0, (len(p)-1)/2)
			for i := 1; i+2 <= len(p); i += 2 {
				regs = append(regs, binary.BigEndian.Uint16(p[i:i+2]))
			}
			return &ModbusDetail{
				ByteCount: int(p[0]),
				Registers: regs,
			}
		}

	case FnWriteSingleCoil, FnWriteSingleReg:
		// 请求与正常响应完全一致，无法区分，按请求报告
		if len(p) == 4 {
			return &ModbusDetail{
				IsRequest: true,
				Address:   binary.BigEndian.Uint16(p[0:2]),
				Value:     binary.BigEndian.Uint16(p[2:4]),
			}
		}

	case FnWriteMultiCoils, FnWriteMultiRegs:
		if len(p) >= 6 && int(p[4]) == len(p)-5 {
			return &ModbusDetail{
				IsRequest:    true,
				StartAddress: binary.BigEndian.Uint16(p[0:2]),
				Quantity:     binary.BigEndian.Uint16(p[2:4]),
				ByteCount:    int(p[4]),
				Bits:         append([]byte(nil), p[5:]...),
			}
		}
		if len(p) == 4 {
			return &ModbusDetail{
				StartAddress: binary.BigEndian.Uint16(p[0:2]),
				Quantity:     binary.BigEndian.Uint16(p[2:4]),
			}
		}
	}
	return nil
}

// AppendCRC 在帧体后追加小端 CRC16，发送侧使用
func AppendCRC(frame []byte) []byte {
	out := make([]byte, len(frame)+2)
	copy(out, frame)
	binary.LittleEndian.PutUint16(out[len(frame):], CRC16(frame))
	return out
}
