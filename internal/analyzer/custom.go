package analyzer

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FieldType 是自定义帧字段的基本类型
type FieldType string

const (
	TypeUint8   FieldType = "uint8"
	TypeUint16  FieldType = "uint16"
	TypeUint32  FieldType = "uint32"
	TypeInt8    FieldType = "int8"
	TypeInt16   FieldType = "int16"
	TypeInt32   FieldType = "int32"
	TypeFloat32 FieldType = "float32"
	TypeString  FieldType = "string" // 定长字符串
	TypeBytes   FieldType = "bytes"  // 定长字节串；Length=0 时表示吃掉剩余部分（至多一个）
)

// ByteOrder 字段字节序
type ByteOrder string

const (
	OrderBig    ByteOrder = "big"
	OrderLittle ByteOrder = "little"
)

// FieldSpec 描述自定义帧中的一个字段
type FieldSpec struct {
	Name   string
	Type   FieldType
	Order  ByteOrder // 空值按大端处理
	Length int       // 仅 string/bytes 使用
}

// ChecksumAlgo 支持的校验算法
type ChecksumAlgo string

const (
	ChecksumXor8        ChecksumAlgo = "xor8"
	ChecksumSum8        ChecksumAlgo = "sum8"
	ChecksumCRC16Modbus ChecksumAlgo = "crc16_modbus"
)

// ChecksumSpec 声明校验覆盖的字段区间（含两端）和期望值所在字段
type ChecksumSpec struct {
	Algorithm  ChecksumAlgo
	StartField string
	EndField   string
	ValueField string
}

// Definition 是一条经过校验的自定义帧定义。
// 字段按声明顺序连续排布，互不重叠；要么整体定长，
// 要么由唯一一个变长 bytes 字段吞掉剩余长度。
type Definition struct {
	ID       string
	Fields   []FieldSpec
	Checksum *ChecksumSpec

	fixedTotal int // 所有定长字段的字节数
	varIndex   int // 变长字段下标，-1 表示定长帧
}

// fieldSize 返回定长字段的字节数，变长字段返回 0
func fieldSize(f FieldSpec) int {
	switch f.Type {
	case TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32, TypeInt32, TypeFloat32:
		return 4
	case TypeString, TypeBytes:
		return f.Length
	}
	return 0
}

// NewDefinition 构建并校验一条帧定义，不变量在这里一次性检查：
//  1. 字段名非空且唯一
//  2. 类型合法；string 必须定长；变长 bytes 至多一个
//  3. 校验声明引用的字段必须存在，期望值字段类型与算法位宽一致，
//     且不在覆盖区间内
func NewDefinition(id string, fields []FieldSpec, ck *ChecksumSpec) (*Definition, error) {
	if id == "" {
		return nil, fmt.Errorf("frame definition id is empty")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("frame definition %q has no fields", id)
	}

	d := &Definition{ID: id, Fields: fields, Checksum: ck, varIndex: -1}
	seen := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("frame definition %q: field %d has no name", id, i)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("frame definition %q: duplicate field %q", id, f.Name)
		}
		seen[f.Name] = i

		switch f.Type {
		case TypeUint8, TypeUint16, TypeUint32, TypeInt8, TypeInt16, TypeInt32, TypeFloat32:
		case TypeString:
			if f.Length <= 0 {
				return nil, fmt.Errorf("frame definition %q: string field %q needs a fixed length", id, f.Name)
			}
		case TypeBytes:
			if f.Length < 0 {
				return nil, fmt.Errorf("frame definition %q: bytes field %q has negative length", id, f.Name)
			}
			if f.Length == 0 {
				if d.varIndex >= 0 {
					return nil, fmt.Errorf("frame definition %q: more than one variable-length field", id)
				}
				d.varIndex = i
			}
		default:
			return nil, &ParseError{Kind: ErrUnknownFieldType, Msg: fmt.Sprintf("definition %q field %q: type %q", id, f.Name, f.Type)}
		}
		switch f.Order {
		case "", OrderBig, OrderLittle:
		default:
			return nil, fmt.Errorf("frame definition %q: field %q has unknown byte order %q", id, f.Name, f.Order)
		}
		d.fixedTotal += fieldSize(f)
	}

	if ck != nil {
		si, ok := seen[ck.StartField]
		if !ok {
			return nil, fmt.Errorf("frame definition %q: checksum start field %q not found", id, ck.StartField)
		}
		ei, ok := seen[ck.EndField]
		if !ok {
			return nil, fmt.Errorf("frame definition %q: checksum end field %q not found", id, ck.EndField)
		}
		vi, ok := seen[ck.ValueField]
		if !ok {
			return nil, fmt.Errorf("frame definition %q: checksum value field %q not found", id, ck.ValueField)
		}
		if si > ei {
			return nil, fmt.Errorf("frame definition %q: checksum span is reversed", id)
		}
		if vi >= si && vi <= ei {
			return nil, fmt.Errorf("frame definition %q: checksum value field is inside the covered span", id)
		}
		switch ck.Algorithm {
		case ChecksumXor8, ChecksumSum8:
			if t := fields[vi].Type; t != TypeUint8 {
				return nil, fmt.Errorf("frame definition %q: %s checksum needs a uint8 value field, got %s", id, ck.Algorithm, t)
			}
		case ChecksumCRC16Modbus:
			if t := fields[vi].Type; t != TypeUint16 {
				return nil, fmt.Errorf("frame definition %q: crc16 checksum needs a uint16 value field, got %s", id, t)
			}
		default:
			return nil, fmt.Errorf("frame definition %q: unknown checksum algorithm %q", id, ck.Algorithm)
		}
	}
	return d, nil
}

// FixedLength 返回定长帧的总长度；变长帧返回 (0,false)
func (d *Definition) FixedLength() (int, bool) {
	if d.varIndex >= 0 {
		return 0, false
	}
	return d.fixedTotal, true
}

// FieldValue 是解出的单个字段：解码值 + 原始字节区间
type FieldValue struct {
	Name  string
	Type  FieldType
	Value interface{}
	Raw   []byte
}

// CustomFrame 是自定义帧的解析结果。
// Partial=true 表示长度不匹配，Fields 只含错位点之前的内容。
type CustomFrame struct {
	DefinitionID  string
	Fields        []FieldValue
	Partial       bool
	HasChecksum   bool
	ChecksumValid bool
}

// Field 按名字取出已解出的字段
func (f *CustomFrame) Field(name string) (FieldValue, bool) {
	for _, fv := range f.Fields {
		if fv.Name == name {
			return fv, true
		}
	}
	return FieldValue{}, false
}

// Parse 按定义切分并解码 data。
// 长度不匹配时沿用 Modbus 的"照解并打标"策略：
// 能解的字段全部返回，Result.Err 置 ErrLengthMismatch。
func (d *Definition) Parse(data []byte) *Result {
	frame := &CustomFrame{DefinitionID: d.ID}
	varLen := len(data) - d.fixedTotal

	offset := 0
	spans := make(map[string][2]int, len(d.Fields))
	var lengthErr *ParseError
	for i, f := range d.Fields {
		size := fieldSize(f)
		if i == d.varIndex {
			if varLen < 0 {
				lengthErr = &ParseError{
					Kind: ErrLengthMismatch,
					Msg:  fmt.Sprintf("definition %q needs at least %d bytes, got %d", d.ID, d.fixedTotal, len(data)),
				}
				break
			}
			size = varLen
		}
		if offset+size > len(data) {
			lengthErr = &ParseError{
				Kind: ErrLengthMismatch,
				Msg:  fmt.Sprintf("definition %q: field %q needs bytes [%d,%d), frame has %d", d.ID, f.Name, offset, offset+size, len(data)),
			}
			break
		}
		raw := append([]byte(nil), data[offset:offset+size]...)
		frame.Fields = append(frame.Fields, FieldValue{
			Name:  f.Name,
			Type:  f.Type,
			Value: decodeField(f, raw),
			Raw:   raw,
		})
		spans[f.Name] = [2]int{offset, offset + size}
		offset += size
	}

	if lengthErr == nil && offset != len(data) {
		// 定长帧但串口数据更长
		lengthErr = &ParseError{
			Kind: ErrLengthMismatch,
			Msg:  fmt.Sprintf("definition %q consumes %d bytes, frame has %d", d.ID, offset, len(data)),
		}
	}
	frame.Partial = lengthErr != nil

	// 校验：覆盖区间和期望值字段都完整解出时才能计算；
	// 校验失败不影响字段解码结果
	if d.Checksum != nil && lengthErr == nil {
		frame.HasChecksum = true
		frame.ChecksumValid = d.verifyChecksum(data, spans)
	}

	return &Result{Custom: frame, Err: lengthErr}
}

func (d *Definition) verifyChecksum(data []byte, spans map[string][2]int) bool {
	ck := d.Checksum
	start, ok1 := spans[ck.StartField]
	end, ok2 := spans[ck.EndField]
	val, ok3 := spans[ck.ValueField]
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	span := data[start[0]:end[1]]
	raw := data[val[0]:val[1]]

	var vf FieldSpec
	for _, f := range d.Fields {
		if f.Name == ck.ValueField {
			vf = f
			break
		}
	}
	switch ck.Algorithm {
	case ChecksumXor8:
		var sum byte
		for _, b := range span {
			sum ^= b
		}
		return sum == raw[0]
	case ChecksumSum8:
		var sum byte
		for _, b := range span {
			sum += b
		}
		return sum == raw[0]
	case ChecksumCRC16Modbus:
		return CRC16(span) == readUint16(raw, vf.Order)
	}
	return false
}

// Encode 按定义把一组字段值编回字节序列，发送侧与回归测试使用。
// 声明了校验时自动计算并填入期望值字段。
func (d *Definition) Encode(values map[string]interface{}) ([]byte, error) {
	var out []byte
	spans := make(map[string][2]int, len(d.Fields))
	for i, f := range d.Fields {
		v, ok := values[f.Name]
		if !ok && !(d.Checksum != nil && f.Name == d.Checksum.ValueField) {
			return nil, fmt.Errorf("encode %q: missing value for field %q", d.ID, f.Name)
		}
		raw, err := encodeField(f, v, i == d.varIndex)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", d.ID, err)
		}
		spans[f.Name] = [2]int{len(out), len(out) + len(raw)}
		out = append(out, raw...)
	}

	if d.Checksum != nil {
		ck := d.Checksum
		span := out[spans[ck.StartField][0]:spans[ck.EndField][1]]
		val := spans[ck.ValueField]
		switch ck.Algorithm {
		case ChecksumXor8:
			var sum byte
			for _, b := range span {
				sum ^= b
			}
			out[val[0]] = sum
		case ChecksumSum8:
			var sum byte
			for _, b := range span {
				sum += b
			}
			out[val[0]] = sum
		case ChecksumCRC16Modbus:
			var vf FieldSpec
			for _, f := range d.Fields {
				if f.Name == ck.ValueField {
					vf = f
				}
			}
			writeUint16(out[val[0]:val[1]], CRC16(span), vf.Order)
		}
	}
	return out, nil
}

// -------------------- 字段编解码 --------------------

func decodeField(f FieldSpec, raw []byte) interface{} {
	switch f.Type {
	case TypeUint8:
		return raw[0]
	case TypeInt8:
		return int8(raw[0])
	case TypeUint16:
		return readUint16(raw, f.Order)
	case TypeInt16:
		return int16(readUint16(raw, f.Order))
	case TypeUint32:
		return readUint32(raw, f.Order)
	case TypeInt32:
		return int32(readUint32(raw, f.Order))
	case TypeFloat32:
		return math.Float32frombits(readUint32(raw, f.Order))
	case TypeString:
		return string(raw)
	case TypeBytes:
		return raw
	}
	return raw
}

func encodeField(f FieldSpec, v interface{}, variable bool) ([]byte, error) {
	switch f.Type {
	case TypeUint8, TypeInt8:
		u, err := toUint64(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return []byte{byte(u)}, nil
	case TypeUint16, TypeInt16:
		u, err := toUint64(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		raw := make([]byte, 2)
		writeUint16(raw, uint16(u), f.Order)
		return raw, nil
	case TypeUint32, TypeInt32:
		u, err := toUint64(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		raw := make([]byte, 4)
		writeUint32(raw, uint32(u), f.Order)
		return raw, nil
	case TypeFloat32:
		fv, ok := v.(float32)
		if !ok {
			return nil, fmt.Errorf("field %q: expected float32, got %T", f.Name, v)
		}
		raw := make([]byte, 4)
		writeUint32(raw, math.Float32bits(fv), f.Order)
		return raw, nil
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %q: expected string, got %T", f.Name, v)
		}
		raw := make([]byte, f.Length)
		copy(raw, s)
		return raw, nil
	case TypeBytes:
		b, ok := v.([]byte)
		if !ok && v != nil {
			return nil, fmt.Errorf("field %q: expected []byte, got %T", f.Name, v)
		}
		if variable {
			return append([]byte(nil), b...), nil
		}
		raw := make([]byte, f.Length)
		copy(raw, b)
		return raw, nil
	}
	return nil, &ParseError{Kind: ErrUnknownFieldType, Msg: string(f.Type)}
}

func toUint64(v interface{}) (uint64, error) {
	switch x := v.(type) {
	case uint8:
		return uint64(x), nil
	case int8:
		return uint64(uint8(x)), nil
	case uint16:
		return uint64(x), nil
	case int16:
		return uint64(uint16(x)), nil
	case uint32:
		return uint64(x), nil
	case int32:
		return uint64(uint32(x)), nil
	case int:
		return uint64(x), nil
	case uint:
		return uint64(x), nil
	case uint64:
		return x, nil
	case int64:
		return uint64(x), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func readUint16(raw []byte, o ByteOrder) uint16 {
	if o == OrderLittle {
		return binary.LittleEndian.Uint16(raw)
	}
	return binary.BigEndian.Uint16(raw)
}

func readUint32(raw []byte, o ByteOrder) uint32 {
	if o == OrderLittle {
		return binary.LittleEndian.Uint32(raw)
	}
	return binary.BigEndian.Uint32(raw)
}

func writeUint16(raw []byte, v uint16, o ByteOrder) {
	if o == OrderLittle {
		binary.LittleEndian.PutUint16(raw, v)
	} else {
		binary.BigEndian.PutUint16(raw, v)
	}
}

func writeUint32(raw []byte, v uint32, o ByteOrder) {
	if o == OrderLittle {
		binary.LittleEndian.PutUint32(raw, v)
	} else {
		binary.BigEndian.PutUint32(raw, v)
	}
}
