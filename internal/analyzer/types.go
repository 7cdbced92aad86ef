package analyzer

import "fmt"

// ErrKind 是解析失败的分类
type ErrKind string

const (
	ErrTooShort         ErrKind = "too_short"
	ErrLengthMismatch   ErrKind = "length_mismatch"
	ErrUnknownFieldType ErrKind = "unknown_field_type"
)

// ParseError 描述一次解析失败。解析失败永远是可恢复的：
// 能解出来的字段仍随 Result 返回，原始数据不丢。
type ParseError struct {
	Kind ErrKind
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s): %s", e.Kind, e.Msg)
}

// Result 是协议分析器的标记联合输出：
// Modbus / Custom 至多一个非空；Err 非空表示本次解析存在问题，
// 但已解出的部分仍保留在对应字段里。
type Result struct {
	Modbus *ModbusFrame
	Custom *CustomFrame
	Err    *ParseError
}

// OK 表示结构上解析成功（校验位是否通过另看各自的 valid 标志）
func (r *Result) OK() bool { return r.Err == nil }
