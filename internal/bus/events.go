package bus

import (
	"time"

	"github.com/linjuya-lu/serial_assist_go/internal/analyzer"
)

// Direction 表示数据相对本机的流向
type Direction string

const (
	DirRX Direction = "RX" // 串口 → 本机
	DirTX Direction = "TX" // 本机 → 串口
)

// RawChunk 是分帧器（或发送路径）产出的一段原始字节。
// 创建后不得再修改，Seq 在同一端口内单调递增。
type RawChunk struct {
	Port string    // 端口逻辑名
	Dir  Direction // 流向
	Data []byte    // 原始字节
	Time time.Time // 产生时间
	Seq  uint64    // 端口内序号
}

// Event 是总线上流转的事件，Kind 返回事件类型标签，
// Source 返回所属端口（无端口归属的事件返回空串）。
type Event interface {
	Kind() string
	Source() string
}

// ChunkEvent 对应一段原始数据（收或发）
type ChunkEvent struct {
	Chunk *RawChunk
}

func (e ChunkEvent) Kind() string   { return "chunk" }
func (e ChunkEvent) Source() string { return e.Chunk.Port }

// FrameEvent 对应一次协议解析结果
type FrameEvent struct {
	Chunk  *RawChunk
	Result *analyzer.Result
}

func (e FrameEvent) Kind() string   { return "frame" }
func (e FrameEvent) Source() string { return e.Chunk.Port }

// RuleMatchEvent 自动应答规则命中
type RuleMatchEvent struct {
	RuleID int
	Chunk  *RawChunk
}

func (e RuleMatchEvent) Kind() string   { return "rule_match" }
func (e RuleMatchEvent) Source() string { return e.Chunk.Port }

// ScriptLogEvent 脚本运行期输出的一行日志
type ScriptLogEvent struct {
	Port  string
	RunID string
	Text  string
	Time  time.Time
}

func (e ScriptLogEvent) Kind() string   { return "script_log" }
func (e ScriptLogEvent) Source() string { return e.Port }

// ErrorEvent 链路/解码类错误，附带错误分类标签。
// 解析失败不会走这里（解析失败仍产出 FrameEvent，见 analyzer）。
type ErrorEvent struct {
	Port     string
	Category string // "connect" / "write" / "disconnect" / "decode" / "script"
	Err      error
	Time     time.Time
}

func (e ErrorEvent) Kind() string   { return "error" }
func (e ErrorEvent) Source() string { return e.Port }
