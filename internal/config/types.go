package config

// Service 服务级配置
type Service struct {
	Name     string `yaml:"name"`     // 日志里使用的服务名
	LogLevel string `yaml:"logLevel"` // TRACE/DEBUG/INFO/WARN/ERROR
}

// Port 描述一个串口及其分帧/解析参数
type Port struct {
	Name      string `yaml:"name"`      // 逻辑名称
	Device    string `yaml:"device"`    // 串口设备节点
	Type      string `yaml:"type"`      // uart/rs485/rs232
	Baudrate  int    `yaml:"baudrate"`  // 波特率
	DataBits  int    `yaml:"dataBits"`  // 数据位 5~8，0 按 8 处理
	Parity    string `yaml:"parity"`    // N/E/O，空按 N 处理
	StopBits  string `yaml:"stopBits"`  // "1"/"1.5"/"2"，空按 "1" 处理
	DEPin     int    `yaml:"dePin"`     // RS-485 DE/RE 控制 GPIO 编号
	TimeoutMs int    `yaml:"timeoutMs"` // 读操作超时（毫秒）

	// 分帧参数
	SegmentMode string `yaml:"segmentMode"` // idle（静默间隔，默认）/ delimiter（定界字节）
	QuietMs     int    `yaml:"quietMs"`     // 静默间隔，0 表示按波特率取默认
	FrameStart  int    `yaml:"frameStart"`  // delimiter 模式帧头字节
	FrameEnd    int    `yaml:"frameEnd"`    // delimiter 模式帧尾字节

	// 解析与背压
	Protocol  string `yaml:"protocol"`  // ""（只分帧）/ "modbus" / 自定义帧定义 ID
	QueueSize int    `yaml:"queueSize"` // 通道写队列上限，0 取默认
}

// Field 自定义帧里的一个字段声明
type Field struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`   // uint8/uint16/uint32/int8/int16/int32/float32/string/bytes
	Order  string `yaml:"order"`  // big（默认）/ little
	Length int    `yaml:"length"` // string/bytes 的定长；bytes 为 0 表示变长
}

// Checksum 自定义帧的校验声明
type Checksum struct {
	Algorithm string `yaml:"algorithm"` // xor8/sum8/crc16_modbus
	From      string `yaml:"from"`      // 覆盖区间起始字段（含）
	To        string `yaml:"to"`        // 覆盖区间结束字段（含）
	Field     string `yaml:"field"`     // 期望值所在字段
}

// Frame 一条自定义帧定义
type Frame struct {
	ID       string    `yaml:"id"`
	Fields   []Field   `yaml:"fields"`
	Checksum *Checksum `yaml:"checksum,omitempty"`
}

// Rule 自动应答规则。Enabled 缺省视为启用。
type Rule struct {
	ID            int    `yaml:"id"`
	Kind          string `yaml:"kind"`          // exact/contains/starts_with/ends_with/regex
	Pattern       string `yaml:"pattern"`       // 按 patternFormat 解读
	PatternFormat string `yaml:"patternFormat"` // hex（默认）/ ascii；regex 规则按该编码渲染数据后匹配
	Response      string `yaml:"response"`      // 十六进制文本
	DelayMs       int    `yaml:"delayMs"`
	Enabled       *bool  `yaml:"enabled,omitempty"`
	Port          string `yaml:"port"` // 绑定端口，空表示全部端口
}

// Task 周期发送任务。Repeat <= 0 表示无限次。
type Task struct {
	ID         int    `yaml:"id"`
	IntervalMs int    `yaml:"intervalMs"`
	Payload    string `yaml:"payload"` // 十六进制文本
	Repeat     int    `yaml:"repeat"`
	Enabled    *bool  `yaml:"enabled,omitempty"`
	Port       string `yaml:"port"`
}

// MQTT 事件桥配置（可选的外部协作方）
type MQTT struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"clientId"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TopicPrefix    string `yaml:"topicPrefix"`
	KeepAliveSec   int    `yaml:"keepAliveSec"`
	ConnectTimeout int    `yaml:"connectTimeoutSec"`
	Qos            byte   `yaml:"qos"`
}

// RuleEnabled 处理 Enabled 缺省即启用的语义
func (r Rule) RuleEnabled() bool { return r.Enabled == nil || *r.Enabled }

// TaskEnabled 同上
func (t Task) TaskEnabled() bool { return t.Enabled == nil || *t.Enabled }
