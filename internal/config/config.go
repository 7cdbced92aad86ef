package config

import (
	"fmt"
	"os"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"gopkg.in/yaml.v2"

	"github.com/linjuya-lu/serial_assist_go/internal/analyzer"
	"github.com/linjuya-lu/serial_assist_go/internal/codec"
)

// Config 汇总整个核心的配置。显式构造、按引用传给需要它的组件，
// 不做进程级单例。
type Config struct {
	Service Service `yaml:"Service"`
	Ports   []Port  `yaml:"Ports"`
	Frames  []Frame `yaml:"Frames"`
	Rules   []Rule  `yaml:"Rules"`
	Tasks   []Task  `yaml:"Tasks"`
	MQTT    *MQTT   `yaml:"MQTT,omitempty"`
}

// Load 从 YAML 文件加载并校验配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 在创建时检查全部不变量，带问题的配置直接拒绝，
// 不会降级成"静默禁用"
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		c.Service.Name = "serial-assist"
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = "INFO"
	}

	portNames := make(map[string]bool, len(c.Ports))
	for i := range c.Ports {
		p := &c.Ports[i]
		if p.Name == "" || p.Device == "" {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %d: name and device are required", i), nil)
		}
		if portNames[p.Name] {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("duplicate port name %q", p.Name), nil)
		}
		portNames[p.Name] = true
		if p.Type == "" {
			p.Type = "uart"
		}
		switch p.Type {
		case "uart", "rs485", "rs232":
		default:
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %q: unknown type %q", p.Name, p.Type), nil)
		}
		if p.Baudrate <= 0 {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %q: baudrate must be positive", p.Name), nil)
		}
		if p.DataBits != 0 && (p.DataBits < 5 || p.DataBits > 8) {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %q: data bits %d out of range", p.Name, p.DataBits), nil)
		}
		switch p.Parity {
		case "", "N", "E", "O":
		default:
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %q: unknown parity %q", p.Name, p.Parity), nil)
		}
		switch p.StopBits {
		case "", "1", "1.5", "2":
		default:
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %q: unknown stop bits %q", p.Name, p.StopBits), nil)
		}
		switch p.SegmentMode {
		case "", "idle":
		case "delimiter":
			if p.FrameStart < 0 || p.FrameStart > 0xFF || p.FrameEnd < 0 || p.FrameEnd > 0xFF {
				return errors.NewCommonEdgeX(errors.KindContractInvalid,
					fmt.Sprintf("port %q: frame delimiters must be single bytes", p.Name), nil)
			}
		default:
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %q: unknown segment mode %q", p.Name, p.SegmentMode), nil)
		}
		if p.QuietMs < 0 || p.QueueSize < 0 {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %q: negative quietMs/queueSize", p.Name), nil)
		}
	}

	// 帧定义借 analyzer.NewDefinition 做完整校验
	defs, err := c.Definitions()
	if err != nil {
		return errors.NewCommonEdgeX(errors.KindContractInvalid, "invalid frame definition", err)
	}

	// 端口引用的协议必须存在
	for _, p := range c.Ports {
		if p.Protocol == "" || p.Protocol == "modbus" {
			continue
		}
		if _, ok := defs[p.Protocol]; !ok {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("port %q references unknown protocol %q", p.Name, p.Protocol), nil)
		}
	}

	ruleIDs := make(map[int]bool, len(c.Rules))
	for _, r := range c.Rules {
		if ruleIDs[r.ID] {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("duplicate rule id %d", r.ID), nil)
		}
		ruleIDs[r.ID] = true
		switch r.Kind {
		case "exact", "contains", "starts_with", "ends_with", "regex":
		default:
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("rule %d: unknown kind %q", r.ID, r.Kind), nil)
		}
		if _, err := codec.Decode(r.Response, codec.FormatHex); err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("rule %d: bad response", r.ID), err)
		}
		if r.DelayMs < 0 {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("rule %d: negative delay", r.ID), nil)
		}
	}

	taskIDs := make(map[int]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		if taskIDs[t.ID] {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("duplicate task id %d", t.ID), nil)
		}
		taskIDs[t.ID] = true
		if t.IntervalMs <= 0 {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("task %d: interval must be positive", t.ID), nil)
		}
		if _, err := codec.Decode(t.Payload, codec.FormatHex); err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("task %d: bad payload", t.ID), err)
		}
	}
	return nil
}

// Definitions 把 YAML 里的帧定义编译成 analyzer.Definition 表
func (c *Config) Definitions() (map[string]*analyzer.Definition, error) {
	defs := make(map[string]*analyzer.Definition, len(c.Frames))
	for _, f := range c.Frames {
		if _, dup := defs[f.ID]; dup {
			return nil, fmt.Errorf("duplicate frame definition %q", f.ID)
		}
		fields := make([]analyzer.FieldSpec, len(f.Fields))
		for i, fl := range f.Fields {
			fields[i] = analyzer.FieldSpec{
				Name:   fl.Name,
				Type:   analyzer.FieldType(fl.Type),
				Order:  analyzer.ByteOrder(fl.Order),
				Length: fl.Length,
			}
		}
		var ck *analyzer.ChecksumSpec
		if f.Checksum != nil {
			ck = &analyzer.ChecksumSpec{
				Algorithm:  analyzer.ChecksumAlgo(f.Checksum.Algorithm),
				StartField: f.Checksum.From,
				EndField:   f.Checksum.To,
				ValueField: f.Checksum.Field,
			}
		}
		d, err := analyzer.NewDefinition(f.ID, fields, ck)
		if err != nil {
			return nil, err
		}
		defs[f.ID] = d
	}
	return defs, nil
}

// PortByName 查找端口配置
func (c *Config) PortByName(name string) (Port, bool) {
	for _, p := range c.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}
