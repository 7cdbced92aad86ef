package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"

	"github.com/linjuya-lu/serial_assist_go/internal/analyzer"
	"github.com/linjuya-lu/serial_assist_go/internal/automation"
	"github.com/linjuya-lu/serial_assist_go/internal/bus"
	"github.com/linjuya-lu/serial_assist_go/internal/codec"
	"github.com/linjuya-lu/serial_assist_go/internal/config"
	"github.com/linjuya-lu/serial_assist_go/internal/segment"
	"github.com/linjuya-lu/serial_assist_go/internal/serial"
)

// portState 聚合一个打开端口的整条流水线：
// 通道 → 分帧器 → 解析 → 应答/录制，外加该端口的任务与脚本。
type portState struct {
	cfg config.Port
	ch  *serial.Channel
	seg *segment.Segmenter
	def *analyzer.Definition // 自定义协议时非空

	responder *automation.Responder
	scheduler *automation.Scheduler
	engine    *automation.Engine
	recorder  *automation.Recorder

	seq uint64 // 端口内事件序号，原子递增
}

// Monitor 是核心的对外门面：按配置打开/关闭端口，
// 把每个端口的收发流水线接到事件总线上，
// 并提供交互发送、脚本与录制回放入口。
type Monitor struct {
	cfg  *config.Config
	lc   logger.LoggingClient
	bus  *bus.Bus
	defs map[string]*analyzer.Definition
	vars *automation.VarStore

	// 端口构造入口，测试用假端口替换
	newPort func(config.Port) (serial.Port, error)

	mu    sync.Mutex
	ports map[string]*portState
}

// New 编译帧定义并准备好监视器，端口此时尚未打开
func New(cfg *config.Config, lc logger.LoggingClient, b *bus.Bus) (*Monitor, error) {
	defs, err := cfg.Definitions()
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:     cfg,
		lc:      lc,
		bus:     b,
		defs:    defs,
		vars:    automation.NewVarStore(),
		newPort: serial.NewPort,
		ports:   make(map[string]*portState),
	}, nil
}

// OpenPort 负责：
//  1. 查配置并创建底层端口
//  2. 建分帧器，把切出的帧送进解析/应答链
//  3. 打开通道，读写回调接入事件总线
//  4. 装载绑定到该端口的规则与任务
func (m *Monitor) OpenPort(name string) error {
	pc, ok := m.cfg.PortByName(name)
	if !ok {
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
			fmt.Sprintf("port %q not configured", name), nil)
	}

	ps := &portState{cfg: pc, recorder: automation.NewRecorder()}
	if pc.Protocol != "" && pc.Protocol != "modbus" {
		ps.def = m.defs[pc.Protocol]
	}

	// 先占住名字，并发打开同名端口只能有一个成功
	m.mu.Lock()
	if _, open := m.ports[name]; open {
		m.mu.Unlock()
		return errors.NewCommonEdgeX(errors.KindDuplicateName,
			fmt.Sprintf("port %q already open", name), nil)
	}
	m.ports[name] = ps
	m.mu.Unlock()

	fail := func() {
		m.mu.Lock()
		delete(m.ports, name)
		m.mu.Unlock()
		m.closeState(ps)
	}

	// 2. 分帧器
	ps.seg = segment.New(segment.Options{
		Mode:     pc.SegmentMode,
		Quiet:    time.Duration(pc.QuietMs) * time.Millisecond,
		Baud:     pc.Baudrate,
		Start:    byte(pc.FrameStart),
		End:      byte(pc.FrameEnd),
		HasStart: pc.FrameStart > 0,
	}, func(frame []byte, t time.Time) {
		m.onFrame(ps, frame, t)
	})

	// 3. 打开通道
	port, err := m.newPort(pc)
	if err != nil {
		fail()
		return err
	}
	ch, err := serial.OpenChannel(port, m.lc, pc.QueueSize, serial.Hooks{
		OnData: func(data []byte, t time.Time) {
			ps.seg.Push(data, t)
		},
		OnWrite: func(data []byte, t time.Time) {
			m.onWrite(ps, data, t)
		},
		OnError: func(side string, err error) {
			category := "disconnect"
			if side == serial.ErrSideWrite {
				category = "write"
			}
			m.bus.Publish(bus.ErrorEvent{
				Port: pc.Name, Category: category, Err: err, Time: time.Now(),
			})
			// 链路已失效，异步收拾该端口的任务/脚本/应答。
			// 回调跑在通道自己的协程里，就地关闭会等死自己
			go m.teardown(pc.Name, ps)
		},
	})
	if err != nil {
		fail()
		m.bus.Publish(bus.ErrorEvent{
			Port: pc.Name, Category: "connect", Err: err, Time: time.Now(),
		})
		return fmt.Errorf("open port %s: %w", pc.Name, err)
	}
	ps.ch = ch

	// 4. 该端口的应答器、调度器和脚本引擎，发送统一走通道队列
	send := ch.Enqueue
	ps.responder = automation.NewResponder(m.lc, send, func(ruleID int, chunk []byte) {
		m.bus.Publish(bus.RuleMatchEvent{
			RuleID: ruleID,
			Chunk:  &bus.RawChunk{Port: pc.Name, Dir: bus.DirRX, Data: chunk, Time: time.Now()},
		})
	})
	ps.scheduler = automation.NewScheduler(m.lc, send)
	ps.engine = automation.NewEngine(m.lc, send, m.vars,
		func(runID, text string) {
			m.bus.Publish(bus.ScriptLogEvent{
				Port: pc.Name, RunID: runID, Text: text, Time: time.Now(),
			})
		},
		func(runID string, err error) {
			m.bus.Publish(bus.ErrorEvent{
				Port: pc.Name, Category: "script", Err: err, Time: time.Now(),
			})
		})

	for _, rc := range m.cfg.Rules {
		if rc.Port != "" && rc.Port != pc.Name {
			continue
		}
		if err := ps.responder.AddRule(rc); err != nil {
			fail()
			return err
		}
	}
	for _, tc := range m.cfg.Tasks {
		if tc.Port != "" && tc.Port != pc.Name {
			continue
		}
		if err := ps.scheduler.AddTask(tc); err != nil {
			fail()
			return err
		}
	}

	m.lc.Infof("端口 %s 已打开 (%s, %d baud)", pc.Name, pc.Device, pc.Baudrate)
	return nil
}

// teardown 在链路故障后回收端口。只有当该端口仍处于登记状态
// 且状态指针未被替换时才执行，避免与 ClosePort 重复关闭。
func (m *Monitor) teardown(name string, ps *portState) {
	m.mu.Lock()
	cur, ok := m.ports[name]
	if !ok || cur != ps {
		m.mu.Unlock()
		return
	}
	delete(m.ports, name)
	m.mu.Unlock()
	m.closeState(ps)
	m.lc.Warnf("端口 %s 链路故障，已回收", name)
}

// ClosePort 关停一个端口：先停任务/脚本/应答，再关通道，
// 残帧在关闭前冲出去。
func (m *Monitor) ClosePort(name string) error {
	m.mu.Lock()
	ps, ok := m.ports[name]
	if ok {
		delete(m.ports, name)
	}
	m.mu.Unlock()
	if !ok {
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
			fmt.Sprintf("port %q not open", name), nil)
	}
	m.closeState(ps)
	m.lc.Infof("端口 %s 已关闭", name)
	return nil
}

func (m *Monitor) closeState(ps *portState) {
	if ps.scheduler != nil {
		ps.scheduler.Close()
	}
	if ps.engine != nil {
		ps.engine.Close()
	}
	if ps.responder != nil {
		ps.responder.Close()
	}
	if ps.seg != nil {
		ps.seg.Flush()
		ps.seg.Close()
	}
	if ps.ch != nil {
		ps.ch.Close()
	}
}

// Close 关停所有端口
func (m *Monitor) Close() {
	m.mu.Lock()
	states := make([]*portState, 0, len(m.ports))
	for name, ps := range m.ports {
		states = append(states, ps)
		delete(m.ports, name)
	}
	m.mu.Unlock()
	for _, ps := range states {
		m.closeState(ps)
	}
	m.vars.Close()
}

// onFrame 处理分帧器切出的一个接收帧
func (m *Monitor) onFrame(ps *portState, frame []byte, t time.Time) {
	chunk := &bus.RawChunk{
		Port: ps.cfg.Name,
		Dir:  bus.DirRX,
		Data: frame,
		Time: t,
		Seq:  atomic.AddUint64(&ps.seq, 1),
	}
	m.bus.Publish(bus.ChunkEvent{Chunk: chunk})
	ps.recorder.Record(string(bus.DirRX), frame, t)
	ps.responder.HandleChunk(frame)

	switch {
	case ps.cfg.Protocol == "modbus":
		m.bus.Publish(bus.FrameEvent{Chunk: chunk, Result: analyzer.ParseModbus(frame)})
	case ps.def != nil:
		m.bus.Publish(bus.FrameEvent{Chunk: chunk, Result: ps.def.Parse(frame)})
	}
}

// onWrite 在字节真正写到串口之后产出发送侧事件
func (m *Monitor) onWrite(ps *portState, data []byte, t time.Time) {
	chunk := &bus.RawChunk{
		Port: ps.cfg.Name,
		Dir:  bus.DirTX,
		Data: data,
		Time: t,
		Seq:  atomic.AddUint64(&ps.seq, 1),
	}
	m.bus.Publish(bus.ChunkEvent{Chunk: chunk})
	ps.recorder.Record(string(bus.DirTX), data, t)
}

func (m *Monitor) state(name string) (*portState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.ports[name]
	if !ok || ps.ch == nil {
		// ch 为空说明 OpenPort 还在进行中，对外等同未打开
		return nil, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
			fmt.Sprintf("port %q not open", name), nil)
	}
	return ps, nil
}

// Send 交互发送：按指定编码解码文本后整段入队
func (m *Monitor) Send(port string, text string, format codec.Format) error {
	ps, err := m.state(port)
	if err != nil {
		return err
	}
	data, err := codec.Decode(text, format)
	if err != nil {
		return err
	}
	return ps.ch.Enqueue(data)
}

// SendBytes 直接发送一段字节
func (m *Monitor) SendBytes(port string, data []byte) error {
	ps, err := m.state(port)
	if err != nil {
		return err
	}
	return ps.ch.Enqueue(data)
}

// StartScript 在指定端口上启动脚本，返回 RunID
func (m *Monitor) StartScript(port string, script automation.Script) (string, error) {
	ps, err := m.state(port)
	if err != nil {
		return "", err
	}
	return ps.engine.Start(script), nil
}

// CancelScript 取消一次脚本运行
func (m *Monitor) CancelScript(port, runID string) error {
	ps, err := m.state(port)
	if err != nil {
		return err
	}
	return ps.engine.Cancel(runID)
}

// SetRuleEnabled 运行期启停某端口上的一条应答规则
func (m *Monitor) SetRuleEnabled(port string, ruleID int, enabled bool) error {
	ps, err := m.state(port)
	if err != nil {
		return err
	}
	return ps.responder.SetEnabled(ruleID, enabled)
}

// RuleMatchCount 查询规则命中次数
func (m *Monitor) RuleMatchCount(port string, ruleID int) (uint64, error) {
	ps, err := m.state(port)
	if err != nil {
		return 0, err
	}
	return ps.responder.MatchCount(ruleID)
}

// SetTaskEnabled 运行期启停某端口上的一个周期任务
func (m *Monitor) SetTaskEnabled(port string, taskID int, enabled bool) error {
	ps, err := m.state(port)
	if err != nil {
		return err
	}
	return ps.scheduler.SetEnabled(taskID, enabled)
}

// StartRecording 开始录制端口收发
func (m *Monitor) StartRecording(port string) error {
	ps, err := m.state(port)
	if err != nil {
		return err
	}
	ps.recorder.Start()
	return nil
}

// StopRecording 结束录制并返回录到的条目
func (m *Monitor) StopRecording(port string) ([]automation.RecordEntry, error) {
	ps, err := m.state(port)
	if err != nil {
		return nil, err
	}
	return ps.recorder.Stop(), nil
}

// Replay 按录制节奏在端口上重发发送侧条目
func (m *Monitor) Replay(ctx context.Context, port string, entries []automation.RecordEntry, speed float64) error {
	ps, err := m.state(port)
	if err != nil {
		return err
	}
	return automation.Replay(ctx, entries, speed, ps.ch.Enqueue)
}
