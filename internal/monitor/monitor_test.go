package monitor

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linjuya-lu/serial_assist_go/internal/automation"
	"github.com/linjuya-lu/serial_assist_go/internal/bus"
	"github.com/linjuya-lu/serial_assist_go/internal/codec"
	"github.com/linjuya-lu/serial_assist_go/internal/config"
	"github.com/linjuya-lu/serial_assist_go/internal/serial"
)

// fakePort 用内存通道模拟串口，Read 带超时以配合读泵轮询
type fakePort struct {
	name string
	rx   chan []byte

	mu         sync.Mutex
	written    [][]byte
	failWrites bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePort(name string) *fakePort {
	return &fakePort{name: name, rx: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakePort) Open() error { return nil }

func (f *fakePort) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	select {
	case data := <-f.rx:
		return copy(p, data), nil
	case <-f.closed:
		return 0, io.ErrClosedPipe
	case <-time.After(20 * time.Millisecond):
		return 0, nil
	}
}

func (f *fakePort) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return 0, io.ErrClosedPipe
	}
	f.written = append(f.written, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakePort) Name() string { return f.name }

func (f *fakePort) waitWritten(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.written) >= n {
			out := make([][]byte, len(f.written))
			copy(out, f.written)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes", n)
	return nil
}

func waitEvent(t *testing.T, sub *bus.Subscriber, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			require.True(t, ok, "bus closed while waiting for %s", kind)
			if ev.Kind() == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func newTestMonitor(t *testing.T, cfg *config.Config, fake *fakePort) (*Monitor, *bus.Subscriber, *bus.Bus) {
	t.Helper()
	require.NoError(t, cfg.Validate())
	b := bus.New()
	m, err := New(cfg, logger.NewMockClient(), b)
	require.NoError(t, err)
	m.newPort = func(config.Port) (serial.Port, error) { return fake, nil }
	sub := b.Subscribe("test", 64)
	return m, sub, b
}

func simConfig() *config.Config {
	return &config.Config{
		Ports: []config.Port{{
			Name: "sim", Device: "/dev/null", Baudrate: 9600,
			QuietMs: 30, Protocol: "modbus",
		}},
	}
}

func TestMonitorRxPipeline(t *testing.T) {
	fake := newFakePort("sim")
	m, sub, b := newTestMonitor(t, simConfig(), fake)
	defer b.Close()
	require.NoError(t, m.OpenPort("sim"))
	defer m.Close()

	// 一次 Modbus 响应帧进来：分帧 → 原始块事件 → 解析事件
	fake.rx <- []byte{0x01, 0x03, 0x02, 0x00, 0x0A, 0x38, 0x43}

	ce := waitEvent(t, sub, "chunk").(bus.ChunkEvent)
	assert.Equal(t, "sim", ce.Chunk.Port)
	assert.Equal(t, bus.DirRX, ce.Chunk.Dir)
	assert.Equal(t, []byte{0x01, 0x03, 0x02, 0x00, 0x0A, 0x38, 0x43}, ce.Chunk.Data)
	assert.Equal(t, uint64(1), ce.Chunk.Seq)

	fe := waitEvent(t, sub, "frame").(bus.FrameEvent)
	require.NotNil(t, fe.Result.Modbus)
	assert.True(t, fe.Result.Modbus.CRCValid)
	assert.Equal(t, byte(0x01), fe.Result.Modbus.SlaveID)
}

func TestMonitorAutoResponse(t *testing.T) {
	cfg := simConfig()
	cfg.Rules = []config.Rule{{
		ID: 1, Kind: "starts_with", Pattern: "01 03", Response: "AA BB",
	}}
	fake := newFakePort("sim")
	m, sub, b := newTestMonitor(t, cfg, fake)
	defer b.Close()
	require.NoError(t, m.OpenPort("sim"))
	defer m.Close()

	fake.rx <- []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}

	me := waitEvent(t, sub, "rule_match").(bus.RuleMatchEvent)
	assert.Equal(t, 1, me.RuleID)

	written := fake.waitWritten(t, 1)
	assert.Equal(t, []byte{0xAA, 0xBB}, written[0])

	// 应答写出后产出发送侧事件
	te := waitEvent(t, sub, "chunk").(bus.ChunkEvent)
	for te.Chunk.Dir != bus.DirTX {
		te = waitEvent(t, sub, "chunk").(bus.ChunkEvent)
	}
	assert.Equal(t, []byte{0xAA, 0xBB}, te.Chunk.Data)

	n, err := m.RuleMatchCount("sim", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestMonitorScheduledTask(t *testing.T) {
	cfg := simConfig()
	cfg.Tasks = []config.Task{{ID: 1, IntervalMs: 30, Payload: "DE AD"}}
	fake := newFakePort("sim")
	m, _, b := newTestMonitor(t, cfg, fake)
	defer b.Close()
	require.NoError(t, m.OpenPort("sim"))
	defer m.Close()

	written := fake.waitWritten(t, 2)
	assert.Equal(t, []byte{0xDE, 0xAD}, written[0])

	require.NoError(t, m.SetTaskEnabled("sim", 1, false))
	assert.Error(t, m.SetTaskEnabled("sim", 99, false))
}

func TestMonitorInteractiveSend(t *testing.T) {
	fake := newFakePort("sim")
	m, _, b := newTestMonitor(t, simConfig(), fake)
	defer b.Close()
	require.NoError(t, m.OpenPort("sim"))
	defer m.Close()

	require.NoError(t, m.Send("sim", "01 02 03", codec.FormatHex))
	require.NoError(t, m.Send("sim", "hi", codec.FormatASCII))
	assert.Error(t, m.Send("sim", "0G", codec.FormatHex))
	assert.Error(t, m.Send("nope", "01", codec.FormatHex))

	written := fake.waitWritten(t, 2)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, written[0])
	assert.Equal(t, []byte("hi"), written[1])
}

func TestMonitorScriptRun(t *testing.T) {
	fake := newFakePort("sim")
	m, sub, b := newTestMonitor(t, simConfig(), fake)
	defer b.Close()
	require.NoError(t, m.OpenPort("sim"))
	defer m.Close()

	done := make(chan struct{})
	runID, err := m.StartScript("sim", func(sc *automation.Context) error {
		defer close(done)
		sc.Log("starting")
		return sc.SendHex("AB CD")
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	<-done

	le := waitEvent(t, sub, "script_log").(bus.ScriptLogEvent)
	assert.Equal(t, runID, le.RunID)
	assert.Equal(t, "starting", le.Text)

	written := fake.waitWritten(t, 1)
	assert.Equal(t, []byte{0xAB, 0xCD}, written[0])
}

func TestMonitorOpenCloseErrors(t *testing.T) {
	fake := newFakePort("sim")
	m, _, b := newTestMonitor(t, simConfig(), fake)
	defer b.Close()

	assert.Error(t, m.OpenPort("nope"))
	require.NoError(t, m.OpenPort("sim"))
	assert.Error(t, m.OpenPort("sim"))

	require.NoError(t, m.ClosePort("sim"))
	assert.Error(t, m.ClosePort("sim"))
	assert.Error(t, m.Send("sim", "01", codec.FormatHex))
}

func TestMonitorWriteFailureTearsDownPort(t *testing.T) {
	cfg := simConfig()
	cfg.Ports[0].QueueSize = 1
	cfg.Tasks = []config.Task{{ID: 1, IntervalMs: 10, Payload: "01 02"}}
	fake := newFakePort("sim")
	fake.failWrites = true
	m, sub, b := newTestMonitor(t, cfg, fake)
	defer b.Close()
	require.NoError(t, m.OpenPort("sim"))
	defer m.Close()

	// 周期任务写出失败 → 写侧错误事件
	ee := waitEvent(t, sub, "error").(bus.ErrorEvent)
	assert.Equal(t, "write", ee.Category)
	assert.Equal(t, "sim", ee.Port)

	// 链路断开后端口被回收，任务/脚本随之停掉，发送被拒
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Send("sim", "01", codec.FormatHex) != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Error(t, m.Send("sim", "01", codec.FormatHex))
	assert.Error(t, m.ClosePort("sim"))
}

func TestMonitorConcurrentOpenSamePort(t *testing.T) {
	cfg := simConfig()
	require.NoError(t, cfg.Validate())
	b := bus.New()
	defer b.Close()
	m, err := New(cfg, logger.NewMockClient(), b)
	require.NoError(t, err)
	m.newPort = func(config.Port) (serial.Port, error) { return newFakePort("sim"), nil }
	defer m.Close()

	// 并发抢开同名端口，只允许一个成功
	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.OpenPort("sim")
		}()
	}
	wg.Wait()
	close(errs)

	opened := 0
	for err := range errs {
		if err == nil {
			opened++
		}
	}
	assert.Equal(t, 1, opened)
	require.NoError(t, m.ClosePort("sim"))
}

func TestMonitorCustomProtocol(t *testing.T) {
	cfg := &config.Config{
		Ports: []config.Port{{
			Name: "sim", Device: "/dev/null", Baudrate: 9600,
			QuietMs: 30, Protocol: "pair",
		}},
		Frames: []config.Frame{{
			ID: "pair",
			Fields: []config.Field{
				{Name: "key", Type: "uint8"},
				{Name: "value", Type: "uint16", Order: "big"},
			},
		}},
	}
	fake := newFakePort("sim")
	m, sub, b := newTestMonitor(t, cfg, fake)
	defer b.Close()
	require.NoError(t, m.OpenPort("sim"))
	defer m.Close()

	fake.rx <- []byte{0x07, 0x12, 0x34}

	fe := waitEvent(t, sub, "frame").(bus.FrameEvent)
	require.NotNil(t, fe.Result.Custom)
	require.True(t, fe.Result.OK())
	kv, ok := fe.Result.Custom.Field("value")
	require.True(t, ok)
	assert.Equal(t, uint16(0x1234), kv.Value)
}
