package serial

import (
	"fmt"
	"time"

	bugst "go.bug.st/serial"

	"github.com/linjuya-lu/serial_assist_go/internal/config"
)

// RS232Port 基于 go.bug.st/serial 实现标准 RS-232 全双工串口，
// 数据位/校验位/停止位都能按配置设置

type RS232Port struct {
	cfg  config.Port
	port bugst.Port
}

// NewRS232Port 构造 RS232Port
func NewRS232Port(cfg config.Port) Port {
	return &RS232Port{cfg: cfg}
}

// Open 打开并配置串口
func (r *RS232Port) Open() error {
	mode := &bugst.Mode{
		BaudRate: r.cfg.Baudrate,
		DataBits: r.cfg.DataBits,
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch r.cfg.Parity {
	case "E":
		mode.Parity = bugst.EvenParity
	case "O":
		mode.Parity = bugst.OddParity
	default:
		mode.Parity = bugst.NoParity
	}
	switch r.cfg.StopBits {
	case "1.5":
		mode.StopBits = bugst.OnePointFiveStopBits
	case "2":
		mode.StopBits = bugst.TwoStopBits
	default:
		mode.StopBits = bugst.OneStopBit
	}

	p, err := bugst.Open(r.cfg.Device, mode)
	if err != nil {
		return fmt.Errorf("open serial %s failed: %w", r.cfg.Device, err)
	}
	timeout := time.Duration(r.cfg.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 50 * time.Millisecond
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return fmt.Errorf("set read timeout on %s: %w", r.cfg.Device, err)
	}
	r.port = p
	return nil
}

// Close 关闭串口
func (r *RS232Port) Close() error {
	if r.port != nil {
		return r.port.Close()
	}
	return nil
}

// Read 读取原始字节，实现 io.Reader
func (r *RS232Port) Read(p []byte) (int, error) {
	return r.port.Read(p)
}

// Write 写入原始字节，实现 io.Writer
func (r *RS232Port) Write(p []byte) (int, error) {
	n, err := r.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("serial write failed: %w", err)
	}
	return n, nil
}

// Name 返回逻辑名称
func (r *RS232Port) Name() string {
	return r.cfg.Name
}
