package serial

import (
	"fmt"
	"time"

	"github.com/tarm/serial"

	"github.com/linjuya-lu/serial_assist_go/internal/config"
)

type UARTPort struct {
	cfg    config.Port
	handle *serial.Port
}

func NewUARTPort(cfg config.Port) Port {
	return &UARTPort{cfg: cfg}
}

// tarmConfig 把端口配置映射成 tarm/serial 的 Config
func tarmConfig(cfg config.Port) *serial.Config {
	sc := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baudrate,
		ReadTimeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}
	if sc.ReadTimeout == 0 {
		sc.ReadTimeout = 50 * time.Millisecond
	}
	if cfg.DataBits != 0 {
		sc.Size = byte(cfg.DataBits)
	}
	switch cfg.Parity {
	case "E":
		sc.Parity = serial.ParityEven
	case "O":
		sc.Parity = serial.ParityOdd
	default:
		sc.Parity = serial.ParityNone
	}
	switch cfg.StopBits {
	case "1.5":
		sc.StopBits = serial.Stop1Half
	case "2":
		sc.StopBits = serial.Stop2
	default:
		sc.StopBits = serial.Stop1
	}
	return sc
}

func (u *UARTPort) Open() error {
	p, err := serial.OpenPort(tarmConfig(u.cfg))
	if err != nil {
		return fmt.Errorf("open UART %s failed: %w", u.cfg.Device, err)
	}
	u.handle = p
	return nil
}

func (u *UARTPort) Close() error {
	if u.handle != nil {
		return u.handle.Close()
	}
	return nil
}

func (u *UARTPort) Read(p []byte) (int, error) {
	return u.handle.Read(p)
}

func (u *UARTPort) Write(p []byte) (int, error) {
	n, err := u.handle.Write(p)
	if err != nil {
		return n, fmt.Errorf("UART write failed: %w", err)
	}
	return n, nil
}

// Name 返回逻辑名称
func (u *UARTPort) Name() string {
	return u.cfg.Name
}
