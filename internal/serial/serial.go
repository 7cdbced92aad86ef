// internal/serial/serial.go

package serial

import (
	"fmt"

	bugst "go.bug.st/serial"

	"github.com/linjuya-lu/serial_assist_go/internal/config"
)

// Port 是整个 serial 包对外暴露的通用串口接口
type Port interface {
	Open() error
	Close() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Name() string
}

// NewPort 根据配置创建对应的串口实现（UART / RS-485 / RS-232）
func NewPort(cfg config.Port) (Port, error) {
	switch cfg.Type {
	case "uart":
		return NewUARTPort(cfg), nil
	case "rs485":
		return NewRS485Port(cfg), nil
	case "rs232":
		return NewRS232Port(cfg), nil
	default:
		return nil, fmt.Errorf("unknown port type %s", cfg.Type)
	}
}

// ListPorts 枚举本机可用的串口设备节点。
// tarm/serial 不支持枚举，这里统一走 go.bug.st/serial。
func ListPorts() ([]string, error) {
	names, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return names, nil
}
