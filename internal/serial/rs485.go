package serial

import (
	"fmt"
	"os"
	"time"

	"github.com/tarm/serial"

	"github.com/linjuya-lu/serial_assist_go/internal/config"
)

// RS485Port 实现 RS-485 半双工物理层：
// - Open/Close 管理串口和 DE/RE 控制 GPIO
// - Write 自动完成 发送使能 → 写出 → 等待发完 → 切回接收

type RS485Port struct {
	cfg    config.Port  // 端口配置
	port   *serial.Port // 串口句柄
	gpioFD *os.File     // DE/RE 控制 GPIO 节点
}

// 构造 RS485Port 实例
func NewRS485Port(cfg config.Port) Port {
	return &RS485Port{cfg: cfg}
}

// Open 导出 GPIO 并打开串口
func (r *RS485Port) Open() error {
	// 导出 GPIO
	if err := exportGPIO(r.cfg.DEPin); err != nil {
		return fmt.Errorf("export GPIO %d failed: %w", r.cfg.DEPin, err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := setGPIODirection(r.cfg.DEPin, "out"); err != nil {
		return fmt.Errorf("set GPIO %d direction: %w", r.cfg.DEPin, err)
	}
	f, err := openGPIOValue(r.cfg.DEPin)
	if err != nil {
		return fmt.Errorf("open GPIO %d value: %w", r.cfg.DEPin, err)
	}
	// 默认低电平 (接收)
	if _, err := f.WriteString("0"); err != nil {
		f.Close()
		return fmt.Errorf("init GPIO %d low: %w", r.cfg.DEPin, err)
	}
	r.gpioFD = f

	p, err := serial.OpenPort(tarmConfig(r.cfg))
	if err != nil {
		r.gpioFD.Close()
		return fmt.Errorf("open serial %s failed: %w", r.cfg.Device, err)
	}
	r.port = p
	return nil
}

// Close 关闭串口和 GPIO
func (r *RS485Port) Close() error {
	var firstErr error
	if r.port != nil {
		if err := r.port.Close(); err != nil {
			firstErr = err
		}
	}
	if r.gpioFD != nil {
		if err := r.gpioFD.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Read 实现 io.Reader
func (r *RS485Port) Read(p []byte) (int, error) {
	return r.port.Read(p)
}

// Write 切到发送 → 写出 → 切回接收
func (r *RS485Port) Write(p []byte) (int, error) {
	if _, err := r.gpioFD.WriteString("1"); err != nil {
		return 0, fmt.Errorf("GPIO DE high failed: %w", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := r.port.Write(p)
	if err != nil {
		// 出错也要切回接收
		r.gpioFD.WriteString("0")
		return n, fmt.Errorf("serial write failed: %w", err)
	}
	// 等待所有比特发出 (10 bits/byte)
	time.Sleep(time.Duration(n*10) * time.Second / time.Duration(r.cfg.Baudrate))

	if _, err := r.gpioFD.WriteString("0"); err != nil {
		return n, fmt.Errorf("GPIO DE low failed: %w", err)
	}
	return n, nil
}

// Name 返回端口名称
func (r *RS485Port) Name() string {
	return r.cfg.Name
}

// -------- GPIO 辅助函数 --------
func exportGPIO(pin int) error {
	f, err := os.OpenFile("/sys/class/gpio/export", os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString(fmt.Sprint(pin)) // 若已导出则忽略错误
	return nil
}

func setGPIODirection(pin int, dir string) error {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/direction", pin)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(dir)
	return err
}

func openGPIOValue(pin int) (*os.File, error) {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/value", pin)
	return os.OpenFile(path, os.O_RDWR, 0)
}
