package serial

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
)

// ErrChannelClosed 表示通道已关闭，后续写入全部拒绝（不 panic）
var ErrChannelClosed = errors.New("serial channel is closed")

// 连续读错误超过该次数按链路断开处理
const maxConsecutiveReadErrors = 3

// 错误来源标签
const (
	ErrSideRead  = "read"
	ErrSideWrite = "write"
)

// Hooks 是 Channel 向上层回调的三个口子。
// OnData/OnWrite 分别在收到数据、物理写出成功后被调用，
// 均在 Channel 自己的协程里执行，回调方不能长时间阻塞。
// OnError 的 side 标明错误发生在读侧还是写侧。
type Hooks struct {
	OnData  func(data []byte, t time.Time)
	OnWrite func(data []byte, t time.Time)
	OnError func(side string, err error)
}

// Channel 独占一个 Port：
//   - 读泵协程把收到的字节段交给 OnData（之后进分帧器）
//   - 唯一的写协程顺序消费写队列，保证同端口出站严格 FIFO
//
// 规则/任务/脚本都只持有 Enqueue 的引用，不拥有也不关闭通道。
type Channel struct {
	port  Port
	lc    logger.LoggingClient
	hooks Hooks

	writeQ chan []byte
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// 写队列默认深度
const defaultWriteQueue = 64

// OpenChannel 打开端口并启动读/写协程，queueSize <= 0 取默认深度。
// 打开失败直接返回给调用方。
func OpenChannel(p Port, lc logger.LoggingClient, queueSize int, hooks Hooks) (*Channel, error) {
	if err := p.Open(); err != nil {
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = defaultWriteQueue
	}
	c := &Channel{
		port:   p,
		lc:     lc,
		hooks:  hooks,
		writeQ: make(chan []byte, queueSize),
		stopCh: make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readPump()
	go c.writeLoop()
	return c, nil
}

// Enqueue 把一段数据排入写队列。数据会被复制，
// 要么整段入队要么整段拒绝，不存在半截写。
func (c *Channel) Enqueue(data []byte) error {
	cp := append([]byte(nil), data...)
	select {
	case <-c.stopCh:
		return ErrChannelClosed
	default:
	}
	select {
	case c.writeQ <- cp:
		return nil
	case <-c.stopCh:
		return ErrChannelClosed
	}
}

// shutdown 关闭停止信号与底层端口，幂等。
// 读写协程发现链路失效时也走这里，保证 Enqueue 的等待方能被唤醒。
func (c *Channel) shutdown() error {
	var err error
	c.once.Do(func() {
		close(c.stopCh)
		err = c.port.Close()
	})
	return err
}

// Close 停掉读写协程并关闭端口，幂等
func (c *Channel) Close() error {
	err := c.shutdown()
	c.wg.Wait()
	return err
}

// Name 返回底层端口的逻辑名称
func (c *Channel) Name() string { return c.port.Name() }

func (c *Channel) readPump() {
	defer c.wg.Done()
	buf := make([]byte, 4096)
	errCount := 0
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n, err := c.port.Read(buf)
		if n > 0 {
			errCount = 0
			if c.hooks.OnData != nil {
				c.hooks.OnData(append([]byte(nil), buf[:n]...), time.Now())
			}
			continue
		}
		if err == nil || errors.Is(err, io.EOF) {
			// 读超时（空闲），继续等
			continue
		}
		select {
		case <-c.stopCh:
			return
		default:
		}
		errCount++
		if errCount >= maxConsecutiveReadErrors {
			c.lc.Errorf("端口 %s 连续读错误，按断链处理: %v", c.port.Name(), err)
			c.shutdown()
			if c.hooks.OnError != nil {
				c.hooks.OnError(ErrSideRead, err)
			}
			return
		}
		c.lc.Warnf("端口 %s 读错误: %v", c.port.Name(), err)
		time.Sleep(100 * time.Millisecond)
	}
}

func (c *Channel) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case data := <-c.writeQ:
			if _, err := c.port.Write(data); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				c.lc.Errorf("端口 %s 写失败: %v", c.port.Name(), err)
				// 写失败即断链：先关掉通道让所有排队方从 Enqueue 返回，
				// 再通知上层收拾该端口的任务和脚本
				c.shutdown()
				if c.hooks.OnError != nil {
					c.hooks.OnError(ErrSideWrite, err)
				}
				return
			}
			if c.hooks.OnWrite != nil {
				c.hooks.OnWrite(data, time.Now())
			}
		}
	}
}
