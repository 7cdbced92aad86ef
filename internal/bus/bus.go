package bus

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize 是订阅者队列的默认容量
const DefaultQueueSize = 1024

// Subscriber 持有一条有界事件队列。
// 队列满时丢最旧的事件并累计 dropped 计数，不会阻塞发布方。
type Subscriber struct {
	name    string
	ch      chan Event
	dropped uint64
}

// C 返回事件接收通道
func (s *Subscriber) C() <-chan Event { return s.ch }

// Name 返回订阅者名称
func (s *Subscriber) Name() string { return s.name }

// Dropped 返回因队列满而被丢弃的事件数
func (s *Subscriber) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }

// Bus 按发布顺序把事件分发给所有订阅者。
// 同一端口的事件由同一个协程发布，因此订阅者看到的顺序
// 与分帧顺序一致。
type Bus struct {
	mu   sync.RWMutex
	subs []*Subscriber
}

func New() *Bus {
	return &Bus{}
}

// Subscribe 注册一个订阅者，size <= 0 时使用默认容量
func (b *Bus) Subscribe(name string, size int) *Subscriber {
	if size <= 0 {
		size = DefaultQueueSize
	}
	s := &Subscriber{name: name, ch: make(chan Event, size)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Unsubscribe 注销订阅者并关闭其通道
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			break
		}
	}
	b.mu.Unlock()
}

// Publish 把事件投递到每个订阅者队列。
// 某个订阅者消费过慢时，按"丢最旧"策略腾出位置，确保核心不被拖住。
// 投递全程持读锁：Unsubscribe/Close 要拿写锁才能关通道，
// 不会与进行中的投递交错。
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		// 队列满：弹出最旧的一条再投递
		select {
		case <-s.ch:
			atomic.AddUint64(&s.dropped, 1)
		default:
		}
		select {
		case s.ch <- ev:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
}

// Close 关闭全部订阅者通道
func (b *Bus) Close() {
	b.mu.Lock()
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	b.mu.Unlock()
}
