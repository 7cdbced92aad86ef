package segment

import (
	"sync"
	"time"
)

// 分帧模式
const (
	ModeIdle      = "idle"      // 空闲间隔分帧
	ModeDelimiter = "delimiter" // 定界符分帧
)

// Emit 在一帧切出时回调，frame 为独立副本
type Emit func(frame []byte, t time.Time)

// Options 描述一个分帧器实例
type Options struct {
	Mode  string
	Quiet time.Duration // 空闲模式的静默阈值，<=0 时用 DefaultQuiet
	Baud  int           // 仅用于推算默认静默阈值
	Start byte          // 定界模式帧头，HasStart 为 false 时不找帧头
	End   byte          // 定界模式帧尾
	HasStart bool
}

// DefaultQuiet 按波特率推算静默阈值：3.5 个字符时间
// （1 起始 + 8 数据 + 1 校验 + 1 停止 ≈ 11 位），下限 20ms。
// Modbus RTU 的 3.5T 帧间隔就是这个来源。
func DefaultQuiet(baud int) time.Duration {
	if baud <= 0 {
		return 20 * time.Millisecond
	}
	q := time.Duration(float64(11*time.Second) * 3.5 / float64(baud))
	if q < 20*time.Millisecond {
		q = 20 * time.Millisecond
	}
	return q
}

// Segmenter 把字节流切成帧。所有方法并发安全，
// 空闲模式靠定时器在静默超时后切帧，
// 定界模式逐字节扫描帧头/帧尾。
type Segmenter struct {
	mu   sync.Mutex
	opts Options
	emit Emit

	buf     []byte
	last    time.Time
	timer   *time.Timer
	inFrame bool
	closed  bool
}

func New(opts Options, emit Emit) *Segmenter {
	if opts.Mode == "" {
		opts.Mode = ModeIdle
	}
	if opts.Quiet <= 0 {
		opts.Quiet = DefaultQuiet(opts.Baud)
	}
	return &Segmenter{opts: opts, emit: emit}
}

// Push 喂入一段收到的字节
func (s *Segmenter) Push(data []byte, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(data) == 0 {
		return
	}
	if s.opts.Mode == ModeDelimiter {
		s.pushDelimited(data, t)
		return
	}

	// 1. 数据续上当前帧
	s.buf = append(s.buf, data...)
	s.last = t
	// 2. 重置静默定时器：期间再来数据算同一帧
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opts.Quiet, s.onQuiet)
}

func (s *Segmenter) pushDelimited(data []byte, t time.Time) {
	for _, b := range data {
		if !s.inFrame {
			if s.opts.HasStart {
				// 帧头之前的字节全部丢弃
				if b != s.opts.Start {
					continue
				}
				s.inFrame = true
				s.buf = append(s.buf[:0], b)
				continue
			}
			s.inFrame = true
		}
		s.buf = append(s.buf, b)
		if b == s.opts.End {
			s.emitLocked(t)
		}
	}
}

func (s *Segmenter) onQuiet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emitLocked(s.last)
}

// Flush 立即把缓冲中的残帧切出（关闭前调用）
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	t := s.last
	if t.IsZero() {
		t = time.Now()
	}
	s.emitLocked(t)
}

// Close 停止定时器并丢弃缓冲，之后 Push 为空操作
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.buf = nil
	s.inFrame = false
}

// emitLocked 要求持有 s.mu
func (s *Segmenter) emitLocked(t time.Time) {
	if len(s.buf) == 0 {
		return
	}
	frame := append([]byte(nil), s.buf...)
	s.buf = s.buf[:0]
	s.inFrame = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.emit(frame, t)
}
