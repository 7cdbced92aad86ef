package automation

import (
	"context"
	"sync"
	"time"
)

// RecordEntry 是录制会话里的一帧
type RecordEntry struct {
	Offset time.Duration // 相对录制开始的偏移
	Dir    string        // "RX" 或 "TX"
	Data   []byte
}

// Recorder 录制一个端口的收发时序，之后可按原节奏回放发送侧。
type Recorder struct {
	mu        sync.Mutex
	recording bool
	start     time.Time
	entries   []RecordEntry
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start 开始一段新录制，丢弃上一段内容
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.start = time.Now()
	r.entries = nil
}

// Stop 结束录制并返回录到的条目
func (r *Recorder) Stop() []RecordEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	out := make([]RecordEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Recording 返回是否正在录制
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Record 记录一帧，未在录制时为空操作
func (r *Recorder) Record(dir string, data []byte, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.entries = append(r.entries, RecordEntry{
		Offset: t.Sub(r.start),
		Dir:    dir,
		Data:   append([]byte(nil), data...),
	})
}

// Replay 按录制节奏重发其中的发送帧。
// speed 是速度倍率，2 表示两倍速，<=0 按原速。
// ctx 取消时立即停止，返回 ctx 的错误。
func Replay(ctx context.Context, entries []RecordEntry, speed float64, send func([]byte) error) error {
	if speed <= 0 {
		speed = 1
	}
	var prev time.Duration
	for _, e := range entries {
		if e.Dir != "TX" {
			continue
		}
		gap := time.Duration(float64(e.Offset-prev) / speed)
		prev = e.Offset
		if gap > 0 {
			timer := time.NewTimer(gap)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := send(e.Data); err != nil {
			return err
		}
	}
	return nil
}
