package automation

import (
	"fmt"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"

	"github.com/linjuya-lu/serial_assist_go/internal/codec"
	"github.com/linjuya-lu/serial_assist_go/internal/config"
)

// schedTask 是一个已登记的周期发送任务及其运行态
type schedTask struct {
	id       int
	interval time.Duration
	payload  []byte
	repeat   int // <=0 表示不限次数

	stopCh chan struct{} // 非 nil 表示正在运行
}

// Scheduler 管理周期发送任务。每个启用的任务一个协程，
// 下一次触发点取「上一次计划点 + 周期」而不是「发完再等」，
// 发送耗时不会让节拍逐渐漂移。
type Scheduler struct {
	mu    sync.Mutex
	tasks map[int]*schedTask

	send func([]byte) error
	lc   logger.LoggingClient
	wg   sync.WaitGroup
}

func NewScheduler(lc logger.LoggingClient, send func([]byte) error) *Scheduler {
	return &Scheduler{
		tasks: make(map[int]*schedTask),
		send:  send,
		lc:    lc,
	}
}

// AddTask 登记一个任务，周期必须为正。
// Enabled 的任务登记后立即开始计时。
func (s *Scheduler) AddTask(tc config.Task) error {
	if tc.IntervalMs <= 0 {
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("任务 %d 的周期必须为正", tc.ID), nil)
	}
	payload, err := codec.Decode(tc.Payload, codec.FormatHex)
	if err != nil {
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("任务 %d 的内容解码失败", tc.ID), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[tc.ID]; ok {
		return errors.NewCommonEdgeX(errors.KindDuplicateName,
			fmt.Sprintf("任务 ID 重复: %d", tc.ID), nil)
	}
	t := &schedTask{
		id:       tc.ID,
		interval: time.Duration(tc.IntervalMs) * time.Millisecond,
		payload:  payload,
		repeat:   tc.Repeat,
	}
	s.tasks[tc.ID] = t
	if tc.TaskEnabled() {
		s.startLocked(t)
	}
	return nil
}

// RemoveTask 停止并删除任务
func (s *Scheduler) RemoveTask(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
			fmt.Sprintf("任务不存在: %d", id), nil)
	}
	s.stopLocked(t)
	delete(s.tasks, id)
	return nil
}

// SetEnabled 启停任务。停用立即取消等待中的触发，
// 重新启用时从当前时刻重新起算周期。
func (s *Scheduler) SetEnabled(id int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
			fmt.Sprintf("任务不存在: %d", id), nil)
	}
	if enabled {
		s.startLocked(t)
	} else {
		s.stopLocked(t)
	}
	return nil
}

// Close 停止所有任务并等协程退出
func (s *Scheduler) Close() {
	s.mu.Lock()
	for _, t := range s.tasks {
		s.stopLocked(t)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// startLocked 要求持有 s.mu，任务已在运行时为空操作
func (s *Scheduler) startLocked(t *schedTask) {
	if t.stopCh != nil {
		return
	}
	stop := make(chan struct{})
	t.stopCh = stop
	s.wg.Add(1)
	go s.runTask(t, stop)
}

// stopLocked 要求持有 s.mu
func (s *Scheduler) stopLocked(t *schedTask) {
	if t.stopCh == nil {
		return
	}
	close(t.stopCh)
	t.stopCh = nil
}

func (s *Scheduler) runTask(t *schedTask, stop chan struct{}) {
	defer s.wg.Done()
	next := time.Now().Add(t.interval)
	count := 0
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := s.send(t.payload); err != nil {
			s.lc.Warnf("任务 %d 发送失败: %v", t.id, err)
		}
		count++
		if t.repeat > 0 && count >= t.repeat {
			s.mu.Lock()
			if t.stopCh == stop {
				t.stopCh = nil
			}
			s.mu.Unlock()
			return
		}
		// 以计划点为基准推进，发送耗时不累积进节拍
		next = next.Add(t.interval)
	}
}
