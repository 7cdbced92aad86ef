package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	edgexErr "github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/google/uuid"

	"github.com/linjuya-lu/serial_assist_go/internal/codec"
)

// ErrCancelled 表示脚本在等待中被取消
var ErrCancelled = errors.New("script run cancelled")

// Script 是一段脚本主体，拿到 Context 后只能通过它提供的
// 固定接口操作串口和变量。
type Script func(*Context) error

// Context 是一次脚本运行的执行环境。
// 所有阻塞操作都响应取消：取消后发送接口直接拒绝，
// Wait 立刻返回 ErrCancelled，不会再有任何字节发出。
type Context struct {
	ctx   context.Context
	runID string
	eng   *Engine
}

// RunID 返回本次运行的唯一标识
func (c *Context) RunID() string { return c.runID }

// SendHex 把十六进制文本解码后整段入队发送
func (c *Context) SendHex(s string) error {
	data, err := codec.Decode(s, codec.FormatHex)
	if err != nil {
		return err
	}
	return c.sendBytes(data)
}

// SendString 把带转义的文本按字节发送
func (c *Context) SendString(s string) error {
	data, err := codec.Decode(s, codec.FormatASCII)
	if err != nil {
		return err
	}
	return c.sendBytes(data)
}

func (c *Context) sendBytes(data []byte) error {
	// 先查取消：取消之后一个字节也不许出去
	select {
	case <-c.ctx.Done():
		return ErrCancelled
	default:
	}
	return c.eng.send(data)
}

// Wait 等待指定时长，期间被取消则立即返回 ErrCancelled
func (c *Context) Wait(d time.Duration) error {
	if d <= 0 {
		select {
		case <-c.ctx.Done():
			return ErrCancelled
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return ErrCancelled
	case <-timer.C:
		return nil
	}
}

// GetVar 读取变量，先查本次运行的局部变量，再查持久变量，
// 都没有时返回给定的默认值
func (c *Context) GetVar(name, def string) string {
	return c.eng.vars.Get(c.runID, name, def)
}

// SetVar 写入本次运行可见的局部变量
func (c *Context) SetVar(name, value string) {
	c.eng.vars.Set(c.runID, name, value, false)
}

// SetPersistentVar 写入持久变量，脚本结束后仍保留
func (c *Context) SetPersistentVar(name, value string) {
	c.eng.vars.Set(c.runID, name, value, true)
}

// Log 输出一条脚本日志（经回调送往事件总线）
func (c *Context) Log(text string) {
	if c.eng.onLog != nil {
		c.eng.onLog(c.runID, text)
	}
}

type scriptRun struct {
	cancel context.CancelFunc
}

// Engine 负责脚本的启动、取消与收尾。
// 每次运行分配一个 UUID 作为 RunID，并发运行互不干扰。
type Engine struct {
	mu   sync.Mutex
	runs map[string]*scriptRun

	send  func([]byte) error
	vars  *VarStore
	onLog func(runID, text string)
	onErr func(runID string, err error)
	lc    logger.LoggingClient
	wg    sync.WaitGroup
}

func NewEngine(lc logger.LoggingClient, send func([]byte) error, vars *VarStore,
	onLog func(runID, text string), onErr func(runID string, err error)) *Engine {
	return &Engine{
		runs:  make(map[string]*scriptRun),
		send:  send,
		vars:  vars,
		onLog: onLog,
		onErr: onErr,
		lc:    lc,
	}
}

// Start 启动一段脚本，立即返回 RunID。
// 脚本在独立协程里执行，结束（正常、出错或取消）后
// 局部变量随运行一起清掉。
func (e *Engine) Start(script Script) string {
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.runs[runID] = &scriptRun{cancel: cancel}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.runs, runID)
			e.mu.Unlock()
			e.vars.DropRun(runID)
		}()

		sc := &Context{ctx: ctx, runID: runID, eng: e}
		err := script(sc)
		switch {
		case err == nil:
			e.lc.Debugf("脚本 %s 执行完成", runID)
		case errors.Is(err, ErrCancelled):
			e.lc.Infof("脚本 %s 被取消", runID)
		default:
			e.lc.Errorf("脚本 %s 执行出错: %v", runID, err)
			if e.onErr != nil {
				e.onErr(runID, err)
			}
		}
	}()
	return runID
}

// Cancel 取消一次运行。脚本若正在 Wait 会立刻醒来，
// 之后的发送全部拒绝。
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	run, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return edgexErr.NewCommonEdgeX(edgexErr.KindEntityDoesNotExist,
			"脚本运行不存在: "+runID, nil)
	}
	run.cancel()
	return nil
}

// Running 返回当前在跑的 RunID 列表
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	return ids
}

// Close 取消所有运行并等它们退出
func (e *Engine) Close() {
	e.mu.Lock()
	for _, run := range e.runs {
		run.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}
