package automation

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"

	"github.com/linjuya-lu/serial_assist_go/internal/codec"
	"github.com/linjuya-lu/serial_assist_go/internal/config"
)

// 规则匹配方式
const (
	RuleExact      = "exact"       // 整帧相等
	RuleContains   = "contains"    // 包含
	RuleStartsWith = "starts_with" // 前缀
	RuleEndsWith   = "ends_with"   // 后缀
	RuleRegex      = "regex"       // 正则，作用在按 patternFormat 渲染后的文本上
)

// Rule 是一条编译好的自动应答规则
type Rule struct {
	ID       int
	Kind     string
	format   codec.Format   // 字节类规则的模式编码 / 正则规则的渲染编码
	pattern  []byte         // 字节类规则的目标序列
	re       *regexp.Regexp // 正则规则的编译结果
	Response []byte
	Delay    time.Duration
	enabled  bool
	matches  uint64
}

// Matches 返回该规则累计命中次数
func (r *Rule) Matches() uint64 { return atomic.LoadUint64(&r.matches) }

type pendingReply struct {
	ruleID int
	data   []byte
	delay  time.Duration
}

// Responder 对每个到达的接收帧做规则匹配：
// 按规则 ID 升序找第一条启用且命中的规则，命中计数只加一次，
// 应答经唯一的延迟协程串行发出，保证应答顺序与帧到达顺序一致，
// 延迟长短不会造成乱序。
type Responder struct {
	mu    sync.RWMutex
	rules []*Rule

	send    func([]byte) error
	onMatch func(ruleID int, chunk []byte)
	lc      logger.LoggingClient

	queue  chan pendingReply
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewResponder 创建应答器并启动延迟发送协程。
// send 一般就是通道的 Enqueue，onMatch 用于向事件总线上报命中。
func NewResponder(lc logger.LoggingClient, send func([]byte) error, onMatch func(ruleID int, chunk []byte)) *Responder {
	r := &Responder{
		send:    send,
		onMatch: onMatch,
		lc:      lc,
		queue:   make(chan pendingReply, 64),
		stopCh:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.replyLoop()
	return r
}

// AddRule 编译并登记一条规则。模式和正则在这里解析，
// 非法配置当场报错，而不是等到匹配时。
func (r *Responder) AddRule(rc config.Rule) error {
	if rc.DelayMs < 0 {
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("规则 %d 的应答延迟不能为负", rc.ID), nil)
	}
	format := codec.FormatHex
	if rc.PatternFormat != "" {
		f, err := codec.ParseFormat(rc.PatternFormat)
		if err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("规则 %d 的模式编码无效", rc.ID), err)
		}
		format = f
	}

	rule := &Rule{
		ID:      rc.ID,
		Kind:    rc.Kind,
		format:  format,
		Delay:   time.Duration(rc.DelayMs) * time.Millisecond,
		enabled: rc.RuleEnabled(),
	}
	switch rc.Kind {
	case RuleExact, RuleContains, RuleStartsWith, RuleEndsWith:
		pat, err := codec.Decode(rc.Pattern, format)
		if err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("规则 %d 的模式解码失败", rc.ID), err)
		}
		if len(pat) == 0 {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("规则 %d 的模式为空", rc.ID), nil)
		}
		rule.pattern = pat
	case RuleRegex:
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("规则 %d 的正则无法编译", rc.ID), err)
		}
		rule.re = re
	default:
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("规则 %d 的匹配方式未知: %s", rc.ID, rc.Kind), nil)
	}

	resp, err := codec.Decode(rc.Response, codec.FormatHex)
	if err != nil {
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("规则 %d 的应答内容解码失败", rc.ID), err)
	}
	rule.Response = resp

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, exist := range r.rules {
		if exist.ID == rule.ID {
			return errors.NewCommonEdgeX(errors.KindDuplicateName,
				fmt.Sprintf("规则 ID 重复: %d", rule.ID), nil)
		}
	}
	r.rules = append(r.rules, rule)
	sort.Slice(r.rules, func(i, j int) bool { return r.rules[i].ID < r.rules[j].ID })
	return nil
}

// RemoveRule 删除规则，不存在时返回错误
func (r *Responder) RemoveRule(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rule := range r.rules {
		if rule.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
		fmt.Sprintf("规则不存在: %d", id), nil)
}

// SetEnabled 启停一条规则，立即生效
func (r *Responder) SetEnabled(id int, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range r.rules {
		if rule.ID == id {
			rule.enabled = enabled
			return nil
		}
	}
	return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
		fmt.Sprintf("规则不存在: %d", id), nil)
}

// MatchCount 查询规则累计命中次数
func (r *Responder) MatchCount(id int) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.ID == id {
			return rule.Matches(), nil
		}
	}
	return 0, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
		fmt.Sprintf("规则不存在: %d", id), nil)
}

// HandleChunk 对一个接收帧做匹配。一帧最多命中一条规则：
// ID 升序第一条命中即停，计数加一，应答排入延迟队列。
func (r *Responder) HandleChunk(chunk []byte) {
	r.mu.RLock()
	var hit *Rule
	for _, rule := range r.rules {
		if !rule.enabled {
			continue
		}
		if rule.matchBytes(chunk) {
			hit = rule
			break
		}
	}
	r.mu.RUnlock()
	if hit == nil {
		return
	}

	atomic.AddUint64(&hit.matches, 1)
	if r.onMatch != nil {
		r.onMatch(hit.ID, chunk)
	}
	select {
	case r.queue <- pendingReply{ruleID: hit.ID, data: hit.Response, delay: hit.Delay}:
	case <-r.stopCh:
	}
}

// Close 停掉延迟协程，队列中未发出的应答丢弃
func (r *Responder) Close() {
	r.once.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (rule *Rule) matchBytes(chunk []byte) bool {
	switch rule.Kind {
	case RuleExact:
		return bytes.Equal(chunk, rule.pattern)
	case RuleContains:
		return bytes.Contains(chunk, rule.pattern)
	case RuleStartsWith:
		return bytes.HasPrefix(chunk, rule.pattern)
	case RuleEndsWith:
		return bytes.HasSuffix(chunk, rule.pattern)
	case RuleRegex:
		// 先按规则声明的编码把帧渲染成文本，再跑正则
		text, err := codec.Encode(chunk, rule.format)
		if err != nil {
			return false
		}
		return rule.re.MatchString(text)
	}
	return false
}

// replyLoop 串行消费应答队列。延迟在这里等待，
// 因此先命中的帧一定先应答，长延迟不会被后来者超车。
func (r *Responder) replyLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case p := <-r.queue:
			if p.delay > 0 {
				t := time.NewTimer(p.delay)
				select {
				case <-r.stopCh:
					t.Stop()
					return
				case <-t.C:
				}
			}
			if err := r.send(p.data); err != nil {
				r.lc.Warnf("规则 %d 的应答发送失败: %v", p.ruleID, err)
			}
		}
	}
}
