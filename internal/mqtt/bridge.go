package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/linjuya-lu/serial_assist_go/internal/bus"
	"github.com/linjuya-lu/serial_assist_go/internal/codec"
	"github.com/linjuya-lu/serial_assist_go/internal/config"
)

// Options 配置事件桥的 MQTT 连接
// Broker: tcp://host:port
// TopicPrefix: 主题前缀，事件发布到 <prefix>/<port>/<kind>
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Qos            byte
}

// FromConfig 把 YAML 配置换算成连接参数，补上默认值
func FromConfig(mc *config.MQTT) Options {
	o := Options{
		Broker:         mc.Broker,
		ClientID:       mc.ClientID,
		Username:       mc.Username,
		Password:       mc.Password,
		TopicPrefix:    mc.TopicPrefix,
		KeepAlive:      time.Duration(mc.KeepAliveSec) * time.Second,
		ConnectTimeout: time.Duration(mc.ConnectTimeout) * time.Second,
		Qos:            mc.Qos,
	}
	if o.ClientID == "" {
		o.ClientID = "serial-assist"
	}
	if o.TopicPrefix == "" {
		o.TopicPrefix = "serial-assist"
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 30 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	return o
}

// wireEvent 是发到 MQTT 的统一事件外壳
type wireEvent struct {
	Kind      string `json:"kind"`
	Port      string `json:"port"`
	Timestamp int64  `json:"timestamp"` // 毫秒
	Dir       string `json:"dir,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Hex       string `json:"hex,omitempty"`     // 原始字节的十六进制渲染
	Display   string `json:"display,omitempty"` // 按端口显示编码渲染后的文本
	RuleID    int    `json:"ruleId,omitempty"`
	RunID     string `json:"runId,omitempty"`
	Text      string `json:"text,omitempty"`
	Category  string `json:"category,omitempty"`
	Error     string `json:"error,omitempty"`
	Frame     any    `json:"frame,omitempty"` // 协议解析结果
}

// Bridge 订阅事件总线并把事件以 JSON 发布到 MQTT。
// 它只是旁路观察者：断开或发布失败不影响串口流水线。
type Bridge struct {
	inner paho.Client
	opts  Options
	sub   *bus.Subscriber
	b     *bus.Bus

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewBridge 连接 Broker 并开始转发总线事件
func NewBridge(opts Options, b *bus.Bus) (*Bridge, error) {
	p := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true)
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}
	br := &Bridge{
		opts:   opts,
		b:      b,
		stopCh: make(chan struct{}),
	}
	br.inner = paho.NewClient(p)
	tok := br.inner.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}

	br.sub = b.Subscribe("mqtt-bridge", 0)
	br.wg.Add(1)
	go br.forwardLoop()
	return br, nil
}

// Close 退订总线并断开 Broker
func (br *Bridge) Close() {
	br.once.Do(func() {
		close(br.stopCh)
		br.b.Unsubscribe(br.sub)
		br.wg.Wait()
		br.inner.Disconnect(250)
	})
}

func (br *Bridge) forwardLoop() {
	defer br.wg.Done()
	for {
		select {
		case <-br.stopCh:
			return
		case ev, ok := <-br.sub.C():
			if !ok {
				return
			}
			br.publish(ev)
		}
	}
}

func (br *Bridge) publish(ev bus.Event) {
	w := wireEvent{Kind: ev.Kind(), Port: ev.Source()}
	switch e := ev.(type) {
	case bus.ChunkEvent:
		w.Timestamp = e.Chunk.Time.UnixMilli()
		w.Dir = string(e.Chunk.Dir)
		w.Seq = e.Chunk.Seq
		w.Hex, _ = codec.Encode(e.Chunk.Data, codec.FormatHex)
		if s, err := codec.Encode(e.Chunk.Data, codec.FormatASCII); err == nil {
			w.Display = s
		}
	case bus.FrameEvent:
		w.Timestamp = e.Chunk.Time.UnixMilli()
		w.Dir = string(e.Chunk.Dir)
		w.Seq = e.Chunk.Seq
		w.Hex, _ = codec.Encode(e.Chunk.Data, codec.FormatHex)
		w.Frame = e.Result
	case bus.RuleMatchEvent:
		w.Timestamp = e.Chunk.Time.UnixMilli()
		w.RuleID = e.RuleID
		w.Hex, _ = codec.Encode(e.Chunk.Data, codec.FormatHex)
	case bus.ScriptLogEvent:
		w.Timestamp = e.Time.UnixMilli()
		w.RunID = e.RunID
		w.Text = e.Text
	case bus.ErrorEvent:
		w.Timestamp = e.Time.UnixMilli()
		w.Category = e.Category
		if e.Err != nil {
			w.Error = e.Err.Error()
		}
	default:
		w.Timestamp = time.Now().UnixMilli()
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return
	}
	topic := fmt.Sprintf("%s/%s/%s", br.opts.TopicPrefix, w.Port, w.Kind)
	br.inner.Publish(topic, br.opts.Qos, false, payload)
}
