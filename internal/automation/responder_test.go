package automation

import (
	"sync"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linjuya-lu/serial_assist_go/internal/config"
)

// sendLog 收集发出的数据，模拟通道写队列
type sendLog struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *sendLog) send(data []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, append([]byte(nil), data...))
	s.mu.Unlock()
	return nil
}

func (s *sendLog) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *sendLog) waitLen(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends, got %d", n, len(s.snapshot()))
	return nil
}

func boolPtr(b bool) *bool { return &b }

func TestResponderFirstMatchByAscendingID(t *testing.T) {
	out := &sendLog{}
	var matched []int
	var mu sync.Mutex
	r := NewResponder(logger.NewMockClient(), out.send, func(id int, _ []byte) {
		mu.Lock()
		matched = append(matched, id)
		mu.Unlock()
	})
	defer r.Close()

	// 故意乱序登记，命中顺序仍按 ID 升序
	require.NoError(t, r.AddRule(config.Rule{ID: 5, Kind: "contains", Pattern: "01", Response: "AA"}))
	require.NoError(t, r.AddRule(config.Rule{ID: 2, Kind: "contains", Pattern: "01", Response: "BB"}))

	r.HandleChunk([]byte{0x01, 0x03})
	sent := out.waitLen(t, 1)
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0xBB}, sent[0])

	mu.Lock()
	assert.Equal(t, []int{2}, matched)
	mu.Unlock()

	// 每帧只计一次
	n, err := r.MatchCount(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	n, err = r.MatchCount(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestResponderMatchKinds(t *testing.T) {
	cases := []struct {
		kind    string
		pattern string
		format  string
		chunk   []byte
		hit     bool
	}{
		{"exact", "01 02", "hex", []byte{0x01, 0x02}, true},
		{"exact", "01 02", "hex", []byte{0x01, 0x02, 0x03}, false},
		{"contains", "02", "hex", []byte{0x01, 0x02, 0x03}, true},
		{"starts_with", "AT", "ascii", []byte("AT+RST"), true},
		{"starts_with", "AT", "ascii", []byte("xAT"), false},
		{"ends_with", "0D", "hex", []byte{0x01, 0x0D}, true},
		{"regex", "^PING[0-9]+$", "ascii", []byte("PING42"), true},
		{"regex", "^PING[0-9]+$", "ascii", []byte("PONG42"), false},
	}
	for _, c := range cases {
		out := &sendLog{}
		r := NewResponder(logger.NewMockClient(), out.send, nil)
		require.NoError(t, r.AddRule(config.Rule{
			ID: 1, Kind: c.kind, Pattern: c.pattern, PatternFormat: c.format, Response: "AA",
		}), c.kind)
		r.HandleChunk(c.chunk)
		if c.hit {
			out.waitLen(t, 1)
		} else {
			time.Sleep(30 * time.Millisecond)
			assert.Empty(t, out.snapshot(), "%s %q", c.kind, c.pattern)
		}
		r.Close()
	}
}

func TestResponderRejectsBadRules(t *testing.T) {
	r := NewResponder(logger.NewMockClient(), (&sendLog{}).send, nil)
	defer r.Close()

	// 正则编译失败在登记时报错
	assert.Error(t, r.AddRule(config.Rule{ID: 1, Kind: "regex", Pattern: "([", Response: "AA"}))
	// 模式解码失败
	assert.Error(t, r.AddRule(config.Rule{ID: 2, Kind: "exact", Pattern: "0G", Response: "AA"}))
	// 未知匹配方式
	assert.Error(t, r.AddRule(config.Rule{ID: 3, Kind: "fuzzy", Pattern: "01", Response: "AA"}))
	// 负延迟
	assert.Error(t, r.AddRule(config.Rule{ID: 4, Kind: "exact", Pattern: "01", Response: "AA", DelayMs: -1}))
	// ID 重复
	require.NoError(t, r.AddRule(config.Rule{ID: 5, Kind: "exact", Pattern: "01", Response: "AA"}))
	assert.Error(t, r.AddRule(config.Rule{ID: 5, Kind: "exact", Pattern: "02", Response: "BB"}))
}

func TestResponderRepliesKeepArrivalOrder(t *testing.T) {
	out := &sendLog{}
	r := NewResponder(logger.NewMockClient(), out.send, nil)
	defer r.Close()

	// 规则 1 延迟更长，但先到的帧仍先应答
	require.NoError(t, r.AddRule(config.Rule{ID: 1, Kind: "exact", Pattern: "01", Response: "AA", DelayMs: 60}))
	require.NoError(t, r.AddRule(config.Rule{ID: 2, Kind: "exact", Pattern: "02", Response: "BB", DelayMs: 0}))

	r.HandleChunk([]byte{0x01})
	r.HandleChunk([]byte{0x02})

	sent := out.waitLen(t, 2)
	assert.Equal(t, []byte{0xAA}, sent[0])
	assert.Equal(t, []byte{0xBB}, sent[1])
}

func TestResponderEnableDisable(t *testing.T) {
	out := &sendLog{}
	r := NewResponder(logger.NewMockClient(), out.send, nil)
	defer r.Close()

	require.NoError(t, r.AddRule(config.Rule{ID: 1, Kind: "exact", Pattern: "01", Response: "AA", Enabled: boolPtr(false)}))
	r.HandleChunk([]byte{0x01})
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, out.snapshot())

	require.NoError(t, r.SetEnabled(1, true))
	r.HandleChunk([]byte{0x01})
	out.waitLen(t, 1)

	assert.Error(t, r.SetEnabled(99, true))
}

func TestResponderRemoveRule(t *testing.T) {
	out := &sendLog{}
	r := NewResponder(logger.NewMockClient(), out.send, nil)
	defer r.Close()

	require.NoError(t, r.AddRule(config.Rule{ID: 1, Kind: "exact", Pattern: "01", Response: "AA"}))
	require.NoError(t, r.RemoveRule(1))
	assert.Error(t, r.RemoveRule(1))

	r.HandleChunk([]byte{0x01})
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, out.snapshot())
}
