package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkEvent(port string, seq uint64) ChunkEvent {
	return ChunkEvent{Chunk: &RawChunk{
		Port: port, Dir: DirRX, Data: []byte{byte(seq)}, Time: time.Now(), Seq: seq,
	}}
}

func TestPublishOrder(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe("ui", 16)

	for i := uint64(1); i <= 5; i++ {
		b.Publish(chunkEvent("com1", i))
	}
	for i := uint64(1); i <= 5; i++ {
		ev := <-sub.C()
		ce, ok := ev.(ChunkEvent)
		require.True(t, ok)
		assert.Equal(t, i, ce.Chunk.Seq)
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe("slow", 2)

	for i := uint64(1); i <= 5; i++ {
		b.Publish(chunkEvent("com1", i))
	}
	// 容量 2，丢掉最旧的 3 条，留下 4 和 5
	assert.Equal(t, uint64(3), sub.Dropped())
	ev := <-sub.C()
	assert.Equal(t, uint64(4), ev.(ChunkEvent).Chunk.Seq)
	ev = <-sub.C()
	assert.Equal(t, uint64(5), ev.(ChunkEvent).Chunk.Seq)
}

func TestMultipleSubscribersSeeAll(t *testing.T) {
	b := New()
	defer b.Close()
	s1 := b.Subscribe("a", 8)
	s2 := b.Subscribe("b", 8)

	b.Publish(chunkEvent("com1", 1))
	assert.Equal(t, uint64(1), (<-s1.C()).(ChunkEvent).Chunk.Seq)
	assert.Equal(t, uint64(1), (<-s2.C()).(ChunkEvent).Chunk.Seq)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("tmp", 1)
	b.Unsubscribe(sub)
	_, ok := <-sub.C()
	assert.False(t, ok)

	// 退订后发布不再投递，也不 panic
	b.Publish(chunkEvent("com1", 1))
	b.Close()
}

func TestPublishDuringUnsubscribe(t *testing.T) {
	// 发布与退订并发进行时不允许出现向已关闭通道的投递
	b := New()
	defer b.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
				b.Publish(chunkEvent("com1", i))
			}
		}
	}()

	for i := 0; i < 500; i++ {
		sub := b.Subscribe("churn", 1)
		b.Unsubscribe(sub)
		for range sub.C() {
		}
	}
	close(stop)
	wg.Wait()
}

func TestEventKindsAndSources(t *testing.T) {
	chunk := &RawChunk{Port: "com1", Dir: DirTX}
	cases := []struct {
		ev   Event
		kind string
		src  string
	}{
		{ChunkEvent{Chunk: chunk}, "chunk", "com1"},
		{FrameEvent{Chunk: chunk}, "frame", "com1"},
		{RuleMatchEvent{RuleID: 3, Chunk: chunk}, "rule_match", "com1"},
		{ScriptLogEvent{Port: "com2", RunID: "r1"}, "script_log", "com2"},
		{ErrorEvent{Port: "com1", Category: "write"}, "error", "com1"},
	}
	for i, c := range cases {
		assert.Equal(t, c.kind, c.ev.Kind(), fmt.Sprintf("case %d", i))
		assert.Equal(t, c.src, c.ev.Source(), fmt.Sprintf("case %d", i))
	}
}
