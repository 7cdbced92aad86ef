package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarStoreScopes(t *testing.T) {
	s := NewVarStore()

	s.Set("run1", "a", "1", false)
	s.Set("run1", "g", "2", true)

	assert.Equal(t, "1", s.Get("run1", "a", ""))

	// 局部变量对别的运行不可见，持久变量对所有运行可见
	_, ok := s.Lookup("run2", "a")
	assert.False(t, ok)
	assert.Equal(t, "2", s.Get("run2", "g", ""))
}

func TestVarStoreDefault(t *testing.T) {
	s := NewVarStore()

	// 缺失的变量返回调用方给的默认值
	assert.Equal(t, "def", s.Get("run1", "nope", "def"))

	s.Set("run1", "nope", "set", false)
	assert.Equal(t, "set", s.Get("run1", "nope", "def"))
}

func TestVarStoreLocalShadowsGlobal(t *testing.T) {
	s := NewVarStore()

	s.Set("run1", "x", "global", true)
	s.Set("run1", "x", "local", false)

	assert.Equal(t, "local", s.Get("run1", "x", ""))
	assert.Equal(t, "global", s.Get("run2", "x", ""))
}

func TestVarStoreDropRun(t *testing.T) {
	s := NewVarStore()

	s.Set("run1", "a", "1", false)
	s.Set("run1", "g", "2", true)
	s.DropRun("run1")

	_, ok := s.Lookup("run1", "a")
	assert.False(t, ok)
	assert.Equal(t, "2", s.Get("run1", "g", ""))
}

func TestVarStoreCloseResets(t *testing.T) {
	s := NewVarStore()

	s.Set("run1", "a", "1", false)
	s.Set("run1", "g", "2", true)
	s.Close()

	_, ok := s.Lookup("run1", "a")
	assert.False(t, ok)
	_, ok = s.Lookup("run1", "g")
	assert.False(t, ok)

	// 清空后仍可继续写入
	s.Set("run2", "b", "3", true)
	v, ok := s.Lookup("run2", "b")
	require.True(t, ok)
	assert.Equal(t, "3", v)
}
