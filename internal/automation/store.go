package automation

import "sync"

// VarStore 是脚本变量的内存存储：RunID → 变量名 → 值。
// 另有一张全局表存持久变量，脚本结束后仍然保留，
// 多次运行之间可以用它传递状态。
type VarStore struct {
	mu     sync.RWMutex
	global map[string]string
	runs   map[string]map[string]string
}

// NewVarStore 返回一个新建的空存储
func NewVarStore() *VarStore {
	return &VarStore{
		global: make(map[string]string),
		runs:   make(map[string]map[string]string),
	}
}

// Set 写入一个变量。persistent 为 true 时写入全局表，
// 否则只在本次运行可见，运行结束随 DropRun 一起清掉。
func (s *VarStore) Set(runID, name, value string, persistent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if persistent {
		s.global[name] = value
		return
	}
	if _, ok := s.runs[runID]; !ok {
		s.runs[runID] = make(map[string]string)
	}
	s.runs[runID][name] = value
}

// Lookup 读取变量，先查本次运行的局部表，再查全局表
func (s *VarStore) Lookup(runID, name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if vars, ok := s.runs[runID]; ok {
		if v, found := vars[name]; found {
			return v, true
		}
	}
	if v, found := s.global[name]; found {
		return v, true
	}
	return "", false
}

// Get 读取变量，缺失时返回给定的默认值
func (s *VarStore) Get(runID, name, def string) string {
	if v, ok := s.Lookup(runID, name); ok {
		return v
	}
	return def
}

// DropRun 删除某次运行的全部局部变量
func (s *VarStore) DropRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

// Close 清空全部变量，存储本身仍可继续使用
func (s *VarStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = make(map[string]string)
	s.runs = make(map[string]map[string]string)
}
