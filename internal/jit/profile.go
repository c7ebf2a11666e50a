package jit

import (
	"sync"

	"go.uber.org/atomic"
)

// ============================================================================
// 执行层级与函数剖析档案
// ============================================================================

// Tier 执行层级，按预期性能排序
type Tier int32

const (
	TierInterpreter Tier = iota // 可移植解释器，永远可用
	TierBaseline                // 基线编译
	TierOptimizing              // 激进优化编译
)

func (t Tier) String() string {
	switch t {
	case TierInterpreter:
		return "interpreter"
	case TierBaseline:
		return "baseline"
	case TierOptimizing:
		return "optimizing"
	default:
		return "unknown"
	}
}

// FunctionProfile 函数剖析档案
// 每个函数名一份，首次执行时惰性创建，存活至运行时实例结束
//
// 计数器用无锁原子操作，高争用下也不丢失；
// 复合状态（层级、循环计数、类型反馈、黑名单）由每函数读写锁保护，
// 临界区只做内存读写，绝不跨越编译调用
type FunctionProfile struct {
	name string

	execCount  atomic.Int64
	deoptCount atomic.Int64
	compiling  atomic.Bool // 编译在途守卫，observe true 即跳过晋升

	mu           sync.RWMutex
	tier         Tier
	loopCounts   map[int]int64
	typePatterns map[string]int64
	blacklisted  bool
}

// NewFunctionProfile 创建档案
func NewFunctionProfile(name string) *FunctionProfile {
	return &FunctionProfile{
		name:         name,
		loopCounts:   make(map[int]int64),
		typePatterns: make(map[string]int64),
	}
}

// Name 函数名
func (p *FunctionProfile) Name() string {
	return p.name
}

// RecordCall 记录一次调用
// 递增执行计数并累积实参签名的出现次数
func (p *FunctionProfile) RecordCall(sig string) {
	p.execCount.Inc()
	p.mu.Lock()
	p.typePatterns[sig]++
	p.mu.Unlock()
}

// RecordLoopIteration 记录一次循环迭代，返回该循环的累计迭代数
func (p *FunctionProfile) RecordLoopIteration(loopID int) int64 {
	p.mu.Lock()
	p.loopCounts[loopID]++
	n := p.loopCounts[loopID]
	p.mu.Unlock()
	return n
}

// ExecutionCount 执行计数
func (p *FunctionProfile) ExecutionCount() int64 {
	return p.execCount.Load()
}

// DeoptCount 反优化计数
func (p *FunctionProfile) DeoptCount() int64 {
	return p.deoptCount.Load()
}

// Tier 当前层级
func (p *FunctionProfile) Tier() Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tier
}

// setTier 只允许编排器在晋升/反优化协议内调用
func (p *FunctionProfile) setTier(t Tier) {
	p.mu.Lock()
	p.tier = t
	p.mu.Unlock()
}

// TryBeginCompile 尝试占据编译在途守卫
// 同名函数同一时刻只允许一次编译；失败方直接放弃本次晋升，不等待
func (p *FunctionProfile) TryBeginCompile() bool {
	return p.compiling.CAS(false, true)
}

// EndCompile 释放编译在途守卫
func (p *FunctionProfile) EndCompile() {
	p.compiling.Store(false)
}

// Compiling 编译是否在途
func (p *FunctionProfile) Compiling() bool {
	return p.compiling.Load()
}

// recordDeopt 递增反优化计数，达到阈值时拉黑
// 返回是否因本次反优化进入黑名单
func (p *FunctionProfile) recordDeopt(maxDeopts int64) bool {
	n := p.deoptCount.Inc()
	if n >= maxDeopts {
		p.mu.Lock()
		first := !p.blacklisted
		p.blacklisted = true
		p.mu.Unlock()
		return first
	}
	return false
}

// Blacklisted 是否已被永久禁止晋升（本次运行内）
func (p *FunctionProfile) Blacklisted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.blacklisted
}

// DominantTypePattern 出现最频繁的实参签名
func (p *FunctionProfile) DominantTypePattern() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var best string
	var bestCount int64
	for sig, n := range p.typePatterns {
		if n > bestCount {
			best = sig
			bestCount = n
		}
	}
	return best
}

// LoopCounts 循环计数快照
func (p *FunctionProfile) LoopCounts() map[int]int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int]int64, len(p.loopCounts))
	for id, n := range p.loopCounts {
		out[id] = n
	}
	return out
}

// MaxLoopIteration 最热循环的迭代数
func (p *FunctionProfile) MaxLoopIteration() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var max int64
	for _, n := range p.loopCounts {
		if n > max {
			max = n
		}
	}
	return max
}

// HotLoopCount 迭代数达到阈值的循环个数
func (p *FunctionProfile) HotLoopCount(threshold int64) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	count := 0
	for _, n := range p.loopCounts {
		if n >= threshold {
			count++
		}
	}
	return count
}

// ResetLoopCounts 清空循环计数（工具用，正常晋升路径不衰减）
func (p *FunctionProfile) ResetLoopCounts() {
	p.mu.Lock()
	p.loopCounts = make(map[int]int64)
	p.mu.Unlock()
}

// HotPathScore 热路径评分：调用次数与最热循环迭代数的加权和
// 只用于诊断与排序，不参与任何正确性决策
func (p *FunctionProfile) HotPathScore() float64 {
	return float64(p.execCount.Load()) + 10*float64(p.MaxLoopIteration())
}

// ============================================================================
// 档案表
// ============================================================================

// ProfileStore 档案表
// 每个引擎实例各持一份，没有进程级单例，同进程可并存多个独立运行时
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*FunctionProfile
}

// NewProfileStore 创建档案表
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*FunctionProfile)}
}

// Get 查找档案
func (s *ProfileStore) Get(name string) (*FunctionProfile, bool) {
	s.mu.RLock()
	p, ok := s.profiles[name]
	s.mu.RUnlock()
	return p, ok
}

// GetOrCreate 查找档案，缺失时惰性创建
func (s *ProfileStore) GetOrCreate(name string) *FunctionProfile {
	s.mu.RLock()
	p, ok := s.profiles[name]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[name]; ok {
		return p
	}
	p = NewFunctionProfile(name)
	s.profiles[name] = p
	return p
}

// Names 所有已剖析的函数名
func (s *ProfileStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	return names
}

// Len 档案数量
func (s *ProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
