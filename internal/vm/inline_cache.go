package vm

import (
	"sync"

	"go.uber.org/atomic"
)

// ============================================================================
// 内联缓存 (Inline Cache)
//
// 每个静态调用点持有一个缓存，记录最近解析过的调用目标，
// 避免重复的全量派发。状态单调演进：
// Uninitialized -> Monomorphic -> Polymorphic -> Megamorphic
// ============================================================================

// ICState 内联缓存状态
type ICState byte

const (
	ICUninitialized ICState = iota // 尚未见过任何目标
	ICMonomorphic                  // 只见过一个目标
	ICPolymorphic                  // 2-4 个目标
	ICMegamorphic                  // 超过容量，按最少命中逐出置换
)

func (s ICState) String() string {
	switch s {
	case ICUninitialized:
		return "uninitialized"
	case ICMonomorphic:
		return "monomorphic"
	case ICPolymorphic:
		return "polymorphic"
	case ICMegamorphic:
		return "megamorphic"
	default:
		return "unknown"
	}
}

// MaxCacheEntries 缓存容量
// 进入 megamorphic 之后条目数也不会超过它，超出部分靠置换解决
const MaxCacheEntries = 4

// ICEntry 缓存条目
type ICEntry struct {
	Target string      // 解析到的被调函数名
	Native NativeEntry // 原生入口，可能为 nil（仅解释执行）
	Hits   int64       // 命中次数（安装条目的那次解析计为首次命中）
}

// InlineCache 调用点内联缓存
type InlineCache struct {
	mu      sync.Mutex
	state   ICState
	entries []ICEntry

	total  atomic.Int64 // 经由 Lookup 的总查询数
	misses atomic.Int64
}

// NewInlineCache 创建内联缓存
func NewInlineCache() *InlineCache {
	return &InlineCache{
		entries: make([]ICEntry, 0, MaxCacheEntries),
	}
}

// Lookup 查找目标
// 命中返回条目快照；未命中时调用方执行全量派发后必须调用 Update
func (ic *InlineCache) Lookup(target string) (ICEntry, bool) {
	ic.total.Inc()

	ic.mu.Lock()
	for i := range ic.entries {
		if ic.entries[i].Target == target {
			ic.entries[i].Hits++
			e := ic.entries[i]
			ic.mu.Unlock()
			return e, true
		}
	}
	ic.mu.Unlock()

	ic.misses.Inc()
	return ICEntry{}, false
}

// Update 记录一次全量派发的解析结果
// 已存在的目标只刷新原生入口；新目标追加，容量满时逐出命中最少的条目
func (ic *InlineCache) Update(target string, native NativeEntry) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	for i := range ic.entries {
		if ic.entries[i].Target == target {
			if native != nil {
				ic.entries[i].Native = native
			}
			return
		}
	}

	entry := ICEntry{Target: target, Native: native, Hits: 1}

	if len(ic.entries) < MaxCacheEntries {
		ic.entries = append(ic.entries, entry)
		if len(ic.entries) == 1 {
			ic.state = ICMonomorphic
		} else {
			ic.state = ICPolymorphic
		}
		return
	}

	// 第 5 个不同目标：进入 megamorphic，置换命中最少的条目
	// 平手时偏向逐出较新的条目，老条目已经证明过价值
	victim := 0
	for i := 1; i < len(ic.entries); i++ {
		if ic.entries[i].Hits <= ic.entries[victim].Hits {
			victim = i
		}
	}
	ic.entries[victim] = entry
	ic.state = ICMegamorphic
}

// InvalidateTarget 清除指定目标的原生入口
// 目标函数反优化后由编排器调用，条目本身保留
func (ic *InlineCache) InvalidateTarget(target string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	for i := range ic.entries {
		if ic.entries[i].Target == target {
			ic.entries[i].Native = nil
		}
	}
}

// State 当前状态
func (ic *InlineCache) State() ICState {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.state
}

// Len 当前条目数
func (ic *InlineCache) Len() int {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return len(ic.entries)
}

// Entries 条目快照
func (ic *InlineCache) Entries() []ICEntry {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	out := make([]ICEntry, len(ic.entries))
	copy(out, ic.entries)
	return out
}

// TotalCalls 总查询数
func (ic *InlineCache) TotalCalls() int64 {
	return ic.total.Load()
}

// Misses 未命中数
func (ic *InlineCache) Misses() int64 {
	return ic.misses.Load()
}

// HitRate 命中率，没有任何查询时为 0
func (ic *InlineCache) HitRate() float64 {
	total := ic.total.Load()
	if total == 0 {
		return 0.0
	}
	return float64(total-ic.misses.Load()) / float64(total)
}
