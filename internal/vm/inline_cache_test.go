// inline_cache_test.go - 内联缓存状态机测试

package vm

import (
	"fmt"
	"testing"

	"github.com/tangzhangming/lumen/internal/bytecode"
)

// TestICStateTransitions 测试状态演进：1 个目标单态，2-4 个多态，第 5 个超多态
func TestICStateTransitions(t *testing.T) {
	ic := NewInlineCache()
	if ic.State() != ICUninitialized {
		t.Errorf("new cache state = %s, want uninitialized", ic.State())
	}

	ic.Update("a", nil)
	if ic.State() != ICMonomorphic {
		t.Errorf("after 1 target state = %s, want monomorphic", ic.State())
	}

	for i, target := range []string{"b", "c", "d"} {
		ic.Update(target, nil)
		if ic.State() != ICPolymorphic {
			t.Errorf("after %d targets state = %s, want polymorphic", i+2, ic.State())
		}
	}
	if ic.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", ic.Len())
	}

	ic.Update("e", nil)
	if ic.State() != ICMegamorphic {
		t.Errorf("after 5th target state = %s, want megamorphic", ic.State())
	}
	if ic.Len() != 4 {
		t.Errorf("megamorphic cache has %d live entries, want 4", ic.Len())
	}
}

// TestICRepeatedTargetKeepsState 同一目标重复更新不改变状态
func TestICRepeatedTargetKeepsState(t *testing.T) {
	ic := NewInlineCache()
	ic.Update("a", nil)
	ic.Update("a", nil)
	ic.Update("a", nil)
	if ic.State() != ICMonomorphic {
		t.Errorf("state = %s, want monomorphic", ic.State())
	}
	if ic.Len() != 1 {
		t.Errorf("entries = %d, want 1", ic.Len())
	}
}

// TestICEvictsLeastHit 超容量置换命中最少的条目
func TestICEvictsLeastHit(t *testing.T) {
	ic := NewInlineCache()
	for _, target := range []string{"a", "b", "c", "d"} {
		ic.Update(target, nil)
	}
	// a/b/c 各再命中几次，d 保持最少
	for i := 0; i < 3; i++ {
		ic.Lookup("a")
		ic.Lookup("b")
		ic.Lookup("c")
	}

	ic.Update("e", nil)

	for _, e := range ic.Entries() {
		if e.Target == "d" {
			t.Error("least-hit entry d should have been evicted")
		}
	}
	found := false
	for _, e := range ic.Entries() {
		if e.Target == "e" {
			found = true
		}
	}
	if !found {
		t.Error("new entry e should be live after eviction")
	}
}

// TestICScenario 规定场景：目标序列 A B C D E A A
func TestICScenario(t *testing.T) {
	ic := NewInlineCache()

	// 每个目标都按 "查找未命中 -> 全量派发 -> 回填" 的纪律走
	see := func(target string) {
		if _, ok := ic.Lookup(target); !ok {
			ic.Update(target, nil)
		}
	}

	for _, target := range []string{"A", "B", "C", "D", "E", "A", "A"} {
		see(target)
	}

	if ic.State() != ICMegamorphic {
		t.Errorf("final state = %s, want megamorphic", ic.State())
	}
	if ic.Len() != 4 {
		t.Errorf("live entries = %d, want 4", ic.Len())
	}

	var aHits int64 = -1
	dLive := false
	for _, e := range ic.Entries() {
		switch e.Target {
		case "A":
			aHits = e.Hits
		case "D":
			dLive = true
		}
	}
	if aHits != 3 {
		t.Errorf("A accumulated %d hits, want 3", aHits)
	}
	// E 的插入置换掉命中最少且平手中最新的条目 D
	if dLive {
		t.Error("entry D should have been evicted by E")
	}
}

// TestICHitRate 测试命中率边界
func TestICHitRate(t *testing.T) {
	ic := NewInlineCache()
	if rate := ic.HitRate(); rate != 0.0 {
		t.Errorf("hit rate with no calls = %v, want 0", rate)
	}

	// 先回填再查找：只见过一个重复目标且全部经由 Lookup 命中
	ic.Update("only", nil)
	for i := 0; i < 10; i++ {
		if _, ok := ic.Lookup("only"); !ok {
			t.Fatal("expected hit")
		}
	}
	if rate := ic.HitRate(); rate != 1.0 {
		t.Errorf("hit rate = %v, want 1.0", rate)
	}

	ic.Lookup("missing")
	if rate := ic.HitRate(); rate != 10.0/11.0 {
		t.Errorf("hit rate = %v, want %v", rate, 10.0/11.0)
	}
}

// TestICCounters 测试计数器
func TestICCounters(t *testing.T) {
	ic := NewInlineCache()
	ic.Lookup("x") // miss
	ic.Update("x", nil)
	ic.Lookup("x") // hit
	ic.Lookup("x") // hit

	if ic.TotalCalls() != 3 {
		t.Errorf("total calls = %d, want 3", ic.TotalCalls())
	}
	if ic.Misses() != 1 {
		t.Errorf("misses = %d, want 1", ic.Misses())
	}
}

// TestICInvalidateTarget 清除原生入口但保留条目
func TestICInvalidateTarget(t *testing.T) {
	ic := NewInlineCache()
	ic.Update("f", stubEntry{})
	ic.InvalidateTarget("f")

	entry, ok := ic.Lookup("f")
	if !ok {
		t.Fatal("entry should survive invalidation")
	}
	if entry.Native != nil {
		t.Error("native pointer should be cleared")
	}
}

// TestICConcurrentCounters 并发查询不丢计数
func TestICConcurrentCounters(t *testing.T) {
	ic := NewInlineCache()
	ic.Update("t", nil)

	const workers = 8
	const perWorker = 1000
	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < perWorker; i++ {
				ic.Lookup("t")
			}
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}

	if got := ic.TotalCalls(); got != workers*perWorker {
		t.Errorf("total calls = %d, want %d", got, workers*perWorker)
	}
	if ic.Misses() != 0 {
		t.Errorf("misses = %d, want 0", ic.Misses())
	}
}

type stubEntry struct{}

func (stubEntry) Invoke(args []bytecode.Value) (bytecode.Value, error) {
	return bytecode.NullValue, fmt.Errorf("stub")
}
func (stubEntry) ParamCount() int   { return 0 }
func (stubEntry) Signature() string { return "()" }
