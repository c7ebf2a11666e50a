package jit

import (
	"sync"

	"go.uber.org/atomic"
)

// ============================================================================
// On-Stack Replacement (OSR)
//
// 热循环不等下一次调用，迭代数越过注册阈值就请求编译目标层级。
// 基础契约只负责"尽快编译"：检查结果是一次编译请求，
// 不会把控制流从进行中的解释循环里迁出去。
// 真正的栈帧移植需要解释器与编译态之间兼容的安全点协议，
// 属于显式扩展点，不在本契约内
// ============================================================================

// OsrPoint OSR 触发点（声明式注册，注册后只读）
type OsrPoint struct {
	Function   string
	LoopID     int
	TargetTier Tier
	Threshold  int64 // 迭代数阈值
}

// OSRRegistry OSR 触发点注册表
// 一个函数可以注册多个触发点（每个循环一个）
type OSRRegistry struct {
	mu     sync.RWMutex
	points map[string][]OsrPoint

	requests atomic.Int64
}

// NewOSRRegistry 创建注册表
func NewOSRRegistry() *OSRRegistry {
	return &OSRRegistry{points: make(map[string][]OsrPoint)}
}

// Register 注册触发点
func (r *OSRRegistry) Register(p OsrPoint) {
	r.mu.Lock()
	r.points[p.Function] = append(r.points[p.Function], p)
	r.mu.Unlock()
}

// ReplaceAll 批量重注册，替换全部既有触发点
func (r *OSRRegistry) ReplaceAll(points []OsrPoint) {
	next := make(map[string][]OsrPoint)
	for _, p := range points {
		next[p.Function] = append(next[p.Function], p)
	}
	r.mu.Lock()
	r.points = next
	r.mu.Unlock()
}

// Check 检查 (函数, 循环) 在当前迭代数下是否命中某个触发点
// 多个触发点同时命中时返回最高目标层级
func (r *OSRRegistry) Check(fn string, loopID int, iteration int64) (Tier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var target Tier
	hit := false
	for _, p := range r.points[fn] {
		if p.LoopID != loopID || iteration < p.Threshold {
			continue
		}
		if !hit || p.TargetTier > target {
			target = p.TargetTier
			hit = true
		}
	}
	return target, hit
}

// PointsFor 某函数的全部触发点快照
func (r *OSRRegistry) PointsFor(fn string) []OsrPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]OsrPoint, len(r.points[fn]))
	copy(out, r.points[fn])
	return out
}

// RecordRequest 记录一次 OSR 编译请求（统计用）
func (r *OSRRegistry) RecordRequest() {
	r.requests.Inc()
}

// Requests 累计请求数
func (r *OSRRegistry) Requests() int64 {
	return r.requests.Load()
}
