package jit

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/lumen/internal/bytecode"
	"github.com/tangzhangming/lumen/internal/vm"
)

// ErrUndefinedFunction 调用了未注册的函数名
// 对该次调用是致命的，对进程不是
var ErrUndefinedFunction = errors.New("undefined function")

// ErrCompileInFlight 手动编译时守卫已被占据
var ErrCompileInFlight = errors.New("compilation already in flight")

// ============================================================================
// 层级编排器
//
// 持有全部函数档案与已编译入口，决定晋升/反优化，驱动 OSR 检查，
// 并把每次调用路由到解释器或编译代码。
// 不变量：current_tier 及其以下（解释器除外）的每个层级都有在册入口；
// 编译绝不在任何锁内进行
// ============================================================================

type entryKey struct {
	name string
	tier Tier
}

type failKey struct {
	name string
	tier Tier
	sig  string
}

// Engine 自适应执行引擎
type Engine struct {
	cfg      *Config
	logger   *zap.Logger
	compiler Compiler
	interp   *vm.Interpreter

	fnMu sync.RWMutex
	fns  map[string]*bytecode.Function

	profiles *ProfileStore
	osr      *OSRRegistry

	entryMu sync.RWMutex
	entries map[entryKey]*CompiledEntry

	siteMu sync.RWMutex
	sites  map[string]*vm.InlineCache

	// 同一 (函数, 层级, 签名) 的失败不再重试
	failMu sync.Mutex
	failed map[failKey]struct{}

	counters engineCounters
}

// NewEngine 创建引擎
// cfg 为 nil 时使用默认配置；默认后端为闭包编译器、日志为 Nop
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{
		cfg:      cfg,
		logger:   zap.NewNop(),
		compiler: NewClosureCompiler(),
		fns:      make(map[string]*bytecode.Function),
		profiles: NewProfileStore(),
		osr:      NewOSRRegistry(),
		entries:  make(map[entryKey]*CompiledEntry),
		sites:    make(map[string]*vm.InlineCache),
		failed:   make(map[failKey]struct{}),
	}
	e.interp = vm.NewInterpreter(e, e)
	return e
}

// SetLogger 设置日志器
func (e *Engine) SetLogger(logger *zap.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetCompiler 替换原生编译器后端
func (e *Engine) SetCompiler(c Compiler) {
	if c != nil {
		e.compiler = c
	}
}

// ============================================================================
// 注册
// ============================================================================

// LoadFunctions 批量注册函数，同名覆盖既有注册
// 非法描述符被拒绝并聚合返回，合法的照常注册
func (e *Engine) LoadFunctions(fns []*bytecode.Function) error {
	var errs error
	for _, fn := range fns {
		if fn == nil {
			errs = multierr.Append(errs, fmt.Errorf("nil function descriptor"))
			continue
		}
		if err := fn.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reject %q: %w", fn.Name, err))
			continue
		}

		e.fnMu.Lock()
		_, replaced := e.fns[fn.Name]
		e.fns[fn.Name] = fn
		e.fnMu.Unlock()

		if replaced {
			// 新描述符作废旧的编译产物与失败记录，档案计数保留
			e.invalidateEntries(fn.Name)
			e.clearFailed(fn.Name)
			e.logger.Info("function replaced", zap.String("fn", fn.Name))
		}
	}
	return errs
}

// lookupFunction 查描述符
func (e *Engine) lookupFunction(name string) (*bytecode.Function, bool) {
	e.fnMu.RLock()
	fn, ok := e.fns[name]
	e.fnMu.RUnlock()
	return fn, ok
}

// ============================================================================
// 调用派发
// ============================================================================

// CallFunction 执行函数的唯一入口
// 内部选择解释或编译路径；顶层调用没有静态调用点，不经过内联缓存
func (e *Engine) CallFunction(name string, args []bytecode.Value) (bytecode.Value, error) {
	result, _, err := e.dispatch(name, args)
	return result, err
}

// CallFromSite 来自静态调用点的派发（vm.CallHandler）
// 先查调用点的内联缓存；未命中走全量派发后回填
func (e *Engine) CallFromSite(site, callee string, args []bytecode.Value) (bytecode.Value, error) {
	ic := e.siteCache(site)

	if entry, ok := ic.Lookup(callee); ok && entry.Native != nil {
		prof := e.profiles.GetOrCreate(callee)
		prof.RecordCall(bytecode.Signature(args))

		result, err := entry.Native.Invoke(args)
		if err == nil || !errors.Is(err, ErrSignatureMismatch) {
			if err == nil {
				e.counters.nativeCalls.Inc()
			}
			e.maybePromote(callee, prof)
			return result, err
		}
		// 特化守卫失败，本次回退解释执行
		e.counters.interpCalls.Inc()
		fn, ok := e.lookupFunction(callee)
		if !ok {
			return bytecode.NullValue, fmt.Errorf("%w: %q", ErrUndefinedFunction, callee)
		}
		result, err = e.interp.Run(fn, args)
		e.maybePromote(callee, prof)
		return result, err
	}

	result, native, err := e.dispatch(callee, args)
	if errors.Is(err, ErrUndefinedFunction) {
		return result, err
	}
	ic.Update(callee, native)
	return result, err
}

// dispatch 全量派发：查档案、选路径、执行、晋升检查
// 返回本次解析到的原生入口（如果走了编译路径），供内联缓存回填
func (e *Engine) dispatch(name string, args []bytecode.Value) (bytecode.Value, vm.NativeEntry, error) {
	fn, ok := e.lookupFunction(name)
	if !ok {
		return bytecode.NullValue, nil, fmt.Errorf("%w: %q", ErrUndefinedFunction, name)
	}

	prof := e.profiles.GetOrCreate(name)
	prof.RecordCall(bytecode.Signature(args))

	result, native, err := e.execute(fn, prof, args)

	// 调用成败都不影响档案一致性，照常做晋升检查
	e.maybePromote(name, prof)

	return result, native, err
}

// execute 选择执行路径
func (e *Engine) execute(fn *bytecode.Function, prof *FunctionProfile, args []bytecode.Value) (result bytecode.Value, native vm.NativeEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = bytecode.NullValue
			native = nil
			err = vm.NewRuntimeError(fn.Name, "panic: %v", r)
		}
	}()

	tier := prof.Tier()
	if tier > TierInterpreter {
		if entry := e.lookupEntry(fn.Name, tier); entry != nil {
			result, err = entry.Entry.Invoke(args)
			if err == nil {
				e.counters.nativeCalls.Inc()
				return result, entry.Entry, nil
			}
			if !errors.Is(err, ErrSignatureMismatch) {
				return bytecode.NullValue, nil, err
			}
			// 实参形状与特化不符，本次回退解释执行
		}
	}

	e.counters.interpCalls.Inc()
	result, err = e.interp.Run(fn, args)
	return result, nil, err
}

// siteCache 取调用点的内联缓存，惰性创建
func (e *Engine) siteCache(site string) *vm.InlineCache {
	e.siteMu.RLock()
	ic, ok := e.sites[site]
	e.siteMu.RUnlock()
	if ok {
		return ic
	}

	e.siteMu.Lock()
	defer e.siteMu.Unlock()
	if ic, ok := e.sites[site]; ok {
		return ic
	}
	ic = vm.NewInlineCache()
	e.sites[site] = ic
	return ic
}

// CallSiteCache 调用点缓存查询（诊断用），不存在时返回 nil
func (e *Engine) CallSiteCache(site string) *vm.InlineCache {
	e.siteMu.RLock()
	defer e.siteMu.RUnlock()
	return e.sites[site]
}

// ============================================================================
// 晋升
// ============================================================================

// maybePromote 调用后的晋升检查
// 守卫被占、黑名单、阈值未到、签名不可特化，任何一条都直接返回
func (e *Engine) maybePromote(name string, prof *FunctionProfile) {
	if !e.cfg.Enabled || prof.Blacklisted() {
		return
	}

	var target Tier
	switch prof.Tier() {
	case TierInterpreter:
		if prof.ExecutionCount() < e.cfg.BaselineThreshold {
			return
		}
		target = TierBaseline
	case TierBaseline:
		if prof.ExecutionCount() < e.cfg.OptimizingThreshold {
			return
		}
		// 有循环的函数要求回边证据，避免只靠调用次数过度投机
		fn, ok := e.lookupFunction(name)
		if !ok {
			return
		}
		if fn.HasLoops() && prof.MaxLoopIteration() < e.cfg.HotLoopThreshold {
			return
		}
		target = TierOptimizing
	default:
		return
	}

	e.tryCompile(name, prof, target)
}

// tryCompile 占据守卫并编译到目标层级
// 观察到守卫被占的线程直接跳过，不阻塞等待
func (e *Engine) tryCompile(name string, prof *FunctionProfile, target Tier) {
	fn, ok := e.lookupFunction(name)
	if !ok {
		return
	}

	sig := prof.DominantTypePattern()
	if !bytecode.SignatureSpecializable(sig) {
		return
	}
	if e.failedBefore(name, target, sig) {
		return
	}

	if !prof.TryBeginCompile() {
		return
	}

	if e.cfg.AsyncCompile {
		go e.compileAndInstall(fn, prof, target, sig)
	} else {
		e.compileAndInstall(fn, prof, target, sig)
	}
}

// compileAndInstall 调用原生编译器并安装结果
// 编译在守卫保护下进行但不持有任何锁；失败只记日志，层级不变
func (e *Engine) compileAndInstall(fn *bytecode.Function, prof *FunctionProfile, target Tier, sig string) {
	defer prof.EndCompile()

	entry, err := e.compiler.Compile(fn, target, sig)
	if err != nil {
		e.counters.compileFailures.Inc()
		e.markFailed(fn.Name, target, sig)
		e.logger.Warn("compilation failed",
			zap.String("fn", fn.Name),
			zap.String("tier", target.String()),
			zap.String("sig", sig),
			zap.Error(err))
		return
	}

	ce := &CompiledEntry{
		Name:       fn.Name,
		Tier:       target,
		Entry:      entry,
		ParamCount: fn.Arity(),
		Signature:  sig,
	}

	if !e.installEntry(fn, prof, ce) {
		// 编译期间发生了反优化、拉黑或描述符替换，结果作废
		e.logger.Info("compilation discarded",
			zap.String("fn", fn.Name),
			zap.String("tier", target.String()),
			zap.String("sig", sig))
		return
	}
	e.counters.compiled.Inc()

	e.logger.Info("function promoted",
		zap.String("fn", fn.Name),
		zap.String("tier", target.String()),
		zap.String("sig", sig))
}

// installEntry 在入口锁内复核编排状态并安装编译结果
// 层级转换统一在入口锁临界区内完成，与反优化/重注册互斥；
// 先安装入口再抬层级，保证层级永远不指向没有入口的层。
// 编译期间描述符被替换、函数被拉黑或层级已经移动时返回 false，结果丢弃
func (e *Engine) installEntry(fn *bytecode.Function, prof *FunctionProfile, ce *CompiledEntry) bool {
	e.fnMu.RLock()
	defer e.fnMu.RUnlock()
	if e.fns[fn.Name] != fn {
		return false
	}

	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	if prof.Blacklisted() || prof.Tier() != ce.Tier-1 {
		return false
	}
	e.entries[entryKey{fn.Name, ce.Tier}] = ce
	prof.setTier(ce.Tier)
	return true
}

// CompileFunction 手动晋升，绕过阈值检查（工具/测试用）
// 与自动晋升不同，这里把编译失败原样返回给调用方
func (e *Engine) CompileFunction(name string) error {
	fn, ok := e.lookupFunction(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUndefinedFunction, name)
	}

	prof := e.profiles.GetOrCreate(name)
	if prof.Blacklisted() {
		return fmt.Errorf("function %q is blacklisted", name)
	}

	tier := prof.Tier()
	if tier >= TierOptimizing {
		return nil
	}
	target := tier + 1

	sig := prof.DominantTypePattern()
	if sig == "" {
		sig = e.hintSignature(fn)
	}

	if !prof.TryBeginCompile() {
		return ErrCompileInFlight
	}
	defer prof.EndCompile()

	entry, err := e.compiler.Compile(fn, target, sig)
	if err != nil {
		e.counters.compileFailures.Inc()
		return err
	}

	ce := &CompiledEntry{
		Name:       name,
		Tier:       target,
		Entry:      entry,
		ParamCount: fn.Arity(),
		Signature:  sig,
	}
	if !e.installEntry(fn, prof, ce) {
		return fmt.Errorf("compilation of %q discarded: engine state changed during compile", name)
	}
	e.counters.compiled.Inc()
	e.logger.Info("function promoted manually",
		zap.String("fn", name), zap.String("tier", target.String()))
	return nil
}

// hintSignature 没有任何观测时退而使用检查器标注，再不行默认全 int
func (e *Engine) hintSignature(fn *bytecode.Function) string {
	if len(fn.Params) == 0 {
		return "()"
	}
	if len(fn.ParamTypes) == len(fn.Params) {
		sig := ""
		for i, t := range fn.ParamTypes {
			if i > 0 {
				sig += ","
			}
			sig += t
		}
		return sig
	}
	sig := "int"
	for i := 1; i < len(fn.Params); i++ {
		sig += ",int"
	}
	return sig
}

// ============================================================================
// 反优化
// ============================================================================

// Deoptimize 外部触发的反优化：降一层，作废被放弃层级的入口
// 解释器层没有更低层，按无操作处理
// 对 call_function 的调用方静默，只影响后续性能
func (e *Engine) Deoptimize(name, reason string) error {
	prof, ok := e.profiles.Get(name)
	if !ok {
		if _, registered := e.lookupFunction(name); !registered {
			return fmt.Errorf("%w: %q", ErrUndefinedFunction, name)
		}
		return nil
	}

	// 入口删除与降层在同一临界区内完成，与在途编译的安装互斥
	e.entryMu.Lock()
	tier := prof.Tier()
	if tier == TierInterpreter {
		e.entryMu.Unlock()
		return nil
	}
	next := tier - 1
	delete(e.entries, entryKey{name, tier})
	prof.setTier(next)
	e.entryMu.Unlock()

	e.counters.deopts.Inc()
	e.sweepSites(name)

	e.logger.Info("function deoptimized",
		zap.String("fn", name),
		zap.String("from", tier.String()),
		zap.String("to", next.String()),
		zap.String("reason", reason))

	if prof.recordDeopt(e.cfg.MaxDeopts) {
		e.counters.blacklisted.Inc()
		e.logger.Warn("function blacklisted after repeated deoptimization",
			zap.String("fn", name),
			zap.Int64("deopts", prof.DeoptCount()))
	}
	return nil
}

// sweepSites 清除所有调用点缓存中指向该函数的原生入口
// 下一次全量派发会用当前层级的入口回填
func (e *Engine) sweepSites(name string) {
	e.siteMu.RLock()
	defer e.siteMu.RUnlock()
	for _, ic := range e.sites {
		ic.InvalidateTarget(name)
	}
}

// invalidateEntries 作废函数的全部已编译入口并落回解释器层（描述符被替换时）
func (e *Engine) invalidateEntries(name string) {
	e.entryMu.Lock()
	for t := TierBaseline; t <= TierOptimizing; t++ {
		delete(e.entries, entryKey{name, t})
	}
	if p, ok := e.profiles.Get(name); ok {
		p.setTier(TierInterpreter)
	}
	e.entryMu.Unlock()
	e.sweepSites(name)
}

// lookupEntry 查某层级的已编译入口
func (e *Engine) lookupEntry(name string, tier Tier) *CompiledEntry {
	e.entryMu.RLock()
	defer e.entryMu.RUnlock()
	return e.entries[entryKey{name, tier}]
}

// HasEntry 某层级是否有在册入口（诊断/测试用）
func (e *Engine) HasEntry(name string, tier Tier) bool {
	return e.lookupEntry(name, tier) != nil
}

// ============================================================================
// 编译失败登记
// ============================================================================

func (e *Engine) markFailed(name string, tier Tier, sig string) {
	e.failMu.Lock()
	e.failed[failKey{name, tier, sig}] = struct{}{}
	e.failMu.Unlock()
}

func (e *Engine) failedBefore(name string, tier Tier, sig string) bool {
	e.failMu.Lock()
	_, ok := e.failed[failKey{name, tier, sig}]
	e.failMu.Unlock()
	return ok
}

func (e *Engine) clearFailed(name string) {
	e.failMu.Lock()
	for k := range e.failed {
		if k.name == name {
			delete(e.failed, k)
		}
	}
	e.failMu.Unlock()
}

// ============================================================================
// OSR
// ============================================================================

// RegisterOSRPoint 注册 OSR 触发点
func (e *Engine) RegisterOSRPoint(p OsrPoint) {
	e.osr.Register(p)
}

// ReplaceOSRPoints 批量重注册
func (e *Engine) ReplaceOSRPoints(points []OsrPoint) {
	e.osr.ReplaceAll(points)
}

// CheckOSR 查询 (函数, 循环, 迭代数) 是否命中触发点
func (e *Engine) CheckOSR(fn string, loopID int, iteration int64) (Tier, bool) {
	return e.osr.Check(fn, loopID, iteration)
}

// RecordLoopIteration 解释器回边钩子（vm.Hooks）
// 短临界区内递增计数，命中 OSR 点时请求后台编译；
// 本契约不迁移进行中的解释循环，循环在解释器里跑完
func (e *Engine) RecordLoopIteration(fn string, loopID int) {
	prof := e.profiles.GetOrCreate(fn)
	n := prof.RecordLoopIteration(loopID)

	if !e.cfg.Enabled {
		return
	}
	target, hit := e.osr.Check(fn, loopID, n)
	if !hit || prof.Blacklisted() {
		return
	}

	tier := prof.Tier()
	if tier >= target {
		return
	}

	// 逐层抬升：直达层级会破坏"以下每层都有入口"的不变量
	step := tier + 1

	fnDesc, ok := e.lookupFunction(fn)
	if !ok {
		return
	}
	sig := prof.DominantTypePattern()
	if !bytecode.SignatureSpecializable(sig) {
		return
	}
	if e.failedBefore(fn, step, sig) {
		return
	}
	if !prof.TryBeginCompile() {
		return
	}

	e.osr.RecordRequest()
	// 回边钩子不许阻塞解释线程，OSR 编译始终在后台进行
	go e.compileAndInstall(fnDesc, prof, step, sig)
}

// ============================================================================
// 诊断查询
// ============================================================================

// IsJitted 函数当前是否有编译层级在用
func (e *Engine) IsJitted(name string) bool {
	prof, ok := e.profiles.Get(name)
	if !ok {
		return false
	}
	return prof.Tier() > TierInterpreter
}

// GetFunctionTier 查询当前层级
func (e *Engine) GetFunctionTier(name string) (Tier, bool) {
	prof, ok := e.profiles.Get(name)
	if !ok {
		if _, registered := e.lookupFunction(name); registered {
			return TierInterpreter, true
		}
		return TierInterpreter, false
	}
	return prof.Tier(), true
}

// GetFunctionStats 单个函数的诊断快照
func (e *Engine) GetFunctionStats(name string) (FunctionStats, error) {
	prof, ok := e.profiles.Get(name)
	if !ok {
		if _, registered := e.lookupFunction(name); registered {
			return FunctionStats{Name: name, CurrentTier: TierInterpreter.String()}, nil
		}
		return FunctionStats{}, fmt.Errorf("%w: %q", ErrUndefinedFunction, name)
	}
	return FunctionStats{
		Name:                name,
		ExecutionCount:      prof.ExecutionCount(),
		CurrentTier:         prof.Tier().String(),
		HotLoopCount:        prof.HotLoopCount(e.cfg.HotLoopThreshold),
		HotPathScore:        prof.HotPathScore(),
		DeoptCount:          prof.DeoptCount(),
		Blacklisted:         prof.Blacklisted(),
		DominantTypePattern: prof.DominantTypePattern(),
	}, nil
}

// GetAllStats 全部函数的诊断快照，按热路径评分降序
func (e *Engine) GetAllStats() []FunctionStats {
	names := e.profiles.Names()
	stats := make([]FunctionStats, 0, len(names))
	for _, name := range names {
		if fs, err := e.GetFunctionStats(name); err == nil {
			stats = append(stats, fs)
		}
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].HotPathScore != stats[j].HotPathScore {
			return stats[i].HotPathScore > stats[j].HotPathScore
		}
		return stats[i].Name < stats[j].Name
	})
	return stats
}

// GetEngineStats 引擎级诊断快照
func (e *Engine) GetEngineStats() EngineStats {
	return EngineStats{
		Functions:       e.profiles.Len(),
		InterpCalls:     e.counters.interpCalls.Load(),
		NativeCalls:     e.counters.nativeCalls.Load(),
		Compiled:        e.counters.compiled.Load(),
		CompileFailures: e.counters.compileFailures.Load(),
		Deopts:          e.counters.deopts.Load(),
		Blacklisted:     e.counters.blacklisted.Load(),
		OSRRequests:     e.osr.Requests(),
	}
}
