package jit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tangzhangming/lumen/internal/bytecode"
	"github.com/tangzhangming/lumen/internal/vm"
)

// ============================================================================
// 原生编译器契约与闭包后端参考实现
//
// 契约要求对同一 (描述符, 签名) 确定产出、无副作用。
// 参考实现不产出机器码，而是把指令序列翻译为去装箱的特化闭包：
// 基线层做直译，优化层额外识别循环模板、消除逐条派发。
// 真正的机器码后端实现同一接口即可替换。
//
// 前置假设：描述符由前端静态检查产出。int/float 形态以 0/1 表示
// 布尔中间值，条件位置不做运行期类型复查，检查器放行不了的
// 非布尔条件（解释器会报错的那类）在编译形态下按 0/非 0 求值
// ============================================================================

// ErrNotSpecializable 该描述符/签名无法特化
// 可恢复的编译失败：函数留在当前层级继续解释执行
var ErrNotSpecializable = errors.New("function cannot be specialized")

// ErrUnresolvedGeneric 签名中残留未解析的类型变量
// 这是上游管线缺陷，不是运行时可恢复的状态，单独成类便于区分
var ErrUnresolvedGeneric = errors.New("unresolved generic type reached the compiler")

// CompileError 编译失败详情
type CompileError struct {
	Fn   string
	Tier Tier
	Sig  string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s [%s] sig=%q: %v", e.Fn, e.Tier, e.Sig, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Compiler 原生编译器协作方
// 对编排器而言是黑盒：给定描述符与具体签名，产出原生入口或失败
type Compiler interface {
	Compile(fn *bytecode.Function, tier Tier, sig string) (vm.NativeEntry, error)
}

// ClosureCompiler 闭包后端
type ClosureCompiler struct{}

// NewClosureCompiler 创建闭包后端
func NewClosureCompiler() *ClosureCompiler {
	return &ClosureCompiler{}
}

// Compile 编译函数
func (c *ClosureCompiler) Compile(fn *bytecode.Function, tier Tier, sig string) (vm.NativeEntry, error) {
	fail := func(err error) (vm.NativeEntry, error) {
		return nil, &CompileError{Fn: fn.Name, Tier: tier, Sig: sig, Err: err}
	}

	if fn.HasUnresolvedTypes() || strings.Contains(sig, bytecode.UnresolvedPrefix) {
		return fail(ErrUnresolvedGeneric)
	}
	if tier == TierInterpreter {
		return fail(fmt.Errorf("%w: interpreter tier needs no entry", ErrNotSpecializable))
	}
	if !bytecode.SignatureSpecializable(sig) {
		return fail(fmt.Errorf("%w: signature %q", ErrNotSpecializable, sig))
	}
	kinds := bytecode.SignatureKinds(sig)
	if len(kinds) != len(fn.Params) {
		return fail(fmt.Errorf("%w: signature has %d kinds for %d params", ErrNotSpecializable, len(kinds), len(fn.Params)))
	}

	optimizing := tier >= TierOptimizing

	switch {
	case bytecode.UniformSignature(sig, "int"):
		run, err := compileInt(fn, optimizing)
		if err != nil {
			return fail(err)
		}
		return &nativeEntry{
			name: fn.Name, sig: sig, params: len(fn.Params),
			kind: entryAllInt, intFn: run,
		}, nil

	case bytecode.UniformSignature(sig, "float"):
		run, err := compileFloat(fn)
		if err != nil {
			return fail(err)
		}
		return &nativeEntry{
			name: fn.Name, sig: sig, params: len(fn.Params),
			kind: entryAllFloat, floatFn: run,
		}, nil

	default:
		// 混合标量签名只在优化层以装箱形态编译，基线层不值得
		if !optimizing {
			return fail(fmt.Errorf("%w: mixed signature %q below optimizing tier", ErrNotSpecializable, sig))
		}
		run, err := compileBoxed(fn)
		if err != nil {
			return fail(err)
		}
		return &nativeEntry{
			name: fn.Name, sig: sig, params: len(fn.Params),
			kind: entryBoxed, boxedFn: run,
		}, nil
	}
}

// ============================================================================
// 全 int 直译
// ============================================================================

// compileInt 翻译为 int64 上的特化闭包
// 布尔中间值以 0/1 表示；含调用或非整型常量的函数拒绝编译
func compileInt(fn *bytecode.Function, optimizing bool) (func(args []int64) (int64, error), error) {
	consts := make([]int64, len(fn.Consts))
	for i, cv := range fn.Consts {
		switch cv.Type {
		case bytecode.ValInt:
			consts[i] = cv.Data.(int64)
		case bytecode.ValBool:
			if cv.Data.(bool) {
				consts[i] = 1
			}
		default:
			return nil, fmt.Errorf("%w: const %d is %s", ErrNotSpecializable, i, cv.Type.TypeName())
		}
	}
	for pc, ins := range fn.Code {
		if ins.Op == bytecode.OpCall {
			return nil, fmt.Errorf("%w: call at pc %d", ErrNotSpecializable, pc)
		}
	}

	var templates map[int]*intLoopTemplate
	if optimizing {
		templates = findIntLoopTemplates(fn, consts)
	}

	code := fn.Code
	maxLocals := fn.MaxLocals
	name := fn.Name

	return func(args []int64) (int64, error) {
		locals := make([]int64, maxLocals)
		stack := make([]int64, 0, 16)

		pc := 0
		for pc < len(code) {
			if tpl, ok := templates[pc]; ok {
				if tpl.run(locals, args) {
					pc = tpl.exit
					continue
				}
				// 运行期形状不满足（步长非正等），逐条执行
			}

			ins := code[pc]
			switch ins.Op {
			case bytecode.OpConst:
				stack = append(stack, consts[ins.A])
			case bytecode.OpLoadParam:
				stack = append(stack, args[ins.A])
			case bytecode.OpLoadLocal:
				stack = append(stack, locals[ins.A])
			case bytecode.OpStoreLocal:
				locals[ins.A] = stack[len(stack)-1]
				stack = stack[:len(stack)-1]

			case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
				bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
				b := stack[len(stack)-1]
				a := stack[len(stack)-2]
				stack = stack[:len(stack)-1]
				var r int64
				switch ins.Op {
				case bytecode.OpAdd:
					r = a + b
				case bytecode.OpSub:
					r = a - b
				case bytecode.OpMul:
					r = a * b
				case bytecode.OpDiv:
					if b == 0 {
						return 0, vm.NewRuntimeError(name, "integer division by zero")
					}
					r = a / b
				case bytecode.OpMod:
					if b == 0 {
						return 0, vm.NewRuntimeError(name, "integer modulo by zero")
					}
					r = a % b
				case bytecode.OpEq:
					r = boolToInt(a == b)
				case bytecode.OpNe:
					r = boolToInt(a != b)
				case bytecode.OpLt:
					r = boolToInt(a < b)
				case bytecode.OpLe:
					r = boolToInt(a <= b)
				case bytecode.OpGt:
					r = boolToInt(a > b)
				case bytecode.OpGe:
					r = boolToInt(a >= b)
				}
				stack[len(stack)-1] = r

			case bytecode.OpNeg:
				stack[len(stack)-1] = -stack[len(stack)-1]
			case bytecode.OpNot:
				stack[len(stack)-1] = boolToInt(stack[len(stack)-1] == 0)

			case bytecode.OpJump:
				pc = ins.A
				continue
			case bytecode.OpJumpIfFalse:
				cond := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if cond == 0 {
					pc = ins.A
					continue
				}
			case bytecode.OpLoopBack:
				// 编译代码不带剖析钩子
				pc = ins.A
				continue

			case bytecode.OpPop:
				stack = stack[:len(stack)-1]
			case bytecode.OpReturn:
				if len(stack) == 0 {
					// 解释器此时返回 null，int 形态表达不了，弹回解释器
					return 0, ErrSignatureMismatch
				}
				return stack[len(stack)-1], nil
			}
			pc++
		}
		// 顺序越过末尾同理
		return 0, ErrSignatureMismatch
	}, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// 优化层循环模板
//
// 识别规范形状的计数/累加循环，整个循环在原生 Go 循环里一次跑完，
// 去掉每次迭代的指令派发。识别不了的循环退回直译，不影响正确性
// ============================================================================

type intOperandSrc byte

const (
	srcConst intOperandSrc = iota
	srcParam
	srcLocal
)

type intOperand struct {
	src intOperandSrc
	idx int
	val int64 // srcConst 时直接持有值
}

func (o intOperand) resolve(locals, args []int64) int64 {
	switch o.src {
	case srcParam:
		return args[o.idx]
	case srcLocal:
		return locals[o.idx]
	default:
		return o.val
	}
}

type intLoopKind byte

const (
	loopCounter intLoopKind = iota // while (i < limit) { i += step }
	loopSum                        // while (i < limit) { acc += i; i += step }
)

// intLoopTemplate 已识别的循环，head 为循环头 pc，exit 为出口 pc
type intLoopTemplate struct {
	kind      intLoopKind
	head      int
	exit      int
	iReg      int
	accReg    int
	limit     intOperand
	step      int64
	inclusive bool // Le 形态
}

// run 一次跑完整个循环，返回 false 表示形状不满足需逐条执行
func (t *intLoopTemplate) run(locals, args []int64) bool {
	if t.step <= 0 {
		return false
	}
	i := locals[t.iReg]
	limit := t.limit.resolve(locals, args)

	switch t.kind {
	case loopCounter:
		if t.inclusive {
			for i <= limit {
				i += t.step
			}
		} else {
			for i < limit {
				i += t.step
			}
		}
	case loopSum:
		acc := locals[t.accReg]
		if t.inclusive {
			for i <= limit {
				acc += i
				i += t.step
			}
		} else {
			for i < limit {
				acc += i
				i += t.step
			}
		}
		locals[t.accReg] = acc
	}
	locals[t.iReg] = i
	return true
}

// findIntLoopTemplates 扫描回边，按规范形状匹配模板
func findIntLoopTemplates(fn *bytecode.Function, consts []int64) map[int]*intLoopTemplate {
	templates := make(map[int]*intLoopTemplate)
	code := fn.Code

	for backedge, ins := range code {
		if ins.Op != bytecode.OpLoopBack {
			continue
		}
		head := ins.A
		if tpl := matchIntLoop(code, consts, head, backedge); tpl != nil {
			templates[head] = tpl
		}
	}
	return templates
}

func matchIntLoop(code []bytecode.Instruction, consts []int64, head, backedge int) *intLoopTemplate {
	// 条件：LoadLocal i; <limit>; Lt|Le; JumpIfFalse exit
	if backedge-head < 8 || head+3 >= len(code) {
		return nil
	}
	if code[head].Op != bytecode.OpLoadLocal {
		return nil
	}
	iReg := code[head].A

	limit, ok := matchIntOperand(code[head+1], consts)
	if !ok {
		return nil
	}

	var inclusive bool
	switch code[head+2].Op {
	case bytecode.OpLt:
		inclusive = false
	case bytecode.OpLe:
		inclusive = true
	default:
		return nil
	}

	if code[head+3].Op != bytecode.OpJumpIfFalse || code[head+3].A != backedge+1 {
		return nil
	}

	tpl := &intLoopTemplate{
		head:      head,
		exit:      backedge + 1,
		iReg:      iReg,
		limit:     limit,
		inclusive: inclusive,
	}

	// 形态一：纯计数，body = LoadLocal i; Const s; Add; StoreLocal i
	if backedge == head+8 &&
		matchIncrement(code[head+4:head+8], consts, iReg, &tpl.step) {
		tpl.kind = loopCounter
		return tpl
	}

	// 形态二：累加，body = LoadLocal acc; LoadLocal i; Add; StoreLocal acc; 再接形态一的递增
	// 边界与累加器同名时边界随迭代变化，模板的一次求值会改变终止行为，拒绝匹配
	if backedge == head+12 &&
		code[head+4].Op == bytecode.OpLoadLocal &&
		code[head+5].Op == bytecode.OpLoadLocal && code[head+5].A == iReg &&
		code[head+6].Op == bytecode.OpAdd &&
		code[head+7].Op == bytecode.OpStoreLocal && code[head+7].A == code[head+4].A &&
		code[head+4].A != iReg &&
		!(limit.src == srcLocal && limit.idx == code[head+4].A) &&
		matchIncrement(code[head+8:head+12], consts, iReg, &tpl.step) {
		tpl.kind = loopSum
		tpl.accReg = code[head+4].A
		return tpl
	}

	return nil
}

func matchIntOperand(ins bytecode.Instruction, consts []int64) (intOperand, bool) {
	switch ins.Op {
	case bytecode.OpConst:
		return intOperand{src: srcConst, val: consts[ins.A]}, true
	case bytecode.OpLoadParam:
		return intOperand{src: srcParam, idx: ins.A}, true
	case bytecode.OpLoadLocal:
		return intOperand{src: srcLocal, idx: ins.A}, true
	default:
		return intOperand{}, false
	}
}

// matchIncrement 匹配 LoadLocal i; Const s; Add; StoreLocal i
func matchIncrement(body []bytecode.Instruction, consts []int64, iReg int, step *int64) bool {
	if len(body) != 4 {
		return false
	}
	if body[0].Op != bytecode.OpLoadLocal || body[0].A != iReg {
		return false
	}
	if body[1].Op != bytecode.OpConst {
		return false
	}
	if body[2].Op != bytecode.OpAdd {
		return false
	}
	if body[3].Op != bytecode.OpStoreLocal || body[3].A != iReg {
		return false
	}
	*step = consts[body[1].A]
	return true
}

// ============================================================================
// 全 float 直译
// ============================================================================

// compileFloat float64 上的特化闭包，布尔中间值以 0/1 表示
// 整型常量提升为 float；不做循环模板（浮点累加顺序敏感）
func compileFloat(fn *bytecode.Function) (func(args []float64) (float64, error), error) {
	consts := make([]float64, len(fn.Consts))
	for i, cv := range fn.Consts {
		switch cv.Type {
		case bytecode.ValFloat:
			consts[i] = cv.Data.(float64)
		case bytecode.ValInt:
			consts[i] = float64(cv.Data.(int64))
		case bytecode.ValBool:
			if cv.Data.(bool) {
				consts[i] = 1
			}
		default:
			return nil, fmt.Errorf("%w: const %d is %s", ErrNotSpecializable, i, cv.Type.TypeName())
		}
	}
	for pc, ins := range fn.Code {
		switch ins.Op {
		case bytecode.OpCall:
			return nil, fmt.Errorf("%w: call at pc %d", ErrNotSpecializable, pc)
		case bytecode.OpMod:
			return nil, fmt.Errorf("%w: integer modulo at pc %d", ErrNotSpecializable, pc)
		}
	}

	code := fn.Code
	maxLocals := fn.MaxLocals
	name := fn.Name

	return func(args []float64) (float64, error) {
		locals := make([]float64, maxLocals)
		stack := make([]float64, 0, 16)

		pc := 0
		for pc < len(code) {
			ins := code[pc]
			switch ins.Op {
			case bytecode.OpConst:
				stack = append(stack, consts[ins.A])
			case bytecode.OpLoadParam:
				stack = append(stack, args[ins.A])
			case bytecode.OpLoadLocal:
				stack = append(stack, locals[ins.A])
			case bytecode.OpStoreLocal:
				locals[ins.A] = stack[len(stack)-1]
				stack = stack[:len(stack)-1]

			case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
				bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
				b := stack[len(stack)-1]
				a := stack[len(stack)-2]
				stack = stack[:len(stack)-1]
				var r float64
				switch ins.Op {
				case bytecode.OpAdd:
					r = a + b
				case bytecode.OpSub:
					r = a - b
				case bytecode.OpMul:
					r = a * b
				case bytecode.OpDiv:
					if b == 0 {
						return 0, vm.NewRuntimeError(name, "float division by zero")
					}
					r = a / b
				case bytecode.OpEq:
					r = floatBool(a == b)
				case bytecode.OpNe:
					r = floatBool(a != b)
				case bytecode.OpLt:
					r = floatBool(a < b)
				case bytecode.OpLe:
					r = floatBool(a <= b)
				case bytecode.OpGt:
					r = floatBool(a > b)
				case bytecode.OpGe:
					r = floatBool(a >= b)
				}
				stack[len(stack)-1] = r

			case bytecode.OpNeg:
				stack[len(stack)-1] = -stack[len(stack)-1]
			case bytecode.OpNot:
				stack[len(stack)-1] = floatBool(stack[len(stack)-1] == 0)

			case bytecode.OpJump:
				pc = ins.A
				continue
			case bytecode.OpJumpIfFalse:
				cond := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if cond == 0 {
					pc = ins.A
					continue
				}
			case bytecode.OpLoopBack:
				pc = ins.A
				continue

			case bytecode.OpPop:
				stack = stack[:len(stack)-1]
			case bytecode.OpReturn:
				if len(stack) == 0 {
					return 0, ErrSignatureMismatch
				}
				return stack[len(stack)-1], nil
			}
			pc++
		}
		return 0, ErrSignatureMismatch
	}, nil
}

func floatBool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// 装箱直译（混合标量签名）
// ============================================================================

// compileBoxed 装箱形态：与解释器同语义但不带剖析钩子、不做调用派发
func compileBoxed(fn *bytecode.Function) (func(args []bytecode.Value) (bytecode.Value, error), error) {
	if fn.HasCalls() {
		return nil, fmt.Errorf("%w: boxed form cannot dispatch calls", ErrNotSpecializable)
	}

	evaluator := vm.NewInterpreter(nil, nil)
	return func(args []bytecode.Value) (bytecode.Value, error) {
		return evaluator.Run(fn, args)
	}, nil
}
