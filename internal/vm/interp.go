package vm

import (
	"fmt"

	"github.com/tangzhangming/lumen/internal/bytecode"
)

// ============================================================================
// 剖析解释器
//
// 解释器与编排器互相依赖（回边剖析回调 / 调用派发），
// 通过在本包定义窄接口打破循环导入，编排器实现这些接口
// ============================================================================

// Hooks 解释器向编排器回调的剖析接口
type Hooks interface {
	// RecordLoopIteration 在每条循环回边执行后调用
	// 实现方在短临界区内递增计数并做 OSR 检查，不得阻塞解释线程
	RecordLoopIteration(fn string, loopID int)
}

// CallHandler 调用指令的派发接口
// site 是静态调用点的稳定键（"函数名:pc"），派发方按点维护内联缓存
type CallHandler interface {
	CallFromSite(site, callee string, args []bytecode.Value) (bytecode.Value, error)
}

// NativeEntry 已编译代码的能力对象
// 参数封送与 ABI 细节隔离在原生编译器内部，这里只暴露安全的调用面
type NativeEntry interface {
	Invoke(args []bytecode.Value) (bytecode.Value, error)
	ParamCount() int
	Signature() string
}

// Interpreter 剖析解释器
// 直接执行函数体，同时向编排器上报剖析数据
type Interpreter struct {
	hooks Hooks
	calls CallHandler
}

// NewInterpreter 创建解释器
// hooks 与 calls 均可为 nil（纯求值模式，测试用）
func NewInterpreter(hooks Hooks, calls CallHandler) *Interpreter {
	return &Interpreter{hooks: hooks, calls: calls}
}

// Run 解释执行一个函数体
func (it *Interpreter) Run(fn *bytecode.Function, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != len(fn.Params) {
		return bytecode.NullValue, NewRuntimeError(fn.Name, "expected %d args, got %d", len(fn.Params), len(args))
	}

	locals := make([]bytecode.Value, fn.MaxLocals)
	for i := range locals {
		locals[i] = bytecode.NullValue
	}
	stack := make([]bytecode.Value, 0, 16)

	push := func(v bytecode.Value) { stack = append(stack, v) }
	pop := func() bytecode.Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	pc := 0
	for pc < len(fn.Code) {
		ins := fn.Code[pc]
		switch ins.Op {
		case bytecode.OpConst:
			push(fn.Consts[ins.A])

		case bytecode.OpLoadParam:
			push(args[ins.A])

		case bytecode.OpLoadLocal:
			push(locals[ins.A])

		case bytecode.OpStoreLocal:
			locals[ins.A] = pop()

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
			bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
			b := pop()
			a := pop()
			v, err := BinaryOp(ins.Op, a, b)
			if err != nil {
				return bytecode.NullValue, NewRuntimeError(fn.Name, "%v", err)
			}
			push(v)

		case bytecode.OpNeg, bytecode.OpNot:
			v, err := UnaryOp(ins.Op, pop())
			if err != nil {
				return bytecode.NullValue, NewRuntimeError(fn.Name, "%v", err)
			}
			push(v)

		case bytecode.OpJump:
			pc = ins.A
			continue

		case bytecode.OpJumpIfFalse:
			cond, ok := pop().AsBool()
			if !ok {
				return bytecode.NullValue, NewRuntimeError(fn.Name, "condition is not a bool")
			}
			if !cond {
				pc = ins.A
				continue
			}

		case bytecode.OpLoopBack:
			if it.hooks != nil {
				it.hooks.RecordLoopIteration(fn.Name, ins.B)
			}
			pc = ins.A
			continue

		case bytecode.OpCall:
			if it.calls == nil {
				return bytecode.NullValue, NewRuntimeError(fn.Name, "no call handler installed")
			}
			callee, _ := fn.Consts[ins.A].AsString()
			callArgs := make([]bytecode.Value, ins.B)
			for i := ins.B - 1; i >= 0; i-- {
				callArgs[i] = pop()
			}
			site := fmt.Sprintf("%s:%d", fn.Name, pc)
			v, err := it.calls.CallFromSite(site, callee, callArgs)
			if err != nil {
				return bytecode.NullValue, err
			}
			push(v)

		case bytecode.OpPop:
			pop()

		case bytecode.OpReturn:
			if len(stack) == 0 {
				return bytecode.NullValue, nil
			}
			return pop(), nil

		default:
			return bytecode.NullValue, NewRuntimeError(fn.Name, "unknown opcode %s at pc %d", ins.Op, pc)
		}
		pc++
	}

	// 顺序执行到代码末尾，隐式返回 null
	return bytecode.NullValue, nil
}
