package jit

import (
	"errors"

	"github.com/tangzhangming/lumen/internal/bytecode"
	"github.com/tangzhangming/lumen/internal/vm"
)

// ErrSignatureMismatch 实参类型与特化签名不符
// 调用方收到后回退解释执行，不是调用失败
var ErrSignatureMismatch = errors.New("arguments do not match specialized signature")

// CompiledEntry 已编译入口记录
// 由编排器独占持有；函数从对应层级反优化时整条移除
type CompiledEntry struct {
	Name       string
	Tier       Tier
	Entry      vm.NativeEntry
	ParamCount int
	Signature  string
}

// ============================================================================
// 原生入口
//
// 对支持的原生签名使用和类型而不是裸指针：
// 全 int、全 float 各有无装箱形态，其余可特化签名走装箱形态。
// 参数封送隔离在 Invoke 内部，编排器只看到安全的调用面
// ============================================================================

type entryKind byte

const (
	entryAllInt entryKind = iota
	entryAllFloat
	entryBoxed
)

// nativeEntry vm.NativeEntry 的闭包后端实现
type nativeEntry struct {
	name   string
	sig    string
	params int
	kind   entryKind

	intFn   func(args []int64) (int64, error)
	floatFn func(args []float64) (float64, error)
	boxedFn func(args []bytecode.Value) (bytecode.Value, error)
}

func (e *nativeEntry) ParamCount() int {
	return e.params
}

func (e *nativeEntry) Signature() string {
	return e.sig
}

// Invoke 调用原生入口
// 实参与特化签名不符时返回 ErrSignatureMismatch，由调用方回退
func (e *nativeEntry) Invoke(args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != e.params {
		return bytecode.NullValue, vm.NewRuntimeError(e.name, "expected %d args, got %d", e.params, len(args))
	}

	switch e.kind {
	case entryAllInt:
		raw := make([]int64, len(args))
		for i, a := range args {
			n, ok := a.AsInt()
			if !ok {
				return bytecode.NullValue, ErrSignatureMismatch
			}
			raw[i] = n
		}
		n, err := e.intFn(raw)
		if err != nil {
			return bytecode.NullValue, err
		}
		return bytecode.NewInt(n), nil

	case entryAllFloat:
		raw := make([]float64, len(args))
		for i, a := range args {
			if a.Type != bytecode.ValFloat {
				return bytecode.NullValue, ErrSignatureMismatch
			}
			raw[i] = a.Data.(float64)
		}
		f, err := e.floatFn(raw)
		if err != nil {
			return bytecode.NullValue, err
		}
		return bytecode.NewFloat(f), nil

	default:
		if bytecode.Signature(args) != e.sig {
			return bytecode.NullValue, ErrSignatureMismatch
		}
		return e.boxedFn(args)
	}
}
