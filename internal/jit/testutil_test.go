// testutil_test.go - 测试用的描述符构造

package jit

import (
	"github.com/tangzhangming/lumen/internal/bytecode"
)

// testAddFn add(a, b) = a + b
func testAddFn() *bytecode.Function {
	return &bytecode.Function{
		Name:   "add",
		Params: []string{"a", "b"},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadParam, A: 0},
			{Op: bytecode.OpLoadParam, A: 1},
			{Op: bytecode.OpAdd},
			{Op: bytecode.OpReturn},
		},
	}
}

// testCountFn count(n): while (i < n) { i = i + 1 }; return i
// 循环 id 为 0，形状命中优化层的计数模板
func testCountFn() *bytecode.Function {
	return &bytecode.Function{
		Name:      "count",
		Params:    []string{"n"},
		MaxLocals: 1,
		Consts:    []bytecode.Value{bytecode.NewInt(0), bytecode.NewInt(1)},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpConst, A: 0},
			{Op: bytecode.OpStoreLocal, A: 0},
			{Op: bytecode.OpLoadLocal, A: 0},
			{Op: bytecode.OpLoadParam, A: 0},
			{Op: bytecode.OpLt},
			{Op: bytecode.OpJumpIfFalse, A: 11},
			{Op: bytecode.OpLoadLocal, A: 0},
			{Op: bytecode.OpConst, A: 1},
			{Op: bytecode.OpAdd},
			{Op: bytecode.OpStoreLocal, A: 0},
			{Op: bytecode.OpLoopBack, A: 2, B: 0},
			{Op: bytecode.OpLoadLocal, A: 0},
			{Op: bytecode.OpReturn},
		},
	}
}

// testSumFn sum(n) = 0 + 1 + ... + (n-1)，形状命中优化层的累加模板
func testSumFn() *bytecode.Function {
	return &bytecode.Function{
		Name:      "sum",
		Params:    []string{"n"},
		MaxLocals: 2, // 0: i, 1: acc
		Consts:    []bytecode.Value{bytecode.NewInt(0), bytecode.NewInt(1)},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpConst, A: 0},
			{Op: bytecode.OpStoreLocal, A: 0},
			{Op: bytecode.OpConst, A: 0},
			{Op: bytecode.OpStoreLocal, A: 1},
			{Op: bytecode.OpLoadLocal, A: 0},
			{Op: bytecode.OpLoadParam, A: 0},
			{Op: bytecode.OpLt},
			{Op: bytecode.OpJumpIfFalse, A: 17},
			{Op: bytecode.OpLoadLocal, A: 1},
			{Op: bytecode.OpLoadLocal, A: 0},
			{Op: bytecode.OpAdd},
			{Op: bytecode.OpStoreLocal, A: 1},
			{Op: bytecode.OpLoadLocal, A: 0},
			{Op: bytecode.OpConst, A: 1},
			{Op: bytecode.OpAdd},
			{Op: bytecode.OpStoreLocal, A: 0},
			{Op: bytecode.OpLoopBack, A: 4, B: 0},
			{Op: bytecode.OpLoadLocal, A: 1},
			{Op: bytecode.OpReturn},
		},
	}
}

// testMulFn mul(x, y) = x * y
func testMulFn() *bytecode.Function {
	return &bytecode.Function{
		Name:   "mul",
		Params: []string{"x", "y"},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadParam, A: 0},
			{Op: bytecode.OpLoadParam, A: 1},
			{Op: bytecode.OpMul},
			{Op: bytecode.OpReturn},
		},
	}
}

// testCallerFn caller(x) = add(x, 1)，pc 2 处是静态调用点
func testCallerFn() *bytecode.Function {
	return &bytecode.Function{
		Name:   "caller",
		Params: []string{"x"},
		Consts: []bytecode.Value{bytecode.NewString("add"), bytecode.NewInt(1)},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadParam, A: 0},
			{Op: bytecode.OpConst, A: 1},
			{Op: bytecode.OpCall, A: 0, B: 2},
			{Op: bytecode.OpReturn},
		},
	}
}

// callInt 以整数实参调用并取整数结果
func callInt(e *Engine, name string, args ...int64) (int64, error) {
	vals := make([]bytecode.Value, len(args))
	for i, a := range args {
		vals[i] = bytecode.NewInt(a)
	}
	result, err := e.CallFunction(name, vals)
	if err != nil {
		return 0, err
	}
	n, _ := result.AsInt()
	return n, nil
}
