package vm

import (
	"fmt"

	"github.com/tangzhangming/lumen/internal/bytecode"
)

// RuntimeError 函数体执行期间发生的错误
// 算术错误、实参错误等都属于这一类，向 CallFunction 的调用者传播
type RuntimeError struct {
	Function string
	Message  string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error in %s: %s", e.Function, e.Message)
}

// NewRuntimeError 创建运行期错误
func NewRuntimeError(fn, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Function: fn, Message: fmt.Sprintf(format, args...)}
}

// BinaryOp 对两个值执行二元运算
// int op int -> int；任一侧为 float 则提升为 float；ADD 支持字符串拼接
func BinaryOp(op bytecode.Opcode, a, b bytecode.Value) (bytecode.Value, error) {
	switch op {
	case bytecode.OpEq:
		return bytecode.NewBool(a.Equals(b)), nil
	case bytecode.OpNe:
		return bytecode.NewBool(!a.Equals(b)), nil
	}

	if op == bytecode.OpAdd && a.Type == bytecode.ValString && b.Type == bytecode.ValString {
		as, _ := a.AsString()
		bs, _ := b.AsString()
		return bytecode.NewString(as + bs), nil
	}

	if !a.IsNumeric() || !b.IsNumeric() {
		return bytecode.NullValue, fmt.Errorf("operator %s needs numeric operands, got %s and %s",
			op, a.Type.TypeName(), b.Type.TypeName())
	}

	if a.Type == bytecode.ValInt && b.Type == bytecode.ValInt {
		x := a.Data.(int64)
		y := b.Data.(int64)
		switch op {
		case bytecode.OpAdd:
			return bytecode.NewInt(x + y), nil
		case bytecode.OpSub:
			return bytecode.NewInt(x - y), nil
		case bytecode.OpMul:
			return bytecode.NewInt(x * y), nil
		case bytecode.OpDiv:
			if y == 0 {
				return bytecode.NullValue, fmt.Errorf("integer division by zero")
			}
			return bytecode.NewInt(x / y), nil
		case bytecode.OpMod:
			if y == 0 {
				return bytecode.NullValue, fmt.Errorf("integer modulo by zero")
			}
			return bytecode.NewInt(x % y), nil
		case bytecode.OpLt:
			return bytecode.NewBool(x < y), nil
		case bytecode.OpLe:
			return bytecode.NewBool(x <= y), nil
		case bytecode.OpGt:
			return bytecode.NewBool(x > y), nil
		case bytecode.OpGe:
			return bytecode.NewBool(x >= y), nil
		}
		return bytecode.NullValue, fmt.Errorf("operator %s is not binary", op)
	}

	x, _ := a.AsFloat()
	y, _ := b.AsFloat()
	switch op {
	case bytecode.OpAdd:
		return bytecode.NewFloat(x + y), nil
	case bytecode.OpSub:
		return bytecode.NewFloat(x - y), nil
	case bytecode.OpMul:
		return bytecode.NewFloat(x * y), nil
	case bytecode.OpDiv:
		if y == 0 {
			return bytecode.NullValue, fmt.Errorf("float division by zero")
		}
		return bytecode.NewFloat(x / y), nil
	case bytecode.OpMod:
		return bytecode.NullValue, fmt.Errorf("operator MOD needs integer operands")
	case bytecode.OpLt:
		return bytecode.NewBool(x < y), nil
	case bytecode.OpLe:
		return bytecode.NewBool(x <= y), nil
	case bytecode.OpGt:
		return bytecode.NewBool(x > y), nil
	case bytecode.OpGe:
		return bytecode.NewBool(x >= y), nil
	}
	return bytecode.NullValue, fmt.Errorf("operator %s is not binary", op)
}

// UnaryOp 对单个值执行一元运算
func UnaryOp(op bytecode.Opcode, a bytecode.Value) (bytecode.Value, error) {
	switch op {
	case bytecode.OpNeg:
		switch a.Type {
		case bytecode.ValInt:
			return bytecode.NewInt(-a.Data.(int64)), nil
		case bytecode.ValFloat:
			return bytecode.NewFloat(-a.Data.(float64)), nil
		}
		return bytecode.NullValue, fmt.Errorf("operator NEG needs a numeric operand, got %s", a.Type.TypeName())
	case bytecode.OpNot:
		b, ok := a.AsBool()
		if !ok {
			return bytecode.NullValue, fmt.Errorf("operator NOT needs a bool operand, got %s", a.Type.TypeName())
		}
		return bytecode.NewBool(!b), nil
	}
	return bytecode.NullValue, fmt.Errorf("operator %s is not unary", op)
}
