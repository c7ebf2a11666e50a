package bytecode

import (
	"fmt"
	"reflect"
	"strings"
)

// ValueType 值类型
type ValueType byte

const (
	ValNull ValueType = iota
	ValBool
	ValInt
	ValFloat
	ValString
	ValArray
	ValOther // 兜底类型（对象、闭包等），不参与原生特化
)

// TypeName 返回类型名（用于签名推导）
func (t ValueType) TypeName() string {
	switch t {
	case ValNull:
		return "null"
	case ValBool:
		return "bool"
	case ValInt:
		return "int"
	case ValFloat:
		return "float"
	case ValString:
		return "string"
	case ValArray:
		return "array"
	default:
		return "other"
	}
}

// Specializable 类型是否可参与原生特化
// 只有原始标量类型可以；string/array/other 一律走解释器
func (t ValueType) Specializable() bool {
	switch t {
	case ValBool, ValInt, ValFloat:
		return true
	default:
		return false
	}
}

// Value 运行时值
type Value struct {
	Type ValueType
	Data interface{}
}

// 预定义常量值
var (
	NullValue  = Value{Type: ValNull}
	TrueValue  = Value{Type: ValBool, Data: true}
	FalseValue = Value{Type: ValBool, Data: false}
	ZeroValue  = Value{Type: ValInt, Data: int64(0)}
	OneValue   = Value{Type: ValInt, Data: int64(1)}
)

// NewNull 创建 null 值
func NewNull() Value {
	return NullValue
}

// NewBool 创建布尔值
func NewBool(b bool) Value {
	if b {
		return TrueValue
	}
	return FalseValue
}

// NewInt 创建整数值
func NewInt(n int64) Value {
	return Value{Type: ValInt, Data: n}
}

// NewFloat 创建浮点数值
func NewFloat(f float64) Value {
	return Value{Type: ValFloat, Data: f}
}

// NewString 创建字符串值
func NewString(s string) Value {
	return Value{Type: ValString, Data: s}
}

// NewArray 创建数组值
func NewArray(elems []Value) Value {
	return Value{Type: ValArray, Data: elems}
}

// NewOther 创建兜底值（宿主对象等）
func NewOther(data interface{}) Value {
	return Value{Type: ValOther, Data: data}
}

// AsInt 取整数值
func (v Value) AsInt() (int64, bool) {
	if v.Type != ValInt {
		return 0, false
	}
	return v.Data.(int64), true
}

// AsFloat 取浮点值（整数自动提升）
func (v Value) AsFloat() (float64, bool) {
	switch v.Type {
	case ValFloat:
		return v.Data.(float64), true
	case ValInt:
		return float64(v.Data.(int64)), true
	default:
		return 0, false
	}
}

// AsBool 取布尔值
func (v Value) AsBool() (bool, bool) {
	if v.Type != ValBool {
		return false, false
	}
	return v.Data.(bool), true
}

// AsString 取字符串值
func (v Value) AsString() (string, bool) {
	if v.Type != ValString {
		return "", false
	}
	return v.Data.(string), true
}

// IsNumeric 是否是数值类型
func (v Value) IsNumeric() bool {
	return v.Type == ValInt || v.Type == ValFloat
}

// Equals 值相等比较
func (v Value) Equals(o Value) bool {
	// int 与 float 之间允许数值比较
	if v.IsNumeric() && o.IsNumeric() {
		if v.Type == ValInt && o.Type == ValInt {
			return v.Data.(int64) == o.Data.(int64)
		}
		a, _ := v.AsFloat()
		b, _ := o.AsFloat()
		return a == b
	}
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case ValNull:
		return true
	case ValBool:
		return v.Data.(bool) == o.Data.(bool)
	case ValString:
		return v.Data.(string) == o.Data.(string)
	case ValArray:
		a := v.Data.([]Value)
		b := o.Data.([]Value)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equals(b[i]) {
				return false
			}
		}
		return true
	default:
		// 不透明载荷可能是不可比较的类型，接口 == 会 panic
		if v.Data == nil || o.Data == nil {
			return v.Data == nil && o.Data == nil
		}
		if !reflect.TypeOf(v.Data).Comparable() || !reflect.TypeOf(o.Data).Comparable() {
			return false
		}
		return v.Data == o.Data
	}
}

func (v Value) String() string {
	switch v.Type {
	case ValNull:
		return "null"
	case ValBool:
		if v.Data.(bool) {
			return "true"
		}
		return "false"
	case ValInt:
		return fmt.Sprintf("%d", v.Data.(int64))
	case ValFloat:
		return fmt.Sprintf("%g", v.Data.(float64))
	case ValString:
		return v.Data.(string)
	case ValArray:
		elems := v.Data.([]Value)
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("<%s>", v.Type.TypeName())
	}
}

// ============================================================================
// 调用签名
// ============================================================================

// Signature 根据实参推导类型签名串，如 "int,int"
// 空参数调用的签名为 "()"
func Signature(args []Value) string {
	if len(args) == 0 {
		return "()"
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Type.TypeName()
	}
	return strings.Join(parts, ",")
}

// SignatureKinds 拆分签名串为类型名列表
func SignatureKinds(sig string) []string {
	if sig == "" || sig == "()" {
		return nil
	}
	return strings.Split(sig, ",")
}

// SignatureSpecializable 签名是否允许原生特化
// 所有实参类型必须是可特化的标量类型
func SignatureSpecializable(sig string) bool {
	if sig == "" {
		return false
	}
	if sig == "()" {
		return true
	}
	for _, kind := range SignatureKinds(sig) {
		switch kind {
		case "int", "float", "bool":
		default:
			return false
		}
	}
	return true
}

// UniformSignature 签名是否全部为指定类型（空参签名视为一致）
func UniformSignature(sig string, kind string) bool {
	kinds := SignatureKinds(sig)
	if len(kinds) == 0 {
		return sig == "()"
	}
	for _, k := range kinds {
		if k != kind {
			return false
		}
	}
	return true
}
