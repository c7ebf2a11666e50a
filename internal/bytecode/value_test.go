// value_test.go - 值与签名模型测试

package bytecode

import (
	"testing"
)

// TestSignature 测试签名推导
func TestSignature(t *testing.T) {
	tests := []struct {
		args []Value
		want string
	}{
		{nil, "()"},
		{[]Value{}, "()"},
		{[]Value{NewInt(1)}, "int"},
		{[]Value{NewInt(1), NewInt(2)}, "int,int"},
		{[]Value{NewInt(1), NewFloat(2.0)}, "int,float"},
		{[]Value{NewString("x"), NewBool(true)}, "string,bool"},
		{[]Value{NewArray(nil), NewOther(struct{}{})}, "array,other"},
	}

	for _, tt := range tests {
		got := Signature(tt.args)
		if got != tt.want {
			t.Errorf("Signature(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

// TestSignatureSpecializable 测试特化门控
func TestSignatureSpecializable(t *testing.T) {
	specializable := []string{"int", "int,int", "float,float", "bool", "int,float,bool", "()"}
	for _, sig := range specializable {
		if !SignatureSpecializable(sig) {
			t.Errorf("signature %q should be specializable", sig)
		}
	}

	rejected := []string{"", "string", "int,string", "array", "other", "int,other", "null"}
	for _, sig := range rejected {
		if SignatureSpecializable(sig) {
			t.Errorf("signature %q should not be specializable", sig)
		}
	}
}

// TestUniformSignature 测试同构签名判定
func TestUniformSignature(t *testing.T) {
	if !UniformSignature("int,int,int", "int") {
		t.Error("int,int,int should be uniform int")
	}
	if UniformSignature("int,float", "int") {
		t.Error("int,float should not be uniform int")
	}
	if !UniformSignature("()", "int") {
		t.Error("empty signature should count as uniform")
	}
	if UniformSignature("", "int") {
		t.Error("missing signature should not count as uniform")
	}
}

// TestValueConversions 测试取值与提升
func TestValueConversions(t *testing.T) {
	if n, ok := NewInt(42).AsInt(); !ok || n != 42 {
		t.Errorf("AsInt = (%d, %v), want (42, true)", n, ok)
	}
	if _, ok := NewFloat(1.5).AsInt(); ok {
		t.Error("float should not convert to int")
	}

	// int 提升为 float
	if f, ok := NewInt(3).AsFloat(); !ok || f != 3.0 {
		t.Errorf("AsFloat = (%g, %v), want (3, true)", f, ok)
	}
	if f, ok := NewFloat(2.5).AsFloat(); !ok || f != 2.5 {
		t.Errorf("AsFloat = (%g, %v), want (2.5, true)", f, ok)
	}
}

// TestValueEquals 测试相等比较
func TestValueEquals(t *testing.T) {
	if !NewInt(1).Equals(NewInt(1)) {
		t.Error("1 should equal 1")
	}
	if !NewInt(1).Equals(NewFloat(1.0)) {
		t.Error("int 1 should equal float 1.0 numerically")
	}
	if NewInt(1).Equals(NewString("1")) {
		t.Error("int 1 should not equal string \"1\"")
	}
	if !NewNull().Equals(NewNull()) {
		t.Error("null should equal null")
	}
	if !NewString("ab").Equals(NewString("ab")) {
		t.Error("equal strings should compare equal")
	}
}

// TestValueEqualsArrays 数组逐元素比较，不得 panic
func TestValueEqualsArrays(t *testing.T) {
	a := NewArray([]Value{NewInt(1), NewString("x")})
	b := NewArray([]Value{NewInt(1), NewString("x")})
	if !a.Equals(b) {
		t.Error("equal arrays should compare equal")
	}
	if a.Equals(NewArray([]Value{NewInt(1)})) {
		t.Error("arrays of different length should not compare equal")
	}
	if a.Equals(NewArray([]Value{NewInt(1), NewString("y")})) {
		t.Error("arrays with different elements should not compare equal")
	}

	// 嵌套数组
	na := NewArray([]Value{NewArray([]Value{NewInt(2)})})
	nb := NewArray([]Value{NewArray([]Value{NewInt(2)})})
	if !na.Equals(nb) {
		t.Error("equal nested arrays should compare equal")
	}
}

// TestValueEqualsOpaque 不可比较的不透明载荷比较为 false，不得 panic
func TestValueEqualsOpaque(t *testing.T) {
	u := NewOther([]int{1, 2})
	if u.Equals(NewOther([]int{1, 2})) {
		t.Error("uncomparable opaque payloads should compare unequal")
	}
	if !NewOther("tag").Equals(NewOther("tag")) {
		t.Error("comparable opaque payloads should compare by interface equality")
	}
	if NewOther(nil).Equals(NewOther("tag")) {
		t.Error("nil payload should not equal a non-nil one")
	}
	if !NewOther(nil).Equals(NewOther(nil)) {
		t.Error("two nil payloads should compare equal")
	}
}

// TestTypeNames 测试类型名
func TestTypeNames(t *testing.T) {
	kinds := map[ValueType]string{
		ValNull:   "null",
		ValBool:   "bool",
		ValInt:    "int",
		ValFloat:  "float",
		ValString: "string",
		ValArray:  "array",
		ValOther:  "other",
	}
	for vt, want := range kinds {
		if got := vt.TypeName(); got != want {
			t.Errorf("TypeName(%d) = %q, want %q", vt, got, want)
		}
	}
}
