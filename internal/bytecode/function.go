package bytecode

import (
	"fmt"
	"strings"
)

// ============================================================================
// 指令集
// ============================================================================

// Opcode 指令操作码
type Opcode byte

const (
	OpConst      Opcode = iota // 压入常量 Consts[A]
	OpLoadParam                // 压入参数 A
	OpLoadLocal                // 压入局部变量 A
	OpStoreLocal               // 弹出栈顶写入局部变量 A
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpNot
	OpJump        // 无条件跳转到 A
	OpJumpIfFalse // 弹出栈顶，为 false 时跳转到 A
	OpLoopBack    // 循环回边：跳转到 A，B 为循环 id（触发迭代剖析）
	OpCall        // 调用 Consts[A] 命名的函数，B 为实参个数
	OpPop         // 弹出并丢弃栈顶
	OpReturn      // 弹出栈顶作为返回值；栈空时返回 null
)

var opcodeNames = [...]string{
	"CONST", "LOADPARAM", "LOADLOCAL", "STORELOCAL",
	"ADD", "SUB", "MUL", "DIV", "MOD", "NEG",
	"EQ", "NE", "LT", "LE", "GT", "GE", "NOT",
	"JUMP", "JUMPIFFALSE", "LOOPBACK", "CALL", "POP", "RETURN",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("OP(%d)", byte(op))
}

// Instruction 单条指令
type Instruction struct {
	Op Opcode
	A  int
	B  int
}

// ============================================================================
// 函数描述符
// ============================================================================

// UnresolvedPrefix 类型标注中未解析类型变量的前缀
// 带此前缀的标注到达原生编译器属于上游管线错误
const UnresolvedPrefix = "?"

// Function 函数描述符
// 由前端（词法/语法/类型检查）产出，这里只消费：
// 解释器直接执行 Code，原生编译器将其翻译为特化入口
type Function struct {
	Name       string
	Params     []string
	ParamTypes []string // 可选的检查器类型标注，"?" 前缀表示未解析的类型变量
	Consts     []Value
	Code       []Instruction
	MaxLocals  int
}

// Arity 参数个数
func (f *Function) Arity() int {
	return len(f.Params)
}

// Validate 校验描述符的结构完整性
// 跳转目标、常量索引越界等都是前端缺陷，注册时直接拒绝
func (f *Function) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("function has no name")
	}
	if len(f.ParamTypes) != 0 && len(f.ParamTypes) != len(f.Params) {
		return fmt.Errorf("%s: %d param types for %d params", f.Name, len(f.ParamTypes), len(f.Params))
	}
	if f.MaxLocals < 0 {
		return fmt.Errorf("%s: negative MaxLocals", f.Name)
	}
	for pc, ins := range f.Code {
		switch ins.Op {
		case OpConst:
			if ins.A < 0 || ins.A >= len(f.Consts) {
				return fmt.Errorf("%s: pc %d: const index %d out of range", f.Name, pc, ins.A)
			}
		case OpLoadParam:
			if ins.A < 0 || ins.A >= len(f.Params) {
				return fmt.Errorf("%s: pc %d: param index %d out of range", f.Name, pc, ins.A)
			}
		case OpLoadLocal, OpStoreLocal:
			if ins.A < 0 || ins.A >= f.MaxLocals {
				return fmt.Errorf("%s: pc %d: local index %d out of range", f.Name, pc, ins.A)
			}
		case OpJump, OpJumpIfFalse, OpLoopBack:
			if ins.A < 0 || ins.A >= len(f.Code) {
				return fmt.Errorf("%s: pc %d: jump target %d out of range", f.Name, pc, ins.A)
			}
		case OpCall:
			if ins.A < 0 || ins.A >= len(f.Consts) {
				return fmt.Errorf("%s: pc %d: callee const %d out of range", f.Name, pc, ins.A)
			}
			if _, ok := f.Consts[ins.A].AsString(); !ok {
				return fmt.Errorf("%s: pc %d: callee const is not a string", f.Name, pc)
			}
			if ins.B < 0 {
				return fmt.Errorf("%s: pc %d: negative arg count", f.Name, pc)
			}
		}
	}
	return nil
}

// LoopIDs 扫描指令流中的循环回边，返回去重后的循环 id
func (f *Function) LoopIDs() []int {
	seen := make(map[int]bool)
	var ids []int
	for _, ins := range f.Code {
		if ins.Op == OpLoopBack && !seen[ins.B] {
			seen[ins.B] = true
			ids = append(ids, ins.B)
		}
	}
	return ids
}

// HasLoops 是否包含循环
func (f *Function) HasLoops() bool {
	for _, ins := range f.Code {
		if ins.Op == OpLoopBack {
			return true
		}
	}
	return false
}

// HasCalls 是否包含调用
func (f *Function) HasCalls() bool {
	for _, ins := range f.Code {
		if ins.Op == OpCall {
			return true
		}
	}
	return false
}

// HasUnresolvedTypes 类型标注中是否存在未解析的类型变量
func (f *Function) HasUnresolvedTypes() bool {
	for _, t := range f.ParamTypes {
		if strings.HasPrefix(t, UnresolvedPrefix) {
			return true
		}
	}
	return false
}

// Disassemble 反汇编到可读文本（调试用）
func (f *Function) Disassemble() string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(%s) locals=%d\n", f.Name, strings.Join(f.Params, ", "), f.MaxLocals)
	for pc, ins := range f.Code {
		switch ins.Op {
		case OpConst, OpCall:
			fmt.Fprintf(&b, "  %3d: %-12s %d\t; %s\n", pc, ins.Op, ins.A, f.Consts[ins.A])
		case OpLoopBack:
			fmt.Fprintf(&b, "  %3d: %-12s %d\t; loop %d\n", pc, ins.Op, ins.A, ins.B)
		default:
			fmt.Fprintf(&b, "  %3d: %-12s %d %d\n", pc, ins.Op, ins.A, ins.B)
		}
	}
	return b.String()
}
