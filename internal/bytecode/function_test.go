// function_test.go - 函数描述符校验测试

package bytecode

import (
	"testing"
)

func validAdd() *Function {
	return &Function{
		Name:   "add",
		Params: []string{"a", "b"},
		Code: []Instruction{
			{Op: OpLoadParam, A: 0},
			{Op: OpLoadParam, A: 1},
			{Op: OpAdd},
			{Op: OpReturn},
		},
	}
}

// TestValidateOK 合法描述符应通过校验
func TestValidateOK(t *testing.T) {
	if err := validAdd().Validate(); err != nil {
		t.Errorf("valid function rejected: %v", err)
	}
}

// TestValidateRejects 非法描述符应被拒绝
func TestValidateRejects(t *testing.T) {
	cases := map[string]*Function{
		"no name": {
			Code: []Instruction{{Op: OpReturn}},
		},
		"const out of range": {
			Name: "f",
			Code: []Instruction{{Op: OpConst, A: 0}, {Op: OpReturn}},
		},
		"param out of range": {
			Name: "f",
			Code: []Instruction{{Op: OpLoadParam, A: 0}, {Op: OpReturn}},
		},
		"local out of range": {
			Name: "f",
			Code: []Instruction{{Op: OpLoadLocal, A: 2}, {Op: OpReturn}},
		},
		"jump out of range": {
			Name: "f",
			Code: []Instruction{{Op: OpJump, A: 9}, {Op: OpReturn}},
		},
		"callee not a string": {
			Name:   "f",
			Consts: []Value{NewInt(7)},
			Code:   []Instruction{{Op: OpCall, A: 0, B: 0}, {Op: OpReturn}},
		},
		"param types mismatch": {
			Name:       "f",
			Params:     []string{"a"},
			ParamTypes: []string{"int", "int"},
			Code:       []Instruction{{Op: OpReturn}},
		},
	}

	for name, fn := range cases {
		if err := fn.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

// TestLoopScan 测试循环扫描
func TestLoopScan(t *testing.T) {
	fn := &Function{
		Name:      "loops",
		MaxLocals: 1,
		Consts:    []Value{NewInt(0)},
		Code: []Instruction{
			{Op: OpConst, A: 0},
			{Op: OpStoreLocal, A: 0},
			{Op: OpLoopBack, A: 0, B: 3},
			{Op: OpLoopBack, A: 0, B: 7},
			{Op: OpLoopBack, A: 0, B: 3}, // 同一循环的第二条回边
			{Op: OpReturn},
		},
	}

	if !fn.HasLoops() {
		t.Error("HasLoops should be true")
	}
	ids := fn.LoopIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct loop ids, got %v", ids)
	}

	if validAdd().HasLoops() {
		t.Error("add has no loops")
	}
}

// TestUnresolvedTypes 测试未解析类型变量标记
func TestUnresolvedTypes(t *testing.T) {
	fn := validAdd()
	fn.ParamTypes = []string{"int", "?T"}
	if !fn.HasUnresolvedTypes() {
		t.Error("?T should be flagged as unresolved")
	}

	fn.ParamTypes = []string{"int", "int"}
	if fn.HasUnresolvedTypes() {
		t.Error("resolved types should not be flagged")
	}
}
