package jit

import (
	"bytes"
	"testing"

	"github.com/segmentio/encoding/json"
)

func TestDumpStats(t *testing.T) {
	e := newTestEngine(t, testConfig(), testAddFn(), testMulFn())
	for i := 0; i < 35; i++ {
		if _, err := callInt(e, "add", 1, 2); err != nil {
			t.Fatalf("call failed: %v", err)
		}
	}
	callInt(e, "mul", 2, 3)

	var buf bytes.Buffer
	if err := e.DumpStats(&buf); err != nil {
		t.Fatalf("dump failed: %v", err)
	}

	var dump statsDump
	if err := json.Unmarshal(buf.Bytes(), &dump); err != nil {
		t.Fatalf("dump is not valid JSON: %v", err)
	}

	if dump.Engine.Functions != 2 {
		t.Fatalf("engine.functions = %d, want 2", dump.Engine.Functions)
	}
	if dump.Engine.Compiled != 1 {
		t.Fatalf("engine.compiled = %d, want 1", dump.Engine.Compiled)
	}
	if len(dump.Functions) != 2 {
		t.Fatalf("len(functions) = %d, want 2", len(dump.Functions))
	}
	// 热路径评分降序
	if dump.Functions[0].Name != "add" {
		t.Fatalf("functions[0] = %s, want add", dump.Functions[0].Name)
	}
	if dump.Functions[0].CurrentTier != "baseline" {
		t.Fatalf("add tier = %s, want baseline", dump.Functions[0].CurrentTier)
	}
}
