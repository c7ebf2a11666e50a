package jit

import (
	"fmt"
	"io"

	"github.com/segmentio/encoding/json"
	"go.uber.org/atomic"
)

// FunctionStats 单个函数的诊断快照
type FunctionStats struct {
	Name                string  `json:"name"`
	ExecutionCount      int64   `json:"execution_count"`
	CurrentTier         string  `json:"current_tier"`
	HotLoopCount        int     `json:"hot_loop_count"`
	HotPathScore        float64 `json:"hot_path_score"`
	DeoptCount          int64   `json:"deopt_count"`
	Blacklisted         bool    `json:"blacklisted"`
	DominantTypePattern string  `json:"dominant_type_pattern"`
}

// engineCounters 引擎级计数器，高争用下无锁递增不丢失
type engineCounters struct {
	interpCalls     atomic.Int64
	nativeCalls     atomic.Int64
	compiled        atomic.Int64
	compileFailures atomic.Int64
	deopts          atomic.Int64
	blacklisted     atomic.Int64
}

// EngineStats 引擎级诊断快照
type EngineStats struct {
	Functions       int   `json:"functions"`
	InterpCalls     int64 `json:"interp_calls"`
	NativeCalls     int64 `json:"native_calls"`
	Compiled        int64 `json:"compiled"`
	CompileFailures int64 `json:"compile_failures"`
	Deopts          int64 `json:"deopts"`
	Blacklisted     int64 `json:"blacklisted"`
	OSRRequests     int64 `json:"osr_requests"`
}

// statsDump DumpStats 的 JSON 布局
type statsDump struct {
	Engine    EngineStats     `json:"engine"`
	Functions []FunctionStats `json:"functions"`
}

// DumpStats 以 JSON 输出引擎与全部函数的诊断快照
func (e *Engine) DumpStats(w io.Writer) error {
	dump := statsDump{
		Engine:    e.GetEngineStats(),
		Functions: e.GetAllStats(),
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}
