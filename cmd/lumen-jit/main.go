package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tangzhangming/lumen/internal/bytecode"
	"github.com/tangzhangming/lumen/internal/jit"
)

var (
	configPath = flag.String("config", "", "Load engine config from TOML file")
	threshold  = flag.Int64("threshold", 0, "Override baseline promotion threshold")
	calls      = flag.Int("calls", 200, "Number of calls per sample function")
	showStats  = flag.Bool("stats", false, "Dump engine stats as JSON")
	verbose    = flag.Bool("verbose", false, "Log tier transitions")
)

func main() {
	flag.Parse()

	cfg := jit.DefaultConfig()
	if *configPath != "" {
		loaded, err := jit.LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *threshold > 0 {
		cfg.BaselineThreshold = *threshold
	}

	engine := jit.NewEngine(cfg)
	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		engine.SetLogger(logger)
	}

	if err := engine.LoadFunctions(sampleFunctions()); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering functions: %v\n", err)
		os.Exit(1)
	}

	// sumto 的热循环注册 OSR 触发点
	engine.RegisterOSRPoint(jit.OsrPoint{
		Function:   "sumto",
		LoopID:     0,
		TargetTier: jit.TierBaseline,
		Threshold:  cfg.HotLoopThreshold,
	})

	fmt.Printf("Lumen adaptive engine demo (baseline threshold %d)\n\n", cfg.BaselineThreshold)

	for i := 0; i < *calls; i++ {
		mustCall(engine, "add", bytecode.NewInt(int64(i)), bytecode.NewInt(int64(i+1)))
		mustCall(engine, "sumto", bytecode.NewInt(50))
		mustCall(engine, "scale", bytecode.NewFloat(float64(i)), bytecode.NewFloat(0.5))
	}

	result := mustCall(engine, "add", bytecode.NewInt(10), bytecode.NewInt(20))
	fmt.Printf("add(10, 20) = %s\n", result)
	result = mustCall(engine, "sumto", bytecode.NewInt(100))
	fmt.Printf("sumto(100)  = %s\n", result)

	for _, name := range []string{"add", "sumto", "scale"} {
		tier, _ := engine.GetFunctionTier(name)
		fmt.Printf("%-8s tier=%-12s jitted=%v\n", name, tier, engine.IsJitted(name))
	}

	if *showStats {
		fmt.Println()
		if err := engine.DumpStats(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error dumping stats: %v\n", err)
			os.Exit(1)
		}
	}
}

func mustCall(engine *jit.Engine, name string, args ...bytecode.Value) bytecode.Value {
	result, err := engine.CallFunction(name, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error calling %s: %v\n", name, err)
		os.Exit(1)
	}
	return result
}

// sampleFunctions 演示用的内建描述符
// 正常情况下描述符由前端的类型检查/下降阶段产出
func sampleFunctions() []*bytecode.Function {
	// add(a, b) = a + b
	add := &bytecode.Function{
		Name:   "add",
		Params: []string{"a", "b"},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadParam, A: 0},
			{Op: bytecode.OpLoadParam, A: 1},
			{Op: bytecode.OpAdd},
			{Op: bytecode.OpReturn},
		},
	}

	// sumto(n) = 0 + 1 + ... + (n-1)
	sumto := &bytecode.Function{
		Name:      "sumto",
		Params:    []string{"n"},
		MaxLocals: 2, // 0: i, 1: acc
		Consts:    []bytecode.Value{bytecode.NewInt(0), bytecode.NewInt(1)},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpConst, A: 0},
			{Op: bytecode.OpStoreLocal, A: 0},
			{Op: bytecode.OpConst, A: 0},
			{Op: bytecode.OpStoreLocal, A: 1},
			// 循环头
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

	// scale(x, f) = x * f
	scale := &bytecode.Function{
		Name:   "scale",
		Params: []string{"x", "f"},
		Code: []bytecode.Instruction{
			{Op: bytecode.OpLoadParam, A: 0},
			{Op: bytecode.OpLoadParam, A: 1},
			{Op: bytecode.OpMul},
			{Op: bytecode.OpReturn},
		},
	}

	return []*bytecode.Function{add, sumto, scale}
}
