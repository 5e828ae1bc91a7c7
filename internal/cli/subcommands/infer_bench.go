package subcommands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"Instruct/internal/config"
	"Instruct/internal/console"
	"Instruct/internal/inferbench"
	"Instruct/internal/runtime"
	"Instruct/internal/sampling"
)

// RunInferBench measures prompt and generation throughput of the
// configured model.
func RunInferBench(ctx context.Context, cfg config.Config, registry runtime.Registry, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("bench", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	iterations := fs.Int("iterations", 3, "Number of iterations per prompt")
	maxTokens := fs.Int("max-tokens", 64, "Maximum tokens to generate per iteration")
	warmup := fs.Int("warmup", 1, "Warmup iterations (not recorded)")
	output := fs.String("output", "", "Path to save JSON results (optional)")
	prompt := fs.String("prompt", "", "Custom prompt to benchmark (uses standard set if empty)")
	verbose := fs.Bool("verbose", false, "Print per-iteration details")
	compare := fs.Bool("compare", false, "Run single-threaded first, then with the configured threads, and print the speedup")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "failed to parse flags: %v\n", err)
		return 1
	}

	var model runtime.Model
	err := console.Spin(stderr, fmt.Sprintf("loading model from '%s'", cfg.Model.Path), func() error {
		var openErr error
		model, openErr = runtime.Open(cfg.Model, registry)
		return openErr
	})
	if err != nil {
		fmt.Fprintf(stderr, "failed to load model: %v\n", err)
		return 1
	}
	defer model.Close()

	seed := cfg.Model.Seed
	if seed <= 0 {
		seed = time.Now().Unix()
	}

	benchCfg := inferbench.DefaultConfig()
	benchCfg.Iterations = *iterations
	benchCfg.MaxTokens = *maxTokens
	benchCfg.WarmupIterations = *warmup
	benchCfg.OutputPath = *output
	benchCfg.Verbose = *verbose
	benchCfg.BatchSize = cfg.Generation.BatchSize
	benchCfg.Threads = cfg.Model.Threads
	benchCfg.Sampling = runtime.SamplingParams{
		Temperature:   cfg.Generation.Temperature,
		TopK:          cfg.Generation.TopK,
		TopP:          cfg.Generation.TopP,
		RepeatPenalty: cfg.Generation.RepeatPenalty,
	}
	if *prompt != "" {
		benchCfg.Prompts = []inferbench.Prompt{{Name: "custom", Text: *prompt}}
	}

	fmt.Fprintf(stdout, "instruct inference benchmark\n")
	fmt.Fprintf(stdout, "Model: %s\n", model.Describe())
	fmt.Fprintf(stdout, "Iterations: %d (warmup: %d)  Max tokens: %d  Batch: %d\n",
		benchCfg.Iterations, benchCfg.WarmupIterations, benchCfg.MaxTokens, benchCfg.BatchSize)

	if !*compare {
		fmt.Fprintf(stdout, "Threads: %d\n", benchCfg.Threads)
		report, err := inferbench.NewRunner(model, sampling.New(seed), benchCfg, stdout).Run(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Benchmark failed: %v\n", err)
			return 1
		}
		printReport(stdout, report)
		return 0
	}

	fmt.Fprintf(stdout, "\n=== BASELINE (1 thread) ===\n")
	baseCfg := benchCfg
	baseCfg.Threads = 1
	baseCfg.OutputPath = ""
	baseReport, err := inferbench.NewRunner(model, sampling.New(seed), baseCfg, stdout).Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Baseline benchmark failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "\n=== PARALLEL (%d threads) ===\n", benchCfg.Threads)
	report, err := inferbench.NewRunner(model, sampling.New(seed), benchCfg, stdout).Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Benchmark failed: %v\n", err)
		return 1
	}

	printComparison(stdout, baseReport, report)
	return 0
}

func printReport(w io.Writer, report *inferbench.Report) {
	fmt.Fprintf(w, "\n%-10s %10s %12s %12s %10s\n", "prompt", "ttft", "prompt t/s", "gen t/s", "errors")
	for _, s := range report.Summaries {
		fmt.Fprintf(w, "%-10s %10v %12.1f %12.1f %10d\n",
			s.Name, s.TTFT.Mean.Round(time.Millisecond), s.PromptTPS.Mean, s.GenerationTPS.Mean, s.Errors)
	}
}

func printComparison(w io.Writer, base, opt *inferbench.Report) {
	fmt.Fprintf(w, "\n%-10s %14s %14s %10s\n", "prompt", "1 thread t/s", "parallel t/s", "speedup")
	for i, s := range opt.Summaries {
		if i >= len(base.Summaries) {
			break
		}
		b := base.Summaries[i]
		speedup := 0.0
		if b.GenerationTPS.Mean > 0 {
			speedup = s.GenerationTPS.Mean / b.GenerationTPS.Mean
		}
		fmt.Fprintf(w, "%-10s %14.1f %14.1f %9.2fx\n", s.Name, b.GenerationTPS.Mean, s.GenerationTPS.Mean, speedup)
	}
}
